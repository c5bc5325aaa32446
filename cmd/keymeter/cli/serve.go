package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keymeterhq/keymeter/internal/config"
	"github.com/keymeterhq/keymeter/internal/server"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
	"github.com/keymeterhq/keymeter/internal/telemetry"
)

const banner = `
 _  _________   ____  __ _____ _____ _____ ____
| |/ / ____\ \ / /  \/  | ____|_   _| ____|  _ \
| ' /|  _|  \ V /| |\/| |  _|   | | |  _| | |_) |
| . \| |___  | | | |  | | |___  | | | |___|  _ <
|_|\_\_____| |_| |_|  |_|_____| |_| |_____|_| \_\
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Keymeter API server",
		Long:  "Start the HTTP server that issues keys, authenticates requests, enforces daily quotas, and records usage.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := newLogger(cfg, dev)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", "driver", storeDriver(cfg))

	mode, err := service.ParseQuotaMode(cfg.Quota.Mode)
	if err != nil {
		return err
	}

	quotaSvc := service.NewQuotaService(st, mode)
	authSvc := service.NewAuthService(st, quotaSvc, jwtSecretFromEnv(cfg), logger)
	keySvc := service.NewKeyService(st)
	usageSvc := service.NewUsageService(st, logger, cfg.Usage.MaxScan)

	// First-run hint: the management API is unusable without an admin.
	admins, err := st.ListAdmins(context.Background())
	if err != nil {
		logger.Warn("failed to check for admin accounts", "error", err)
	} else if len(admins) == 0 {
		logger.Warn("no admin account found - run: keymeter admin create")
	}

	tracker := telemetry.New(context.Background(), st, func() telemetry.Properties {
		return gatherTelemetry(st, cfg)
	})
	tracker.Start()
	defer tracker.Shutdown()
	if tracker != nil {
		telemetry.PrintNotice()
	}

	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: parseDuration(cfg.Server.ShutdownTimeout, 30*time.Second),
		CORSOrigins:     cfg.Server.CORS.Origins,
		JWTExpiry:       parseDuration(cfg.Auth.JWTExpiry, 24*time.Hour),
		LoginRateLimit:  cfg.Auth.LoginRateLimit,
	}

	srv := server.New(srvCfg, st, authSvc, keySvc, usageSvc, logger)

	fmt.Printf("→ Keymeter %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Quota mode: %s\n", mode)
	fmt.Println()

	return srv.ListenAndServe()
}

func newLogger(cfg *config.Config, dev bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if dev {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func storeDriver(cfg *config.Config) string {
	if cfg.Store.Driver == "" {
		return "sqlite"
	}
	return cfg.Store.Driver
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func gatherTelemetry(st *store.Store, cfg *config.Config) telemetry.Properties {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	props := telemetry.Properties{
		Version:     appVersion,
		GoVersion:   runtime.Version(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		StoreDriver: storeDriver(cfg),
	}
	if keys, err := st.ListAPIKeys(ctx, ""); err == nil {
		props.APIKeys = len(keys)
	}
	if admins, err := st.ListAdmins(ctx); err == nil {
		props.Admins = len(admins)
	}
	return props
}

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/keymeterhq/keymeter/internal/config"
	"github.com/keymeterhq/keymeter/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// KEYMETER_DATA_DIR env var, or ~/.keymeter as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("KEYMETER_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.keymeter"
}

// loadConfig reads the config file named by --config (or the viper search
// path) and falls back to defaults when no file exists.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore opens the backing database described by the effective config,
// defaulting to SQLite under the resolved data directory.
func openStore(cfg *config.Config) (*store.Store, error) {
	opts := store.Options{
		Driver: cfg.Store.Driver,
		DSN:    cfg.Store.DSN,
	}
	if opts.Driver == "" || opts.Driver == "sqlite" {
		opts.DataDir = resolveDataDir()
		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return store.NewStore(opts)
}

// jwtSecretFromEnv resolves the JWT signing secret from config or the
// KEYMETER_AUTH_JWT_SECRET env var, with a dev fallback.
func jwtSecretFromEnv(cfg *config.Config) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	if s := viper.GetString("auth.jwt_secret"); s != "" {
		return s
	}
	return "keymeter-dev-secret-change-me"
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keymeterhq/keymeter/internal/model"
	"github.com/keymeterhq/keymeter/internal/service"
	"github.com/keymeterhq/keymeter/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Issue, list, deactivate, and inspect API keys from the command line.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyDeactivateCmd())
	cmd.AddCommand(newKeyStatsCmd())

	return cmd
}

// openKeyStore opens the store for a key subcommand.
func openKeyStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner string
		name  string
		plan  string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long:  "Issue a new API key for an owner. The secret is shown once and cannot be retrieved again.",
		Example: `  keymeter key create --owner acme-corp --plan pro --name "CI pipeline"
  keymeter key create --owner acme-corp`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(owner, name, plan)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner the key belongs to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Human-readable label for the key")
	cmd.Flags().StringVar(&plan, "plan", string(model.DefaultPlan), "Pricing plan: free, pro, or enterprise")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func runKeyCreate(owner, name, plan string) error {
	st, err := openKeyStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keySvc := service.NewKeyService(st)
	issued, err := keySvc.Issue(context.Background(), owner, name, model.Plan(plan))
	if err != nil {
		return err
	}

	fmt.Println("API key issued:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", issued.Plaintext)
	fmt.Printf("  ID:     %s\n", issued.Key.ID)
	fmt.Printf("  Owner:  %s\n", issued.Key.OwnerID)
	fmt.Printf("  Plan:   %s (%d calls/day)\n", issued.Key.Plan, issued.Key.DailyQuota)
	if name != "" {
		fmt.Printf("  Name:   %s\n", name)
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(owner, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only show keys for this owner")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(owner string, jsonOutput bool) error {
	st, err := openKeyStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background(), owner)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	type keyRow struct {
		ID     string `json:"id"`
		Prefix string `json:"prefix"`
		Owner  string `json:"owner"`
		Plan   string `json:"plan"`
		Quota  int    `json:"daily_quota"`
		Name   string `json:"name"`
		Active bool   `json:"active"`
	}

	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		rows[i] = keyRow{
			ID:     k.ID,
			Prefix: k.KeyPrefix,
			Owner:  k.OwnerID,
			Plan:   string(k.Plan),
			Quota:  k.DailyQuota,
			Name:   k.Name,
			Active: k.IsActive,
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys issued. Use 'keymeter key create' to issue one.")
		return nil
	}

	fmt.Printf("%-14s %-16s %-12s %-8s %-20s %-8s\n", "PREFIX", "OWNER", "PLAN", "QUOTA", "NAME", "ACTIVE")
	fmt.Printf("%-14s %-16s %-12s %-8s %-20s %-8s\n", "------", "-----", "----", "-----", "----", "------")
	for _, k := range rows {
		active := "yes"
		if !k.Active {
			active = "no"
		}
		fmt.Printf("%-14s %-16s %-12s %-8d %-20s %-8s\n", k.Prefix, k.Owner, k.Plan, k.Quota, k.Name, active)
	}

	return nil
}

// ---------- key deactivate ----------

func newKeyDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deactivate <id-or-prefix>",
		Aliases: []string{"revoke"},
		Short:   "Deactivate an API key by its ID or prefix",
		Long:    "Deactivate an API key, rejecting any further authenticated requests using it. Usage history is kept.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyDeactivate(args[0])
		},
	}

	return cmd
}

func runKeyDeactivate(ref string) error {
	st, err := openKeyStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	key, err := resolveKey(ctx, st, ref)
	if err != nil {
		return err
	}

	if err := st.DeactivateAPIKey(ctx, key.ID); err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}

	fmt.Printf("Deactivated API key %s (prefix %s)\n", key.ID, key.KeyPrefix)
	return nil
}

// resolveKey finds a key by exact ID first, then by prefix match.
func resolveKey(ctx context.Context, st *store.Store, ref string) (*model.APIKey, error) {
	if key, err := st.GetAPIKey(ctx, ref); err == nil {
		return key, nil
	}

	keys, err := st.ListAPIKeys(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	for i := range keys {
		if strings.HasPrefix(keys[i].KeyPrefix, ref) {
			return &keys[i], nil
		}
	}
	return nil, fmt.Errorf("no API key found matching %q", ref)
}

// ---------- key stats ----------

func newKeyStatsCmd() *cobra.Command {
	var (
		days       int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "stats <id-or-prefix>",
		Short: "Show usage statistics for an API key",
		Args:  cobra.ExactArgs(1),
		Example: `  keymeter key stats km_3f82a1b4
  keymeter key stats 7c9e6679-7425-40de-944b-e07fc1f90ae7 --days 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyStats(args[0], days, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "Trailing window in days")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyStats(ref string, days int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	key, err := resolveKey(ctx, st, ref)
	if err != nil {
		return err
	}

	usageSvc := service.NewUsageService(st, newLogger(cfg, false), cfg.Usage.MaxScan)
	summary, err := usageSvc.Summarize(ctx, key.ID, days)
	if err != nil {
		return fmt.Errorf("summarize usage: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("Usage for key %s (prefix %s), last %d days:\n", key.ID, key.KeyPrefix, summary.WindowDays)
	fmt.Println()
	fmt.Printf("  Total calls:   %d\n", summary.TotalCalls)
	fmt.Printf("  Calls today:   %d / %d\n", summary.CallsToday, key.DailyQuota)
	fmt.Printf("  Tokens in:     %d\n", summary.TokensIn)
	fmt.Printf("  Tokens out:    %d\n", summary.TokensOut)
	fmt.Printf("  Avg latency:   %.1f ms\n", summary.AvgLatencyMs)
	if len(summary.ByEndpoint) > 0 {
		fmt.Println()
		fmt.Println("  By endpoint:")
		for endpoint, calls := range summary.ByEndpoint {
			fmt.Printf("    %-40s %d\n", endpoint, calls)
		}
	}
	if summary.Truncated {
		fmt.Println()
		fmt.Println("  Note: scan cap reached, totals are a lower bound.")
	}
	return nil
}

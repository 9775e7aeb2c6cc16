package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/warden-ai/warden/internal/config"
	"github.com/warden-ai/warden/internal/pricing"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "Inspect and manage per-model pricing",
}

var pricingShowCmd = &cobra.Command{
	Use:   "show <provider> <model>",
	Short: "Show the effective price for a model",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "pricing.show")
		defer span.End()

		store, err := openPricingStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolved := pricing.NewResolver(store).Resolve(ctx, args[0], args[1])
		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s\n  input:  $%.4f per 1M tokens\n  output: $%.4f per 1M tokens\n  source: %s\n",
			args[0], args[1], resolved.InputPerMillion, resolved.OutputPerMillion, resolved.Source)
		return nil
	},
}

var pricingSetCmd = &cobra.Command{
	Use:   "set <provider> <model> <input-per-million> <output-per-million>",
	Short: "Set a custom price override for a model",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "pricing.set")
		defer span.End()

		in, err := strconv.ParseFloat(args[2], 64)
		if err != nil || in < 0 {
			return fmt.Errorf("input-per-million must be a non-negative number")
		}
		out, err := strconv.ParseFloat(args[3], 64)
		if err != nil || out < 0 {
			return fmt.Errorf("output-per-million must be a non-negative number")
		}

		store, err := openPricingStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.SetCustom(ctx, args[0], args[1], in, out); err != nil {
			return fmt.Errorf("setting custom price: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "custom price set for %s/%s\n", args[0], args[1])
		return nil
	},
}

var pricingSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync pricing from the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "pricing.sync")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		store, err := pricing.NewStore(cfg.PricingDBPath())
		if err != nil {
			return fmt.Errorf("opening pricing store: %w", err)
		}
		defer store.Close()

		n, err := pricing.NewSyncer(store, cfg.CatalogURL).Sync(ctx)
		if err != nil {
			return fmt.Errorf("syncing pricing catalog: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced pricing for %d models\n", n)
		return nil
	},
}

var pricingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored pricing records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "pricing.list")
		defer span.End()

		store, err := openPricingStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(ctx)
		if err != nil {
			return fmt.Errorf("listing pricing records: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "no pricing records; run `warden pricing sync`")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(out, "%s/%s", rec.Provider, rec.ModelID)
			if rec.CustomInputPerMillion != nil {
				fmt.Fprintf(out, "  custom $%.4f/$%.4f per 1M", *rec.CustomInputPerMillion, *rec.CustomOutputPerMillion)
			}
			if rec.SyncedInputPerToken != nil {
				fmt.Fprintf(out, "  synced $%.4f/$%.4f per 1M", *rec.SyncedInputPerToken*1e6, *rec.SyncedOutputPerToken*1e6)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func openPricingStore() (*pricing.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	store, err := pricing.NewStore(cfg.PricingDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening pricing store: %w", err)
	}
	return store, nil
}

func init() {
	pricingCmd.AddCommand(pricingShowCmd, pricingSetCmd, pricingSyncCmd, pricingListCmd)
	rootCmd.AddCommand(pricingCmd)
}

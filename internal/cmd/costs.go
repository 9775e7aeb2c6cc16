package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/warden-ai/warden/internal/config"
	"github.com/warden-ai/warden/internal/interaction"
)

var (
	costsTenant  string
	costsByAgent bool
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Show model spend from the interaction ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "costs")
		defer span.End()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		store, err := interaction.NewStore(cfg.InteractionDBPath(), cfg.SigningKey)
		if err != nil {
			return fmt.Errorf("opening interaction store: %w", err)
		}
		defer store.Close()

		tenantID := costsTenant
		if tenantID == "" {
			tenantID = "default"
		}

		now := time.Now().UTC()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

		out := cmd.OutOrStdout()

		if costsByAgent {
			byAgent, err := store.CostByAgent(ctx, tenantID, monthStart, now)
			if err != nil {
				return fmt.Errorf("cost by agent: %w", err)
			}
			renderCostsByAgent(out, tenantID, byAgent)
			return nil
		}

		daily, err := store.CostTotal(ctx, tenantID, dayStart, now)
		if err != nil {
			return fmt.Errorf("daily cost total: %w", err)
		}
		monthly, err := store.CostTotal(ctx, tenantID, monthStart, now)
		if err != nil {
			return fmt.Errorf("monthly cost total: %w", err)
		}

		fmt.Fprintf(out, "Costs for tenant %s\n", tenantID)
		fmt.Fprintf(out, "  today:      $%.4f (%d interactions", daily.Total, daily.KnownCount)
		printUnknown(out, daily.UnknownCount)
		fmt.Fprintf(out, "  this month: $%.4f (%d interactions", monthly.Total, monthly.KnownCount)
		printUnknown(out, monthly.UnknownCount)
		return nil
	},
}

func printUnknown(out io.Writer, unknown int) {
	if unknown > 0 {
		fmt.Fprintf(out, ", %d with unknown cost)\n", unknown)
		return
	}
	fmt.Fprintln(out, ")")
}

func renderCostsByAgent(out io.Writer, tenantID string, byAgent map[string]*interaction.CostSummary) {
	fmt.Fprintf(out, "Costs by agent for tenant %s (this month)\n", tenantID)
	agents := make([]string, 0, len(byAgent))
	for agent := range byAgent {
		agents = append(agents, agent)
	}
	sort.Strings(agents)
	for _, agent := range agents {
		sum := byAgent[agent]
		fmt.Fprintf(out, "  %-24s $%.4f (%d interactions", agent, sum.Total, sum.KnownCount)
		printUnknown(out, sum.UnknownCount)
	}
	if len(agents) == 0 {
		fmt.Fprintln(out, "  no interactions recorded")
	}
}

func init() {
	costsCmd.Flags().StringVar(&costsTenant, "tenant", "", "tenant to report on (default: default)")
	costsCmd.Flags().BoolVar(&costsByAgent, "by-agent", false, "break down spend per agent")
	rootCmd.AddCommand(costsCmd)
}

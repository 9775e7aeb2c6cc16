package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warden-ai/warden/internal/doctor"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the health of this warden installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, span := tracer.Start(cmd.Context(), "doctor")
		defer span.End()

		report := doctor.Run(ctx)
		out := cmd.OutOrStdout()

		if doctorJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			for _, c := range report.Checks {
				marker := map[string]string{"pass": "ok", "warn": "!!", "fail": "XX"}[c.Status]
				fmt.Fprintf(out, "[%s] %-16s %s\n", marker, c.Name, c.Message)
				if c.Fix != "" && c.Status != "pass" {
					fmt.Fprintf(out, "     fix: %s\n", c.Fix)
				}
			}
			fmt.Fprintf(out, "\n%d passed, %d warnings, %d failures\n",
				report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
		}

		if report.Status == "fail" {
			return fmt.Errorf("doctor found %d failing checks", report.Summary.Fail)
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(doctorCmd)
}

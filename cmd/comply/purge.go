package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/audit"
)

func purgeCmd(root *rootOptions) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit entries older than the retention window",
		Long: `Delete reminder log entries and dataset summaries strictly older than
now minus the retention window. Running it twice deletes nothing the second
time.

Examples:
  comply purge
  comply purge --retention-days 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("retention-days") {
				days = a.cfg.RetentionDays
			}

			sink, err := audit.Open(cmd.Context(), a.cfg.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			res, err := sink.PurgeOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			a.logger.Info("audit purged",
				zap.Int("retention_days", days),
				zap.Time("cutoff", res.Cutoff),
				zap.Int64("reminders", res.Reminders),
				zap.Int64("summaries", res.Summaries),
			)

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return a.writeJSON(out, map[string]any{
					"cutoff":    res.Cutoff,
					"reminders": res.Reminders,
					"summaries": res.Summaries,
				})
			}
			fmt.Fprintf(out, "purged %d reminder entries and %d dataset summaries older than %s\n",
				res.Reminders, res.Summaries, res.Cutoff.Format("2006-01-02 15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "retention-days", audit.DefaultRetentionDays, "Retention window in days")
	return cmd
}

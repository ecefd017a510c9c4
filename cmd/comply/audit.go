package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/audit"
	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/export"
	"github.com/sypherin/comply/internal/sftpclient"
)

func auditCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export the reminder audit log",
	}
	cmd.AddCommand(auditExportCmd(root))
	cmd.AddCommand(auditSummariesCmd(root))
	return cmd
}

func auditSummariesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summaries",
		Short: "List recorded roster uploads",
		Long: `List the row count and dominant Org of every roster upload still inside
the retention window, oldest first.

Examples:
  comply audit summaries
  comply audit summaries -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			sink, err := audit.Open(cmd.Context(), a.cfg.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			summaries, err := sink.Summaries(cmd.Context())
			if err != nil {
				return err
			}
			if summaries == nil {
				summaries = []domain.DatasetSummary{}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return a.writeJSON(out, summaries)
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "no dataset summaries recorded")
				return nil
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "UPLOADED\tROWS\tORG")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Timestamp.Format("2006-01-02 15:04:05Z07:00"), s.RowCount, s.Org)
			}
			return tw.Flush()
		},
	}
}

func auditExportCmd(root *rootOptions) *cobra.Command {
	var (
		outPath  string
		compress bool
		upload   bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the reminder log as CSV",
		Long: `Write every reminder log entry to a CSV file, optionally brotli-compressed
and uploaded to the configured SFTP directory.

Examples:
  comply audit export --out audit.csv
  comply audit export --out audit.csv.br --brotli --upload`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			sink, err := audit.Open(ctx, a.cfg.DatabaseURL, a.logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			records, err := sink.Records(ctx)
			if err != nil {
				return err
			}
			if err := export.WriteAuditFile(outPath, records, compress); err != nil {
				return err
			}
			a.logger.Info("audit exported", zap.String("path", outPath), zap.Int("records", len(records)))

			if upload {
				if err := sftpclient.UploadFile(ctx, a.sftpConfig(), outPath, filepath.Base(outPath)); err != nil {
					return err
				}
				a.logger.Info("audit uploaded", zap.String("remote_dir", a.cfg.SFTPDir))
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "audit.csv", "Output file")
	cmd.Flags().BoolVar(&compress, "brotli", false, "Brotli-compress the output")
	cmd.Flags().BoolVar(&upload, "upload", false, "Upload the file over SFTP afterwards")
	return cmd
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/config"
	"github.com/sypherin/comply/internal/logging"
	"github.com/sypherin/comply/internal/roster"
	"github.com/sypherin/comply/internal/sftpclient"
)

type rootOptions struct {
	configPath string
	output     string
	fields     []string
}

// rosterFlags are shared by every command that reads a roster.
type rosterFlags struct {
	file     string
	sftpPath string
	filter   roster.Filter
}

func (f *rosterFlags) register(cmd *cobra.Command, withFilter bool) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "Roster export (.csv, .csv.br)")
	cmd.Flags().StringVar(&f.sftpPath, "sftp-path", "", "Download the roster from the SFTP server instead of --file")
	if withFilter {
		cmd.Flags().StringSliceVar(&f.filter.Orgs, "org", nil, "Only rows of these Orgs")
		cmd.Flags().StringSliceVar(&f.filter.BUs, "bu", nil, "Only rows of these BUs")
		cmd.Flags().StringSliceVar(&f.filter.Departments, "department", nil, "Only rows of these Departments")
		cmd.Flags().StringSliceVar(&f.filter.Courses, "course", nil, "Only rows of these Course Titles")
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "comply",
		Short: "Training-compliance roster checks and reminders",
		Long: `comply reads a training-completion roster export, validates it and sends
one reminder per learner with outstanding courses.

Runs are rehearsals unless --live is given or mode = "live" is configured.
Every dispatch is written to the audit log.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "TOML config file (default $COMPLY_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json")
	rootCmd.PersistentFlags().StringSliceVar(&opts.fields, "fields", nil, "Restrict JSON output to these keys")

	rootCmd.AddCommand(validateCmd(opts))
	rootCmd.AddCommand(statsCmd(opts))
	rootCmd.AddCommand(lookupCmd(opts))
	rootCmd.AddCommand(sendCmd(opts))
	rootCmd.AddCommand(purgeCmd(opts))
	rootCmd.AddCommand(auditCmd(opts))

	return rootCmd
}

// app is the per-invocation environment: configuration and logger.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	opts   *rootOptions
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(opts.output) {
	case "table", "json":
	default:
		return nil, fmt.Errorf("unknown output format %q", opts.output)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, opts: opts}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func (a *app) sftpConfig() sftpclient.Config {
	return sftpclient.Config{
		Host:                  a.cfg.SFTPHost,
		Port:                  a.cfg.SFTPPort,
		User:                  a.cfg.SFTPUser,
		Pass:                  a.cfg.SFTPPass,
		RemoteDir:             a.cfg.SFTPDir,
		InsecureIgnoreHostKey: a.cfg.SFTPInsecureIgnoreHostKey,
		KnownHosts:            a.cfg.SFTPKnownHosts,
	}
}

// readRoster loads the raw export from disk or SFTP.
func (a *app) readRoster(ctx context.Context, f rosterFlags) ([]byte, error) {
	switch {
	case f.sftpPath != "":
		b, err := sftpclient.DownloadFile(ctx, a.sftpConfig(), f.sftpPath)
		if err != nil {
			return nil, err
		}
		a.logger.Info("roster downloaded", zap.String("path", f.sftpPath), zap.Int("bytes", len(b)))
		return roster.Unwrap(f.sftpPath, b)
	case f.file != "":
		return roster.ReadFile(f.file)
	}
	return nil, fmt.Errorf("one of --file or --sftp-path is required")
}

func (a *app) validator() (*roster.Validator, error) {
	pattern, err := roster.CompilePattern(a.cfg.SensitivePattern)
	if err != nil {
		return nil, err
	}
	return roster.NewValidator(a.cfg.MaxRows, pattern), nil
}

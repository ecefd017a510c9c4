package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/audit"
	"github.com/sypherin/comply/internal/config"
	"github.com/sypherin/comply/internal/dispatch"
	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/identity"
	"github.com/sypherin/comply/internal/pipeline"
	"github.com/sypherin/comply/internal/providers"
	"github.com/sypherin/comply/internal/providers/graph"
	"github.com/sypherin/comply/internal/providers/offline"
	"github.com/sypherin/comply/internal/reminder"
	"github.com/sypherin/comply/internal/retry"
	"github.com/sypherin/comply/internal/telemetry"
)

type sendOptions struct {
	roster       rosterFlags
	live         bool
	ccManagers   bool
	useDirectory bool
	subject      string
	timeout      time.Duration
	metricsFile  string
}

// SendResult is the output of the send command.
type SendResult struct {
	RunID    string                   `json:"run_id"`
	DryRun   bool                     `json:"dry_run"`
	Targeted int                      `json:"targeted"`
	Failed   int                      `json:"failed"`
	Outcomes []domain.DispatchOutcome `json:"outcomes"`
	Summary  string                   `json:"summary"`
}

func sendCmd(root *rootOptions) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Remind every learner with outstanding courses",
		Long: `Validate the roster, group incomplete rows by learner and send one
reminder each. Without --live the run is a rehearsal: messages are rendered
and logged to the audit trail as dry-run, nothing is sent.

Live runs use Microsoft Graph when credentials are configured and the
offline stub otherwise.

Examples:
  comply send --file roster.csv
  comply send --file roster.csv --live --cc-managers --use-directory
  comply send --file roster.csv --live --org Acme --course "Safety 101"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, root, o)
		},
	}
	o.roster.register(cmd, true)
	cmd.Flags().BoolVar(&o.live, "live", false, "Send for real (default is a rehearsal)")
	cmd.Flags().BoolVar(&o.ccManagers, "cc-managers", false, "CC each learner's manager")
	cmd.Flags().BoolVar(&o.useDirectory, "use-directory", false, "Look managers up in the directory when the roster has none")
	cmd.Flags().StringVar(&o.subject, "subject", "", "Override the reminder subject")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Minute, "Run-wide timeout")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "Write Prometheus metrics in text format to this file")
	return cmd
}

func runSend(cmd *cobra.Command, root *rootOptions, o *sendOptions) error {
	a, err := newApp(root)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.applySendFlags(cmd, o)

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	// Fatal before anything touches the network.
	tpl, err := reminder.LoadTemplate(cfg.TemplatePath)
	if err != nil {
		return err
	}
	data, err := a.readRoster(ctx, o.roster)
	if err != nil {
		return err
	}

	actor, err := a.principal(ctx)
	if err != nil {
		return err
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceVersion: version,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}
	defer tel.Shutdown(context.WithoutCancel(ctx))

	dir, mailer, err := a.providers(ctx)
	if err != nil {
		return err
	}

	sink, err := audit.Open(ctx, cfg.DatabaseURL, a.logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	reg := prometheus.NewRegistry()
	engine, err := dispatch.New(dispatch.Options{
		Directory:      dir,
		Mailer:         mailer,
		Template:       tpl,
		Retry:          retry.DefaultPolicy(),
		Workers:        cfg.Workers,
		SendRatePerMin: cfg.SendRatePerMin,
		Metrics:        dispatch.NewMetrics(reg),
		Tracer:         tel.Tracer,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	v, err := a.validator()
	if err != nil {
		return err
	}
	p, err := pipeline.New(pipeline.Options{
		Validator: v,
		Engine:    engine,
		Audit:     sink,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	sender := actor.Name
	if sender == "" {
		sender = cfg.DefaultSender
	}
	res, runErr := p.Run(ctx, pipeline.Request{
		Data:   data,
		Filter: o.roster.filter,
		Run: dispatch.RunOptions{
			DryRun:             cfg.DryRun(),
			CCResponsibleParty: cfg.CCManagers,
			UseDirectory:       cfg.UseDirectory,
			Subject:            cfg.Subject,
			Actor:              actor,
			SenderName:         sender,
		},
	})
	if runErr != nil && !errors.Is(runErr, pipeline.ErrAuditWrite) {
		return runErr
	}

	if o.metricsFile != "" {
		if err := prometheus.WriteToTextfile(o.metricsFile, reg); err != nil {
			a.logger.Warn("metrics file not written", zap.String("path", o.metricsFile), zap.Error(err))
		}
	}

	if err := a.printSend(cmd, res, cfg.DryRun()); err != nil {
		return err
	}
	// the batch went out; the audit failure still fails the command
	return runErr
}

// applySendFlags overlays explicitly set flags on the loaded configuration.
func (a *app) applySendFlags(cmd *cobra.Command, o *sendOptions) config.Config {
	cfg := a.cfg
	if o.live {
		cfg.Mode = config.ModeLive
	}
	if cmd.Flags().Changed("cc-managers") {
		cfg.CCManagers = o.ccManagers
	}
	if cmd.Flags().Changed("use-directory") {
		cfg.UseDirectory = o.useDirectory
	}
	if o.subject != "" {
		cfg.Subject = o.subject
	}
	a.cfg = cfg
	return cfg
}

func (a *app) principal(ctx context.Context) (domain.Principal, error) {
	auth, err := identity.New(a.cfg.AuthMode, a.cfg.ActorName, a.cfg.ActorEmail, identity.HeaderFromEnv())
	if err != nil {
		return domain.Principal{}, err
	}
	p, err := identity.Resolve(ctx, auth, identity.NewGuard(a.cfg.AllowedDomains))
	if err != nil {
		return domain.Principal{}, err
	}
	a.logger.Info("acting as", zap.String("actor", p.DisplayName()), zap.String("auth_mode", a.cfg.AuthMode))
	return p, nil
}

// providers picks the live Graph backend when credentials exist and the
// offline stub otherwise.
func (a *app) providers(ctx context.Context) (providers.Directory, providers.Mailer, error) {
	if !a.cfg.GraphConfigured() {
		if !a.cfg.DryRun() {
			a.logger.Warn("no Graph credentials; live run uses the offline stub")
		}
		stub := offline.New(a.logger)
		return stub, stub, nil
	}
	c, err := graph.New(ctx, graph.Options{
		BaseURL:      a.cfg.GraphBaseURL,
		TenantID:     a.cfg.GraphTenantID,
		ClientID:     a.cfg.GraphClientID,
		ClientSecret: a.cfg.GraphClientSecret,
		Token:        a.cfg.GraphToken,
		SenderID:     a.cfg.SenderID,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func (a *app) printSend(cmd *cobra.Command, res pipeline.Result, dryRun bool) error {
	out := cmd.OutOrStdout()
	outcomes := res.Outcomes
	if outcomes == nil {
		outcomes = []domain.DispatchOutcome{}
	}
	if a.jsonOutput() {
		if len(a.opts.fields) > 0 {
			return a.writeJSON(out, outcomes)
		}
		return a.writeJSON(out, SendResult{
			RunID:    res.RunID,
			DryRun:   dryRun,
			Targeted: res.Targeted(),
			Failed:   res.Failed,
			Outcomes: outcomes,
			Summary:  res.Summary(),
		})
	}

	tw := newTable(out)
	fmt.Fprintln(tw, "RECIPIENT\tSTATUS\tCC\tCOURSES\tMESSAGE ID")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", o.Recipient, o.Status, strings.Join(o.CC, ";"), o.CourseCount, o.MessageID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if res.Dataset != nil {
		printWarnings(out, len(res.Dataset.Warnings))
	}
	mode := "live"
	if dryRun {
		mode = "rehearsal"
	}
	fmt.Fprintf(out, "%s (%s, %d failed)\n", res.Summary(), mode, res.Failed)
	return nil
}

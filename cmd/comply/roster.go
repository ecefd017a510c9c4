package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sypherin/comply/internal/domain"
	"github.com/sypherin/comply/internal/roster"
)

// ValidateResult is the output of the validate command.
type ValidateResult struct {
	Rows     int              `json:"rows"`
	Encoding string           `json:"encoding"`
	TopOrg   string           `json:"top_org,omitempty"`
	Warnings []domain.Warning `json:"warnings"`
}

// LookupRow is one record in lookup output.
type LookupRow struct {
	Learner      string `json:"learner"`
	Email        string `json:"email"`
	CourseTitle  string `json:"course_title"`
	Status       string `json:"status"`
	RequiredDate string `json:"required_date"`
	Org          string `json:"org"`
	Department   string `json:"department"`
}

func validateCmd(root *rootOptions) *cobra.Command {
	var rf rosterFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a roster export without sending anything",
		Long: `Run the size, sensitive-data and schema guards over a roster and report
how many rows were accepted and which were skipped.

Examples:
  comply validate --file roster.csv
  comply validate --sftp-path exports/roster.csv.br -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ds, err := a.loadDataset(cmd, rf)
			if err != nil {
				return err
			}

			res := ValidateResult{Rows: ds.Len(), Encoding: ds.Encoding, Warnings: ds.Warnings}
			res.TopOrg, _ = ds.TopOrg()
			if res.Warnings == nil {
				res.Warnings = []domain.Warning{}
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return a.writeJSON(out, res)
			}
			fmt.Fprintf(out, "rows accepted: %d\n", res.Rows)
			fmt.Fprintf(out, "encoding: %s\n", res.Encoding)
			if res.TopOrg != "" {
				fmt.Fprintf(out, "top org: %s\n", res.TopOrg)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "row %d: %s\n", w.Row, w.Message)
			}
			return nil
		},
	}
	rf.register(cmd, false)
	return cmd
}

func statsCmd(root *rootOptions) *cobra.Command {
	var rf rosterFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Completion KPIs and per-course breakdown",
		Long: `Summarize a roster: totals, completion rate and status counts per course.

Examples:
  comply stats --file roster.csv
  comply stats --file roster.csv --org Acme --department IT -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ds, err := a.loadDataset(cmd, rf)
			if err != nil {
				return err
			}
			st := roster.Summarize(rf.filter.Apply(ds))

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return a.writeJSON(out, st)
			}
			fmt.Fprintf(out, "total: %d  completed: %d  outstanding: %d  completion: %.1f%%\n\n",
				st.Total, st.Completed, st.Outstanding, st.CompletionRate*100)

			tw := newTable(out)
			fmt.Fprintln(tw, "COURSE\tCOMPLETED\tIN PROGRESS\tNOT STARTED\tOTHER")
			for _, c := range st.Courses {
				other := 0
				for s, n := range c.ByStatus {
					switch s {
					case domain.StatusCompleted, domain.StatusInProgress, domain.StatusNotStarted:
					default:
						other += n
					}
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", c.Title,
					c.ByStatus[domain.StatusCompleted], c.ByStatus[domain.StatusInProgress],
					c.ByStatus[domain.StatusNotStarted], other)
			}
			return tw.Flush()
		},
	}
	rf.register(cmd, true)
	return cmd
}

func lookupCmd(root *rootOptions) *cobra.Command {
	var rf rosterFlags
	cmd := &cobra.Command{
		Use:   "lookup QUERY",
		Short: "Find one learner's courses by name or email",
		Long: `Match QUERY against learner names (case-insensitive substring) and email
addresses (whole address).

Examples:
  comply lookup --file roster.csv jane
  comply lookup --file roster.csv jane@x.com -o json --fields course_title,status`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ds, err := a.loadDataset(cmd, rf)
			if err != nil {
				return err
			}

			rows := []LookupRow{}
			for _, r := range roster.Lookup(ds, args[0]) {
				rows = append(rows, LookupRow{
					Learner:      r.Learner,
					Email:        r.Email,
					CourseTitle:  r.CourseTitle,
					Status:       string(r.Status),
					RequiredDate: r.RequiredDate.String(),
					Org:          r.Org,
					Department:   r.Department,
				})
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				return a.writeJSON(out, rows)
			}
			if len(rows) == 0 {
				fmt.Fprintf(out, "no records match %q\n", args[0])
				return nil
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "LEARNER\tEMAIL\tCOURSE\tSTATUS\tREQUIRED")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Learner, r.Email, r.CourseTitle, r.Status, r.RequiredDate)
			}
			return tw.Flush()
		},
	}
	rf.register(cmd, false)
	return cmd
}

func (a *app) loadDataset(cmd *cobra.Command, rf rosterFlags) (*domain.Dataset, error) {
	data, err := a.readRoster(cmd.Context(), rf)
	if err != nil {
		return nil, err
	}
	v, err := a.validator()
	if err != nil {
		return nil, err
	}
	ds, err := v.Validate(data)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("roster validated", zap.Int("rows", ds.Len()), zap.Int("warnings", len(ds.Warnings)))
	return ds, nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/generator"
	"github.com/fyrsmithlabs/aceql/internal/orchestrator"
	"github.com/fyrsmithlabs/aceql/internal/secrets"
	"github.com/spf13/cobra"
)

type askOptions struct {
	feedback string
	asJSON   bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question with SQL and learn from the outcome",
		Long: `Run one full cycle: build context, generate SQL, execute it, evaluate the
result and, on failure or --feedback incorrect, curate new playbook rules.

Examples:
  aceql ask "monthly revenue for 2005"
  aceql ask --feedback incorrect "top 5 customers by rentals"
  aceql ask --json "active customers per store"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := opts.taskSpec(args)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				orch, err := a.newOrchestrator(ctx)
				if err != nil {
					return err
				}
				rec := orch.Run(ctx, spec)
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), a.scrubber, rec)
				}
				return printRun(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&opts.feedback, "feedback", "", "mark the answer correct or incorrect")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the full run record as JSON")
	return cmd
}

func (o askOptions) taskSpec(args []string) (orchestrator.TaskSpec, error) {
	spec := orchestrator.TaskSpec{UserQuery: strings.Join(args, " ")}
	if o.feedback != "" {
		spec.UserFeedback = &orchestrator.UserFeedback{Status: strings.ToLower(o.feedback)}
	}
	return spec, spec.Validate()
}

func printRun(w io.Writer, rec *orchestrator.RunRecord) error {
	if step, ok := rec.Step(orchestrator.ComponentGenerator); ok {
		if res, ok := step.Output.(generator.Result); ok {
			fmt.Fprintf(w, "SQL:\n%s\n\n", res.SQL)
		}
	}
	fmt.Fprintf(w, "Run:      %s\n", rec.ID)
	fmt.Fprintf(w, "Success:  %t\n", rec.Outcome.Success)
	fmt.Fprintf(w, "Score:    %.3f\n", rec.Outcome.Score)
	fmt.Fprintf(w, "Learning: %s\n", rec.Learning)
	fmt.Fprintf(w, "Tokens:   %d (~$%.4f)\n", rec.Metrics.TotalTokens, rec.Metrics.CostUSD)
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", rec.Error)
	}

	for _, step := range rec.Steps {
		out, ok := step.Output.(orchestrator.CuratorOutput)
		if !ok || out.LearningSummary == nil {
			continue
		}
		for _, r := range out.LearningSummary.RulesAdded {
			fmt.Fprintf(w, "  %s %s [%s] %s\n", r.Action, r.ID, r.Section, r.Content)
		}
	}
	return nil
}

func writeJSON(w io.Writer, s secrets.Scrubber, v any) error {
	data, _, err := secrets.ScrubJSON(s, v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

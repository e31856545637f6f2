package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/spf13/cobra"
)

func newTeachCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "teach <guidance>",
		Short: "Add a rule to the playbook by hand",
		Long: `Add user guidance to a playbook section. The guidance goes through the same
normalization, id assignment and duplicate detection as learned rules.

Examples:
  aceql teach "MISTAKE: counting rentals per film → FIX: join inventory first"
  aceql teach --section schema_rules "payment.rental_id → rental.rental_id (N:1)"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sec, err := playbook.ParseSection(section)
			if err != nil {
				return err
			}
			guidance := strings.Join(args, " ")
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				cur, err := a.newCurator()
				if err != nil {
					return err
				}
				report, err := cur.Teach(ctx, sec, guidance)
				if err != nil {
					return err
				}
				for _, ap := range report.Applied {
					line := fmt.Sprintf("%s %s [%s]", ap.Action, ap.ID, ap.Section)
					if ap.Reason != "" {
						line += ": " + ap.Reason
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", string(playbook.CommonMistakes), "playbook section to add the rule to")
	return cmd
}

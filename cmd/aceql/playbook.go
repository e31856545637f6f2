package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/spf13/cobra"
)

func newPlaybookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Inspect the learned playbook",
	}
	cmd.AddCommand(newPlaybookShowCmd())
	return cmd
}

func newPlaybookShowCmd() *cobra.Command {
	var (
		section string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print playbook rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var only []playbook.Section
			if section != "" {
				s, err := playbook.ParseSection(section)
				if err != nil {
					return err
				}
				only = []playbook.Section{s}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				pb, err := a.playbooks.Load(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), nil, pb)
				}
				printPlaybook(cmd.OutOrStdout(), pb, only)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "only print this section")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw playbook document")
	return cmd
}

func printPlaybook(w io.Writer, pb *playbook.Playbook, only []playbook.Section) {
	if len(only) == 0 {
		only = playbook.Sections()
	}
	fmt.Fprintf(w, "%s v%s (updated %s)\n", pb.ID, pb.Version, pb.LastUpdated.Time().Format("2006-01-02 15:04:05"))
	for _, s := range only {
		items := pb.Items(s)
		fmt.Fprintf(w, "\n## %s (%d)\n", s, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "[%s] used=%d helpful=%d harmful=%d\n%s\n", it.ID, it.UsageCount, it.Helpful, it.Harmful, it.Content)
		}
	}
}

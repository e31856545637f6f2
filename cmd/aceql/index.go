package main

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/aceql/internal/retrieval"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newIndexCmd() *cobra.Command {
	var knowledgePath string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the database schema into the retrieval store",
		Long: `Introspect the configured database and add one document per table and per
foreign-key join to the retrieval store. Business rules and few-shot examples
can be added from a YAML file with --knowledge.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var knowledge []retrieval.Document
			if knowledgePath != "" {
				docs, err := retrieval.LoadKnowledge(knowledgePath)
				if err != nil {
					return err
				}
				knowledge = docs
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				exec, err := a.sqlExecutor(ctx)
				if err != nil {
					return err
				}
				store, err := a.retrievalStore(ctx)
				if err != nil {
					return err
				}
				report, err := retrieval.NewIndexer(exec, store, a.logger).Index(ctx, knowledge)
				if err != nil {
					return err
				}
				a.logger.Info("schema indexed", zap.Int("documents", report.Total()))
				fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", report.Total())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&knowledgePath, "knowledge", "", "YAML file of business rules and examples")
	return cmd
}

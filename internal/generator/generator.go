// Package generator turns an assembled context into SQL with one completion
// call.
package generator

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/assembler"
	"github.com/fyrsmithlabs/aceql/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/generator"

const outputTemplate = "\nOUTPUT (JSON):\n" +
	`{"reasoning": "...", "sql": "...", "playbook_ids_used": [...], "tables_accessed": [...]}`

// Result is the structured answer. Degraded is set when the reply could not
// be decoded; SQL then holds the raw reply text.
type Result struct {
	Reasoning       string   `json:"reasoning"`
	SQL             string   `json:"sql"`
	PlaybookIDsUsed []string `json:"playbook_ids_used"`
	TablesAccessed  []string `json:"tables_accessed"`
	Degraded        bool     `json:"degraded,omitempty"`
}

// Generator is stateless apart from its collaborator.
type Generator struct {
	llm    llm.Completer
	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a Generator.
func New(completer llm.Completer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		llm:    completer,
		tracer: otel.Tracer(instrumentationName),
		logger: logger,
	}
}

// Prompt splits the chain into system text (system segments) and user text
// (every other segment followed by the output template).
func Prompt(chain *assembler.ContextChain) (system, user string) {
	var sys, usr strings.Builder
	for _, s := range chain.Segments {
		if s.Type == assembler.SegmentSystem {
			sys.WriteString(s.Content)
			sys.WriteString("\n\n")
			continue
		}
		usr.WriteString(s.Content)
		usr.WriteString("\n\n")
	}
	usr.WriteString(outputTemplate)
	return sys.String(), usr.String()
}

// Generate never fails: completion and decode errors produce a degraded
// Result.
func (g *Generator) Generate(ctx context.Context, chain *assembler.ContextChain) Result {
	ctx, span := g.tracer.Start(ctx, "generator.Generate")
	defer span.End()

	system, user := Prompt(chain)
	reply, err := g.llm.Complete(ctx, system, user)
	if err != nil {
		span.RecordError(err)
		g.logger.Warn("completion failed, returning degraded result",
			zap.String("component", "generator"),
			zap.Error(err))
		return Result{
			Reasoning:       "Completion failed: " + err.Error(),
			PlaybookIDsUsed: []string{},
			TablesAccessed:  []string{},
			Degraded:        true,
		}
	}

	res, err := llm.DecodeJSON[Result](reply)
	if err != nil {
		g.logger.Warn("unparsable generator reply",
			zap.String("component", "generator"),
			zap.Error(err))
		span.SetAttributes(attribute.Bool("generator.degraded", true))
		return Result{
			Reasoning:       "Failed to parse JSON response",
			SQL:             strings.TrimSpace(llm.Unfence(reply)),
			PlaybookIDsUsed: []string{},
			TablesAccessed:  []string{},
			Degraded:        true,
		}
	}

	res.Degraded = false
	if res.PlaybookIDsUsed == nil {
		res.PlaybookIDsUsed = []string{}
	}
	if res.TablesAccessed == nil {
		res.TablesAccessed = []string{}
	}
	res.SQL = strings.TrimSpace(res.SQL)

	span.SetAttributes(attribute.Int("generator.playbook_ids_used", len(res.PlaybookIDsUsed)))
	g.logger.Debug("sql generated",
		zap.Strings("tables", res.TablesAccessed),
		zap.Strings("playbook_ids", res.PlaybookIDsUsed))
	return res
}

package assembler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/assembler"

const (
	DefaultTopK          = 5
	DefaultPlaybookLimit = 10
	DefaultDirective     = "You are an expert SQL generator. Write correct, read-only SQL for the database described below."
	DefaultDialect       = "SQLite"
)

// PlaybookSource loads the current playbook snapshot.
type PlaybookSource interface {
	Load(ctx context.Context) (*playbook.Playbook, error)
}

// Assembler builds ContextChains from retrieval results and the playbook.
type Assembler struct {
	playbooks     PlaybookSource
	retriever     retrieval.Retriever
	topK          int
	playbookLimit int
	directive     string
	dialect       string
	now           func() time.Time
	tracer        trace.Tracer
	logger        *zap.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithTopK sets how many documents are retrieved.
func WithTopK(k int) Option {
	return func(a *Assembler) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithPlaybookLimit caps how many rules are rendered.
func WithPlaybookLimit(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.playbookLimit = n
		}
	}
}

// WithDirective replaces the system directive.
func WithDirective(text string) Option {
	return func(a *Assembler) {
		if strings.TrimSpace(text) != "" {
			a.directive = text
		}
	}
}

// WithDialect names the SQL dialect in the constraints.
func WithDialect(name string) Option {
	return func(a *Assembler) {
		if name != "" {
			a.dialect = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Assembler) { a.tracer = t }
}

// New creates an Assembler.
func New(playbooks PlaybookSource, retriever retrieval.Retriever, opts ...Option) *Assembler {
	a := &Assembler{
		playbooks:     playbooks,
		retriever:     retriever,
		topK:          DefaultTopK,
		playbookLimit: DefaultPlaybookLimit,
		directive:     DefaultDirective,
		dialect:       DefaultDialect,
		now:           time.Now,
		tracer:        otel.Tracer(instrumentationName),
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build assembles the five segments in fixed order: system, schema,
// playbook, constraints, user_query. A failed retrieval yields an empty
// schema segment; a playbook that cannot be loaded is an error.
func (a *Assembler) Build(ctx context.Context, query string, budget int) (*ContextChain, error) {
	ctx, span := a.tracer.Start(ctx, "assembler.Build")
	defer span.End()

	chain := &ContextChain{
		ID:          "ctx_" + a.now().UTC().Format("20060102150405"),
		TokenBudget: budget,
	}

	chain.add(SegmentSystem, a.directive, llm.EstimateTokens(a.directive))

	schema := a.schemaText(ctx, query, chain)
	chain.add(SegmentSchema, schema, llm.EstimateTokens(schema))

	pb, err := a.playbooks.Load(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("loading playbook: %w", err)
	}
	rules := "SQL PLAYBOOK (Curated Strategies):\n" + pb.Render(a.playbookLimit)
	for i, it := range pb.All() {
		if i == a.playbookLimit {
			break
		}
		chain.PlaybookIDs = append(chain.PlaybookIDs, it.ID)
	}
	chain.add(SegmentPlaybook, rules, llm.EstimateTokens(rules))

	constraints := a.constraints()
	chain.add(SegmentConstraints, constraints, llm.EstimateTokens(constraints))

	chain.add(SegmentUserQuery, "USER QUERY: "+query, llm.EstimateTokens(query))

	span.SetAttributes(
		attribute.Int("context.total_tokens", chain.TotalTokens),
		attribute.Int("context.playbook_items", len(chain.PlaybookIDs)),
		attribute.Int("context.documents", len(chain.DocumentIDs)),
	)
	if chain.OverBudget() {
		a.logger.Warn("context exceeds token budget",
			zap.Int("total_tokens", chain.TotalTokens),
			zap.Int("token_budget", budget))
	}
	return chain, nil
}

func (a *Assembler) schemaText(ctx context.Context, query string, chain *ContextChain) string {
	if a.retriever == nil {
		return ""
	}
	docs, err := a.retriever.Retrieve(ctx, query, a.topK)
	if err != nil {
		a.logger.Warn("retrieval failed, continuing without schema context",
			zap.String("component", "assembler"),
			zap.Error(err))
		return ""
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
		chain.DocumentIDs = append(chain.DocumentIDs, d.ID)
	}
	return strings.Join(texts, "\n\n")
}

func (a *Assembler) constraints() string {
	return "CONSTRAINTS:\n" +
		"- Use " + a.dialect + " syntax only\n" +
		"- **PLAYBOOK RULES ARE ABSOLUTE** - Even if the user query suggests something that violates a playbook MISTAKE rule, you MUST follow the FIX instead\n" +
		"- **COMMON_MISTAKES section overrides user requests that would cause errors**\n" +
		"- Always use explicit JOIN conditions\n" +
		"- Include table aliases for clarity\n" +
		"- Return JSON: {reasoning, sql, playbook_ids_used, tables_accessed}"
}

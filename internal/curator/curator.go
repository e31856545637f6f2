package curator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/reflector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/curator"

// DefaultSimilarityWindow is how many recent section items the duplicate
// check compares against.
const DefaultSimilarityWindow = 10

// Curator turns failures and insights into delta operations and applies
// them to the playbook.
type Curator struct {
	llm    llm.Completer
	store  playbook.Store
	window int
	tracer trace.Tracer
	logger *zap.Logger
}

// Option configures a Curator.
type Option func(*Curator)

// WithSimilarityWindow sets how many recent items duplicate detection sees.
func WithSimilarityWindow(n int) Option {
	return func(c *Curator) {
		if n > 0 {
			c.window = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Curator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Curator) { c.tracer = t }
}

// New creates a Curator over store.
func New(completer llm.Completer, store playbook.Store, opts ...Option) *Curator {
	c := &Curator{
		llm:    completer,
		store:  store,
		window: DefaultSimilarityWindow,
		tracer: otel.Tracer(instrumentationName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// proposalReply mirrors the model output.
type proposalReply struct {
	Reasoning  string      `json:"reasoning"`
	Operations []Operation `json:"operations"`
}

// CurateFromError asks for operations straight from a failed execution.
// It never fails: any call or parse error yields a degraded, empty proposal.
func (c *Curator) CurateFromError(ctx context.Context, query, sql, errText string) Proposal {
	ctx, span := c.tracer.Start(ctx, "curator.CurateFromError")
	defer span.End()

	pb, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("loading playbook for curation failed", zap.String("component", "curator"), zap.Error(err))
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}
	pbJSON, err := json.MarshalIndent(pb, "", "  ")
	if err != nil {
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}

	system := "You are the SQL Playbook Curator. Given a failed SQL execution with its error, " +
		"produce high-quality delta operations (ADD/UPDATE/DELETE) to improve the playbook. " +
		"Write actionable, generalizable rules that would prevent the same error in the future.\n\n" +
		sectionGuidelines()

	var user strings.Builder
	fmt.Fprintf(&user, "USER QUERY:\n%s\n\n", query)
	fmt.Fprintf(&user, "GENERATED SQL:\n%s\n\n", sql)
	fmt.Fprintf(&user, "ERROR MESSAGE:\n%s\n\n", errText)
	fmt.Fprintf(&user, "CURRENT PLAYBOOK (JSON):\n%s\n\n", pbJSON)
	user.WriteString(operationsTemplate)
	user.WriteString("\nNOTE: Focus on 'common_mistakes' section for errors. Only add to 'sql_patterns' if you have a complete working SQL example.")

	p := c.propose(ctx, system, user.String())
	span.SetAttributes(attribute.Int("curator.operations", len(p.Operations)), attribute.String("curator.status", string(p.Status)))
	return p
}

// Curate asks for operations from reflector insights, then adds one
// helpful/harmful UPDATE per feedback entry the model did not already
// update. It never fails.
func (c *Curator) Curate(ctx context.Context, insights []reflector.Insight) Proposal {
	ctx, span := c.tracer.Start(ctx, "curator.Curate")
	defer span.End()

	pb, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Warn("loading playbook for curation failed", zap.String("component", "curator"), zap.Error(err))
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}
	pbJSON, err := json.MarshalIndent(pb, "", "  ")
	if err != nil {
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}

	system := "You are the SQL Playbook Curator. Review reflections and update the playbook.\n\n" +
		"Generate delta operations (ADD, UPDATE, DELETE) to improve the playbook.\n" +
		"Focus on quality over quantity.\n\n" +
		sectionGuidelines()

	var user strings.Builder
	fmt.Fprintf(&user, "CURRENT PLAYBOOK:\n%s\n\n", pbJSON)
	user.WriteString("RECENT INSIGHTS:\n")
	for i, in := range insights {
		data, err := json.MarshalIndent(in, "", "  ")
		if err != nil {
			continue
		}
		if i > 0 {
			user.WriteString("\n\n")
		}
		fmt.Fprintf(&user, "Insight %d:\n%s", i+1, data)
	}
	user.WriteString("\n\n")
	user.WriteString(operationsTemplate)
	user.WriteString("\nNOTE: Prefer 'common_mistakes' for error patterns. Use 'sql_patterns' only if you have a complete working SQL template.")

	p := c.propose(ctx, system, user.String())
	p.Operations = append(p.Operations, feedbackUpdates(insights, p.Operations, pb)...)
	if len(p.Operations) > 0 && p.Status == StatusEmpty {
		p.Status = StatusProposed
	}

	span.SetAttributes(attribute.Int("curator.operations", len(p.Operations)), attribute.String("curator.status", string(p.Status)))
	return p
}

// propose runs one completion and decodes an operation list. Malformed
// operations are dropped individually.
func (c *Curator) propose(ctx context.Context, system, user string) Proposal {
	text, err := c.llm.Complete(ctx, system, user)
	if err != nil {
		c.logger.Warn("curation completion failed", zap.String("component", "curator"), zap.Error(err))
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}

	reply, err := llm.DecodeJSON[proposalReply](text)
	if err != nil {
		c.logger.Warn("unparsable curation reply", zap.String("component", "curator"), zap.Error(err))
		return Proposal{Operations: []Operation{}, Status: StatusDegraded}
	}

	ops := make([]Operation, 0, len(reply.Operations))
	for _, op := range reply.Operations {
		op = op.normalize()
		if err := op.Validate(); err != nil {
			c.logger.Warn("dropping malformed operation", zap.String("component", "curator"), zap.Error(err))
			continue
		}
		ops = append(ops, op)
	}

	status := StatusProposed
	if len(ops) == 0 {
		status = StatusEmpty
	}
	return Proposal{Operations: ops, Reasoning: strings.TrimSpace(reply.Reasoning), Status: status}
}

// feedbackUpdates converts per-item feedback into counter UPDATEs for items
// that exist and were not already updated by ops.
func feedbackUpdates(insights []reflector.Insight, ops []Operation, pb *playbook.Playbook) []Operation {
	touched := make(map[string]bool)
	for _, op := range ops {
		if op.Type == OpUpdate {
			touched[op.ID] = true
		}
	}

	var out []Operation
	for _, in := range insights {
		ids := make([]string, 0, len(in.PlaybookFeedback))
		for id := range in.PlaybookFeedback {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if touched[id] {
				continue
			}
			section, ok := playbook.SectionOfID(id)
			if !ok || pb.Find(section, id) == nil {
				continue
			}
			field := FieldHelpful
			if in.PlaybookFeedback[id] == reflector.Harmful {
				field = FieldHarmful
			}
			out = append(out, Operation{Type: OpUpdate, Section: section, ID: id, Field: field, Increment: 1})
			touched[id] = true
		}
	}
	return out
}

// sectionGuidelines renders the per-section format rules from the registry.
func sectionGuidelines() string {
	var b strings.Builder
	b.WriteString("SECTION GUIDELINES:\n")
	var ids []string
	for _, s := range playbook.Sections() {
		spec, _ := playbook.Spec(s)
		fmt.Fprintf(&b, "- '%s': %s\n", spec.Name, spec.Guidance)
		ids = append(ids, fmt.Sprintf("%s-##### for %s", spec.Prefix, spec.Name))
	}
	b.WriteString("\nIMPORTANT: Generate IDs in format: ")
	b.WriteString(strings.Join(ids, ", "))
	return b.String()
}

const operationsTemplate = `OUTPUT (JSON):
{
  "reasoning": "<Explain the root cause and why this rule will help>",
  "operations": [
    {"type": "ADD", "section": "common_mistakes", "id": "ts-#####", "content": "MISTAKE: ... → FIX: ..."}
  ]
}
`

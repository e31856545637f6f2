// Package reflector diagnoses a failed or disputed run and proposes a
// candidate rule.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/executor"
	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/reflector"

// digestSize is how many leading items per section the prompt shows.
const digestSize = 3

const systemPrompt = `You are a SQL Analysis Expert. Analyze the SQL generation outcome and extract insights.

Your tasks:
1. Identify what went wrong (if anything)
2. Diagnose root cause
3. Suggest correct approach
4. Extract key insight for the playbook
5. Provide feedback on playbook items

If the SQL was correct, still extract useful insights about what worked well.`

const outputTemplate = `OUTPUT (JSON):
{
  "error_identification": "...",
  "error_category": "syntax|join_error|aggregation|schema_misunderstanding|logic_error|none",
  "root_cause": "...",
  "correct_sql": "...",
  "key_insight": {"type": "schema_rule|sql_pattern|common_mistake", "content": "..."},
  "playbook_feedback": {"item_id": "helpful|harmful"}
}`

// Request is the run context handed to Reflect.
type Request struct {
	Query    string
	SQL      string
	Result   executor.Result
	Playbook *playbook.Playbook
	Feedback string
}

// Reflector asks the completion collaborator for a diagnosis.
type Reflector struct {
	llm    llm.Completer
	tracer trace.Tracer
	logger *zap.Logger
}

// New creates a Reflector.
func New(completer llm.Completer, logger *zap.Logger) *Reflector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reflector{
		llm:    completer,
		tracer: otel.Tracer(instrumentationName),
		logger: logger,
	}
}

// Reflect never fails; call and parse errors yield a degraded Insight.
func (r *Reflector) Reflect(ctx context.Context, req Request) Insight {
	ctx, span := r.tracer.Start(ctx, "reflector.Reflect")
	defer span.End()

	user, err := userPrompt(req)
	if err != nil {
		r.logger.Warn("building reflection prompt failed", zap.String("component", "reflector"), zap.Error(err))
		return degraded()
	}

	text, err := r.llm.Complete(ctx, systemPrompt, user)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("completion failed, returning degraded insight",
			zap.String("component", "reflector"),
			zap.Error(err))
		return degraded()
	}

	parsed, err := llm.DecodeJSON[reply](text)
	if err != nil {
		r.logger.Warn("unparsable reflection", zap.String("component", "reflector"), zap.Error(err))
		return degraded()
	}

	in := parsed.insight()
	span.SetAttributes(
		attribute.String("reflector.category", string(in.ErrorCategory)),
		attribute.Bool("reflector.key_insight", in.HasKeyInsight()),
	)
	r.logger.Debug("reflection complete",
		zap.String("category", string(in.ErrorCategory)),
		zap.Bool("key_insight", in.HasKeyInsight()))
	return in
}

func userPrompt(req Request) (string, error) {
	pb := req.Playbook
	if pb == nil {
		pb = playbook.New()
	}
	digest, err := json.MarshalIndent(pb.Head(digestSize), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding playbook digest: %w", err)
	}

	status, errLine := "SUCCESS", ""
	if !req.Result.Success {
		status, errLine = "FAILED", "ERROR: "+req.Result.Error
	}
	feedback := req.Feedback
	if feedback == "" {
		feedback = "None"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "USER QUERY: %s\n\n", req.Query)
	fmt.Fprintf(&b, "GENERATED SQL:\n%s\n\n", req.SQL)
	fmt.Fprintf(&b, "EXECUTION STATUS: %s\n%s\n", status, errLine)
	fmt.Fprintf(&b, "ROWS RETURNED: %d\n\n", req.Result.RowCount)
	fmt.Fprintf(&b, "USER FEEDBACK: %s\n\n", feedback)
	fmt.Fprintf(&b, "CURRENT PLAYBOOK:\n%s\n\n", digest)
	b.WriteString(outputTemplate)
	return b.String(), nil
}

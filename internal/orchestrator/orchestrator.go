package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/assembler"
	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/fyrsmithlabs/aceql/internal/evaluator"
	"github.com/fyrsmithlabs/aceql/internal/executor"
	"github.com/fyrsmithlabs/aceql/internal/generator"
	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/logging"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/reflector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/orchestrator"

var errNilChain = errors.New("context builder returned no chain")

// DefaultTokenBudget bounds the assembled context.
const DefaultTokenBudget = 8000

// DefaultRecoverableErrors are execution error substrings that always enter
// the learning branch.
var DefaultRecoverableErrors = []string{"operator does not exist"}

// ContextBuilder assembles the prompt context for a query.
type ContextBuilder interface {
	Build(ctx context.Context, query string, budget int) (*assembler.ContextChain, error)
}

// SQLGenerator turns a context chain into SQL.
type SQLGenerator interface {
	Generate(ctx context.Context, chain *assembler.ContextChain) generator.Result
}

// Reflector diagnoses a failed or rejected run.
type Reflector interface {
	Reflect(ctx context.Context, req reflector.Request) reflector.Insight
}

// Curator proposes and applies playbook operations.
type Curator interface {
	CurateFromError(ctx context.Context, query, sql, errText string) curator.Proposal
	Curate(ctx context.Context, insights []reflector.Insight) curator.Proposal
	ApplyOperations(ctx context.Context, ops []curator.Operation) (curator.ApplyReport, error)
}

// Deps are the collaborators of a cycle. Recorder is optional.
type Deps struct {
	Context   ContextBuilder
	Generator SQLGenerator
	Executor  executor.Executor
	Reflector Reflector
	Curator   Curator
	Playbooks assembler.PlaybookSource
	Recorder  Recorder
}

func (d Deps) validate() error {
	var missing []string
	if d.Context == nil {
		missing = append(missing, "context builder")
	}
	if d.Generator == nil {
		missing = append(missing, "generator")
	}
	if d.Executor == nil {
		missing = append(missing, "executor")
	}
	if d.Reflector == nil {
		missing = append(missing, "reflector")
	}
	if d.Curator == nil {
		missing = append(missing, "curator")
	}
	if d.Playbooks == nil {
		missing = append(missing, "playbook source")
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Orchestrator sequences one learning cycle per Run call. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	deps        Deps
	budget      int
	recoverable []string
	now         func() time.Time
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTokenBudget sets the context token budget.
func WithTokenBudget(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.budget = n
		}
	}
}

// WithRecoverableErrors replaces the recoverable error signatures.
func WithRecoverableErrors(sigs []string) Option {
	return func(o *Orchestrator) {
		o.recoverable = nil
		for _, s := range sigs {
			if s = strings.TrimSpace(s); s != "" {
				o.recoverable = append(o.recoverable, s)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		deps:        deps,
		budget:      DefaultTokenBudget,
		recoverable: DefaultRecoverableErrors,
		now:         time.Now,
		tracer:      otel.Tracer(instrumentationName),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes one cycle. It always returns a record; faults end up in
// RunRecord.Error with a failed outcome.
func (o *Orchestrator) Run(ctx context.Context, spec TaskSpec) (rec *RunRecord) {
	rec = newRunRecord(spec, o.now())
	ctx = logging.WithRunID(ctx, rec.ID)
	logger := o.logger.With(zap.String("run_id", rec.ID))

	ctx, span := o.tracer.Start(ctx, "orchestrator.Run",
		trace.WithAttributes(attribute.String("run.id", rec.ID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("cycle panicked: %v", r)
			rec.fail(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			logger.Error("orchestration cycle panicked", zap.Any("panic", r))
		}
		o.finish(ctx, rec, logger)
	}()

	if err := o.cycle(ctx, rec, logger); err != nil {
		rec.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "cycle aborted")
		logger.Warn("orchestration cycle aborted", zap.Error(err))
	}
	return rec
}

func (o *Orchestrator) cycle(ctx context.Context, rec *RunRecord, logger *zap.Logger) error {
	query := rec.TaskSpec.UserQuery
	feedback := rec.TaskSpec.Feedback()

	// ContextBuild
	var chain *assembler.ContextChain
	err := o.stage(ctx, rec, ComponentContextBuilder, func(ctx context.Context) (any, int, error) {
		var err error
		chain, err = o.deps.Context.Build(ctx, query, o.budget)
		if err == nil && chain == nil {
			err = errNilChain
		}
		if err != nil {
			return ContextOutput{Error: err.Error()}, 0, err
		}
		return ContextOutput{
			ContextID:   chain.ID,
			Tokens:      chain.TotalTokens,
			OverBudget:  chain.OverBudget(),
			PlaybookIDs: chain.PlaybookIDs,
			DocumentIDs: chain.DocumentIDs,
		}, chain.TotalTokens, nil
	})
	if err != nil {
		return fmt.Errorf("building context: %w", err)
	}
	rec.Artifacts["context_chain"] = chain.ID

	// Generate
	var gen generator.Result
	_ = o.stage(ctx, rec, ComponentGenerator, func(ctx context.Context) (any, int, error) {
		gen = o.deps.Generator.Generate(ctx, chain)
		return gen, 0, nil
	})

	// Execute
	var res executor.Result
	_ = o.stage(ctx, rec, ComponentExecutor, func(ctx context.Context) (any, int, error) {
		res = o.deps.Executor.Execute(ctx, gen.SQL)
		return res, 0, nil
	})

	// Evaluate
	_ = o.stage(ctx, rec, ComponentEvaluator, func(context.Context) (any, int, error) {
		card := evaluator.Evaluate(gen.SQL, res, feedback)
		rec.Outcome = Outcome{
			Success:  res.Success,
			Score:    card.OverallScore,
			SQLValid: res.Success,
		}
		if feedback != "" {
			correct := feedback == FeedbackCorrect
			rec.Outcome.ResultsCorrect = &correct
		}
		return card, 0, nil
	})

	logger.Debug("cycle evaluated",
		zap.Bool("success", rec.Outcome.Success),
		zap.Float64("score", rec.Outcome.Score))

	if !o.shouldCurate(feedback, res) {
		return nil
	}
	o.autoCurate(ctx, rec, gen.SQL, res, logger)
	return nil
}

// shouldCurate reports whether the learning branch is entered.
func (o *Orchestrator) shouldCurate(feedback string, res executor.Result) bool {
	if feedback == FeedbackIncorrect || !res.Success {
		return true
	}
	for _, sig := range o.recoverable {
		if res.Error != "" && strings.Contains(res.Error, sig) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) autoCurate(ctx context.Context, rec *RunRecord, sql string, res executor.Result, logger *zap.Logger) {
	query := rec.TaskSpec.UserQuery

	// Straight from the error first.
	var learned bool
	_ = o.stage(ctx, rec, ComponentCurator, func(ctx context.Context) (any, int, error) {
		p := o.deps.Curator.CurateFromError(ctx, query, sql, res.Error)
		out, ok := o.applyProposal(ctx, rec, AttemptFromError, LearnedFromError, p, logger)
		learned = ok
		return out, 0, nil
	})
	if learned || rec.Learning == LearningFailed {
		return
	}

	// Reflect once, then curate from its insight.
	feedback := rec.TaskSpec.Feedback()
	if feedback == "" {
		feedback = "execution_error"
	}
	var insight reflector.Insight
	_ = o.stage(ctx, rec, ComponentReflector, func(ctx context.Context) (any, int, error) {
		pb, err := o.deps.Playbooks.Load(ctx)
		if err != nil {
			logger.Warn("loading playbook for reflection failed", zap.String("component", "orchestrator"), zap.Error(err))
			pb = playbook.New()
		}
		insight = o.deps.Reflector.Reflect(ctx, reflector.Request{
			Query:    query,
			SQL:      sql,
			Result:   res,
			Playbook: pb,
			Feedback: feedback,
		})
		return insight, 0, nil
	})
	rec.Learning = LearningReflectedNoRule
	if !insight.HasKeyInsight() {
		return
	}

	_ = o.stage(ctx, rec, ComponentCurator, func(ctx context.Context) (any, int, error) {
		p := o.deps.Curator.Curate(ctx, []reflector.Insight{insight})
		out, _ := o.applyProposal(ctx, rec, AttemptFromInsights, LearnedFromReflection, p, logger)
		return out, 0, nil
	})
}

// applyProposal applies p and reports whether anything was applied.
func (o *Orchestrator) applyProposal(ctx context.Context, rec *RunRecord, attempt, from string, p curator.Proposal, logger *zap.Logger) (CuratorOutput, bool) {
	out := CuratorOutput{
		Attempt:    attempt,
		Status:     p.Status,
		Reasoning:  p.Reasoning,
		Operations: p.Operations,
	}
	if p.Empty() {
		return out, false
	}

	report, err := o.deps.Curator.ApplyOperations(ctx, p.Operations)
	if err != nil {
		logger.Warn("applying curator operations failed", zap.String("component", "orchestrator"), zap.Error(err))
		out.Error = err.Error()
		rec.Learning = LearningFailed
		return out, false
	}
	observeApplied(report)

	out.Applied = report.Applied
	out.LearningSummary = summarize(from, report)
	rec.Learning = LearningLearned
	logger.Info("cycle learned",
		zap.String("learned_from", from),
		zap.Int("rules_added", len(out.LearningSummary.RulesAdded)))
	return out, true
}

// stage runs fn as one traced, timed stage and appends its step. Completion
// tokens spent inside fn are added to the tokens fn reports.
func (o *Orchestrator) stage(ctx context.Context, rec *RunRecord, c Component, fn func(context.Context) (any, int, error)) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator."+string(c))
	defer span.End()

	ctx, usage := llm.WithUsage(ctx)
	start := time.Now()
	output, tokens, err := fn(ctx)
	elapsed := time.Since(start)

	tokens += usage.Tokens()
	rec.addStep(c, output, elapsed, tokens)
	observeStage(c, elapsed)

	span.SetAttributes(attribute.Int("tokens", tokens))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// finish computes metrics, records telemetry and appends to the log.
func (o *Orchestrator) finish(ctx context.Context, rec *RunRecord, logger *zap.Logger) {
	rec.computeMetrics()
	observeCycle(rec)

	if o.deps.Recorder != nil {
		// The log must be written even when the request was cancelled.
		if err := o.deps.Recorder.Append(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn("appending run record failed", zap.String("component", "episodic"), zap.Error(err))
		}
	}

	logger.Info("cycle finished",
		zap.Bool("success", rec.Outcome.Success),
		zap.Float64("score", rec.Outcome.Score),
		zap.String("learning", string(rec.Learning)),
		zap.Int("steps", len(rec.Steps)),
		zap.Int("total_tokens", rec.Metrics.TotalTokens))
}

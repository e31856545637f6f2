package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/assembler"
	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/fyrsmithlabs/aceql/internal/executor"
	"github.com/fyrsmithlabs/aceql/internal/generator"
	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/reflector"
	"github.com/fyrsmithlabs/aceql/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const genReply = `{"reasoning": "sum payments per customer", "sql": "SELECT customer_id, SUM(amount) AS revenue FROM payment GROUP BY customer_id ORDER BY revenue DESC LIMIT 10", "playbook_ids_used": [], "tables_accessed": ["payment"]}`

type harness struct {
	llm      *llm.ScriptedCompleter
	store    *playbook.FileStore
	log      *EpisodicLog
	exec     executor.Executor
	orch     *Orchestrator
	executed []string
}

func newHarness(t *testing.T, exec func(query string) executor.Result) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		llm:   llm.NewScriptedCompleter(),
		store: playbook.NewFileStore(filepath.Join(dir, "playbook.json"), nil),
		log:   NewEpisodicLog(filepath.Join(dir, "episodic.jsonl"), nil, nil),
	}
	h.exec = executor.Func(func(_ context.Context, query string) executor.Result {
		h.executed = append(h.executed, query)
		return exec(query)
	})

	docs := []retrieval.Document{{ID: "table_payment", Text: "Table: payment\nColumns: payment_id (INTEGERPK), amount (REAL)"}}
	orch, err := New(Deps{
		Context:   assembler.New(h.store, retrieval.StaticRetriever{Docs: docs}),
		Generator: generator.New(h.llm, nil),
		Executor:  h.exec,
		Reflector: reflector.New(h.llm, nil),
		Curator:   curator.New(h.llm, h.store),
		Playbooks: h.store,
		Recorder:  h.log,
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) script(texts ...string) {
	for _, txt := range texts {
		h.llm.Push(llm.ScriptedReply{Text: txt})
	}
}

func succeed(string) executor.Result {
	return executor.Result{Success: true, Columns: []string{"customer_id", "revenue"}, Rows: []map[string]any{{"customer_id": 1, "revenue": 9.5}}, RowCount: 1}
}

func failWith(msg string) func(string) executor.Result {
	return func(string) executor.Result {
		return executor.Result{Success: false, Rows: []map[string]any{}, Error: msg}
	}
}

var coreSteps = []Component{ComponentContextBuilder, ComponentGenerator, ComponentExecutor, ComponentEvaluator}

func TestRun_SuccessWithoutFeedbackDoesNotCurate(t *testing.T) {
	h := newHarness(t, succeed)
	h.script(genReply)

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "Show top 10 customers by revenue"})

	assert.Empty(t, rec.Error)
	assert.Equal(t, coreSteps, rec.Components())
	assert.True(t, rec.Outcome.Success)
	assert.True(t, rec.Outcome.SQLValid)
	assert.Nil(t, rec.Outcome.ResultsCorrect)
	assert.InDelta(t, 0.825, rec.Outcome.Score, 1e-9)
	assert.Equal(t, LearningNotTriggered, rec.Learning)
	assert.Equal(t, 0, h.llm.Remaining())

	assert.Equal(t, DefaultGoal, rec.TaskSpec.Goal)
	assert.Equal(t, ModeOnline, rec.TaskSpec.Mode)
	assert.Regexp(t, `^run_\d{8}_\d{6}_[0-9a-f]{8}$`, rec.ID)
	assert.True(t, strings.HasPrefix(rec.Artifacts["context_chain"], "ctx_"))
	require.Len(t, h.executed, 1)
	assert.Contains(t, h.executed[0], "SUM(amount)")

	ctxStep, ok := rec.Step(ComponentContextBuilder)
	require.True(t, ok)
	assert.Positive(t, ctxStep.Tokens)
	genStep, _ := rec.Step(ComponentGenerator)
	assert.Positive(t, genStep.Tokens, "completion usage is attributed to the step")

	assert.Equal(t, ctxStep.Tokens+genStep.Tokens, rec.Metrics.TotalTokens)
	assert.InDelta(t, float64(rec.Metrics.TotalTokens)*0.00001, rec.Metrics.CostUSD, 1e-12)

	logged, err := ReadEpisodicLog(h.log.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, rec.ID, logged[0].ID)
}

func TestRun_ExecutionFailureLearnsFromError(t *testing.T) {
	h := newHarness(t, failWith("no such column: revenue_total"))
	h.script(genReply, `{"reasoning": "column does not exist", "operations": [
		{"type": "ADD", "section": "common_mistakes", "content": "MISTAKE: Selecting revenue_total → FIX: compute SUM(payment.amount)"}
	]}`)

	before, err := h.store.Load(context.Background())
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "Show revenue totals"})

	assert.Empty(t, rec.Error)
	assert.Equal(t, append(append([]Component{}, coreSteps...), ComponentCurator), rec.Components())
	assert.False(t, rec.Outcome.Success)
	assert.Equal(t, LearningLearned, rec.Learning)

	step, _ := rec.Step(ComponentCurator)
	out, ok := step.Output.(CuratorOutput)
	require.True(t, ok)
	assert.Equal(t, AttemptFromError, out.Attempt)
	require.NotNil(t, out.LearningSummary)
	assert.Equal(t, LearnedFromError, out.LearningSummary.LearnedFrom)
	require.Len(t, out.LearningSummary.RulesAdded, 1)
	assert.Equal(t, "ts-00001", out.LearningSummary.RulesAdded[0].ID)

	after, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, after.Items(playbook.CommonMistakes), 1)
	assert.Regexp(t, `^MISTAKE: .+ → FIX: .+$`, after.Items(playbook.CommonMistakes)[0].Content)
	assert.True(t, after.LastUpdated.Time().After(before.LastUpdated.Time()))

	calls := h.llm.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].User, "no such column: revenue_total")
}

func TestRun_IncorrectFeedbackTriggersReflection(t *testing.T) {
	h := newHarness(t, succeed)
	h.script(
		genReply,
		`{"reasoning": "no error to learn from", "operations": []}`,
		`{"error_identification": "ranked by count", "error_category": "logic_error", "root_cause": "used COUNT", "correct_sql": "",
		  "key_insight": {"type": "common_mistake", "content": "MISTAKE: ranking revenue with COUNT → FIX: use SUM(amount)"}, "playbook_feedback": {}}`,
		`{"reasoning": "revenue is a sum", "operations": [
			{"type": "ADD", "section": "common_mistakes", "content": "MISTAKE: ranking revenue with COUNT → FIX: use SUM(amount)"}
		]}`,
	)

	rec := h.orch.Run(context.Background(), TaskSpec{
		UserQuery:    "Show top 10 customers by revenue",
		UserFeedback: &UserFeedback{Status: FeedbackIncorrect},
	})

	assert.Empty(t, rec.Error)
	assert.True(t, rec.Outcome.Success, "execution itself succeeded")
	require.NotNil(t, rec.Outcome.ResultsCorrect)
	assert.False(t, *rec.Outcome.ResultsCorrect)
	assert.Equal(t, []Component{
		ComponentContextBuilder, ComponentGenerator, ComponentExecutor, ComponentEvaluator,
		ComponentCurator, ComponentReflector, ComponentCurator,
	}, rec.Components())
	assert.Equal(t, LearningLearned, rec.Learning)

	step, _ := rec.Step(ComponentCurator)
	out := step.Output.(CuratorOutput)
	assert.Equal(t, AttemptFromInsights, out.Attempt)
	assert.Equal(t, LearnedFromReflection, out.LearningSummary.LearnedFrom)

	calls := h.llm.Calls()
	require.Len(t, calls, 4)
	assert.Contains(t, calls[2].User, "USER FEEDBACK: incorrect")
}

func TestRun_ReflectionWithoutInsightAddsNoRule(t *testing.T) {
	h := newHarness(t, failWith("syntax error"))
	h.script(
		genReply,
		"not json at all",
		`{"error_identification": "unclear", "error_category": "syntax", "root_cause": "", "key_insight": null}`,
	)

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "q"})

	assert.Equal(t, []Component{
		ComponentContextBuilder, ComponentGenerator, ComponentExecutor, ComponentEvaluator,
		ComponentCurator, ComponentReflector,
	}, rec.Components())
	assert.Equal(t, LearningReflectedNoRule, rec.Learning)

	step, _ := rec.Step(ComponentCurator)
	assert.Equal(t, curator.StatusDegraded, step.Output.(CuratorOutput).Status)
	assert.Contains(t, h.llm.Calls()[2].User, "USER FEEDBACK: execution_error")

	pb, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pb.Len())
}

func TestRun_RecoverableErrorSignature(t *testing.T) {
	h := newHarness(t, func(string) executor.Result {
		return executor.Result{Success: true, Rows: []map[string]any{}, Error: "warning: operator does not exist: integer = boolean"}
	})
	h.script(genReply, `{"reasoning": "", "operations": []}`, `{"error_category": "none"}`)

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "q"})

	assert.Contains(t, rec.Components(), ComponentCurator)
	assert.NotEqual(t, LearningNotTriggered, rec.Learning)
}

func TestRun_CompletionOutageStillRecordsEveryStage(t *testing.T) {
	h := newHarness(t, failWith("empty SQL"))
	for i := 0; i < 3; i++ {
		h.llm.Push(llm.ScriptedReply{Err: errors.New("connection refused")})
	}

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "q"})

	assert.Empty(t, rec.Error)
	assert.Equal(t, []Component{
		ComponentContextBuilder, ComponentGenerator, ComponentExecutor, ComponentEvaluator,
		ComponentCurator, ComponentReflector,
	}, rec.Components())
	genStep, _ := rec.Step(ComponentGenerator)
	assert.True(t, genStep.Output.(generator.Result).Degraded)
	assert.False(t, rec.Outcome.Success)
}

func TestRun_PanicIsContained(t *testing.T) {
	h := newHarness(t, func(string) executor.Result { panic("driver exploded") })
	h.script(genReply)

	var rec *RunRecord
	require.NotPanics(t, func() {
		rec = h.orch.Run(context.Background(), TaskSpec{UserQuery: "q", UserFeedback: &UserFeedback{Status: FeedbackCorrect}})
	})

	assert.Contains(t, rec.Error, "driver exploded")
	assert.False(t, rec.Outcome.Success)
	assert.Zero(t, rec.Outcome.Score)
	assert.Equal(t, []Component{ComponentContextBuilder, ComponentGenerator}, rec.Components())

	logged, err := ReadEpisodicLog(h.log.Path())
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0].Error, "driver exploded")
}

type failingContext struct{ err error }

func (f failingContext) Build(context.Context, string, int) (*assembler.ContextChain, error) {
	return nil, f.err
}

func TestRun_ContextFailureAborts(t *testing.T) {
	h := newHarness(t, succeed)
	h.orch.deps.Context = failingContext{err: errors.New("playbook unreadable")}

	rec := h.orch.Run(context.Background(), TaskSpec{UserQuery: "q"})

	assert.Contains(t, rec.Error, "playbook unreadable")
	assert.Equal(t, []Component{ComponentContextBuilder}, rec.Components())
	assert.False(t, rec.Outcome.Success)
	assert.Empty(t, h.executed)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator")
}

func TestShouldCurate(t *testing.T) {
	o := &Orchestrator{recoverable: DefaultRecoverableErrors}

	assert.False(t, o.shouldCurate("", executor.Result{Success: true}))
	assert.False(t, o.shouldCurate(FeedbackCorrect, executor.Result{Success: true}))
	assert.True(t, o.shouldCurate(FeedbackIncorrect, executor.Result{Success: true}))
	assert.True(t, o.shouldCurate("", executor.Result{Success: false, Error: "boom"}))
	assert.True(t, o.shouldCurate("", executor.Result{Success: true, Error: "ERROR: operator does not exist: integer = boolean"}))

	WithRecoverableErrors([]string{" ", "deadlock"})(o)
	assert.Equal(t, []string{"deadlock"}, o.recoverable)
}

func TestTaskSpec_Validate(t *testing.T) {
	assert.ErrorIs(t, TaskSpec{UserQuery: "  "}.Validate(), ErrEmptyQuery)
	assert.Error(t, TaskSpec{UserQuery: "q", Mode: "offline"}.Validate())
	assert.Error(t, TaskSpec{UserQuery: "q", UserFeedback: &UserFeedback{Status: "meh"}}.Validate())
	assert.NoError(t, TaskSpec{UserQuery: "q", UserFeedback: &UserFeedback{Status: FeedbackCorrect}}.Validate())
}

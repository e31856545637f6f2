package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/google/uuid"
)

// ErrEmptyQuery is returned by TaskSpec.Validate.
var ErrEmptyQuery = errors.New("user query is required")

const (
	DefaultGoal = "Generate SQL from natural language query"
	ModeOnline  = "online"

	// costPerToken is a rough blended price used for run metrics.
	costPerToken = 0.00001
)

// Feedback values a caller may attach to a task.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
)

// UserFeedback is the optional human judgement of a previous answer.
type UserFeedback struct {
	Status string `json:"status"`
}

// TaskSpec is one request.
type TaskSpec struct {
	Goal         string        `json:"goal"`
	UserQuery    string        `json:"user_query"`
	Constraints  []string      `json:"constraints,omitempty"`
	Mode         string        `json:"mode"`
	UserFeedback *UserFeedback `json:"user_feedback,omitempty"`
}

// withDefaults fills goal and mode.
func (t TaskSpec) withDefaults() TaskSpec {
	if strings.TrimSpace(t.Goal) == "" {
		t.Goal = DefaultGoal
	}
	if t.Mode == "" {
		t.Mode = ModeOnline
	}
	return t
}

// Validate checks the request can be run.
func (t TaskSpec) Validate() error {
	if strings.TrimSpace(t.UserQuery) == "" {
		return ErrEmptyQuery
	}
	if t.Mode != "" && t.Mode != ModeOnline {
		return fmt.Errorf("unsupported mode %q", t.Mode)
	}
	if t.UserFeedback != nil {
		switch t.UserFeedback.Status {
		case "", FeedbackCorrect, FeedbackIncorrect:
		default:
			return fmt.Errorf("unsupported feedback status %q", t.UserFeedback.Status)
		}
	}
	return nil
}

// Feedback returns the feedback status or "".
func (t TaskSpec) Feedback() string {
	if t.UserFeedback == nil {
		return ""
	}
	return t.UserFeedback.Status
}

// Component names a cycle stage in a StepRecord.
type Component string

const (
	ComponentContextBuilder Component = "context_builder"
	ComponentGenerator      Component = "generator"
	ComponentExecutor       Component = "executor"
	ComponentEvaluator      Component = "evaluator"
	ComponentReflector      Component = "reflector"
	ComponentCurator        Component = "curator"
)

// StepRecord is the trace of one stage.
type StepRecord struct {
	Component Component `json:"component"`
	Output    any       `json:"output"`
	LatencyMS float64   `json:"latency_ms"`
	Tokens    int       `json:"tokens"`
}

// ContextOutput is the context_builder step output.
type ContextOutput struct {
	ContextID   string   `json:"context_id,omitempty"`
	Tokens      int      `json:"tokens"`
	OverBudget  bool     `json:"over_budget,omitempty"`
	PlaybookIDs []string `json:"playbook_ids,omitempty"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Learning sources recorded in a LearningSummary.
const (
	LearnedFromError      = "error_analysis"
	LearnedFromReflection = "reflection_analysis"
)

// RuleAdded is one rule a curator step added, merged or reinforced.
type RuleAdded struct {
	Section string         `json:"section"`
	ID      string         `json:"id"`
	Content string         `json:"content"`
	Action  curator.Action `json:"action"`
}

// LearningSummary tells the caller what the cycle learned.
type LearningSummary struct {
	LearnedFrom string      `json:"learned_from"`
	RulesAdded  []RuleAdded `json:"rules_added"`
}

// CuratorOutput is the curator step output.
type CuratorOutput struct {
	Attempt         string              `json:"attempt"`
	Status          curator.Status      `json:"status"`
	Reasoning       string              `json:"reasoning,omitempty"`
	Operations      []curator.Operation `json:"operations"`
	Applied         []curator.Applied   `json:"applied,omitempty"`
	LearningSummary *LearningSummary    `json:"learning_summary,omitempty"`
	Error           string              `json:"error,omitempty"`
}

// Curator attempts.
const (
	AttemptFromError    = "curate_from_error"
	AttemptFromInsights = "curate"
)

// Outcome is the final verdict of a run.
type Outcome struct {
	Success        bool    `json:"success"`
	Score          float64 `json:"score"`
	SQLValid       bool    `json:"sql_valid"`
	ResultsCorrect *bool   `json:"results_correct"`
}

// RunMetrics aggregates the steps.
type RunMetrics struct {
	TotalTokens    int     `json:"total_tokens"`
	TotalLatencyMS float64 `json:"total_latency_ms"`
	CostUSD        float64 `json:"cost_usd"`
}

// LearningStatus summarizes the AutoCurate branch.
type LearningStatus string

const (
	LearningNotTriggered    LearningStatus = "not_triggered"
	LearningLearned         LearningStatus = "learned"
	LearningReflectedNoRule LearningStatus = "reflected_no_rule"
	LearningFailed          LearningStatus = "failed"
)

// RunRecord is the audit trail of one cycle. It is not modified after Run
// returns.
type RunRecord struct {
	ID        string            `json:"id"`
	TaskSpec  TaskSpec          `json:"task_spec"`
	Steps     []StepRecord      `json:"steps"`
	Artifacts map[string]string `json:"artifacts"`
	Outcome   Outcome           `json:"outcome"`
	Metrics   RunMetrics        `json:"metrics"`
	Learning  LearningStatus    `json:"learning"`
	Timestamp string            `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

// newRunID renders run_<YYYYMMDD>_<HHMMSS>_<8 hex>.
func newRunID(now time.Time) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("run_%s_%s", now.Format("20060102_150405"), hex[:8])
}

func newRunRecord(spec TaskSpec, now time.Time) *RunRecord {
	return &RunRecord{
		ID:        newRunID(now),
		TaskSpec:  spec.withDefaults(),
		Steps:     []StepRecord{},
		Artifacts: map[string]string{},
		Learning:  LearningNotTriggered,
		Timestamp: now.Format(time.RFC3339Nano),
	}
}

func (r *RunRecord) addStep(c Component, output any, latency time.Duration, tokens int) {
	r.Steps = append(r.Steps, StepRecord{
		Component: c,
		Output:    output,
		LatencyMS: float64(latency.Microseconds()) / 1000,
		Tokens:    tokens,
	})
}

// Step returns the last step of component c.
func (r *RunRecord) Step(c Component) (StepRecord, bool) {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Component == c {
			return r.Steps[i], true
		}
	}
	return StepRecord{}, false
}

// Components lists the step components in order.
func (r *RunRecord) Components() []Component {
	out := make([]Component, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Component
	}
	return out
}

func (r *RunRecord) computeMetrics() {
	var m RunMetrics
	for _, s := range r.Steps {
		m.TotalTokens += s.Tokens
		m.TotalLatencyMS += s.LatencyMS
	}
	m.CostUSD = float64(m.TotalTokens) * costPerToken
	r.Metrics = m
}

// fail forces the failed outcome.
func (r *RunRecord) fail(err error) {
	r.Outcome = Outcome{Success: false, Score: 0}
	r.Error = err.Error()
}

// summarize converts an apply report to a learning summary.
func summarize(from string, report curator.ApplyReport) *LearningSummary {
	s := &LearningSummary{LearnedFrom: from, RulesAdded: []RuleAdded{}}
	for _, a := range report.RulesAdded() {
		s.RulesAdded = append(s.RulesAdded, RuleAdded{
			Section: string(a.Section),
			ID:      a.ID,
			Content: a.Content,
			Action:  a.Action,
		})
	}
	return s
}

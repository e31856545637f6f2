// Package evaluator scores a generated statement against fixed rubrics.
package evaluator

import (
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/aceql/internal/executor"
)

// Human feedback values.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
)

const (
	// PromoteThreshold is the overall score at or above which a run is promoted.
	PromoteThreshold = 0.75

	// efficiencyPlaceholder stands in until there is a cost model.
	efficiencyPlaceholder = 0.8

	neutralCorrectness = 0.5
)

var destructive = regexp.MustCompile(`(?i)\b(DROP|DELETE|TRUNCATE)\b`)

// Rubrics are independent scores in [0,1].
type Rubrics struct {
	SQLValidity         float64 `json:"sql_validity"`
	SemanticCorrectness float64 `json:"semantic_correctness"`
	Efficiency          float64 `json:"efficiency"`
	Safety              float64 `json:"safety"`
}

// Mean is the arithmetic mean of the four rubrics.
func (r Rubrics) Mean() float64 {
	return (r.SQLValidity + r.SemanticCorrectness + r.Efficiency + r.Safety) / 4
}

// Scorecard is the evaluation of one run.
type Scorecard struct {
	Rubrics      Rubrics  `json:"rubrics"`
	OverallScore float64  `json:"overall_score"`
	Notes        []string `json:"notes"`
	Promote      bool     `json:"promote"`
}

// Evaluate scores sql given its execution result and optional feedback.
//
// Explicit "incorrect" feedback leaves semantic_correctness at the neutral
// 0.5; only "correct" raises it.
func Evaluate(sql string, res executor.Result, feedback string) Scorecard {
	r := Rubrics{
		SemanticCorrectness: neutralCorrectness,
		Efficiency:          efficiencyPlaceholder,
		Safety:              1,
	}
	if res.Success {
		r.SQLValidity = 1
	}
	if feedback == FeedbackCorrect {
		r.SemanticCorrectness = 1
	}
	if IsDestructive(sql) {
		r.Safety = 0
	}

	var notes []string
	if res.Success {
		notes = append(notes, fmt.Sprintf("SQL executed successfully, returned %d rows", res.RowCount))
	} else {
		notes = append(notes, "SQL failed: "+res.Error)
	}
	switch feedback {
	case FeedbackCorrect:
		notes = append(notes, "User confirmed correct results")
	case FeedbackIncorrect:
		notes = append(notes, "User reported incorrect results")
	}

	score := r.Mean()
	return Scorecard{
		Rubrics:      r,
		OverallScore: score,
		Notes:        notes,
		Promote:      score >= PromoteThreshold,
	}
}

// IsDestructive reports whether sql contains DROP, DELETE or TRUNCATE as a
// whole word, in any case. Identifiers that merely contain a keyword
// (dropped_at, x_drop, DROPTABLE) are not destructive; a plain substring
// check would flag them.
func IsDestructive(sql string) bool {
	return destructive.MatchString(sql)
}

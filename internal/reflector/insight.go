package reflector

import (
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
)

// Category is the fixed error vocabulary.
type Category string

const (
	CategorySyntax                 Category = "syntax"
	CategoryJoinError              Category = "join_error"
	CategoryAggregation            Category = "aggregation"
	CategorySchemaMisunderstanding Category = "schema_misunderstanding"
	CategoryLogicError             Category = "logic_error"
	CategoryNone                   Category = "none"
)

// ParseCategory maps free text onto the vocabulary; anything unknown is
// CategoryNone.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySyntax, CategoryJoinError, CategoryAggregation,
		CategorySchemaMisunderstanding, CategoryLogicError:
		return c
	default:
		return CategoryNone
	}
}

// ItemVerdict is per-rule feedback.
type ItemVerdict string

const (
	Helpful ItemVerdict = "helpful"
	Harmful ItemVerdict = "harmful"
)

// KeyInsight is a candidate rule. Type is schema_rule, sql_pattern or
// common_mistake.
type KeyInsight struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Section returns the playbook section the insight belongs to.
func (k KeyInsight) Section() (playbook.Section, error) {
	return playbook.SectionForInsight(k.Type)
}

// Insight is the reflector's diagnosis. Degraded insights carry no
// KeyInsight or feedback.
type Insight struct {
	ErrorIdentification string                 `json:"error_identification"`
	ErrorCategory       Category               `json:"error_category"`
	RootCause           string                 `json:"root_cause"`
	CorrectSQL          string                 `json:"correct_sql,omitempty"`
	KeyInsight          *KeyInsight            `json:"key_insight,omitempty"`
	PlaybookFeedback    map[string]ItemVerdict `json:"playbook_feedback,omitempty"`
	Degraded            bool                   `json:"degraded,omitempty"`
}

// HasKeyInsight reports whether the insight proposes a rule.
func (i Insight) HasKeyInsight() bool {
	return i.KeyInsight != nil && strings.TrimSpace(i.KeyInsight.Content) != ""
}

// degraded is returned for any call or parse failure.
func degraded() Insight {
	return Insight{
		ErrorIdentification: "Failed to parse reflection",
		ErrorCategory:       CategoryNone,
		RootCause:           "Parsing error",
		Degraded:            true,
	}
}

// reply mirrors the model output before validation.
type reply struct {
	ErrorIdentification string            `json:"error_identification"`
	ErrorCategory       string            `json:"error_category"`
	RootCause           string            `json:"root_cause"`
	CorrectSQL          string            `json:"correct_sql"`
	KeyInsight          *KeyInsight       `json:"key_insight"`
	PlaybookFeedback    map[string]string `json:"playbook_feedback"`
}

func (r reply) insight() Insight {
	in := Insight{
		ErrorIdentification: r.ErrorIdentification,
		ErrorCategory:       ParseCategory(r.ErrorCategory),
		RootCause:           r.RootCause,
		CorrectSQL:          strings.TrimSpace(r.CorrectSQL),
	}
	if r.KeyInsight != nil && strings.TrimSpace(r.KeyInsight.Content) != "" {
		if _, err := r.KeyInsight.Section(); err == nil {
			in.KeyInsight = &KeyInsight{
				Type:    strings.TrimSpace(r.KeyInsight.Type),
				Content: strings.TrimSpace(r.KeyInsight.Content),
			}
		}
	}
	for id, v := range r.PlaybookFeedback {
		verdict := ItemVerdict(strings.ToLower(strings.TrimSpace(v)))
		if verdict != Helpful && verdict != Harmful {
			continue
		}
		if in.PlaybookFeedback == nil {
			in.PlaybookFeedback = make(map[string]ItemVerdict)
		}
		in.PlaybookFeedback[id] = verdict
	}
	return in
}

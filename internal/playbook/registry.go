package playbook

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnknownSection is returned for a section name outside the registry.
var ErrUnknownSection = errors.New("unknown playbook section")

// Section names one of the fixed playbook categories.
type Section string

const (
	SchemaRules    Section = "schema_rules"
	SQLPatterns    Section = "sql_patterns"
	CommonMistakes Section = "common_mistakes"
)

// SectionSpec is the single source of truth for a section: its id prefix,
// the content format the curator asks for, and how ADD content is normalized.
type SectionSpec struct {
	Name     Section
	Prefix   string
	Guidance string
	idFormat *regexp.Regexp
}

// registry is in canonical order; that order is used wherever items are
// listed across sections.
var registry = []SectionSpec{
	{
		Name:     SchemaRules,
		Prefix:   "sr",
		Guidance: "Describe table relationships and constraints, e.g. 'payment.rental_id → rental.rental_id (N:1, payments reference rentals)'",
	},
	{
		Name:     SQLPatterns,
		Prefix:   "code",
		Guidance: "Provide a complete, runnable SQL example with comments, e.g. '-- Revenue by month\\nSELECT DATE_TRUNC('month', paid_at) AS month, SUM(amount) ...'",
	},
	{
		Name:     CommonMistakes,
		Prefix:   "ts",
		Guidance: "Use the format 'MISTAKE: <wrong approach> → FIX: <correct approach>'",
	},
}

func init() {
	for i := range registry {
		registry[i].idFormat = regexp.MustCompile(`^` + registry[i].Prefix + `-\d{5}$`)
	}
}

// Sections returns every section in canonical order.
func Sections() []Section {
	out := make([]Section, len(registry))
	for i, s := range registry {
		out[i] = s.Name
	}
	return out
}

// Spec returns the registry entry for s.
func Spec(s Section) (SectionSpec, error) {
	for _, spec := range registry {
		if spec.Name == s {
			return spec, nil
		}
	}
	return SectionSpec{}, fmt.Errorf("%w: %q", ErrUnknownSection, s)
}

// ParseSection validates a section name.
func ParseSection(name string) (Section, error) {
	spec, err := Spec(Section(strings.TrimSpace(name)))
	return spec.Name, err
}

// SectionForInsight maps a reflector insight type (schema_rule, sql_pattern,
// common_mistake) to its section.
func SectionForInsight(kind string) (Section, error) {
	return ParseSection(strings.TrimSpace(kind) + "s")
}

// SectionOfID returns the section whose id format matches id.
func SectionOfID(id string) (Section, bool) {
	for _, spec := range registry {
		if spec.ValidID(id) {
			return spec.Name, true
		}
	}
	return "", false
}

// ValidID reports whether id has the section's exact <prefix>-NNNNN shape.
func (s SectionSpec) ValidID(id string) bool {
	return s.idFormat.MatchString(id)
}

// FormatID renders the n-th id of the section.
func (s SectionSpec) FormatID(n int) string {
	return fmt.Sprintf("%s-%05d", s.Prefix, n)
}

var sqlKeyword = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|WITH|CREATE)\b`)

// Normalize shapes ADD content for the section. ok is false when the content
// must be skipped.
//
// common_mistakes content is forced into "MISTAKE: ... → FIX: ..." with "->"
// rewritten to "→"; sql_patterns content without an SQL keyword is rejected.
func (s SectionSpec) Normalize(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", false
	}

	switch s.Name {
	case CommonMistakes:
		if !strings.Contains(content, "MISTAKE:") {
			if strings.Contains(content, "→") || strings.Contains(content, "->") {
				content = "MISTAKE: " + content
			} else {
				content = "MISTAKE: " + content + " → FIX: Review and apply proper pattern"
			}
		}
		return strings.ReplaceAll(content, "->", "→"), true
	case SQLPatterns:
		return content, sqlKeyword.MatchString(content)
	default:
		return content, true
	}
}

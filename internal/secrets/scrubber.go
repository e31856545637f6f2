package secrets

import (
	"sort"
)

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	Scrub(content string) *Result
	IsEnabled() bool
}

type scrubber struct {
	config *Config
}

type redaction struct {
	start, end int
}

// New creates a Scrubber. A nil config uses DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	return &scrubber{config: cfg}, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Scrub redacts every rule match not covered by the allow list.
// Overlapping matches are merged before replacement.
func (s *scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content, ByRule: make(map[string]int)}

	var redactions []redaction
	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:     rule.ID,
				Severity:   rule.Severity,
				StartIndex: m[0],
				EndIndex:   m[1],
			})
			result.ByRule[rule.ID]++
			redactions = append(redactions, redaction{start: m[0], end: m[1]})
		}
	}

	if len(redactions) == 0 {
		return result
	}

	merged := mergeRedactions(redactions)
	scrubbed := content
	for i := len(merged) - 1; i >= 0; i-- {
		r := merged[i]
		scrubbed = scrubbed[:r.start] + s.config.RedactionString + scrubbed[r.end:]
	}
	result.Scrubbed = scrubbed
	return result
}

func (s *scrubber) IsEnabled() bool {
	return true
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) isAllowed(match string) bool {
	for _, re := range s.config.compiledAllowList {
		if re.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeRedactions sorts by start and merges overlapping or adjacent spans.
func mergeRedactions(redactions []redaction) []redaction {
	sort.Slice(redactions, func(i, j int) bool {
		return redactions[i].start < redactions[j].start
	})

	merged := []redaction{redactions[0]}
	for _, curr := range redactions[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			if curr.end > last.end {
				last.end = curr.end
			}
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result {
	return &Result{Scrubbed: content}
}

func (NoopScrubber) IsEnabled() bool {
	return false
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)

package secrets

// Result contains the scrubbing result.
type Result struct {
	Scrubbed string         `json:"scrubbed"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Finding is a detected secret. The value itself is never kept.
type Finding struct {
	RuleID     string `json:"rule_id"`
	Severity   string `json:"severity"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// HasFindings returns true if any secrets were found.
func (r *Result) HasFindings() bool {
	return len(r.Findings) > 0
}

package assembler

// SegmentType names a part of the prompt context.
type SegmentType string

const (
	SegmentSystem      SegmentType = "system"
	SegmentSchema      SegmentType = "schema"
	SegmentPlaybook    SegmentType = "playbook"
	SegmentConstraints SegmentType = "constraints"
	SegmentUserQuery   SegmentType = "user_query"
)

// Segment is one typed part of a ContextChain with its estimated token cost.
type Segment struct {
	Type    SegmentType `json:"type"`
	Content string      `json:"content"`
	Tokens  int         `json:"tokens"`
}

// ContextChain is the ordered prompt context for one request.
type ContextChain struct {
	ID          string    `json:"id"`
	TokenBudget int       `json:"token_budget"`
	Segments    []Segment `json:"segments"`
	TotalTokens int       `json:"total_tokens"`

	// PlaybookIDs lists the rules rendered into the playbook segment.
	PlaybookIDs []string `json:"playbook_ids,omitempty"`

	// DocumentIDs lists the retrieved documents in the schema segment.
	DocumentIDs []string `json:"document_ids,omitempty"`
}

func (c *ContextChain) add(t SegmentType, content string, tokens int) {
	c.Segments = append(c.Segments, Segment{Type: t, Content: content, Tokens: tokens})
	c.TotalTokens += tokens
}

// Segment returns the first segment of type t.
func (c *ContextChain) Segment(t SegmentType) (Segment, bool) {
	for _, s := range c.Segments {
		if s.Type == t {
			return s, true
		}
	}
	return Segment{}, false
}

// OverBudget reports whether the estimate exceeds the budget.
func (c *ContextChain) OverBudget() bool {
	return c.TokenBudget > 0 && c.TotalTokens > c.TokenBudget
}

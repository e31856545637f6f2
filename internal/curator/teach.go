package curator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
)

// Teach records user guidance as a rule. An empty section means
// common_mistakes. The rule goes through ApplyOperations, so normalization,
// id assignment and duplicate folding all apply.
func (c *Curator) Teach(ctx context.Context, section playbook.Section, guidance string) (ApplyReport, error) {
	if section == "" {
		section = playbook.CommonMistakes
	}
	op := Operation{Type: OpAdd, Section: section, Content: strings.TrimSpace(guidance)}
	if err := op.Validate(); err != nil {
		return ApplyReport{}, fmt.Errorf("teaching: %w", err)
	}
	return c.ApplyOperations(ctx, []Operation{op})
}

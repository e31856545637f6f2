package curator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/llm"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// VerdictKind classifies a candidate rule against existing ones.
type VerdictKind string

const (
	VerdictDistinct  VerdictKind = "distinct"
	VerdictDuplicate VerdictKind = "duplicate"
	VerdictMerge     VerdictKind = "merge"
	// VerdictUnknown means the check itself failed; callers treat it as
	// distinct so learning is never blocked.
	VerdictUnknown VerdictKind = "unknown"
)

// Verdict is the result of a semantic-duplicate check.
type Verdict struct {
	Kind               VerdictKind `json:"kind"`
	SimilarTo          string      `json:"similar_to,omitempty"`
	Reason             string      `json:"reason,omitempty"`
	RecommendedContent string      `json:"recommended_content,omitempty"`
}

// Similar reports whether the candidate should be folded into SimilarTo.
func (v Verdict) Similar() bool {
	return (v.Kind == VerdictDuplicate || v.Kind == VerdictMerge) && v.SimilarTo != ""
}

type similarityReply struct {
	IsSimilar          bool    `json:"is_similar"`
	SimilarToID        *string `json:"similar_to_id"`
	SimilarityReason   string  `json:"similarity_reason"`
	ShouldMerge        bool    `json:"should_merge"`
	RecommendedContent *string `json:"recommended_content"`
}

const similaritySystemPrompt = "You are a SQL playbook curator. Your task is to determine if a new rule is semantically similar " +
	"to any existing rules in the playbook, even if worded differently.\n\n" +
	"Rules are considered SIMILAR if they address the same mistake or pattern, even with different examples.\n" +
	"For example:\n" +
	"- 'Comparing integer to boolean' and 'Using boolean with integer column' are SIMILAR\n" +
	"- 'Using INNER JOIN' and 'Forgetting GROUP BY' are DIFFERENT\n\n" +
	"Respond with JSON only."

const similarityTemplate = `OUTPUT (JSON):
{
  "is_similar": true/false,
  "similar_to_id": "<id of most similar existing rule, or null>",
  "similarity_reason": "<brief explanation>",
  "should_merge": true/false,
  "recommended_content": "<merged/improved content if should_merge is true, else null>"
}`

// CheckSemanticSimilarity compares content against the most recent items of
// a section. An empty section short-circuits to distinct without a call.
func (c *Curator) CheckSemanticSimilarity(ctx context.Context, section playbook.Section, content string, existing []playbook.Item) Verdict {
	if len(existing) == 0 {
		return Verdict{Kind: VerdictDistinct}
	}

	ctx, span := c.tracer.Start(ctx, "curator.CheckSemanticSimilarity")
	defer span.End()

	window := existing
	if len(window) > c.window {
		window = window[len(window)-c.window:]
	}

	var rules strings.Builder
	for i, it := range window {
		if i > 0 {
			rules.WriteByte('\n')
		}
		fmt.Fprintf(&rules, "%d. [%s] %s", i+1, it.ID, truncateRunes(it.Content, 200))
	}

	user := fmt.Sprintf("SECTION: %s\n\nNEW RULE TO ADD:\n%s\n\nEXISTING RULES IN PLAYBOOK:\n%s\n\n%s",
		section, content, rules.String(), similarityTemplate)

	text, err := c.llm.Complete(ctx, similaritySystemPrompt, user)
	if err != nil {
		c.logger.Warn("similarity check failed", zap.String("component", "curator"), zap.Error(err))
		return Verdict{Kind: VerdictUnknown}
	}
	reply, err := llm.DecodeJSON[similarityReply](text)
	if err != nil {
		c.logger.Warn("unparsable similarity reply", zap.String("component", "curator"), zap.Error(err))
		return Verdict{Kind: VerdictUnknown}
	}

	v := Verdict{Kind: VerdictDistinct, Reason: reply.SimilarityReason}
	if !reply.IsSimilar || reply.SimilarToID == nil || *reply.SimilarToID == "" {
		return v
	}

	// The model may name an id outside the window or invent one.
	id := strings.TrimSpace(*reply.SimilarToID)
	found := false
	for _, it := range existing {
		if it.ID == id {
			found = true
			break
		}
	}
	if !found {
		return v
	}

	v.SimilarTo = id
	v.Kind = VerdictDuplicate
	if reply.ShouldMerge {
		v.Kind = VerdictMerge
		if reply.RecommendedContent != nil {
			v.RecommendedContent = *reply.RecommendedContent
		}
	}
	span.SetAttributes(attribute.String("curator.verdict", string(v.Kind)))
	return v
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

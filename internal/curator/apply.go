package curator

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ApplyOperations applies ops in order against one freshly loaded playbook
// and saves it once. Nothing is persisted when the store fails.
func (c *Curator) ApplyOperations(ctx context.Context, ops []Operation) (ApplyReport, error) {
	if len(ops) == 0 {
		return ApplyReport{Applied: []Applied{}}, nil
	}

	ctx, span := c.tracer.Start(ctx, "curator.ApplyOperations")
	defer span.End()

	var applied []Applied
	pb, err := c.store.Update(ctx, func(pb *playbook.Playbook) error {
		// Reset per call so a Store that retries fn does not double-report.
		applied = make([]Applied, 0, len(ops))
		for _, op := range ops {
			applied = append(applied, c.apply(ctx, pb, op.normalize()))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return ApplyReport{}, fmt.Errorf("applying curator operations: %w", err)
	}

	report := ApplyReport{Applied: applied, Playbook: pb}
	for _, a := range report.Applied {
		switch a.Action {
		case ActionSkipped:
			c.logger.Debug("curator operation skipped",
				zap.String("type", string(a.Type)),
				zap.String("section", string(a.Section)),
				zap.String("id", a.ID),
				zap.String("reason", a.Reason))
		case ActionAdded, ActionMerged:
			c.logger.Info("curated rule",
				zap.String("action", string(a.Action)),
				zap.String("section", string(a.Section)),
				zap.String("id", a.ID))
		}
	}
	span.SetAttributes(
		attribute.Int("curator.ops", len(ops)),
		attribute.Int("curator.added", report.Count(ActionAdded)),
		attribute.Int("curator.skipped", report.Count(ActionSkipped)),
	)
	return report, nil
}

func (c *Curator) apply(ctx context.Context, pb *playbook.Playbook, op Operation) Applied {
	a := Applied{Type: op.Type, Section: op.Section, ID: op.ID}
	if err := op.Validate(); err != nil {
		a.Action = ActionSkipped
		a.Reason = err.Error()
		return a
	}

	switch op.Type {
	case OpAdd:
		return c.applyAdd(ctx, pb, op)
	case OpUpdate:
		item := pb.Find(op.Section, op.ID)
		if item == nil {
			a.Action = ActionSkipped
			a.Reason = "item not found"
			return a
		}
		switch op.Field {
		case FieldHelpful:
			item.Helpful += op.increment()
		case FieldHarmful:
			item.Harmful += op.increment()
		case FieldUsageCount:
			item.UsageCount += op.increment()
		}
		a.Action = ActionUpdated
		return a
	default: // OpDelete
		if pb.Delete(op.Section, op.ID) == 0 {
			a.Action = ActionSkipped
			a.Reason = "item not found"
			return a
		}
		a.Action = ActionDeleted
		return a
	}
}

func (c *Curator) applyAdd(ctx context.Context, pb *playbook.Playbook, op Operation) Applied {
	a := Applied{Type: OpAdd, Section: op.Section}
	spec, _ := playbook.Spec(op.Section)

	content, ok := spec.Normalize(op.Content)
	if !ok {
		a.ID = op.ID
		a.Action = ActionSkipped
		a.Reason = "content does not fit section format"
		return a
	}
	a.Content = content

	verdict := c.CheckSemanticSimilarity(ctx, op.Section, content, pb.Items(op.Section))
	if verdict.Similar() {
		if item := pb.Find(op.Section, verdict.SimilarTo); item != nil {
			a.ID = item.ID
			a.Reason = verdict.Reason
			if verdict.Kind == VerdictMerge {
				// The candidate wins; the model's suggestion is kept for review only.
				item.Content = content
				a.Action = ActionMerged
				if verdict.RecommendedContent != "" {
					a.Reason = strings.TrimPrefix(a.Reason+"; recommended: "+verdict.RecommendedContent, "; ")
				}
			} else {
				a.Action = ActionReinforced
			}
			item.UsageCount++
			return a
		}
	}

	a.ID = pb.AssignID(op.Section, op.ID)
	pb.Append(op.Section, playbook.Item{ID: a.ID, Content: content, UsageCount: 1})
	a.Action = ActionAdded
	return a
}

package llm

import (
	"context"
	"sync"
)

type usageKey struct{}

// Usage accumulates estimated token counts of completions made with a
// context returned by WithUsage.
type Usage struct {
	mu     sync.Mutex
	calls  int
	prompt int
	reply  int
}

// WithUsage returns a context that records completion usage into the
// returned Usage.
func WithUsage(ctx context.Context) (context.Context, *Usage) {
	u := &Usage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// RecordUsage adds one completion to the Usage carried by ctx, if any.
func RecordUsage(ctx context.Context, system, user, reply string) {
	u, ok := ctx.Value(usageKey{}).(*Usage)
	if !ok {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.prompt += EstimateTokens(system) + EstimateTokens(user)
	u.reply += EstimateTokens(reply)
}

// Calls returns the number of completions recorded.
func (u *Usage) Calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

// Tokens returns estimated prompt plus reply tokens.
func (u *Usage) Tokens() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.prompt + u.reply
}

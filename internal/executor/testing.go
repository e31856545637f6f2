package executor

import "context"

// Func adapts a function to Executor.
type Func func(ctx context.Context, query string) Result

// Execute calls f.
func (f Func) Execute(ctx context.Context, query string) Result {
	return f(ctx, query)
}

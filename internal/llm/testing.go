package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by ScriptedCompleter once every reply is used.
var ErrScriptExhausted = errors.New("scripted completer: no replies left")

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// Call is one recorded completion request.
type Call struct {
	System string
	User   string
}

// ScriptedReply is one canned answer.
type ScriptedReply struct {
	Text string
	Err  error
}

// ScriptedCompleter replays canned replies in order and records every call.
// It is meant for tests.
type ScriptedCompleter struct {
	mu      sync.Mutex
	replies []ScriptedReply
	calls   []Call
}

// NewScriptedCompleter returns a completer that answers with texts in order.
func NewScriptedCompleter(texts ...string) *ScriptedCompleter {
	s := &ScriptedCompleter{}
	for _, t := range texts {
		s.replies = append(s.replies, ScriptedReply{Text: t})
	}
	return s
}

// Push queues another reply.
func (s *ScriptedCompleter) Push(r ScriptedReply) *ScriptedCompleter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, r)
	return s
}

// Complete returns the next scripted reply.
func (s *ScriptedCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{System: system, User: user})
	if len(s.replies) == 0 {
		return "", ErrScriptExhausted
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.Err == nil {
		RecordUsage(ctx, system, user, r.Text)
	}
	return r.Text, r.Err
}

// Remaining returns how many replies are still queued.
func (s *ScriptedCompleter) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.replies)
}

// Calls returns the recorded requests.
func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

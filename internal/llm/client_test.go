package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeModel struct {
	reply    *llms.ContentResponse
	err      error
	messages []llms.MessageContent
	delay    time.Duration
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.reply, f.err
}

func textReply(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s}}}
}

func TestClient_Complete(t *testing.T) {
	model := &fakeModel{reply: textReply(`{"sql": "SELECT 1"}`)}
	c := NewClient(model, WithModelName("test-model"))

	out, err := c.Complete(context.Background(), "you write sql", "count users")
	require.NoError(t, err)
	assert.Equal(t, `{"sql": "SELECT 1"}`, out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextContent{Text: "count users"}, model.messages[1].Parts[0])
}

func TestClient_CompleteErrors(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		want  error
	}{
		{name: "empty choices", model: &fakeModel{reply: &llms.ContentResponse{}}, want: ErrEmptyReply},
		{name: "blank text", model: &fakeModel{reply: textReply("  \n")}, want: ErrEmptyReply},
		{name: "nil response", model: &fakeModel{}, want: ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.model).Complete(context.Background(), "s", "u")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	boom := errors.New("502 bad gateway")
	_, err := NewClient(&fakeModel{err: boom}).Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, boom)
}

func TestClient_Timeout(t *testing.T) {
	model := &fakeModel{reply: textReply("late"), delay: time.Second}
	c := NewClient(model, WithTimeout(10*time.Millisecond))

	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_RateLimit(t *testing.T) {
	c := NewClient(&fakeModel{reply: textReply("ok")}, WithRateLimit(1, 1))
	require.NotNil(t, c.limiter)

	_, err := c.Complete(context.Background(), "s", "u")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Complete(ctx, "s", "u")
	assert.Error(t, err, "second call should wait past the caller deadline")

	assert.Nil(t, NewClient(nil, WithRateLimit(0, 5)).limiter)
}

func TestScriptedCompleter(t *testing.T) {
	s := NewScriptedCompleter("one").Push(ScriptedReply{Err: ErrEmptyReply})

	out, err := s.Complete(context.Background(), "sys", "a")
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Complete(context.Background(), "sys", "b")
	assert.ErrorIs(t, err, ErrEmptyReply)

	_, err = s.Complete(context.Background(), "sys", "c")
	assert.ErrorIs(t, err, ErrScriptExhausted)

	assert.Len(t, s.Calls(), 3)
	assert.Equal(t, "b", s.Calls()[1].User)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/llm"

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("empty completion reply")

// Completer is the completion collaborator: one system directive and one
// user message in, reply text out.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// contentGenerator is the slice of llms.Model the client needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// Client implements Completer on top of a langchaingo model.
type Client struct {
	model       contentGenerator
	modelName   string
	temperature float64
	timeout     time.Duration
	limiter     *rate.Limiter
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRateLimit allows rps calls per second with the given burst. rps <= 0
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithModelName labels spans and logs with the model name.
func WithModelName(name string) Option {
	return func(c *Client) { c.modelName = name }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient wraps an existing model.
func NewClient(model contentGenerator, opts ...Option) *Client {
	c := &Client{
		model:   model,
		timeout: 60 * time.Second,
		tracer:  otel.Tracer(instrumentationName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds an OpenAI-compatible client from configuration.
func New(cfg config.LLMConfig, logger *zap.Logger) (*Client, error) {
	apiKey := cfg.APIKey.Value()
	if apiKey == "" {
		// langchaingo requires a token even for local OpenAI-compatible servers.
		apiKey = "placeholder"
	}

	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return NewClient(model,
		WithModelName(cfg.Model),
		WithTemperature(cfg.Temperature),
		WithTimeout(cfg.Timeout),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
		WithLogger(logger),
	), nil
}

// Complete sends a system and a human message and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llm.Complete", trace.WithAttributes(
		attribute.String("llm.model", c.modelName),
		attribute.Int("llm.prompt_tokens_estimate", EstimateTokens(system)+EstimateTokens(user)),
	))
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limiter")
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	start := time.Now()
	resp, err := c.model.GenerateContent(ctx, messages, llms.WithTemperature(c.temperature))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", fmt.Errorf("completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		span.SetStatus(codes.Error, "empty reply")
		return "", ErrEmptyReply
	}

	reply := resp.Choices[0].Content
	RecordUsage(ctx, system, user, reply)
	c.logger.Debug("completion finished",
		zap.String("model", c.modelName),
		zap.Duration("latency", time.Since(start)),
		zap.Int("reply_tokens_estimate", EstimateTokens(reply)))
	return reply, nil
}

var _ Completer = (*Client)(nil)

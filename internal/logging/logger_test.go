package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestNewLogger_OTELBridge(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.OTEL = true

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info(context.Background(), "bridged", zap.String("run_id", "run_1"))
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      config.LoggingConfig
		level   zapcore.Level
		format  string
		wantErr bool
	}{
		{name: "defaults", in: config.LoggingConfig{}, level: zapcore.InfoLevel, format: "json"},
		{name: "trace console", in: config.LoggingConfig{Level: "trace", Format: "console"}, level: TraceLevel, format: "console"},
		{name: "debug", in: config.LoggingConfig{Level: "debug"}, level: zapcore.DebugLevel, format: "json"},
		{name: "bad level", in: config.LoggingConfig{Level: "loud"}, wantErr: true},
		{name: "bad format", in: config.LoggingConfig{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromConfig(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.level, cfg.Level)
			assert.Equal(t, tt.format, cfg.Format)
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithRunID(context.Background(), "run_20250101_000000_abcdef12")
	ctx = WithRequestID(ctx, "req-1")

	tl.Info(ctx, "cycle finished", zap.Int("steps", 4))

	tl.AssertLogged(t, zapcore.InfoLevel, "cycle finished")
	tl.AssertField(t, "cycle finished", "run.id", "run_20250101_000000_abcdef12")
	tl.AssertField(t, "cycle finished", "request.id", "req-1")
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "prompt body")
	tl.AssertLogged(t, TraceLevel, "prompt body")
	tl.AssertNotLogged(t, zapcore.DebugLevel, "prompt body")
}

func TestFromContext_Default(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(zapcore.ErrorLevel))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("nope")
	assert.Error(t, err)
}

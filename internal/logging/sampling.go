package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with sampling below Error.
// Error and above are never sampled.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	errors := &levelFilterCore{Core: core, minLevel: zapcore.ErrorLevel}
	rest := &levelFilterCore{Core: core, maxLevel: zapcore.WarnLevel}

	return zapcore.NewTee(errors, zapcore.NewSamplerWithOptions(rest, cfg.Tick, cfg.Initial, cfg.Thereafter))
}

// levelFilterCore filters logs by level range. A zero bound is open.
type levelFilterCore struct {
	zapcore.Core
	minLevel zapcore.Level
	maxLevel zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	if c.minLevel != 0 && lvl < c.minLevel {
		return false
	}
	if c.maxLevel != 0 && lvl > c.maxLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{
		Core:     c.Core.With(fields),
		minLevel: c.minLevel,
		maxLevel: c.maxLevel,
	}
}

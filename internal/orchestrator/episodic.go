package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fyrsmithlabs/aceql/internal/secrets"
	"go.uber.org/zap"
)

// Recorder persists finished run records.
type Recorder interface {
	Append(ctx context.Context, rec *RunRecord) error
}

// EpisodicLog is an append-only JSON Lines file of run records.
type EpisodicLog struct {
	mu       sync.Mutex
	path     string
	scrubber secrets.Scrubber
	logger   *zap.Logger
}

// NewEpisodicLog creates a log at path. A nil scrubber writes records as is.
func NewEpisodicLog(path string, scrubber secrets.Scrubber, logger *zap.Logger) *EpisodicLog {
	if scrubber == nil {
		scrubber = secrets.NoopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EpisodicLog{path: path, scrubber: scrubber, logger: logger}
}

// Path returns the log file location.
func (l *EpisodicLog) Path() string {
	return l.path
}

// Append writes rec as one line with a single Write call.
func (l *EpisodicLog) Append(ctx context.Context, rec *RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, findings, err := l.encode(rec)
	if err != nil {
		return err
	}
	if findings > 0 {
		l.logger.Warn("redacted secrets from run record",
			zap.String("run_id", rec.ID),
			zap.Int("findings", findings))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("creating episodic log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening episodic log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending run record: %w", err)
	}
	return nil
}

func (l *EpisodicLog) encode(rec *RunRecord) ([]byte, int, error) {
	line, findings, err := secrets.ScrubJSON(l.scrubber, rec)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding run record: %w", err)
	}
	return append(line, '\n'), findings, nil
}

// ReadEpisodicLog decodes every record in the file at path.
func ReadEpisodicLog(path string) ([]RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading episodic log: %w", err)
	}
	var out []RunRecord
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("episodic log line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

var _ Recorder = (*EpisodicLog)(nil)

package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store loads and saves the whole playbook aggregate.
type Store interface {
	// Load returns a fresh snapshot. A missing playbook yields New().
	Load(ctx context.Context) (*Playbook, error)

	// Update runs fn on a fresh snapshot inside the single-writer critical
	// section and persists the result with a refreshed last_updated. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, fn func(*Playbook) error) (*Playbook, error)
}

// FileStore persists the playbook as one JSON document.
//
// Writes go through a temp file and rename, so readers never observe a
// partial document. The mutex serializes writers within one process only.
type FileStore struct {
	path   string
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewFileStore creates a store for the document at path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the document location.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context) (*Playbook, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading playbook %s: %w", s.path, err)
	}

	var p Playbook
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding playbook %s: %w", s.path, err)
	}
	for _, name := range p.ensureSections() {
		s.logger.Warn("dropping unknown playbook section", zap.String("section", name))
	}
	return &p, nil
}

// Save persists p whole, stamping last_updated.
func (s *FileStore) Save(ctx context.Context, p *Playbook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, p)
}

// Update implements Store.
func (s *FileStore) Update(ctx context.Context, fn func(*Playbook) error) (*Playbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *FileStore) save(ctx context.Context, p *Playbook) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.ensureSections()
	p.LastUpdated = Timestamp(s.now())

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding playbook: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating playbook dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".playbook-*.json")
	if err != nil {
		return fmt.Errorf("creating temp playbook: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp playbook: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp playbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp playbook: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing playbook: %w", err)
	}

	s.logger.Debug("playbook saved", zap.String("path", s.path), zap.Int("items", p.Len()))
	return nil
}

var _ Store = (*FileStore)(nil)

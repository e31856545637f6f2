package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/aceql/internal/curator"
	"github.com/fyrsmithlabs/aceql/internal/orchestrator"
	"github.com/fyrsmithlabs/aceql/internal/playbook"
	"github.com/fyrsmithlabs/aceql/internal/secrets"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	specs []orchestrator.TaskSpec
}

func (f *fakeRunner) Run(_ context.Context, spec orchestrator.TaskSpec) *orchestrator.RunRecord {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	f.mu.Unlock()
	return &orchestrator.RunRecord{
		ID:       "run_20240309_140506_abcd1234",
		TaskSpec: spec,
		Outcome:  orchestrator.Outcome{Success: false, Score: 0.1},
		Error:    "dial postgres://app:hunter22@db/sales: refused",
	}
}

type fakeCurator struct {
	ops      []curator.Operation
	teachErr error
	section  playbook.Section
	guidance string
}

func (f *fakeCurator) ApplyOperations(_ context.Context, ops []curator.Operation) (curator.ApplyReport, error) {
	f.ops = ops
	applied := make([]curator.Applied, len(ops))
	for i, op := range ops {
		applied[i] = curator.Applied{Type: op.Type, Section: op.Section, ID: fmt.Sprintf("ts-%05d", i+1), Action: curator.ActionAdded}
	}
	return curator.ApplyReport{Applied: applied, Playbook: playbook.New()}, nil
}

func (f *fakeCurator) Teach(_ context.Context, section playbook.Section, guidance string) (curator.ApplyReport, error) {
	f.section, f.guidance = section, guidance
	if f.teachErr != nil {
		return curator.ApplyReport{}, f.teachErr
	}
	return curator.ApplyReport{Applied: []curator.Applied{{Type: curator.OpAdd, Section: section, ID: "ts-00001", Action: curator.ActionAdded}}}, nil
}

type testServer struct {
	*Server
	runner  *fakeRunner
	curator *fakeCurator
	store   *playbook.FileStore
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	scrubber, err := secrets.New(nil)
	require.NoError(t, err)

	ts := &testServer{
		runner:  &fakeRunner{},
		curator: &fakeCurator{},
		store:   playbook.NewFileStore(filepath.Join(t.TempDir(), "playbook.json"), nil),
	}
	ts.Server, err = NewServer(Services{
		Runner:    ts.runner,
		Playbooks: ts.store,
		Curator:   ts.curator,
		Scrubber:  scrubber,
	}, zap.NewNop(), nil)
	require.NoError(t, err)
	return ts
}

func (ts *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var r *bytes.Reader
	switch b := body.(type) {
	case nil:
		r = bytes.NewReader(nil)
	case string:
		r = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	scrubber, err := secrets.New(nil)
	require.NoError(t, err)
	svc := Services{
		Runner:    &fakeRunner{},
		Playbooks: playbook.NewFileStore(filepath.Join(t.TempDir(), "p.json"), nil),
		Curator:   &fakeCurator{},
		Scrubber:  scrubber,
	}

	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "127.0.0.1", Port: 9191}
		server, err := NewServer(svc, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.Echo())
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(svc, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svc, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when scrubber is nil", func(t *testing.T) {
		noScrub := svc
		noScrub.Scrubber = nil
		_, err := NewServer(noScrub, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "scrubber cannot be nil")
	})

	t.Run("returns error when a service is missing", func(t *testing.T) {
		noRunner := svc
		noRunner.Runner = nil
		_, err := NewServer(noRunner, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHandleRun(t *testing.T) {
	t.Run("runs the cycle and scrubs the record", func(t *testing.T) {
		ts := setupTestServer(t)

		rec := ts.do(http.MethodPost, "/api/v1/runs", map[string]any{
			"user_query":    "monthly revenue",
			"user_feedback": map[string]string{"status": "incorrect"},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.NotContains(t, rec.Body.String(), "hunter22")
		assert.Contains(t, rec.Body.String(), "[REDACTED]")

		var got orchestrator.RunRecord
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "run_20240309_140506_abcd1234", got.ID)

		require.Len(t, ts.runner.specs, 1)
		assert.Equal(t, "monthly revenue", ts.runner.specs[0].UserQuery)
		assert.Equal(t, orchestrator.FeedbackIncorrect, ts.runner.specs[0].Feedback())
	})

	t.Run("rejects an empty query", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/runs", map[string]string{"user_query": "  "})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, ts.runner.specs)
	})

	t.Run("rejects unknown feedback", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/runs", map[string]any{
			"user_query":    "q",
			"user_feedback": map[string]string{"status": "meh"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/runs", "{not json")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleGetPlaybook(t *testing.T) {
	ts := setupTestServer(t)
	_, err := ts.store.Update(context.Background(), func(p *playbook.Playbook) error {
		p.Append(playbook.CommonMistakes, playbook.Item{ID: "ts-00001", Content: "MISTAKE: a → FIX: b"})
		return nil
	})
	require.NoError(t, err)

	t.Run("whole playbook", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/playbook", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var pb playbook.Playbook
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pb))
		assert.Equal(t, 1, pb.Len())
		assert.Equal(t, "ts-00001", pb.Items(playbook.CommonMistakes)[0].ID)
	})

	t.Run("one section", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/playbook?section=common_mistakes", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp SectionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, playbook.CommonMistakes, resp.Section)
		assert.Len(t, resp.Items, 1)
	})

	t.Run("unknown section", func(t *testing.T) {
		rec := ts.do(http.MethodGet, "/api/v1/playbook?section=nope", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleApplyOperations(t *testing.T) {
	t.Run("applies the batch", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/playbook/operations", OperationsRequest{
			Operations: []curator.Operation{{Type: curator.OpAdd, Section: playbook.CommonMistakes, Content: "MISTAKE: a → FIX: b"}},
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp ApplyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Applied, 1)
		assert.Equal(t, curator.ActionAdded, resp.Applied[0].Action)
		assert.Len(t, ts.curator.ops, 1)
	})

	t.Run("rejects an empty batch", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/playbook/operations", map[string]any{"operations": []any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, ts.curator.ops)
	})
}

func TestHandleTeach(t *testing.T) {
	t.Run("teaches a rule", func(t *testing.T) {
		ts := setupTestServer(t)
		rec := ts.do(http.MethodPost, "/api/v1/playbook/teach", TeachRequest{
			Section:  "schema_rules",
			Guidance: "orders.customer_id → customers.id",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, playbook.SchemaRules, ts.curator.section)
		assert.Equal(t, "orders.customer_id → customers.id", ts.curator.guidance)
	})

	t.Run("invalid guidance is a bad request", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.curator.teachErr = fmt.Errorf("teaching: %w", curator.ErrInvalidOperation)
		rec := ts.do(http.MethodPost, "/api/v1/playbook/teach", TeachRequest{Guidance: ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure is a server error", func(t *testing.T) {
		ts := setupTestServer(t)
		ts.curator.teachErr = errors.New("disk full")
		rec := ts.do(http.MethodPost, "/api/v1/playbook/teach", TeachRequest{Guidance: "x"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk full")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	rec := ts.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const instrumentationName = "github.com/fyrsmithlabs/aceql/internal/executor"

var (
	// ErrEmptySQL is reported when there is no statement to run.
	ErrEmptySQL = errors.New("empty SQL statement")

	// ErrUnsupportedDriver is returned by Introspect for drivers it cannot read.
	ErrUnsupportedDriver = errors.New("schema introspection not supported for driver")
)

// Result is the normalized outcome of one statement. Execution errors are a
// field, not a Go error.
type Result struct {
	Success  bool             `json:"success"`
	Columns  []string         `json:"columns,omitempty"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Error    string           `json:"error,omitempty"`
}

// Executor runs generated SQL.
type Executor interface {
	Execute(ctx context.Context, query string) Result
}

// SQLExecutor runs statements through database/sql, one transaction each.
type SQLExecutor struct {
	db         *sql.DB
	driver     string
	fetchLimit int
	timeout    time.Duration
	tracer     trace.Tracer
	logger     *zap.Logger
}

// Option configures an SQLExecutor.
type Option func(*SQLExecutor)

// WithFetchLimit caps the rows read from a row-returning statement.
func WithFetchLimit(n int) Option {
	return func(e *SQLExecutor) {
		if n > 0 {
			e.fetchLimit = n
		}
	}
}

// WithTimeout bounds each statement.
func WithTimeout(d time.Duration) Option {
	return func(e *SQLExecutor) { e.timeout = d }
}

// WithDriver records the driver name used for introspection.
func WithDriver(name string) Option {
	return func(e *SQLExecutor) { e.driver = name }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *SQLExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *SQLExecutor) { e.tracer = t }
}

// New wraps an open database handle.
func New(db *sql.DB, opts ...Option) *SQLExecutor {
	e := &SQLExecutor{
		db:         db,
		driver:     "sqlite",
		fetchLimit: 100,
		timeout:    30 * time.Second,
		tracer:     otel.Tracer(instrumentationName),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open opens and pings the configured database.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*SQLExecutor, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s database: %w", cfg.Driver, err)
	}

	return New(db,
		WithDriver(cfg.Driver),
		WithFetchLimit(cfg.FetchLimit),
		WithTimeout(cfg.Timeout),
		WithLogger(logger),
	), nil
}

// DB returns the underlying handle.
func (e *SQLExecutor) DB() *sql.DB {
	return e.db
}

// Close closes the database handle.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// Execute implements Executor. Row-returning statements yield at most the
// fetch limit of rows; other statements report rows affected. Any failure
// rolls the transaction back.
func (e *SQLExecutor) Execute(ctx context.Context, query string) Result {
	ctx, span := e.tracer.Start(ctx, "executor.Execute")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		span.SetStatus(codes.Error, ErrEmptySQL.Error())
		return Result{Rows: []map[string]any{}, Error: ErrEmptySQL.Error()}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.run(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		e.logger.Debug("statement failed", zap.Error(err), zap.Duration("latency", time.Since(start)))
		return Result{Rows: []map[string]any{}, Error: err.Error()}
	}

	span.SetAttributes(attribute.Int("sql.row_count", res.RowCount))
	e.logger.Debug("statement executed",
		zap.Int("row_count", res.RowCount),
		zap.Duration("latency", time.Since(start)))
	return res
}

func (e *SQLExecutor) run(ctx context.Context, query string) (res Result, err error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if returnsRows(query) {
		res, err = e.query(ctx, tx, query)
	} else {
		res, err = exec(ctx, tx, query)
	}
	if err != nil {
		return Result{}, err
	}

	if err = tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	res.Success = true
	return res, nil
}

func (e *SQLExecutor) query(ctx context.Context, tx *sql.Tx, query string) (Result, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	out := make([]map[string]any, 0)
	for len(out) < e.fetchLimit && rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = jsonSafe(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	return Result{Columns: cols, Rows: out, RowCount: len(out)}, nil
}

func exec(ctx context.Context, tx *sql.Tx, query string) (Result, error) {
	r, err := tx.ExecContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	affected, err := r.RowsAffected()
	if err != nil {
		affected = 0
	}
	return Result{Rows: []map[string]any{}, RowCount: int(affected)}, nil
}

var (
	leadingKeyword = regexp.MustCompile(`^\s*\(?\s*([A-Za-z]+)`)
	returningKw    = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// returnsRows classifies a statement by its leading keyword.
func returnsRows(query string) bool {
	query = stripLeadingComments(query)
	m := leadingKeyword.FindStringSubmatch(query)
	if m == nil {
		return false
	}
	switch strings.ToUpper(m[1]) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN", "SHOW", "TABLE", "DESCRIBE":
		return true
	}
	return returningKw.MatchString(query)
}

func stripLeadingComments(query string) string {
	for {
		query = strings.TrimSpace(query)
		switch {
		case strings.HasPrefix(query, "--"):
			nl := strings.IndexByte(query, '\n')
			if nl < 0 {
				return ""
			}
			query = query[nl+1:]
		case strings.HasPrefix(query, "/*"):
			end := strings.Index(query, "*/")
			if end < 0 {
				return ""
			}
			query = query[end+2:]
		default:
			return query
		}
	}
}

// jsonSafe converts driver values into types encoding/json renders sensibly.
func jsonSafe(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	default:
		return t
	}
}

var _ Executor = (*SQLExecutor)(nil)

package executor

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/aceql/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE customer (
	customer_id INTEGER PRIMARY KEY,
	first_name  TEXT NOT NULL,
	active      INTEGER DEFAULT 1
);
CREATE TABLE rental (
	rental_id   INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customer(customer_id)
);
CREATE TABLE payment (
	payment_id INTEGER,
	rental_id  INTEGER REFERENCES rental(rental_id),
	amount     REAL,
	PRIMARY KEY (rental_id, payment_id)
);
INSERT INTO customer (customer_id, first_name) VALUES (1, 'Mary'), (2, 'Patricia'), (3, 'Linda');
INSERT INTO rental VALUES (10, 1), (11, 2);
INSERT INTO payment VALUES (1, 10, 2.99), (2, 11, 4.99);
`

func newTestExecutor(t *testing.T, opts ...Option) *SQLExecutor {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return New(db, opts...)
}

func TestExecute_Select(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), "SELECT customer_id, first_name FROM customer ORDER BY customer_id")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.RowCount)
	assert.Equal(t, []string{"customer_id", "first_name"}, res.Columns)
	assert.Equal(t, "Mary", res.Rows[0]["first_name"])
	assert.EqualValues(t, 1, res.Rows[0]["customer_id"])
}

func TestExecute_FetchLimit(t *testing.T) {
	e := newTestExecutor(t, WithFetchLimit(2))

	res := e.Execute(context.Background(), "SELECT * FROM customer")

	require.True(t, res.Success)
	assert.Equal(t, 2, res.RowCount)
	assert.Len(t, res.Rows, 2)
}

func TestExecute_LeadingCommentAndCTE(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), "-- active customers\nWITH a AS (SELECT * FROM customer WHERE active = 1) SELECT COUNT(*) AS n FROM a")

	require.True(t, res.Success, res.Error)
	assert.EqualValues(t, 3, res.Rows[0]["n"])
}

func TestExecute_MutationCommits(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	res := e.Execute(ctx, "UPDATE customer SET active = 0 WHERE customer_id IN (1, 2)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.RowCount)
	assert.Empty(t, res.Rows)

	check := e.Execute(ctx, "SELECT COUNT(*) AS n FROM customer WHERE active = 0")
	assert.EqualValues(t, 2, check.Rows[0]["n"])
}

func TestExecute_ErrorIsAResult(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), "SELECT no_such_column FROM customer")

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no_such_column")
	assert.NotNil(t, res.Rows)
	assert.Zero(t, res.RowCount)
}

func TestExecute_FailedMutationRollsBack(t *testing.T) {
	e := newTestExecutor(t)
	ctx := context.Background()

	res := e.Execute(ctx, "INSERT INTO customer (customer_id, first_name) VALUES (4, 'Barbara'), (1, 'Duplicate')")
	require.False(t, res.Success)

	check := e.Execute(ctx, "SELECT COUNT(*) AS n FROM customer")
	assert.EqualValues(t, 3, check.Rows[0]["n"])
}

func TestExecute_EmptySQL(t *testing.T) {
	e := newTestExecutor(t)

	res := e.Execute(context.Background(), "   ")

	assert.False(t, res.Success)
	assert.Equal(t, ErrEmptySQL.Error(), res.Error)
}

func TestReturnsRows(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1", true},
		{"  select * from t", true},
		{"(SELECT 1) UNION (SELECT 2)", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"/* hint */ SELECT 1", true},
		{"PRAGMA table_info(t)", true},
		{"INSERT INTO t VALUES (1)", false},
		{"INSERT INTO t VALUES (1) RETURNING id", true},
		{"DELETE FROM t", false},
		{"CREATE TABLE t (id INT)", false},
		{"-- only a comment", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, returnsRows(tt.query))
		})
	}
}

func TestJSONSafe(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "abc", jsonSafe([]byte("abc")))
	assert.Equal(t, "2024-05-01T12:00:00Z", jsonSafe(ts))
	assert.Equal(t, int64(7), jsonSafe(int64(7)))
	assert.Nil(t, jsonSafe(nil))
}

func TestIntrospect_SQLite(t *testing.T) {
	e := newTestExecutor(t)

	info, err := e.Introspect(context.Background())
	require.NoError(t, err)

	require.Len(t, info.Tables, 3)
	names := []string{info.Tables[0].Name, info.Tables[1].Name, info.Tables[2].Name}
	assert.Equal(t, []string{"customer", "payment", "rental"}, names)

	customer := info.Tables[0]
	assert.Equal(t, []string{"customer_id"}, customer.PrimaryKey)
	require.Len(t, customer.Columns, 3)
	assert.Equal(t, "first_name", customer.Columns[1].Name)
	assert.Equal(t, "TEXT", customer.Columns[1].Type)
	assert.False(t, customer.Columns[1].Nullable)
	assert.Equal(t, "1", customer.Columns[2].Default)

	payment := info.Tables[1]
	assert.Equal(t, []string{"rental_id", "payment_id"}, payment.PrimaryKey)

	assert.ElementsMatch(t, []ForeignKey{
		{FromTable: "payment", FromColumn: "rental_id", ToTable: "rental", ToColumn: "rental_id"},
		{FromTable: "rental", FromColumn: "customer_id", ToTable: "customer", ToColumn: "customer_id"},
	}, info.ForeignKeys)
}

func TestIntrospect_UnsupportedDriver(t *testing.T) {
	e := newTestExecutor(t, WithDriver("postgres"))

	_, err := e.Introspect(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func TestOpen(t *testing.T) {
	cfg := config.Default().Database
	cfg.DSN = config.Secret(filepath.Join(t.TempDir(), "open.db"))
	cfg.FetchLimit = 5

	e, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Equal(t, 5, e.fetchLimit)
	assert.True(t, e.Execute(context.Background(), "SELECT 1 AS one").Success)
}

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sqlReply struct {
	Reasoning string   `json:"reasoning"`
	SQL       string   `json:"sql"`
	Tables    []string `json:"tables_accessed"`
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		sql   string
	}{
		{name: "plain", reply: `{"sql": "SELECT 1"}`, sql: "SELECT 1"},
		{name: "json fence", reply: "Here you go:\n```json\n{\"sql\": \"SELECT 2\"}\n```\nthanks", sql: "SELECT 2"},
		{name: "bare fence", reply: "```\n{\"sql\": \"SELECT 3\"}\n```", sql: "SELECT 3"},
		{name: "inline fence", reply: "```json{\"sql\": \"SELECT 4\"}```", sql: "SELECT 4"},
		{name: "prose around object", reply: "Sure! {\"sql\": \"SELECT 5\"} Hope it helps.", sql: "SELECT 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJSON[sqlReply](tt.reply)
			require.NoError(t, err)
			assert.Equal(t, tt.sql, got.SQL)
		})
	}
}

func TestDecodeJSON_Unparsable(t *testing.T) {
	_, err := DecodeJSON[sqlReply]("SELECT * FROM users")
	assert.ErrorIs(t, err, ErrUnparsable)

	_, err = DecodeJSON[sqlReply]("   ")
	assert.ErrorIs(t, err, ErrUnparsable)
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestDecodeJSON_RejectsNonObjects(t *testing.T) {
	for _, reply := range []string{"null", "[]", "```json\nnull\n```", `"SELECT 1"`, "42"} {
		t.Run(reply, func(t *testing.T) {
			_, err := DecodeJSON[sqlReply](reply)
			assert.ErrorIs(t, err, ErrUnparsable)
		})
	}

	got, err := DecodeJSON[sqlReply](`[{"sql": "SELECT 6"}]`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 6", got.SQL)
}

func TestUnfence(t *testing.T) {
	assert.Equal(t, "no fence", Unfence("no fence"))
	assert.Equal(t, "SELECT 1", Unfence("```sql\nSELECT 1\n```"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 13, EstimateTokens("one two three four five six seven eight nine ten"))
	assert.Equal(t, 2, EstimateTokens("  SELECT   1  "))
}

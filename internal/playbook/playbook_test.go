package playbook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_HasExactlyThreeSections(t *testing.T) {
	p := New()
	assert.Len(t, p.Sections, 3)
	for _, s := range Sections() {
		assert.NotNil(t, p.Sections[s])
		assert.Empty(t, p.Sections[s])
	}
	assert.Equal(t, DefaultID, p.ID)
	assert.Equal(t, DefaultVersion, p.Version)
}

func TestPlaybook_NextIDSkipsUsed(t *testing.T) {
	p := New()
	assert.Equal(t, "ts-00001", p.NextID(CommonMistakes))

	p.Append(CommonMistakes, Item{ID: "ts-00001"})
	p.Append(CommonMistakes, Item{ID: "ts-00003"})
	p.Delete(CommonMistakes, "ts-00001")
	// one item left, so count+1 = 2 is free
	assert.Equal(t, "ts-00002", p.NextID(CommonMistakes))

	p.Append(CommonMistakes, Item{ID: "ts-00002"})
	// two items, count+1 = 3 is taken, skip to 4
	assert.Equal(t, "ts-00004", p.NextID(CommonMistakes))
}

func TestPlaybook_AssignID(t *testing.T) {
	p := New()
	p.Append(SchemaRules, Item{ID: "sr-00001"})

	assert.Equal(t, "sr-00009", p.AssignID(SchemaRules, "sr-00009"))
	assert.Equal(t, "sr-00002", p.AssignID(SchemaRules, "sr-00001"), "duplicate id is reassigned")
	assert.Equal(t, "sr-00002", p.AssignID(SchemaRules, "ts-00009"), "wrong prefix is reassigned")
	assert.Equal(t, "sr-00002", p.AssignID(SchemaRules, "sr-#####"), "template id is reassigned")
	assert.Equal(t, "sr-00002", p.AssignID(SchemaRules, ""))
}

func TestPlaybook_DeleteRemovesAllAndIsIdempotent(t *testing.T) {
	p := New()
	p.Append(SQLPatterns, Item{ID: "code-00001"})
	p.Append(SQLPatterns, Item{ID: "code-00002"})
	p.Append(SQLPatterns, Item{ID: "code-00001"})

	assert.Equal(t, 2, p.Delete(SQLPatterns, "code-00001"))
	assert.Equal(t, 0, p.Delete(SQLPatterns, "code-00001"))
	require.Len(t, p.Items(SQLPatterns), 1)
	assert.Equal(t, "code-00002", p.Items(SQLPatterns)[0].ID)
}

func TestPlaybook_RecentHeadRender(t *testing.T) {
	p := New()
	for i := 1; i <= 12; i++ {
		p.Append(CommonMistakes, Item{ID: p.NextID(CommonMistakes), Content: "rule"})
	}
	p.Append(SchemaRules, Item{ID: "sr-00001", Content: "a.id = b.a_id"})

	recent := p.Recent(CommonMistakes, 10)
	require.Len(t, recent, 10)
	assert.Equal(t, "ts-00003", recent[0].ID)
	assert.Equal(t, "ts-00012", recent[9].ID)

	head := p.Head(3)
	assert.Len(t, head[CommonMistakes], 3)
	assert.Len(t, head[SchemaRules], 1)
	assert.Empty(t, head[SQLPatterns])

	all := p.All()
	assert.Equal(t, "sr-00001", all[0].ID, "schema rules come first")

	rendered := p.Render(2)
	assert.Contains(t, rendered, "[sr-00001] a.id = b.a_id")
	assert.Contains(t, rendered, "[ts-00001] rule")
	assert.NotContains(t, rendered, "ts-00002")
}

func TestPlaybook_Clone(t *testing.T) {
	p := New()
	p.Append(SchemaRules, Item{ID: "sr-00001"})
	c := p.Clone()
	c.Find(SchemaRules, "sr-00001").Helpful = 5
	assert.Equal(t, 0, p.Find(SchemaRules, "sr-00001").Helpful)
}

func TestTimestamp_Legacy(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-04T10:11:12.123456"`), &ts))
	assert.Equal(t, 2025, ts.Time().Year())
	assert.Equal(t, 123456000, ts.Time().Nanosecond())

	require.NoError(t, json.Unmarshal([]byte(`"2025-03-04T10:11:12Z"`), &ts))
	assert.True(t, ts.Time().Equal(time.Date(2025, 3, 4, 10, 11, 12, 0, time.UTC)))

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

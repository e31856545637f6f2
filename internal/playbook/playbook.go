package playbook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultID      = "sql_playbook_v1"
	DefaultVersion = "1.0.0"
)

// Item is one learned rule. Counters never decrease.
type Item struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	UsageCount int    `json:"usage_count"`
	Helpful    int    `json:"helpful"`
	Harmful    int    `json:"harmful"`
}

// Playbook is the persisted aggregate of learned rules. Section slices are in
// insertion order, so the tail holds the most recent rules.
type Playbook struct {
	ID          string             `json:"id"`
	Version     string             `json:"version"`
	LastUpdated Timestamp          `json:"last_updated"`
	Sections    map[Section][]Item `json:"sections"`
}

// New returns an empty playbook with every section present.
func New() *Playbook {
	p := &Playbook{
		ID:          DefaultID,
		Version:     DefaultVersion,
		LastUpdated: Timestamp(time.Now().UTC()),
	}
	p.ensureSections()
	return p
}

// ensureSections adds missing sections and drops any not in the registry.
// It returns the names of dropped sections.
func (p *Playbook) ensureSections() []string {
	var dropped []string
	for name := range p.Sections {
		if _, err := Spec(name); err != nil {
			dropped = append(dropped, string(name))
			delete(p.Sections, name)
		}
	}
	if p.Sections == nil {
		p.Sections = make(map[Section][]Item, len(registry))
	}
	for _, s := range Sections() {
		if p.Sections[s] == nil {
			p.Sections[s] = []Item{}
		}
	}
	if p.ID == "" {
		p.ID = DefaultID
	}
	if p.Version == "" {
		p.Version = DefaultVersion
	}
	return dropped
}

// Items returns the items of a section.
func (p *Playbook) Items(s Section) []Item {
	return p.Sections[s]
}

// All returns every item, sections in canonical order.
func (p *Playbook) All() []Item {
	var out []Item
	for _, s := range Sections() {
		out = append(out, p.Sections[s]...)
	}
	return out
}

// Len counts items across all sections.
func (p *Playbook) Len() int {
	n := 0
	for _, items := range p.Sections {
		n += len(items)
	}
	return n
}

// Recent returns up to n of the most recently added items of a section.
func (p *Playbook) Recent(s Section, n int) []Item {
	items := p.Sections[s]
	if len(items) > n {
		items = items[len(items)-n:]
	}
	return items
}

// Head returns up to n leading items of every section.
func (p *Playbook) Head(n int) map[Section][]Item {
	out := make(map[Section][]Item, len(registry))
	for _, s := range Sections() {
		items := p.Sections[s]
		if len(items) > n {
			items = items[:n]
		}
		out[s] = append([]Item{}, items...)
	}
	return out
}

// Find returns a pointer to the first item with id, or nil.
func (p *Playbook) Find(s Section, id string) *Item {
	items := p.Sections[s]
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

// Append adds an item to the end of a section.
func (p *Playbook) Append(s Section, item Item) {
	p.Sections[s] = append(p.Sections[s], item)
}

// Delete removes every item with id from the section and returns how many
// were removed.
func (p *Playbook) Delete(s Section, id string) int {
	items := p.Sections[s]
	kept := items[:0]
	for _, it := range items {
		if it.ID != id {
			kept = append(kept, it)
		}
	}
	removed := len(items) - len(kept)
	p.Sections[s] = kept
	return removed
}

// NextID returns the first unused <prefix>-<n> id starting at len(section)+1.
func (p *Playbook) NextID(s Section) string {
	spec, err := Spec(s)
	if err != nil {
		return ""
	}
	for n := len(p.Sections[s]) + 1; ; n++ {
		id := spec.FormatID(n)
		if p.Find(s, id) == nil {
			return id
		}
	}
}

// AssignID keeps a caller-supplied id only if it has the section's exact
// format and is unused; otherwise a fresh id is generated.
func (p *Playbook) AssignID(s Section, requested string) string {
	spec, err := Spec(s)
	if err != nil {
		return ""
	}
	requested = strings.TrimSpace(requested)
	if requested != "" && spec.ValidID(requested) && p.Find(s, requested) == nil {
		return requested
	}
	return p.NextID(s)
}

// Clone returns a deep copy.
func (p *Playbook) Clone() *Playbook {
	c := *p
	c.Sections = make(map[Section][]Item, len(p.Sections))
	for s, items := range p.Sections {
		c.Sections[s] = append([]Item{}, items...)
	}
	return &c
}

// Render lists up to limit items across sections as "[id] content" lines.
func (p *Playbook) Render(limit int) string {
	var b strings.Builder
	for i, it := range p.All() {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "\n[%s] %s\n", it.ID, it.Content)
	}
	return b.String()
}

// Timestamp is a time that also accepts the zone-less ISO-8601 form written
// by older playbook files.
type Timestamp time.Time

var legacyLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time returns the underlying time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("last_updated: %w", err)
	}
	if raw == "" {
		*t = Timestamp{}
		return nil
	}
	for _, layout := range legacyLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			*t = Timestamp(parsed)
			return nil
		}
	}
	return fmt.Errorf("last_updated: unrecognized timestamp %q", raw)
}

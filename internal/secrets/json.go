package secrets

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ScrubJSON marshals v and redacts every string value in the resulting
// document. Keys and numbers are kept. The output is always valid JSON,
// whatever spans the rules match. It returns the number of findings.
func ScrubJSON(s Scrubber, v any) ([]byte, int, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding value: %w", err)
	}
	if s == nil || !s.IsEnabled() {
		return raw, 0, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, 0, fmt.Errorf("decoding value: %w", err)
	}

	findings := 0
	tree = scrubTree(s, tree, &findings)

	out, err := json.Marshal(tree)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding scrubbed value: %w", err)
	}
	return out, findings, nil
}

func scrubTree(s Scrubber, v any, findings *int) any {
	switch t := v.(type) {
	case string:
		res := s.Scrub(t)
		*findings += len(res.Findings)
		return res.Scrubbed
	case map[string]any:
		for k, child := range t {
			t[k] = scrubTree(s, child, findings)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = scrubTree(s, child, findings)
		}
		return t
	default:
		return v
	}
}

package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparsable is returned when a reply holds no decodable JSON object.
var ErrUnparsable = errors.New("unparsable structured reply")

// errNotObject marks a body that is valid JSON but not an object.
var errNotObject = errors.New("reply is not a JSON object")

// DecodeJSON decodes a JSON object reply into T. Fenced replies (```json ... ```
// or bare ``` fences) are unwrapped first; if that still fails, the outermost
// {...} span is tried. Other JSON values such as null or arrays are rejected.
func DecodeJSON[T any](reply string) (T, error) {
	var out T

	body := strings.TrimSpace(Unfence(reply))
	if body == "" {
		return out, fmt.Errorf("%w: %w", ErrUnparsable, ErrEmptyReply)
	}

	err := errNotObject
	if strings.HasPrefix(body, "{") {
		if err = json.Unmarshal([]byte(body), &out); err == nil {
			return out, nil
		}
	}

	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		var retry T
		if json.Unmarshal([]byte(body[start:end+1]), &retry) == nil {
			return retry, nil
		}
	}
	return out, fmt.Errorf("%w: %w", ErrUnparsable, err)
}

// Unfence returns the contents of the first fenced code block in reply, or
// reply unchanged when it has no fence.
func Unfence(reply string) string {
	const fence = "```"

	start := strings.Index(reply, fence)
	if start < 0 {
		return reply
	}
	rest := reply[start+len(fence):]
	// Drop the info string (e.g. "json") up to the end of the fence line.
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
		rest = rest[nl+1:]
	} else {
		rest = strings.TrimPrefix(rest, "json")
	}
	if end := strings.Index(rest, fence); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

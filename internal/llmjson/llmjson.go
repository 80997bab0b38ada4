// Package llmjson extracts and decodes JSON objects embedded in model output.
package llmjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/titanous/json5"
)

// ErrNoJSON is returned when the text holds no JSON object.
var ErrNoJSON = errors.New("no JSON object found")

var fenceRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// Extract returns the JSON object in content. A ```json fenced block wins;
// otherwise the first balanced {...} is used.
func Extract(content string) string {
	if m := fenceRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return firstObject(content)
}

// firstObject finds the first balanced object, ignoring braces inside strings.
func firstObject(content string) string {
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// Decode extracts the object from content and unmarshals it into v.
// Strict JSON is tried first, then JSON5 to salvage trailing commas,
// single quotes and comments.
func Decode(content string, v interface{}) error {
	raw := Extract(content)
	if raw == "" {
		return ErrNoJSON
	}
	strictErr := json.Unmarshal([]byte(raw), v)
	if strictErr == nil {
		return nil
	}
	if err := json5.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("invalid JSON: %w", strictErr)
	}
	return nil
}

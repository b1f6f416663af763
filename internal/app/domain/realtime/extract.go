package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/FACorreiaa/outdoor-explorer/internal/app/models"
)

// tripKeys mark an object as trip data.
var tripKeys = []string{"journey", "itinerary", "trip", "markers"}

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractTripPayload finds trip data embedded in free text. It tries, in order: the whole
// text as JSON, a fenced code block, then any brace-delimited object carrying a known trip
// key. The returned bytes are valid JSON.
func ExtractTripPayload(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty payload", models.ErrProtocol)
	}

	if raw := []byte(trimmed); looksLikeTrip(raw) {
		return raw, nil
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(trimmed, -1) {
		block := []byte(strings.TrimSpace(m[1]))
		if looksLikeTrip(block) {
			return block, nil
		}
	}

	if raw, ok := scanForTripObject(trimmed); ok {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: no trip data found", models.ErrProtocol)
}

// scanForTripObject walks every '{' and, using brace counting that skips string literals,
// returns the first balanced object that is valid JSON and carries a trip key.
func scanForTripObject(s string) ([]byte, bool) {
	hasKey := false
	for _, k := range tripKeys {
		if strings.Contains(s, `"`+k+`"`) {
			hasKey = true
			break
		}
	}
	if !hasKey {
		return nil, false
	}

	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end := matchBrace(s, start); end > start {
			candidate := []byte(s[start : end+1])
			if looksLikeTrip(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return nil, false
}

func matchBrace(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return i
			}
		}
	}
	return -1
}

// looksLikeTrip accepts an object with a trip key, a {"data": ...} wrapper around one,
// or an array whose first element is one.
func looksLikeTrip(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return false
	}
	switch raw[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil || len(arr) == 0 {
			return false
		}
		return looksLikeTrip(arr[0])
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return false
		}
		for _, k := range tripKeys {
			if _, ok := obj[k]; ok {
				return true
			}
		}
		if data, ok := obj["data"]; ok {
			return looksLikeTrip(data)
		}
	}
	return false
}

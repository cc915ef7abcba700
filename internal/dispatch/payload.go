package dispatch

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Payload is a decoded push frame. Numbers are json.Number when the frame was
// decoded with UseNumber, float64 otherwise.
type Payload map[string]any

// Int64 reads key as an integer. Numeric strings are accepted.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ID reads key as an opaque identifier.
func (p Payload) ID(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		v = strings.TrimSpace(v)
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		if n, ok := p.Int64(key); ok {
			return strconv.FormatInt(n, 10), true
		}
		return "", false
	}
}

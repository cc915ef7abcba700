package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrEmpty is returned when decoding a Result that carries no response.
var ErrEmpty = errors.New("fetch: empty result")

// Result is a decoded JSON response body, or nothing. Callers treat an empty
// Result as "nothing to do".
type Result struct {
	body json.RawMessage
}

// NewResult wraps a JSON body. Blank, null, or invalid JSON yields an empty
// Result.
func NewResult(body []byte) Result { return resultOf(body) }

func resultOf(body []byte) Result {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) || !json.Valid(body) {
		return Result{}
	}
	return Result{body: body}
}

// Empty reports whether no usable response was obtained.
func (r Result) Empty() bool { return len(r.body) == 0 }

// Raw returns the JSON body.
func (r Result) Raw() json.RawMessage { return r.body }

// Decode unmarshals the body into v. Numbers are kept as json.Number when v
// is an interface or map.
func (r Result) Decode(v any) error {
	if r.Empty() {
		return ErrEmpty
	}
	dec := json.NewDecoder(bytes.NewReader(r.body))
	dec.UseNumber()
	return dec.Decode(v)
}

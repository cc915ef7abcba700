package join

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindJoined Kind = iota + 1
	KindSkipped
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindJoined:
		return "joined"
	case KindSkipped:
		return "skipped"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Outcome is the result of one step. Skipped covers expected "nothing to do"
// cases; Failed carries the unexpected cause.
type Outcome struct {
	Kind   Kind
	Reason string
	Err    error
}

func Joined() Outcome               { return Outcome{Kind: KindJoined} }
func Skipped(reason string) Outcome { return Outcome{Kind: KindSkipped, Reason: reason} }
func Failed(cause error) Outcome    { return Outcome{Kind: KindFailed, Err: cause} }
func (o Outcome) Is(k Kind) bool    { return o.Kind == k }
func (o Outcome) OK() bool          { return o.Kind == KindJoined }

func (o Outcome) String() string {
	switch o.Kind {
	case KindSkipped:
		return "skipped: " + o.Reason
	case KindFailed:
		if o.Err == nil {
			return "failed"
		}
		return "failed: " + o.Err.Error()
	default:
		return o.Kind.String()
	}
}

// ErrNoResponse means neither a proxied nor the direct call produced a
// usable answer.
var ErrNoResponse = errors.New("no usable response")

// APIError is a well-formed response carrying a non-zero code.
type APIError struct {
	Code    int64
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api code %d: %s", e.Code, e.Message)
}

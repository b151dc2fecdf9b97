package protocol

import (
	"github.com/google/uuid"
)

// NewCorrelationID returns a random UUIDv4 string. Correlation ids stay opaque on
// the wire; uniqueness is probabilistic and collisions are not detected.
func NewCorrelationID() string {
	return uuid.NewString()
}

// MatchScope reports whether an endpoint configured with scope accepts a message
// tagged incoming. Matching is plain equality: an unscoped endpoint is not a
// wildcard, it only sees unscoped traffic.
func MatchScope(scope, incoming string) bool {
	return scope == incoming
}

// Validate reports whether m is structurally usable. Inbound messages failing it are
// dropped without a reply.
func Validate(m *Message) bool {
	if m == nil {
		return false
	}
	switch m.Kind {
	case KindCall:
		return m.CorrelationID != "" && m.Method != ""
	case KindResponse:
		return m.CorrelationID != ""
	case KindEvent:
		return m.Event != ""
	default:
		return false
	}
}

// MethodList parses the payload of a capability update or of an enumerate-methods
// result. It accepts a single argument holding a []string or a []any of strings
// (what decoders produce), and rejects empty or mixed lists.
func MethodList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		if len(list) == 0 {
			return nil, false
		}
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		if len(list) == 0 {
			return nil, false
		}
		out := make([]string, 0, len(list))
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, name)
		}
		return out, true
	default:
		return nil, false
	}
}

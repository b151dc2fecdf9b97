// Package protocol defines the messages exchanged between a host and its guests,
// the error codes carried inside responses, and the small set of stateless helpers
// both endpoints share: correlation-id generation, the scope predicate, structural
// validation and the stream framing used by byte-oriented transports.
//
// A Message is the envelope for every exchange:
//
//	guest ──CALL(id, method, args)──────────→ host
//	guest ←─RESPONSE(id, result | errorCode)── host
//	guest ←─EVENT(name, args)───────────────── host (broadcast to every known peer)
package protocol

// Kind distinguishes the three message shapes.
type Kind string

const (
	KindCall     Kind = "call"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// EnumerateMethods is reserved: the host answers it as a method with its current
// method list, and broadcasts capability updates as an event under the same name.
const EnumerateMethods = "enumerate-methods"

// Message carries a single protocol exchange.
//
//   - CALL:     CorrelationID, Method and Args are set.
//   - RESPONSE: CorrelationID is set; ErrorCode is non-empty if the call failed, otherwise Result holds the value.
//   - EVENT:    Event and Args are set.
type Message struct {
	Kind          Kind   `json:"kind" cbor:"kind"`
	Scope         string `json:"scope,omitempty" cbor:"scope,omitempty"` // Empty means unscoped
	CorrelationID string `json:"id,omitempty" cbor:"id,omitempty"`       // Links a CALL to its RESPONSE
	Method        string `json:"method,omitempty" cbor:"method,omitempty"`
	Event         string `json:"event,omitempty" cbor:"event,omitempty"`
	Args          []any  `json:"args,omitempty" cbor:"args,omitempty"`
	Result        any    `json:"result" cbor:"result"`
	ErrorCode     string `json:"error,omitempty" cbor:"error,omitempty"`
}

// NewCall builds a CALL with a fresh correlation id.
func NewCall(scope, method string, args []any) *Message {
	return &Message{
		Kind:          KindCall,
		Scope:         scope,
		CorrelationID: NewCorrelationID(),
		Method:        method,
		Args:          args,
	}
}

// NewResult builds a successful RESPONSE to call.
func NewResult(call *Message, scope string, result any) *Message {
	return &Message{
		Kind:          KindResponse,
		Scope:         scope,
		CorrelationID: call.CorrelationID,
		Result:        result,
	}
}

// NewFailure builds a failed RESPONSE to call carrying only the error code.
func NewFailure(call *Message, scope, code string) *Message {
	return &Message{
		Kind:          KindResponse,
		Scope:         scope,
		CorrelationID: call.CorrelationID,
		ErrorCode:     code,
	}
}

// NewEvent builds an EVENT.
func NewEvent(scope, event string, args []any) *Message {
	return &Message{
		Kind:  KindEvent,
		Scope: scope,
		Event: event,
		Args:  args,
	}
}

// Failed reports whether a RESPONSE carries an error code.
func (m *Message) Failed() bool {
	return m.ErrorCode != ""
}

package protocol

// Error codes. NO_METHOD and CALL_METHOD_FAILED travel inside RESPONSE messages;
// TIME_OUT is raised locally by the guest and never transmitted.
const (
	CodeNoMethod         = "NO_METHOD"
	CodeCallMethodFailed = "CALL_METHOD_FAILED"
	CodeTimeout          = "TIME_OUT"
)

// Error is a protocol failure identified only by its code.
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return "portal: " + e.Code
}

// Is matches any *Error with the same code, so errors.Is(err, ErrNoMethod) works
// for errors built from a received code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNoMethod         = &Error{Code: CodeNoMethod}
	ErrCallMethodFailed = &Error{Code: CodeCallMethodFailed}
	ErrTimeout          = &Error{Code: CodeTimeout}
)

// ErrorFromCode returns the error for a received code.
func ErrorFromCode(code string) error {
	return &Error{Code: code}
}

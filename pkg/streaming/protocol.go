package streaming

import "fmt"

// ProtocolError reports a malformed or out-of-order streaming event sequence.
// It is fatal to the current turn and is never silently patched over.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Message
}

func ProtocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Message: fmt.Sprintf(format, args...)}
}

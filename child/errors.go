package child

import (
	"errors"
	"fmt"

	"github.com/guseggert/clusterclient/protocol"
)

// ErrTimeout is returned when no reply arrived within the request timeout.
var ErrTimeout = errors.New("timed out waiting for reply")

// ErrClientClosed is returned for requests still outstanding when the client is closed.
var ErrClientClosed = errors.New("client closed")

// RemoteExecutionError is an error that happened on the other side of the channel, rebuilt from its description.
type RemoteExecutionError struct {
	Name    string
	Message string
	Stack   string
}

func newRemoteExecutionError(pe *protocol.PlainError) *RemoteExecutionError {
	return &RemoteExecutionError{Name: pe.Name, Message: pe.Message, Stack: pe.Stack}
}

func (e *RemoteExecutionError) Error() string { return e.Message }

func (e *RemoteExecutionError) ErrorName() string { return e.Name }

func (e *RemoteExecutionError) StackTrace() string { return e.Stack }

// DispatchSendError is reported when the reply to a parent-issued operation could not be sent.
// It never reaches a caller; it goes to the application and the diagnostics channel.
type DispatchSendError struct {
	Op  string
	Err error
}

func (e *DispatchSendError) Error() string {
	return fmt.Sprintf("sending %s response to parent: %s", e.Op, e.Err)
}

func (e *DispatchSendError) Unwrap() error { return e.Err }

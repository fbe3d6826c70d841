package protocol

import (
	"errors"
	"fmt"
	"reflect"
)

// PlainError is the structured description of an error that crossed the process boundary.
type PlainError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// MakePlainError describes err so it can be sent to the other side.
// Name is the dynamic type of the innermost error in the chain that is not a wrapper.
func MakePlainError(err error) *PlainError {
	if err == nil {
		return nil
	}
	root := err
	for {
		next := errors.Unwrap(root)
		if next == nil {
			break
		}
		root = next
	}
	pe := &PlainError{
		Name:    errorName(root),
		Message: err.Error(),
	}
	if st, ok := err.(interface{ StackTrace() string }); ok {
		pe.Stack = st.StackTrace()
	}
	return pe
}

func errorName(err error) string {
	var named interface{ ErrorName() string }
	if errors.As(err, &named) {
		return named.ErrorName()
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return "Error"
	}
	return t.String()
}

func (e *PlainError) String() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

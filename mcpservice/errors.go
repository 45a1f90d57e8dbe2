package mcpservice

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned by CallTool for an unregistered tool name.
var ErrToolNotFound = errors.New("tool not found")

// InvalidParamsError reports tool arguments that could not be decoded into
// the tool's argument type. Field names the offending argument when known.
type InvalidParamsError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	prefix := "invalid params"
	if e.Tool != "" {
		prefix = "invalid arguments for tool " + e.Tool
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", prefix, e.Field, e.Reason)
	}
	return prefix + ": " + e.Reason
}

// PanicError wraps a value recovered from a panicking tool handler.
type PanicError struct {
	Tool  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.Tool, e.Value)
}

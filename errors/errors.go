package errors

import (
	"fmt"

	"github.com/Nirvanko/php-src/values"
)

// Level distinguishes engine errors that abort execution from errors the
// script can observe and recover from.
type Level int

const (
	// LevelFatal errors indicate a broken engine invariant. They terminate
	// the current execution and run no user code on the way out.
	LevelFatal Level = iota
	// LevelRecoverable errors surface to the caller as a catchable
	// condition; engine state is left untouched.
	LevelRecoverable
)

// Error is an engine-level error carrying its severity.
type Error struct {
	Level   Level
	Message string
}

// NewFatal creates a fatal engine error.
func NewFatal(format string, args ...interface{}) *Error {
	return &Error{Level: LevelFatal, Message: fmt.Sprintf(format, args...)}
}

// NewRecoverable creates a recoverable engine error.
func NewRecoverable(format string, args ...interface{}) *Error {
	return &Error{Level: LevelRecoverable, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	switch e.Level {
	case LevelFatal:
		return "Fatal error: " + e.Message
	case LevelRecoverable:
		return "Recoverable error: " + e.Message
	}
	return e.Message
}

// IsFatal reports whether err is a fatal engine error.
func IsFatal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Level == LevelFatal
}

// IsRecoverable reports whether err is a recoverable engine error.
func IsRecoverable(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Level == LevelRecoverable
}

// Thrown wraps a script-level exception value travelling through Go code.
// The wrapped value is owned by whoever currently holds the Thrown.
type Thrown struct {
	Value *values.Value
}

// Throw wraps an exception value.
func Throw(v *values.Value) *Thrown {
	return &Thrown{Value: v}
}

// ThrowMessage builds an exception object of the given class with a message
// property and wraps it.
func ThrowMessage(class, message string) *Thrown {
	if class == "" {
		class = "Exception"
	}
	obj := values.NewObject(class)
	obj.ObjectSet("message", values.NewString(message))
	return &Thrown{Value: obj}
}

func (t *Thrown) Error() string {
	if t.Value == nil {
		return "Uncaught exception"
	}
	if t.Value.IsObject() {
		msg := t.Value.ObjectGet("message")
		if msg != nil && !msg.IsNull() {
			return fmt.Sprintf("Uncaught %s: %s", t.Value.ObjectClassName(), msg.ToString())
		}
		return "Uncaught " + t.Value.ObjectClassName()
	}
	return "Uncaught exception: " + t.Value.ToString()
}

// AsThrown extracts a script exception from err if it carries one.
func AsThrown(err error) (*Thrown, bool) {
	t, ok := err.(*Thrown)
	return t, ok
}

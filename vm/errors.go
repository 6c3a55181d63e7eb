package vm

import "errors"

// Internal control-flow sentinels. They never escape the VM: runFrame
// translates them into suspension or frame exit.
var (
	errSuspended     = errors.New("vm: execution suspended")
	errFrameReturned = errors.New("vm: frame returned")
)

// Pre-defined VM error types for consistent error handling.
var (
	ErrConstantOutOfRange   = errors.New("constant index out of range")
	ErrInvalidOperandType   = errors.New("invalid operand type")
	ErrOperandNotWritable   = errors.New("operand type not writable")
	ErrOpcodeNotImplemented = errors.New("opcode not implemented")
	ErrFunctionNotFound     = errors.New("function not found")
	ErrMethodNotFound       = errors.New("method not found")
	ErrCallSlotOverflow     = errors.New("nested-call slot overflow")
	ErrNoActiveCall         = errors.New("no call in progress")
	ErrNilContext           = errors.New("nil execution context")
)

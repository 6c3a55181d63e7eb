package vm

import (
	"io"
	"os"

	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// ExecutionContext carries the host interpreter state associated with one
// logical execution. The resumer swaps the current frame and argument stack
// when entering a generator and restores them on the way out; everything
// else stays put.
type ExecutionContext struct {
	CurrentFrame *Frame
	Stack        *Stack

	GlobalVars    map[string]*values.Value
	UserFunctions map[string]*registry.Function
	UserClasses   map[string]*registry.Class

	Objects *ObjectStore

	OutputWriter io.Writer
}

// NewExecutionContext constructs a fresh execution context with sane
// defaults.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		Stack:         NewStack(),
		GlobalVars:    make(map[string]*values.Value),
		UserFunctions: make(map[string]*registry.Function),
		UserClasses:   make(map[string]*registry.Class),
		Objects:       NewObjectStore(),
		OutputWriter:  os.Stdout,
	}
}

// SetOutputWriter redirects the script output stream.
func (ctx *ExecutionContext) SetOutputWriter(w io.Writer) {
	if w != nil {
		ctx.OutputWriter = w
	}
}

// CallSlot is the record of an in-progress nested call: the resolved callee
// and, for method calls, the bound receiver. The receiver reference is owned
// by the slot while the call is being set up.
type CallSlot struct {
	Fn      *registry.Function
	Object  *values.Value
	NumArgs int
}

// Frame is one captured execution record: the instruction pointer, the bound
// function body and every piece of state the body mutates while running.
// A suspended generator owns exactly one of these.
type Frame struct {
	fn *registry.Function
	IP int

	// Locals are the compiled-variable slots. When the body requires a
	// symbol table, the table owns the values and Locals alias into it.
	Locals      []*values.Value
	SymbolTable map[string]*values.Value

	// Temps is the temporary-variable region.
	Temps []*values.Value

	CallSlots []CallSlot
	call      int // cursor into CallSlots; -1 when no call is in progress

	stack     *Stack
	frameBase int

	This        *values.Value
	Scope       string
	CalledScope string

	fastRet          int // deferred jump target after a finally; -1 when none
	pendingException *values.Value
	pendingThrow     *values.Value

	returnValue *values.Value

	// Prev is the synthetic previous frame. It keeps the original call
	// arguments reachable for reflection and makes the generator show up
	// one frame deep in backtraces while resumed.
	Prev *Frame
	args []*values.Value

	generator *Generator
}

func newFrame(fn *registry.Function, stack *Stack) *Frame {
	f := &Frame{
		fn:        fn,
		call:      -1,
		fastRet:   -1,
		stack:     stack,
		frameBase: stack.Top(),
	}
	if fn.NumLocals > 0 {
		f.Locals = make([]*values.Value, fn.NumLocals)
	}
	if fn.NeedsSymbolTable {
		f.SymbolTable = make(map[string]*values.Value)
	}
	if fn.NumTemps > 0 {
		f.Temps = make([]*values.Value, fn.NumTemps)
	}
	if fn.NumCallSlots > 0 {
		f.CallSlots = make([]CallSlot, fn.NumCallSlots)
	}
	return f
}

// Function returns the body this frame executes.
func (f *Frame) Function() *registry.Function {
	return f.fn
}

// local returns the compiled variable in the given slot, or nil when unset.
func (f *Frame) local(slot uint32) *values.Value {
	if int(slot) >= len(f.Locals) {
		return nil
	}
	return f.Locals[slot]
}

// setLocal stores an owned value into a compiled-variable slot, releasing
// any previous binding. With a symbol table the table owns the value and the
// flat slot aliases it.
func (f *Frame) setLocal(slot uint32, v *values.Value) {
	if f.SymbolTable != nil {
		name := f.fn.VarNames[slot]
		if old, ok := f.SymbolTable[name]; ok {
			old.Release()
		}
		f.SymbolTable[name] = v
		f.Locals[slot] = v
		return
	}
	if old := f.Locals[slot]; old != nil {
		old.Release()
	}
	f.Locals[slot] = v
}

// releaseLocals drops the frame's variable bindings: the flat slots when no
// symbol table was materialized, otherwise the table entries.
func (f *Frame) releaseLocals() {
	if f.SymbolTable == nil {
		for i, v := range f.Locals {
			if v != nil {
				v.Release()
				f.Locals[i] = nil
			}
		}
		return
	}
	for name, v := range f.SymbolTable {
		v.Release()
		delete(f.SymbolTable, name)
	}
	for i := range f.Locals {
		f.Locals[i] = nil
	}
}

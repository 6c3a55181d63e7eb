package registry

import (
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/values"
)

// BuiltinImplementation defines the function signature for builtin functions
// implemented in Go and callable from the VM.
type BuiltinImplementation func(ctx BuiltinCallContext, args []*values.Value) (*values.Value, error)

// BuiltinCallContext exposes the minimal VM services that builtin
// implementations need without creating a dependency cycle back to the vm
// package.
type BuiltinCallContext interface {
	// WriteOutput renders the provided value to the active output stream.
	WriteOutput(val *values.Value) error
	// SymbolRegistry returns the unified registry so builtins can inspect
	// other symbols (functions, classes, interfaces).
	SymbolRegistry() *Registry
	// LookupUserFunction returns a user-defined function registered inside
	// the active execution context, if available.
	LookupUserFunction(name string) (*Function, bool)
}

// Generator is the contract the Generator class bindings drive. It is
// implemented by the VM's generator objects; keeping the interface here
// breaks the import cycle between the runtime and vm packages the same way
// BuiltinCallContext does for builtins.
type Generator interface {
	Rewind() error
	Valid() (bool, error)
	Current() (*values.Value, error)
	Key() (*values.Value, error)
	Next() error
	Send(v *values.Value) (*values.Value, error)
	Throw(e *values.Value) (*values.Value, error)
	// Closed reports whether the generator has terminated or been torn down.
	Closed() bool
}

// TryCatchElement describes one compiled try region. Opcode indices are
// absolute positions in the function's instruction array; zero means the
// region has no handler of that kind.
type TryCatchElement struct {
	TryOp     int
	CatchOp   int
	FinallyOp int
}

// BrkContElement describes one compiled loop/switch region for break and
// continue resolution. Start < 0 marks an unused entry.
type BrkContElement struct {
	Start int
	Cont  int
	Brk   int
}

// Function describes a PHP function that can either be user-defined
// (bytecode) or builtin (Go implementation).
type Function struct {
	Name         string
	Parameters   []*Parameter
	Instructions []*opcodes.Instruction
	Constants    []*values.Value

	// Compiled-body layout
	NumLocals    int      // compiled variable slots
	NumTemps     int      // temporary region size
	NumCallSlots int      // nested-call slot count
	VarNames     []string // slot index -> declared variable name

	TryCatch []*TryCatchElement
	BrkCont  []*BrkContElement

	IsVariadic         bool
	IsGenerator        bool
	IsClosure          bool
	IsBuiltin          bool
	HasFinally         bool
	ReturnsByReference bool
	NeedsSymbolTable   bool

	// BoundVars carries the captured state of a closure body. A generator
	// created from a closure owns its own copy of these.
	BoundVars map[string]*values.Value

	Builtin BuiltinImplementation
	MinArgs int
	MaxArgs int
}

// Clone creates a shallow copy of the function metadata. Instructions and
// constants are re-used, mirroring the engine's copy-on-write semantics for
// op arrays. Bound closure variables get their own references.
func (f *Function) Clone() *Function {
	if f == nil {
		return nil
	}
	clone := *f
	if f.BoundVars != nil {
		clone.BoundVars = make(map[string]*values.Value, len(f.BoundVars))
		for name, v := range f.BoundVars {
			clone.BoundVars[name] = v.AddRef()
		}
	}
	return &clone
}

// ReleaseBoundVars drops the references a cloned closure body holds.
func (f *Function) ReleaseBoundVars() {
	for _, v := range f.BoundVars {
		v.Release()
	}
	f.BoundVars = nil
}

// Parameter captures metadata about a compiled parameter.
type Parameter struct {
	Name         string
	IsReference  bool
	HasDefault   bool
	DefaultValue *values.Value
}

// Class models a class definition used by the VM and the runtime bindings.
type Class struct {
	Name            string
	Parent          string
	IsFinal         bool
	IsAbstract      bool
	NotSerializable bool
	Interfaces      []string
	Methods         map[string]*Function
	Constants       map[string]*values.Value
}

// Method looks up a method by lowercased name.
func (c *Class) Method(name string) (*Function, bool) {
	m, ok := c.Methods[lower(name)]
	return m, ok
}

// Interface models an interface definition.
type Interface struct {
	Name    string
	Extends []string
	Methods map[string]*InterfaceMethod
}

// InterfaceMethod captures an interface method signature.
type InterfaceMethod struct {
	Name       string
	Parameters []*Parameter
	ReturnType string
}

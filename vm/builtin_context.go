package vm

import (
	"fmt"
	"strings"

	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// builtinCallContext adapts the VM to the registry's BuiltinCallContext so
// builtin implementations can run without importing this package.
type builtinCallContext struct {
	vm  *VirtualMachine
	ctx *ExecutionContext
}

func newBuiltinContext(vm *VirtualMachine, ctx *ExecutionContext) registry.BuiltinCallContext {
	return &builtinCallContext{vm: vm, ctx: ctx}
}

func (b *builtinCallContext) WriteOutput(val *values.Value) error {
	_, err := fmt.Fprint(b.ctx.OutputWriter, val.ToString())
	return err
}

func (b *builtinCallContext) SymbolRegistry() *registry.Registry {
	return registry.GlobalRegistry
}

func (b *builtinCallContext) LookupUserFunction(name string) (*registry.Function, bool) {
	fn, ok := b.ctx.UserFunctions[strings.ToLower(name)]
	return fn, ok
}

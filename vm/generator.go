package vm

import (
	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

type generatorFlags uint8

const (
	flagCurrentlyRunning generatorFlags = 1 << iota
	flagAtFirstYield
	flagForcedClose
)

// GeneratorClassName is the class generators are wrapped in.
const GeneratorClassName = "Generator"

const generatorProperty = "__generator"

// Generator is a suspendable execution record. Invoking a function whose
// body contains a yield opcode does not run it; it captures a detached
// frame on its own argument stack and wraps it in one of these. The
// iteration methods drive the body forward between yields.
//
// While suspended, every captured value (locals, temporaries, the yielded
// value and key, the receiver, pending call receivers and stacked
// arguments) is owned exclusively by the generator.
type Generator struct {
	vm  *VirtualMachine
	ctx *ExecutionContext

	frame *Frame
	stack *Stack

	value *values.Value
	key   *values.Value

	// largestUsedIntegerKey is bumped before each auto-key assignment, so
	// the first auto key is 0. User-supplied integer keys only ever raise
	// it.
	largestUsedIntegerKey int64

	// sendTarget is the temporary slot the next send() writes into, or -1
	// when no yield is awaiting a sent value. A clone keeps the same slot
	// in its own temporary region.
	sendTarget int

	flags generatorFlags

	// closureCopy is the generator's own copy of a closure body, destroyed
	// on close.
	closureCopy *registry.Function

	iterator GeneratorIterator

	object *values.Value
	handle uint32
}

// NewGenerator captures a fresh suspended execution context for fn and
// returns the Generator object wrapping it. The host's visible interpreter
// state is untouched afterwards.
func (vm *VirtualMachine) NewGenerator(ctx *ExecutionContext, fn *registry.Function, args []*values.Value, this *values.Value, scope, calledScope string) (*values.Value, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if fn == nil || !fn.IsGenerator {
		return nil, phperrors.NewFatal("function %q is not a generator", fnName(fn))
	}

	g := &Generator{
		vm:                    vm,
		ctx:                   ctx,
		largestUsedIntegerKey: -1,
		sendTarget:            -1,
	}

	// A closure body may be destroyed while the generator still needs it,
	// so the generator runs its own copy.
	if fn.IsClosure {
		fn = fn.Clone()
		g.closureCopy = fn
	}

	// Back up the host globals the frame construction swaps, build the
	// context on a fresh argument stack, then restore them bit-for-bit.
	origFrame := ctx.CurrentFrame
	origStack := ctx.Stack
	stack := NewStack()
	ctx.Stack = stack
	frame := newFrame(fn, stack)
	ctx.Stack = origStack
	ctx.CurrentFrame = origFrame

	frame.Scope = scope
	frame.CalledScope = calledScope
	if this != nil {
		frame.This = this.AddRef()
	}
	bindArguments(frame, fn, args)

	// The synthetic previous frame holds the original arguments so that
	// argument reflection keeps working across suspensions.
	prev := &Frame{fn: fn, call: -1, fastRet: -1}
	prev.args = make([]*values.Value, len(args))
	for i, a := range args {
		prev.args[i] = a.AddRef()
	}
	frame.Prev = prev

	frame.generator = g
	g.frame = frame
	g.stack = stack

	obj := values.NewObject(GeneratorClassName)
	obj.ObjectSet(generatorProperty, values.NewResource(g))
	g.handle = ctx.Objects.Put(g, generatorDestroy, generatorCloneStorage)
	obj.Data.(*values.Object).Handle = g.handle
	g.object = obj
	return obj, nil
}

func fnName(fn *registry.Function) string {
	if fn == nil {
		return ""
	}
	return fn.Name
}

// FromObject extracts the generator behind a Generator object value.
func FromObject(v *values.Value) *Generator {
	if v == nil || !v.IsObject() {
		return nil
	}
	res := v.ObjectGet(generatorProperty)
	if res == nil || !res.IsResource() {
		return nil
	}
	g, _ := res.Data.(*Generator)
	return g
}

// generatorDestroy is the object-store destroy callback: teardown runs the
// closer on the abandoned path, then frees the object's property storage
// (the store owns it, not the value wrapper).
func generatorDestroy(obj interface{}) {
	g, ok := obj.(*Generator)
	if !ok {
		return
	}
	g.close(false)
	if g.object != nil && g.object.IsObject() {
		storage := g.object.Data.(*values.Object)
		for name, v := range storage.Properties {
			v.Release()
			delete(storage.Properties, name)
		}
		g.object = nil
	}
}

// generatorCloneStorage is the object-store clone callback.
func generatorCloneStorage(obj interface{}) interface{} {
	return obj.(*Generator).cloneGenerator()
}

// resume advances a non-closed, non-running generator until the body next
// suspends, returns or throws. A returned error is either a fatal engine
// error or the body's uncaught exception, re-raised for the caller's
// context.
func (g *Generator) resume() error {
	// The generator is already closed: nothing to advance.
	if g.frame == nil {
		return nil
	}
	if g.flags&flagCurrentlyRunning != 0 {
		return phperrors.NewFatal("Cannot resume an already running generator")
	}

	g.flags &^= flagAtFirstYield

	// Back up executor globals.
	origFrame := g.ctx.CurrentFrame
	origStack := g.ctx.Stack

	// Install the generator context. The frame's typed generator field is
	// how the yield opcode finds where to write the value, key and send
	// target.
	g.ctx.CurrentFrame = g.frame
	g.ctx.Stack = g.stack

	// Splice the synthetic frame so the generator body appears one frame
	// deep in backtraces, called from whatever operation resumed it.
	g.frame.Prev.Prev = origFrame

	g.flags |= flagCurrentlyRunning
	err := g.vm.runFrame(g.ctx, g.frame)
	g.flags &^= flagCurrentlyRunning

	if g.frame != nil {
		g.frame.Prev.Prev = nil
	}

	// Restore executor globals.
	g.ctx.CurrentFrame = origFrame
	g.ctx.Stack = origStack

	return err
}

// ensureInitialized primes a fresh generator: the body runs to its first
// yield so value and key are observable.
func (g *Generator) ensureInitialized() error {
	if g.frame != nil && g.value == nil {
		if err := g.resume(); err != nil {
			return err
		}
		g.flags |= flagAtFirstYield
	}
	return nil
}

// close releases the generator's captured context. On the abandoned path
// (finishedExecution false) it first re-enters the body to run a pending
// finally block, then compensates for every release opcode that never ran.
// Calling close on an already-closed generator is a no-op.
func (g *Generator) close(finishedExecution bool) {
	if g.value != nil {
		g.value.Release()
		g.value = nil
	}
	if g.key != nil {
		g.key.Release()
		g.key = nil
	}

	if g.frame == nil {
		return
	}
	frame := g.frame
	fn := frame.fn

	if !finishedExecution && fn.HasFinally {
		// -1 because the interesting position is the last run opcode, not
		// the next to-be-run one.
		opNum := frame.IP - 1
		finallyOp := 0
		for _, tc := range fn.TryCatch {
			if opNum < tc.TryOp {
				break
			}
			if tc.FinallyOp > 0 && opNum < tc.FinallyOp {
				finallyOp = tc.FinallyOp
			}
		}
		// Jump straight into the finally block and resume. The body will
		// re-enter this closer when it finally exits, so this call aborts.
		if finallyOp > 0 {
			frame.IP = finallyOp
			frame.fastRet = -1
			g.flags |= flagForcedClose
			g.resume()
			return
		}
	}

	frame.releaseLocals()

	if frame.This != nil {
		frame.This.Release()
		frame.This = nil
	}

	// If the body stopped mid-execution the FREE / SWITCH_FREE opcodes of
	// enclosing loops never ran; release those temporaries here.
	if !finishedExecution {
		g.vm.releaseLoopTemporaries(frame, frame.IP-1)
	}

	// Clear backed-up stack arguments of calls that were still being set
	// up at suspension.
	if g.stack != g.ctx.Stack {
		for g.stack.Top() > frame.frameBase {
			if v := g.stack.Pop(); v != nil {
				v.Release()
			}
		}
	}

	// Receivers of in-progress nested calls.
	for i := frame.call; i >= 0; i-- {
		if obj := frame.CallSlots[i].Object; obj != nil {
			obj.Release()
		}
		frame.CallSlots[i] = CallSlot{}
	}
	frame.call = -1

	// The synthetic previous frame still holds the original arguments.
	if frame.Prev != nil {
		for _, a := range frame.Prev.args {
			a.Release()
		}
		frame.Prev.args = nil
		frame.Prev = nil
	}

	if frame.pendingException != nil {
		frame.pendingException.Release()
		frame.pendingException = nil
	}
	if frame.pendingThrow != nil {
		frame.pendingThrow.Release()
		frame.pendingThrow = nil
	}

	// Destroy the generator's private copy of a closure body.
	if g.closureCopy != nil {
		g.closureCopy.ReleaseBoundVars()
		g.closureCopy = nil
	}

	// Free the stack region; if it is the host's current stack the
	// generator is closing from inside its own run (its body ended or
	// unwound), so null the host pointer; the resumer restores the caller's
	// stack afterwards.
	if g.stack == g.ctx.Stack {
		g.ctx.Stack = nil
	}
	g.stack = nil
	g.frame = nil
}

// cloneGenerator produces an independent generator suspended at the same
// position.
func (g *Generator) cloneGenerator() *Generator {
	clone := &Generator{
		vm:                    g.vm,
		ctx:                   g.ctx,
		largestUsedIntegerKey: g.largestUsedIntegerKey,
		sendTarget:            g.sendTarget,
		flags:                 g.flags,
	}

	if g.frame != nil {
		fn := g.frame.fn
		if g.closureCopy != nil {
			fn = g.closureCopy.Clone()
			clone.closureCopy = fn
		}

		// Create the new execution context the same way the capture does,
		// backing up and restoring the host globals around it.
		origFrame := g.ctx.CurrentFrame
		origStack := g.ctx.Stack
		stack := NewStack()
		g.ctx.Stack = stack
		frame := newFrame(fn, stack)
		g.ctx.Stack = origStack
		g.ctx.CurrentFrame = origFrame

		frame.generator = clone
		frame.IP = g.frame.IP
		frame.Scope = g.frame.Scope
		frame.CalledScope = g.frame.CalledScope
		frame.fastRet = g.frame.fastRet

		// Local variables: without a symbol table each compiled slot gets
		// its own reference; with one, copy the table and rebind the slots
		// into it by declared name.
		if g.frame.SymbolTable == nil {
			for i, v := range g.frame.Locals {
				if v != nil {
					frame.Locals[i] = v.AddRef()
				}
			}
		} else {
			for name, v := range g.frame.SymbolTable {
				frame.SymbolTable[name] = v.AddRef()
			}
			for i, name := range fn.VarNames {
				if i >= len(frame.Locals) {
					break
				}
				if v, ok := frame.SymbolTable[name]; ok {
					frame.Locals[i] = v
				}
			}
		}

		// Nested-call slots: translate the cursor and take a reference on
		// every bound receiver along the live portion.
		copy(frame.CallSlots, g.frame.CallSlots)
		frame.call = g.frame.call
		for i := frame.call; i >= 0; i-- {
			if obj := frame.CallSlots[i].Object; obj != nil {
				obj.AddRef()
			}
		}

		// Temporary region.
		copy(frame.Temps, g.frame.Temps)

		// Arguments backed up on the stack.
		frame.frameBase = g.frame.frameBase
		for i := g.frame.frameBase; i < g.stack.Top(); i++ {
			stack.Push(g.stack.At(i).AddRef())
		}

		// Loop temporaries of every active region get an extra reference
		// so the closer's release is balanced on both generators.
		opNum := frame.IP
		for _, bc := range fn.BrkCont {
			if bc.Start < 0 {
				continue
			}
			if bc.Start > opNum {
				break
			}
			if bc.Brk <= opNum || bc.Brk >= len(fn.Instructions) {
				continue
			}
			brk := fn.Instructions[bc.Brk]
			switch brk.Opcode {
			case opcodes.OP_SWITCH_FREE, opcodes.OP_FREE:
				if v := frame.Temps[brk.Op1]; v != nil {
					v.AddRef()
				}
			}
		}

		// Rebase the send target to the same slot in the clone's
		// temporary region, with its own copy of the slot's value.
		if st := clone.sendTarget; st >= 0 && st < len(frame.Temps) {
			if v := frame.Temps[st]; v != nil {
				frame.Temps[st] = v.Copy()
			}
		}

		if g.frame.This != nil {
			frame.This = g.frame.This.AddRef()
		}

		// The clone's synthetic previous frame holds its own references on
		// the original arguments.
		prev := &Frame{fn: fn, call: -1, fastRet: -1}
		if g.frame.Prev != nil {
			prev.args = make([]*values.Value, len(g.frame.Prev.args))
			for i, a := range g.frame.Prev.args {
				prev.args[i] = a.AddRef()
			}
		}
		frame.Prev = prev

		clone.frame = frame
		clone.stack = stack
	}

	// The value and key are known not to be references, so simply add
	// references.
	if g.value != nil {
		clone.value = g.value.AddRef()
	}
	if g.key != nil {
		clone.key = g.key.AddRef()
	}
	return clone
}

// CloneObject clones a Generator object value through the object store and
// wraps the copy in a fresh object.
func (vm *VirtualMachine) CloneObject(ctx *ExecutionContext, objVal *values.Value) (*values.Value, error) {
	g := FromObject(objVal)
	if g == nil {
		return nil, phperrors.NewFatal("clone of a non-generator object")
	}
	cloned, handle, err := ctx.Objects.Clone(g.handle)
	if err != nil {
		return nil, err
	}
	ng := cloned.(*Generator)
	obj := values.NewObject(GeneratorClassName)
	obj.ObjectSet(generatorProperty, values.NewResource(ng))
	obj.Data.(*values.Object).Handle = handle
	ng.handle = handle
	ng.object = obj
	return obj, nil
}

// ReleaseObject drops the caller's reference on a Generator object value,
// running the destroy callback when it was the last one.
func (vm *VirtualMachine) ReleaseObject(ctx *ExecutionContext, objVal *values.Value) {
	if objVal == nil || !objVal.IsObject() {
		return
	}
	handle := objVal.Data.(*values.Object).Handle
	objVal.Release()
	ctx.Objects.Release(handle)
}

// Iterator façade. Each operation first primes the generator, per the
// iteration protocol.

// Rewind primes the generator and fails if it already advanced past its
// first yield.
func (g *Generator) Rewind() error {
	if err := g.ensureInitialized(); err != nil {
		return err
	}
	if g.flags&flagAtFirstYield == 0 {
		return phperrors.ThrowMessage("Exception", "Cannot rewind a generator that was already run")
	}
	return nil
}

// Valid reports whether the generator currently has a yielded value.
func (g *Generator) Valid() (bool, error) {
	if err := g.ensureInitialized(); err != nil {
		return false, err
	}
	return g.value != nil, nil
}

// Current returns a copy of the current yielded value, or null once closed.
func (g *Generator) Current() (*values.Value, error) {
	if err := g.ensureInitialized(); err != nil {
		return nil, err
	}
	if g.value == nil {
		return values.NewNull(), nil
	}
	return g.value.Copy(), nil
}

// Key returns a copy of the current yielded key, or null once closed.
func (g *Generator) Key() (*values.Value, error) {
	if err := g.ensureInitialized(); err != nil {
		return nil, err
	}
	if g.key == nil {
		return values.NewNull(), nil
	}
	return g.key.Copy(), nil
}

// Next advances the generator to its next yield.
func (g *Generator) Next() error {
	if err := g.ensureInitialized(); err != nil {
		return err
	}
	return g.resume()
}

// Send writes v into the temporary slot the pending yield designated, then
// advances. On a closed generator it returns null without running anything.
func (g *Generator) Send(v *values.Value) (*values.Value, error) {
	if err := g.ensureInitialized(); err != nil {
		return nil, err
	}
	if g.frame == nil {
		return values.NewNull(), nil
	}
	if g.sendTarget >= 0 && g.sendTarget < len(g.frame.Temps) {
		if old := g.frame.Temps[g.sendTarget]; old != nil {
			old.Release()
		}
		g.frame.Temps[g.sendTarget] = v.Copy()
	}
	if err := g.resume(); err != nil {
		return nil, err
	}
	if g.value == nil {
		return values.NewNull(), nil
	}
	return g.value.Copy(), nil
}

// Throw raises e inside the generator's context and advances. On a closed
// generator the exception is raised in the caller's context instead.
func (g *Generator) Throw(e *values.Value) (*values.Value, error) {
	if err := g.ensureInitialized(); err != nil {
		return nil, err
	}
	exc := e.Copy()
	if g.frame == nil {
		return nil, phperrors.Throw(exc)
	}
	g.frame.pendingThrow = exc
	if err := g.resume(); err != nil {
		return nil, err
	}
	if g.value == nil {
		return values.NewNull(), nil
	}
	return g.value.Copy(), nil
}

// Closed reports whether the generator has terminated or been torn down.
func (g *Generator) Closed() bool {
	return g.frame == nil
}

var _ registry.Generator = (*Generator)(nil)

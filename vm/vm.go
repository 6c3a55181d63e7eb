package vm

import (
	"fmt"
	"strings"

	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// VirtualMachine is the bytecode interpreter that executes compiled
// instructions. It is single-threaded per execution context: a body
// suspends only at yield opcodes, never preemptively.
type VirtualMachine struct {
	DebugMode bool
}

// NewVirtualMachine constructs a VM.
func NewVirtualMachine() *VirtualMachine {
	return &VirtualMachine{}
}

// Call invokes a function. Builtin bodies run in Go; generator bodies are
// not run at all: invoking one captures a detached execution context and
// returns the wrapping Generator object. Plain bytecode bodies run to
// completion on the host stack and return their value.
func (vm *VirtualMachine) Call(ctx *ExecutionContext, fn *registry.Function, args []*values.Value, this *values.Value) (*values.Value, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if fn == nil {
		return nil, ErrFunctionNotFound
	}
	if fn.IsBuiltin {
		result, err := fn.Builtin(newBuiltinContext(vm, ctx), args)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = values.NewNull()
		}
		return result, nil
	}
	if fn.IsGenerator {
		return vm.NewGenerator(ctx, fn, args, this, "", "")
	}

	frame := newFrame(fn, ctx.Stack)
	if this != nil {
		frame.This = this.AddRef()
	}
	bindArguments(frame, fn, args)

	origFrame := ctx.CurrentFrame
	ctx.CurrentFrame = frame
	err := vm.runFrame(ctx, frame)
	ctx.CurrentFrame = origFrame

	rv := frame.returnValue
	frame.returnValue = nil
	vm.releaseFrameResources(frame)
	if err != nil {
		if rv != nil {
			rv.Release()
		}
		return nil, err
	}
	if rv == nil {
		rv = values.NewNull()
	}
	return rv, nil
}

// CallNamed resolves a function by name in the context's user table, then
// the global registry, and invokes it.
func (vm *VirtualMachine) CallNamed(ctx *ExecutionContext, name string, args []*values.Value) (*values.Value, error) {
	fn, ok := vm.resolveFunction(ctx, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	return vm.Call(ctx, fn, args, nil)
}

func (vm *VirtualMachine) resolveFunction(ctx *ExecutionContext, name string) (*registry.Function, bool) {
	if fn, ok := ctx.UserFunctions[strings.ToLower(name)]; ok {
		return fn, true
	}
	return registry.GlobalRegistry.GetFunction(name)
}

func bindArguments(frame *Frame, fn *registry.Function, args []*values.Value) {
	for i, param := range fn.Parameters {
		if i >= len(frame.Locals) {
			break
		}
		if i < len(args) && args[i] != nil {
			frame.setLocal(uint32(i), args[i].AddRef())
		} else if param.HasDefault && param.DefaultValue != nil {
			frame.setLocal(uint32(i), param.DefaultValue.Copy())
		}
	}
}

// releaseFrameResources drops everything a synchronously completed frame
// still owns. Generator frames go through the generator closer instead.
func (vm *VirtualMachine) releaseFrameResources(frame *Frame) {
	frame.releaseLocals()
	for i, t := range frame.Temps {
		if t != nil {
			t.Release()
			frame.Temps[i] = nil
		}
	}
	for i := frame.call; i >= 0; i-- {
		if obj := frame.CallSlots[i].Object; obj != nil {
			obj.Release()
		}
		frame.CallSlots[i] = CallSlot{}
	}
	frame.call = -1
	for frame.stack.Top() > frame.frameBase {
		if v := frame.stack.Pop(); v != nil {
			v.Release()
		}
	}
	if frame.This != nil {
		frame.This.Release()
		frame.This = nil
	}
	if frame.pendingException != nil {
		frame.pendingException.Release()
		frame.pendingException = nil
	}
}

// runFrame executes the frame until it suspends at a yield, returns, or
// throws out. A nil return means the frame either suspended or completed;
// a *errors.Thrown return is an exception to re-raise in the caller.
func (vm *VirtualMachine) runFrame(ctx *ExecutionContext, frame *Frame) error {
	for {
		if exc := frame.pendingThrow; exc != nil {
			frame.pendingThrow = nil
			if err := vm.raiseException(ctx, frame, exc); err != nil {
				return vm.leaveFrame(frame, err)
			}
			continue
		}

		if frame.IP < 0 || frame.IP >= len(frame.fn.Instructions) {
			return vm.leaveFrame(frame, nil)
		}
		inst := frame.fn.Instructions[frame.IP]

		advance, err := vm.executeInstruction(ctx, frame, inst)
		if err != nil {
			switch {
			case err == errSuspended:
				return nil
			case err == errFrameReturned:
				return vm.leaveFrame(frame, nil)
			default:
				if thrown, ok := phperrors.AsThrown(err); ok {
					if herr := vm.raiseException(ctx, frame, thrown.Value); herr != nil {
						return vm.leaveFrame(frame, herr)
					}
					continue
				}
				return vm.decorateError(frame, inst, err)
			}
		}
		if advance {
			frame.IP++
		}
	}
}

// leaveFrame finishes a frame that ran to its end (or unwound out of it).
// Generator frames transition to closed; the pending error, if any, is
// handed back for the caller's context.
func (vm *VirtualMachine) leaveFrame(frame *Frame, thrownErr error) error {
	if g := frame.generator; g != nil {
		g.close(true)
		return thrownErr
	}
	if frame.returnValue == nil {
		frame.returnValue = values.NewNull()
	}
	return thrownErr
}

// raiseException routes an exception to the innermost matching handler in
// the frame's try/catch table. Ownership of exc transfers here: either into
// the frame's pending-exception slot, or back out wrapped in the returned
// error when no handler covers the faulting opcode.
func (vm *VirtualMachine) raiseException(ctx *ExecutionContext, frame *Frame, exc *values.Value) error {
	opNum := frame.IP
	target := 0
	for _, tc := range frame.fn.TryCatch {
		if opNum < tc.TryOp {
			break
		}
		if tc.CatchOp > 0 && opNum < tc.CatchOp {
			target = tc.CatchOp
		} else if tc.FinallyOp > 0 && opNum < tc.FinallyOp {
			target = tc.FinallyOp
		}
	}
	if target == 0 {
		// Unwinding out of the frame: the release opcodes of any loop the
		// faulting opcode sits in will never run, so compensate here.
		vm.releaseLoopTemporaries(frame, opNum)
		return phperrors.Throw(exc)
	}
	if frame.pendingException != nil {
		frame.pendingException.Release()
	}
	frame.pendingException = exc
	frame.IP = target
	return nil
}

// releaseLoopTemporaries releases the temporaries of every loop region
// covering opNum by inspecting the opcode each region's break would branch
// to, compensating for FREE/SWITCH_FREE opcodes that never executed.
func (vm *VirtualMachine) releaseLoopTemporaries(frame *Frame, opNum int) {
	for _, bc := range frame.fn.BrkCont {
		if bc.Start < 0 {
			continue
		}
		if bc.Start > opNum {
			break
		}
		if bc.Brk <= opNum || bc.Brk >= len(frame.fn.Instructions) {
			continue
		}
		brk := frame.fn.Instructions[bc.Brk]
		switch brk.Opcode {
		case opcodes.OP_SWITCH_FREE, opcodes.OP_FREE:
			slot := brk.Op1
			if int(slot) < len(frame.Temps) && frame.Temps[slot] != nil {
				frame.Temps[slot].Release()
				frame.Temps[slot] = nil
			}
		}
	}
}

func (vm *VirtualMachine) decorateError(frame *Frame, inst *opcodes.Instruction, err error) error {
	if phperrors.IsFatal(err) || phperrors.IsRecoverable(err) {
		return err
	}
	return fmt.Errorf("vm error at ip=%d opcode=%s: %w", frame.IP, inst.Opcode, err)
}

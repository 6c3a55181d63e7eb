package vm

import (
	"fmt"

	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// executeInstruction dispatches one instruction. Handlers return whether
// the instruction pointer should advance; control-flow handlers adjust it
// themselves.
func (vm *VirtualMachine) executeInstruction(ctx *ExecutionContext, frame *Frame, inst *opcodes.Instruction) (bool, error) {
	switch inst.Opcode {
	case opcodes.OP_NOP:
		return true, nil
	case opcodes.OP_ADD, opcodes.OP_SUB, opcodes.OP_MUL, opcodes.OP_DIV, opcodes.OP_MOD:
		return vm.execArithmetic(frame, inst)
	case opcodes.OP_CONCAT:
		return vm.execConcat(frame, inst)
	case opcodes.OP_IS_EQUAL, opcodes.OP_IS_NOT_EQUAL, opcodes.OP_IS_IDENTICAL,
		opcodes.OP_IS_SMALLER, opcodes.OP_IS_SMALLER_OR_EQUAL:
		return vm.execComparison(frame, inst)
	case opcodes.OP_JMP:
		frame.IP = int(inst.Op1)
		return false, nil
	case opcodes.OP_JMPZ:
		return vm.execCondJump(frame, inst, false)
	case opcodes.OP_JMPNZ:
		return vm.execCondJump(frame, inst, true)
	case opcodes.OP_ASSIGN:
		return vm.execAssign(frame, inst)
	case opcodes.OP_QM_ASSIGN:
		return vm.execQmAssign(frame, inst)
	case opcodes.OP_ECHO:
		return vm.execEcho(ctx, frame, inst)
	case opcodes.OP_FREE, opcodes.OP_SWITCH_FREE:
		return vm.execFree(frame, inst)
	case opcodes.OP_INIT_FCALL:
		return vm.execInitFCall(ctx, frame, inst)
	case opcodes.OP_INIT_METHOD_CALL:
		return vm.execInitMethodCall(frame, inst)
	case opcodes.OP_SEND_VAL:
		return vm.execSendVal(frame, inst)
	case opcodes.OP_DO_FCALL:
		return vm.execDoFCall(ctx, frame, inst)
	case opcodes.OP_RETURN:
		return vm.execReturn(frame, inst)
	case opcodes.OP_THROW:
		return vm.execThrow(frame, inst)
	case opcodes.OP_CATCH:
		return vm.execCatch(frame, inst)
	case opcodes.OP_FAST_CALL:
		frame.fastRet = frame.IP + 1
		frame.IP = int(inst.Op1)
		return false, nil
	case opcodes.OP_FAST_RET:
		return vm.execFastRet(ctx, frame)
	case opcodes.OP_YIELD:
		return vm.execYield(frame, inst)
	case opcodes.OP_GENERATOR_RETURN:
		return false, errFrameReturned
	}
	return false, fmt.Errorf("%w: %s", ErrOpcodeNotImplemented, inst.Opcode)
}

func (vm *VirtualMachine) execArithmetic(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	a, err := vm.readOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	b, err := vm.readOperand(frame, op2Type, inst.Op2)
	if err != nil {
		return false, err
	}

	var result *values.Value
	bothInt := a.IsInt() && b.IsInt()
	switch inst.Opcode {
	case opcodes.OP_ADD:
		if bothInt {
			result = values.NewInt(a.ToInt() + b.ToInt())
		} else {
			result = values.NewFloat(a.ToFloat() + b.ToFloat())
		}
	case opcodes.OP_SUB:
		if bothInt {
			result = values.NewInt(a.ToInt() - b.ToInt())
		} else {
			result = values.NewFloat(a.ToFloat() - b.ToFloat())
		}
	case opcodes.OP_MUL:
		if bothInt {
			result = values.NewInt(a.ToInt() * b.ToInt())
		} else {
			result = values.NewFloat(a.ToFloat() * b.ToFloat())
		}
	case opcodes.OP_DIV:
		if b.ToFloat() == 0 {
			result = values.NewBool(false)
		} else if bothInt && a.ToInt()%b.ToInt() == 0 {
			result = values.NewInt(a.ToInt() / b.ToInt())
		} else {
			result = values.NewFloat(a.ToFloat() / b.ToFloat())
		}
	case opcodes.OP_MOD:
		if b.ToInt() == 0 {
			result = values.NewBool(false)
		} else {
			result = values.NewInt(a.ToInt() % b.ToInt())
		}
	}
	vm.freeOperand(frame, op1Type, inst.Op1)
	vm.freeOperand(frame, op2Type, inst.Op2)
	return true, vm.writeOperand(frame, opcodes.DecodeResultType(inst.OpType2), inst.Result, result)
}

func (vm *VirtualMachine) execConcat(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	a, err := vm.readOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	b, err := vm.readOperand(frame, op2Type, inst.Op2)
	if err != nil {
		return false, err
	}
	result := values.NewString(a.ToString() + b.ToString())
	vm.freeOperand(frame, op1Type, inst.Op1)
	vm.freeOperand(frame, op2Type, inst.Op2)
	return true, vm.writeOperand(frame, opcodes.DecodeResultType(inst.OpType2), inst.Result, result)
}

func (vm *VirtualMachine) execComparison(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	a, err := vm.readOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	b, err := vm.readOperand(frame, op2Type, inst.Op2)
	if err != nil {
		return false, err
	}

	var truth bool
	switch inst.Opcode {
	case opcodes.OP_IS_EQUAL:
		truth = a.Equal(b)
	case opcodes.OP_IS_NOT_EQUAL:
		truth = !a.Equal(b)
	case opcodes.OP_IS_IDENTICAL:
		truth = a != nil && b != nil && a.Type == b.Type && a.Equal(b)
	case opcodes.OP_IS_SMALLER:
		truth = a.Compare(b) < 0
	case opcodes.OP_IS_SMALLER_OR_EQUAL:
		truth = a.Compare(b) <= 0
	}
	vm.freeOperand(frame, op1Type, inst.Op1)
	vm.freeOperand(frame, op2Type, inst.Op2)
	return true, vm.writeOperand(frame, opcodes.DecodeResultType(inst.OpType2), inst.Result, values.NewBool(truth))
}

func (vm *VirtualMachine) execCondJump(frame *Frame, inst *opcodes.Instruction, jumpIfTrue bool) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	cond, err := vm.readOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	truth := cond.ToBool()
	vm.freeOperand(frame, op1Type, inst.Op1)
	if truth == jumpIfTrue {
		frame.IP = int(inst.Op2)
		return false, nil
	}
	return true, nil
}

func (vm *VirtualMachine) execAssign(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	v, err := vm.takeOperand(frame, op2Type, inst.Op2)
	if err != nil {
		return false, err
	}
	if int(inst.Op1) >= len(frame.Locals) {
		v.Release()
		return false, fmt.Errorf("%w: variable %d", ErrConstantOutOfRange, inst.Op1)
	}
	frame.setLocal(inst.Op1, v)
	return true, nil
}

func (vm *VirtualMachine) execQmAssign(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	v, err := vm.takeOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	return true, vm.writeOperand(frame, opcodes.DecodeResultType(inst.OpType2), inst.Result, v)
}

func (vm *VirtualMachine) execEcho(ctx *ExecutionContext, frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	v, err := vm.readOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	if _, err := fmt.Fprint(ctx.OutputWriter, v.ToString()); err != nil {
		return false, err
	}
	vm.freeOperand(frame, op1Type, inst.Op1)
	return true, nil
}

func (vm *VirtualMachine) execFree(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	slot := inst.Op1
	if int(slot) < len(frame.Temps) && frame.Temps[slot] != nil {
		frame.Temps[slot].Release()
		frame.Temps[slot] = nil
	}
	return true, nil
}

func (vm *VirtualMachine) execInitFCall(ctx *ExecutionContext, frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	nameVal, err := vm.readOperand(frame, op2Type, inst.Op2)
	if err != nil {
		return false, err
	}
	name := nameVal.ToString()
	fn, ok := vm.resolveFunction(ctx, name)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}
	if frame.call+1 >= len(frame.CallSlots) {
		return false, ErrCallSlotOverflow
	}
	frame.call++
	frame.CallSlots[frame.call] = CallSlot{Fn: fn}
	return true, nil
}

func (vm *VirtualMachine) execInitMethodCall(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	obj, err := vm.takeOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	nameVal, err := vm.readOperand(frame, op2Type, inst.Op2)
	if err != nil {
		obj.Release()
		return false, err
	}
	name := nameVal.ToString()

	var fn *registry.Function
	if class, ok := registry.GlobalRegistry.GetClass(obj.ObjectClassName()); ok {
		fn, _ = class.Method(name)
	}
	if fn == nil {
		obj.Release()
		return false, fmt.Errorf("%w: %s::%s", ErrMethodNotFound, obj.ObjectClassName(), name)
	}
	if frame.call+1 >= len(frame.CallSlots) {
		obj.Release()
		return false, ErrCallSlotOverflow
	}
	frame.call++
	frame.CallSlots[frame.call] = CallSlot{Fn: fn, Object: obj}
	return true, nil
}

func (vm *VirtualMachine) execSendVal(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	v, err := vm.takeOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	if frame.call < 0 {
		v.Release()
		return false, ErrNoActiveCall
	}
	frame.stack.Push(v)
	frame.CallSlots[frame.call].NumArgs++
	return true, nil
}

func (vm *VirtualMachine) execDoFCall(ctx *ExecutionContext, frame *Frame, inst *opcodes.Instruction) (bool, error) {
	if frame.call < 0 {
		return false, ErrNoActiveCall
	}
	slot := frame.CallSlots[frame.call]

	args := make([]*values.Value, slot.NumArgs)
	for i := slot.NumArgs - 1; i >= 0; i-- {
		args[i] = frame.stack.Pop()
	}

	var result *values.Value
	var err error
	switch {
	case slot.Fn.IsBuiltin:
		// Method builtins receive their receiver as the leading argument.
		callArgs := args
		if slot.Object != nil {
			callArgs = append([]*values.Value{slot.Object}, args...)
		}
		result, err = slot.Fn.Builtin(newBuiltinContext(vm, ctx), callArgs)
	case slot.Fn.IsGenerator:
		result, err = vm.NewGenerator(ctx, slot.Fn, args, slot.Object, frame.Scope, frame.CalledScope)
	default:
		err = fmt.Errorf("%w: nested bytecode call to %s", ErrOpcodeNotImplemented, slot.Fn.Name)
	}

	for _, a := range args {
		a.Release()
	}
	if slot.Object != nil {
		slot.Object.Release()
	}
	frame.CallSlots[frame.call] = CallSlot{}
	frame.call--

	if err != nil {
		return false, err
	}
	if result == nil {
		result = values.NewNull()
	}
	return true, vm.writeOperand(frame, opcodes.DecodeResultType(inst.OpType2), inst.Result, result)
}

func (vm *VirtualMachine) execReturn(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	// A generator body's return terminates the generator; the value is
	// discarded.
	if frame.generator != nil {
		vm.freeOperand(frame, opcodes.DecodeOp1Type(inst.OpType1), inst.Op1)
		return false, errFrameReturned
	}
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	v, err := vm.takeOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	if frame.returnValue != nil {
		frame.returnValue.Release()
	}
	frame.returnValue = v
	return false, errFrameReturned
}

func (vm *VirtualMachine) execThrow(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	exc, err := vm.takeOperand(frame, op1Type, inst.Op1)
	if err != nil {
		return false, err
	}
	return false, phperrors.Throw(exc)
}

func (vm *VirtualMachine) execCatch(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	exc := frame.pendingException
	frame.pendingException = nil
	if exc == nil {
		exc = values.NewNull()
	}
	resultType := opcodes.DecodeResultType(inst.OpType2)
	if resultType == opcodes.IS_CV {
		frame.setLocal(inst.Result, exc)
		return true, nil
	}
	return true, vm.writeOperand(frame, resultType, inst.Result, exc)
}

func (vm *VirtualMachine) execFastRet(ctx *ExecutionContext, frame *Frame) (bool, error) {
	// A finally entered through forced teardown must propagate the
	// termination instead of resuming whatever the body was doing.
	if g := frame.generator; g != nil && g.flags&flagForcedClose != 0 {
		if frame.pendingException != nil {
			frame.pendingException.Release()
			frame.pendingException = nil
		}
		return false, errFrameReturned
	}
	if exc := frame.pendingException; exc != nil {
		frame.pendingException = nil
		if err := vm.raiseException(ctx, frame, exc); err != nil {
			return false, err
		}
		return false, nil
	}
	if frame.fastRet >= 0 {
		frame.IP = frame.fastRet
		frame.fastRet = -1
		return false, nil
	}
	return true, nil
}

// execYield implements the suspension opcode. Operands: op1 is the yielded
// value, op2 the yielded key (unused selects an auto key), and the result
// slot names the temporary that a later send() writes into.
func (vm *VirtualMachine) execYield(frame *Frame, inst *opcodes.Instruction) (bool, error) {
	g := frame.generator
	if g == nil {
		return false, phperrors.NewFatal("Cannot yield outside of a generator context")
	}

	op1Type := opcodes.DecodeOp1Type(inst.OpType1)
	var val *values.Value
	if op1Type != opcodes.IS_UNUSED {
		v, err := vm.takeOperand(frame, op1Type, inst.Op1)
		if err != nil {
			return false, err
		}
		val = v
	} else {
		val = values.NewNull()
	}
	if g.value != nil {
		g.value.Release()
	}
	g.value = val

	if g.key != nil {
		g.key.Release()
		g.key = nil
	}
	op2Type := opcodes.DecodeOp2Type(inst.OpType1)
	if op2Type != opcodes.IS_UNUSED {
		key, err := vm.takeOperand(frame, op2Type, inst.Op2)
		if err != nil {
			return false, err
		}
		switch {
		case key.IsInt():
			if key.ToInt() > g.largestUsedIntegerKey {
				g.largestUsedIntegerKey = key.ToInt()
			}
			g.key = key
		case key.IsString():
			g.key = key
		default:
			key.Release()
			return false, phperrors.NewFatal("Currently only int and string keys can be yielded")
		}
	} else {
		g.largestUsedIntegerKey++
		g.key = values.NewInt(g.largestUsedIntegerKey)
	}

	resultType := opcodes.DecodeResultType(inst.OpType2)
	if resultType != opcodes.IS_UNUSED {
		g.sendTarget = int(inst.Result)
	} else {
		g.sendTarget = -1
	}

	// During forced teardown the finally body keeps running so it can
	// propagate the termination; the yielded value is still recorded.
	if g.flags&flagForcedClose != 0 {
		return true, nil
	}
	frame.IP++
	return false, errSuspended
}

package vm

import (
	"fmt"

	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/values"
)

// readOperand returns a borrowed reference to the operand's value. Unset
// compiled variables and unused operands read as nil, which the values
// package treats as null.
func (vm *VirtualMachine) readOperand(frame *Frame, opType opcodes.OpType, slot uint32) (*values.Value, error) {
	switch opType {
	case opcodes.IS_UNUSED:
		return nil, nil
	case opcodes.IS_CONST:
		if int(slot) >= len(frame.fn.Constants) {
			return nil, fmt.Errorf("%w: %d", ErrConstantOutOfRange, slot)
		}
		return frame.fn.Constants[slot], nil
	case opcodes.IS_CV:
		return frame.local(slot), nil
	case opcodes.IS_TMP_VAR, opcodes.IS_VAR:
		if int(slot) >= len(frame.Temps) {
			return nil, fmt.Errorf("%w: temporary %d", ErrConstantOutOfRange, slot)
		}
		return frame.Temps[slot], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidOperandType, opType)
}

// takeOperand returns an owned reference to the operand's value. Temporary
// operands are consumed: ownership moves out of the slot. Other operand
// kinds get a fresh reference.
func (vm *VirtualMachine) takeOperand(frame *Frame, opType opcodes.OpType, slot uint32) (*values.Value, error) {
	v, err := vm.readOperand(frame, opType, slot)
	if err != nil {
		return nil, err
	}
	switch opType {
	case opcodes.IS_TMP_VAR, opcodes.IS_VAR:
		frame.Temps[slot] = nil
		if v == nil {
			return values.NewNull(), nil
		}
		return v, nil
	default:
		if v == nil {
			return values.NewNull(), nil
		}
		return v.AddRef(), nil
	}
}

// freeOperand releases a temporary operand after its value has been used.
// Constants and compiled variables are borrowed, so nothing happens for
// them.
func (vm *VirtualMachine) freeOperand(frame *Frame, opType opcodes.OpType, slot uint32) {
	switch opType {
	case opcodes.IS_TMP_VAR, opcodes.IS_VAR:
		if int(slot) < len(frame.Temps) && frame.Temps[slot] != nil {
			frame.Temps[slot].Release()
			frame.Temps[slot] = nil
		}
	}
}

// writeOperand stores an owned value into the result operand. Writing to an
// unused operand drops the value.
func (vm *VirtualMachine) writeOperand(frame *Frame, opType opcodes.OpType, slot uint32, v *values.Value) error {
	switch opType {
	case opcodes.IS_UNUSED:
		v.Release()
		return nil
	case opcodes.IS_TMP_VAR, opcodes.IS_VAR:
		if int(slot) >= len(frame.Temps) {
			v.Release()
			return fmt.Errorf("%w: temporary %d", ErrConstantOutOfRange, slot)
		}
		if old := frame.Temps[slot]; old != nil {
			old.Release()
		}
		frame.Temps[slot] = v
		return nil
	case opcodes.IS_CV:
		if int(slot) >= len(frame.Locals) {
			v.Release()
			return fmt.Errorf("%w: variable %d", ErrConstantOutOfRange, slot)
		}
		frame.setLocal(slot, v)
		return nil
	}
	v.Release()
	return fmt.Errorf("%w: %d", ErrOperandNotWritable, opType)
}

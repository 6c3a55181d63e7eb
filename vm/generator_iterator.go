package vm

import (
	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/values"
)

// GeneratorIterator adapts a generator to the engine's external iteration
// protocol (foreach). It holds an owned reference on the generator object
// for its lifetime so the generator cannot be destroyed mid-iteration; the
// generator does not reference the adapter back.
type GeneratorIterator struct {
	gen    *Generator
	object *values.Value
}

// GetIterator hands out the external iterator for a Generator object.
// Closed generators cannot be traversed, and by-reference iteration is only
// allowed when the body declared that it yields by reference.
func (vm *VirtualMachine) GetIterator(ctx *ExecutionContext, objVal *values.Value, byRef bool) (*GeneratorIterator, error) {
	g := FromObject(objVal)
	if g == nil {
		return nil, phperrors.NewFatal("cannot iterate a non-generator object")
	}
	if g.frame == nil {
		return nil, phperrors.ThrowMessage("Exception", "Cannot traverse an already closed generator")
	}
	if byRef && !g.frame.fn.ReturnsByReference {
		return nil, phperrors.ThrowMessage("Exception", "You can only iterate a generator by-reference if it declared that it yields by-reference")
	}
	it := &g.iterator
	it.gen = g
	it.object = objVal.AddRef()
	ctx.Objects.AddRef(g.handle)
	return it, nil
}

// Dtor drops the adapter's reference on the generator object.
func (it *GeneratorIterator) Dtor(ctx *ExecutionContext) {
	if it.object == nil {
		return
	}
	handle := it.gen.handle
	it.object.Release()
	it.object = nil
	ctx.Objects.Release(handle)
}

// Valid primes the generator and reports whether a value is available.
func (it *GeneratorIterator) Valid() (bool, error) {
	if err := it.gen.ensureInitialized(); err != nil {
		return false, err
	}
	return it.gen.value != nil, nil
}

// GetData returns a borrowed pointer to the current yielded value, or nil
// once the generator finished.
func (it *GeneratorIterator) GetData() (*values.Value, error) {
	if err := it.gen.ensureInitialized(); err != nil {
		return nil, err
	}
	return it.gen.value, nil
}

// GetKey returns a copy of the current key. Only integer and string keys
// can cross the iteration protocol.
func (it *GeneratorIterator) GetKey() (*values.Value, error) {
	if err := it.gen.ensureInitialized(); err != nil {
		return nil, err
	}
	key := it.gen.key
	if key == nil {
		return nil, nil
	}
	if key.IsInt() || key.IsString() {
		return key.Copy(), nil
	}
	return nil, phperrors.NewFatal("Currently only int and string keys can be yielded")
}

// MoveForward advances the generator.
func (it *GeneratorIterator) MoveForward() error {
	if err := it.gen.ensureInitialized(); err != nil {
		return err
	}
	return it.gen.resume()
}

// Rewind delegates to the generator's rewind semantics.
func (it *GeneratorIterator) Rewind() error {
	return it.gen.Rewind()
}

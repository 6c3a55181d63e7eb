package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

func testSetup() (*VirtualMachine, *ExecutionContext) {
	return NewVirtualMachine(), NewExecutionContext()
}

func mustGenerator(t *testing.T, machine *VirtualMachine, ctx *ExecutionContext, fn *registry.Function, args ...*values.Value) (*values.Value, *Generator) {
	t.Helper()
	obj, err := machine.NewGenerator(ctx, fn, args, nil, "", "")
	require.NoError(t, err)
	g := FromObject(obj)
	require.NotNil(t, g)
	return obj, g
}

// lettersBody yields 'a', 'b', 'c' under auto keys.
func lettersBody() *registry.Function {
	return &registry.Function{
		Name:        "letters",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewString("a"),
			values.NewString("b"),
			values.NewString("c"),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 2),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

// pairBody yields 1 then 2.
func pairBody() *registry.Function {
	return &registry.Function{
		Name:        "pair",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewInt(2),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 1),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

func TestGeneratorIterationWalk(t *testing.T) {
	machine, ctx := testSetup()
	fn := lettersBody()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	expected := []struct {
		key int64
		val string
	}{
		{0, "a"},
		{1, "b"},
		{2, "c"},
	}
	for _, want := range expected {
		valid, err := g.Valid()
		require.NoError(t, err)
		assert.True(t, valid)

		key, err := g.Key()
		require.NoError(t, err)
		assert.Equal(t, want.key, key.ToInt())
		key.Release()

		val, err := g.Current()
		require.NoError(t, err)
		assert.Equal(t, want.val, val.ToString())
		val.Release()

		require.NoError(t, g.Next())
	}

	valid, err := g.Valid()
	require.NoError(t, err)
	assert.False(t, valid)
	assert.True(t, g.Closed())

	val, err := g.Current()
	require.NoError(t, err)
	assert.True(t, val.IsNull())
	val.Release()

	key, err := g.Key()
	require.NoError(t, err)
	assert.True(t, key.IsNull())
	key.Release()

	machine.ReleaseObject(ctx, obj)
	assert.Equal(t, before, values.LiveCount())
	for _, c := range fn.Constants {
		assert.Equal(t, int32(1), c.RefCount())
	}
}

func TestGeneratorIdempotentReads(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, lettersBody())
	defer machine.ReleaseObject(ctx, obj)

	first, err := g.Current()
	require.NoError(t, err)
	second, err := g.Current()
	require.NoError(t, err)
	assert.True(t, first.Equal(second))
	first.Release()
	second.Release()

	k1, err := g.Key()
	require.NoError(t, err)
	k2, err := g.Key()
	require.NoError(t, err)
	assert.True(t, k1.Equal(k2))
	k1.Release()
	k2.Release()
}

// sendBody is `$x = yield 1; yield $x + 1;`.
func sendBody() *registry.Function {
	return &registry.Function{
		Name:        "adder",
		IsGenerator: true,
		NumLocals:   1,
		NumTemps:    2,
		VarNames:    []string{"x"},
		Constants: []*values.Value{
			values.NewInt(1),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_YIELD, opcodes.IS_CONST, 0, opcodes.IS_UNUSED, 0, opcodes.IS_TMP_VAR, 0),
			opcodes.New(opcodes.OP_ASSIGN, opcodes.IS_CV, 0, opcodes.IS_TMP_VAR, 0, opcodes.IS_UNUSED, 0),
			opcodes.New(opcodes.OP_ADD, opcodes.IS_CV, 0, opcodes.IS_CONST, 0, opcodes.IS_TMP_VAR, 1),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_TMP_VAR, 1),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

func TestGeneratorSend(t *testing.T) {
	machine, ctx := testSetup()
	fn := sendBody()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	sent := values.NewInt(40)
	result, err := g.Send(sent)
	sent.Release()
	require.NoError(t, err)
	assert.Equal(t, int64(41), result.ToInt())
	result.Release()

	require.NoError(t, g.Next())
	valid, err := g.Valid()
	require.NoError(t, err)
	assert.False(t, valid)

	machine.ReleaseObject(ctx, obj)
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorSendOnClosedReturnsNull(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, pairBody())
	defer machine.ReleaseObject(ctx, obj)

	require.NoError(t, g.Next())
	require.NoError(t, g.Next())
	require.NoError(t, g.Next())
	require.True(t, g.Closed())

	sent := values.NewInt(7)
	result, err := g.Send(sent)
	sent.Release()
	require.NoError(t, err)
	assert.True(t, result.IsNull())
	result.Release()

	// next on a closed generator is a silent no-op as well
	require.NoError(t, g.Next())
}

// keyedBody is `yield 5; yield 3 => 10; yield 7;`.
func keyedBody() *registry.Function {
	return &registry.Function{
		Name:        "keyed",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewInt(5),
			values.NewInt(3),
			values.NewInt(10),
			values.NewInt(7),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.New(opcodes.OP_YIELD, opcodes.IS_CONST, 2, opcodes.IS_CONST, 1, opcodes.IS_UNUSED, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 3),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

func TestGeneratorUserIntegerKeysRaiseCounter(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, keyedBody())
	defer machine.ReleaseObject(ctx, obj)

	wantKeys := []int64{0, 3, 4}
	for _, want := range wantKeys {
		key, err := g.Key()
		require.NoError(t, err)
		assert.Equal(t, want, key.ToInt())
		key.Release()
		require.NoError(t, g.Next())
	}
	valid, err := g.Valid()
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestGeneratorStringKeysLeaveCounterAlone(t *testing.T) {
	fn := &registry.Function{
		Name:        "stringKeyed",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewInt(5),
			values.NewString("k"),
			values.NewInt(10),
			values.NewInt(7),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.New(opcodes.OP_YIELD, opcodes.IS_CONST, 2, opcodes.IS_CONST, 1, opcodes.IS_UNUSED, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 3),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)

	key, err := g.Key()
	require.NoError(t, err)
	assert.Equal(t, int64(0), key.ToInt())
	key.Release()
	require.NoError(t, g.Next())

	key, err = g.Key()
	require.NoError(t, err)
	assert.Equal(t, "k", key.ToString())
	key.Release()
	require.NoError(t, g.Next())

	// The integer counter only moves on integer yields.
	key, err = g.Key()
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.ToInt())
	key.Release()
}

func TestGeneratorNonScalarKeyIsFatal(t *testing.T) {
	fn := &registry.Function{
		Name:        "badKey",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewFloat(1.5),
			values.NewInt(10),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_YIELD, opcodes.IS_CONST, 1, opcodes.IS_CONST, 0, opcodes.IS_UNUSED, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)

	_, err := g.Valid()
	require.Error(t, err)
	assert.True(t, phperrors.IsFatal(err))
	assert.Contains(t, err.Error(), "only int and string keys can be yielded")
}

// finallyBody is `try { yield 1; yield 2; } finally { yield 99; }`.
func finallyBody() *registry.Function {
	return &registry.Function{
		Name:        "cleanup",
		IsGenerator: true,
		HasFinally:  true,
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewInt(2),
			values.NewInt(99),
		},
		TryCatch: []*registry.TryCatchElement{
			{TryOp: 0, CatchOp: 0, FinallyOp: 4},
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_FAST_CALL, opcodes.IS_UNUSED, 4),
			opcodes.Simple(opcodes.OP_JMP, opcodes.IS_UNUSED, 6),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 2),
			opcodes.Bare(opcodes.OP_FAST_RET),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

func TestGeneratorForcedCloseRunsFinally(t *testing.T) {
	machine, ctx := testSetup()
	fn := finallyBody()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	// Dropping the last reference runs the closer, which detects the
	// pending finally, re-enters the body under forced close and then
	// tears everything down.
	machine.ReleaseObject(ctx, obj)

	assert.True(t, g.Closed())
	assert.Equal(t, before, values.LiveCount())
	for _, c := range fn.Constants {
		assert.Equal(t, int32(1), c.RefCount())
	}
}

func TestGeneratorNormalFlowRunsFinallyOnce(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, finallyBody())
	defer machine.ReleaseObject(ctx, obj)

	wantVals := []int64{1, 2, 99}
	for _, want := range wantVals {
		val, err := g.Current()
		require.NoError(t, err)
		assert.Equal(t, want, val.ToInt())
		val.Release()
		require.NoError(t, g.Next())
	}
	assert.True(t, g.Closed())
}

func TestGeneratorClone(t *testing.T) {
	machine, ctx := testSetup()
	fn := pairBody()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	obj2, err := machine.CloneObject(ctx, obj)
	require.NoError(t, err)
	g2 := FromObject(obj2)
	require.NotNil(t, g2)

	// Advancing the original does not move the clone.
	require.NoError(t, g.Next())
	val, err = g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(2), val.ToInt())
	val.Release()

	val, err = g2.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	// The clone replays the same sequence independently.
	require.NoError(t, g2.Next())
	val, err = g2.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(2), val.ToInt())
	val.Release()

	key, err := g2.Key()
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.ToInt())
	key.Release()

	require.NoError(t, g.Next())
	require.NoError(t, g2.Next())
	assert.True(t, g.Closed())
	assert.True(t, g2.Closed())

	machine.ReleaseObject(ctx, obj)
	machine.ReleaseObject(ctx, obj2)
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorCloneCopiesLocalsAndSendTarget(t *testing.T) {
	machine, ctx := testSetup()
	fn := sendBody()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	val, err := g.Current()
	require.NoError(t, err)
	val.Release()

	obj2, err := machine.CloneObject(ctx, obj)
	require.NoError(t, err)
	g2 := FromObject(obj2)

	sent := values.NewInt(40)
	result, err := g.Send(sent)
	sent.Release()
	require.NoError(t, err)
	assert.Equal(t, int64(41), result.ToInt())
	result.Release()

	// The clone kept its own send target and locals.
	sent = values.NewInt(100)
	result, err = g2.Send(sent)
	sent.Release()
	require.NoError(t, err)
	assert.Equal(t, int64(101), result.ToInt())
	result.Release()

	require.NoError(t, g.Next())
	require.NoError(t, g2.Next())
	machine.ReleaseObject(ctx, obj)
	machine.ReleaseObject(ctx, obj2)
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorUncaughtExceptionSurfacesInCaller(t *testing.T) {
	fn := &registry.Function{
		Name:        "thrower",
		IsGenerator: true,
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewString("boom"),
			values.NewInt(2),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_THROW, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 2),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	err = g.Next()
	require.Error(t, err)
	thrown, ok := phperrors.AsThrown(err)
	require.True(t, ok)
	assert.Equal(t, "boom", thrown.Value.ToString())
	thrown.Value.Release()

	valid, verr := g.Valid()
	require.NoError(t, verr)
	assert.False(t, valid)
	assert.True(t, g.Closed())
}

func TestGeneratorCaughtExceptionKeepsRunning(t *testing.T) {
	// try { yield 1; throw "boom"; } catch ($e) { yield $e; }
	fn := &registry.Function{
		Name:        "catcher",
		IsGenerator: true,
		NumLocals:   1,
		VarNames:    []string{"e"},
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewString("boom"),
		},
		TryCatch: []*registry.TryCatchElement{
			{TryOp: 0, CatchOp: 3, FinallyOp: 0},
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_THROW, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_JMP, opcodes.IS_UNUSED, 5),
			opcodes.New(opcodes.OP_CATCH, opcodes.IS_UNUSED, 0, opcodes.IS_UNUSED, 0, opcodes.IS_CV, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CV, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	require.NoError(t, g.Next())
	val, err = g.Current()
	require.NoError(t, err)
	assert.Equal(t, "boom", val.ToString())
	val.Release()

	require.NoError(t, g.Next())
	assert.True(t, g.Closed())
}

func TestGeneratorThrowIntoBody(t *testing.T) {
	// try { yield 1; yield 2; } catch ($e) { yield $e; }
	fn := &registry.Function{
		Name:        "absorber",
		IsGenerator: true,
		NumLocals:   1,
		VarNames:    []string{"e"},
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewInt(2),
		},
		TryCatch: []*registry.TryCatchElement{
			{TryOp: 0, CatchOp: 3, FinallyOp: 0},
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_JMP, opcodes.IS_UNUSED, 5),
			opcodes.New(opcodes.OP_CATCH, opcodes.IS_UNUSED, 0, opcodes.IS_UNUSED, 0, opcodes.IS_CV, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CV, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(1), val.ToInt())
	val.Release()

	exc := values.NewString("injected")
	result, err := g.Throw(exc)
	exc.Release()
	require.NoError(t, err)
	assert.Equal(t, "injected", result.ToString())
	result.Release()
}

func TestGeneratorThrowOnClosedRaisesInCaller(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, pairBody())
	defer machine.ReleaseObject(ctx, obj)

	require.NoError(t, g.Next())
	require.NoError(t, g.Next())
	require.NoError(t, g.Next())
	require.True(t, g.Closed())

	exc := values.NewString("late")
	_, err := g.Throw(exc)
	exc.Release()
	require.Error(t, err)
	thrown, ok := phperrors.AsThrown(err)
	require.True(t, ok)
	assert.Equal(t, "late", thrown.Value.ToString())
	thrown.Value.Release()
}

func TestGeneratorRewind(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, lettersBody())
	defer machine.ReleaseObject(ctx, obj)

	// Rewinding exactly at the first yield is idempotent.
	require.NoError(t, g.Rewind())
	require.NoError(t, g.Rewind())

	require.NoError(t, g.Next())
	err := g.Rewind()
	require.Error(t, err)
	thrown, ok := phperrors.AsThrown(err)
	require.True(t, ok)
	msg := thrown.Value.ObjectGet("message")
	require.NotNil(t, msg)
	assert.Equal(t, "Cannot rewind a generator that was already run", msg.ToString())
	thrown.Value.Release()
}

func TestGeneratorReentrantResumeIsFatal(t *testing.T) {
	machine, ctx := testSetup()

	var gref *Generator
	ctx.UserFunctions["poke"] = &registry.Function{
		Name:      "poke",
		IsBuiltin: true,
		Builtin: func(bctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			if err := gref.Next(); err != nil {
				return nil, err
			}
			return values.NewNull(), nil
		},
	}

	fn := &registry.Function{
		Name:         "selfResumer",
		IsGenerator:  true,
		NumCallSlots: 1,
		Constants: []*values.Value{
			values.NewInt(1),
			values.NewString("poke"),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.New(opcodes.OP_INIT_FCALL, opcodes.IS_UNUSED, 0, opcodes.IS_CONST, 1, opcodes.IS_UNUSED, 0),
			opcodes.Bare(opcodes.OP_DO_FCALL),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}

	obj, g := mustGenerator(t, machine, ctx, fn)
	defer machine.ReleaseObject(ctx, obj)
	gref = g

	_, err := g.Current()
	require.NoError(t, err)

	err = g.Next()
	require.Error(t, err)
	assert.True(t, phperrors.IsFatal(err))
	assert.Contains(t, err.Error(), "Cannot resume an already running generator")
}

// loopTempBody parks a value in a temporary whose SWITCH_FREE sits at the
// loop's break target.
func loopTempBody() *registry.Function {
	return &registry.Function{
		Name:        "looper",
		IsGenerator: true,
		NumTemps:    1,
		Constants: []*values.Value{
			values.NewString("subject"),
			values.NewInt(1),
		},
		BrkCont: []*registry.BrkContElement{
			{Start: 1, Cont: 1, Brk: 3},
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_QM_ASSIGN, opcodes.IS_CONST, 0, opcodes.IS_UNUSED, 0, opcodes.IS_TMP_VAR, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 1),
			opcodes.Simple(opcodes.OP_JMP, opcodes.IS_UNUSED, 1),
			opcodes.Simple(opcodes.OP_SWITCH_FREE, opcodes.IS_TMP_VAR, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
}

func TestGeneratorCloseReleasesLoopTemporaries(t *testing.T) {
	machine, ctx := testSetup()
	fn := loopTempBody()
	subject := fn.Constants[0]
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	_, err := g.Valid()
	require.NoError(t, err)

	// The temporary holds a reference the body's SWITCH_FREE never got to
	// release.
	assert.Equal(t, int32(2), subject.RefCount())

	machine.ReleaseObject(ctx, obj)
	assert.Equal(t, int32(1), subject.RefCount())
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorCloneBalancesLoopTemporaries(t *testing.T) {
	machine, ctx := testSetup()
	fn := loopTempBody()
	subject := fn.Constants[0]
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)
	_, err := g.Valid()
	require.NoError(t, err)

	obj2, err := machine.CloneObject(ctx, obj)
	require.NoError(t, err)
	assert.Equal(t, int32(3), subject.RefCount())

	machine.ReleaseObject(ctx, obj)
	machine.ReleaseObject(ctx, obj2)
	assert.Equal(t, int32(1), subject.RefCount())
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorCloseReleasesPendingCallState(t *testing.T) {
	machine, ctx := testSetup()

	require.NoError(t, registry.GlobalRegistry.RegisterClass(&registry.Class{
		Name: "Counter",
		Methods: map[string]*registry.Function{
			"hit": {
				Name:      "hit",
				IsBuiltin: true,
				Builtin: func(bctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
					return values.NewInt(1), nil
				},
			},
		},
	}))

	// The receiver and one sent argument are parked in the frame when the
	// yield suspends mid-call-setup.
	fn := &registry.Function{
		Name:         "midCall",
		IsGenerator:  true,
		NumLocals:    1,
		NumCallSlots: 1,
		VarNames:     []string{"obj"},
		Parameters:   []*registry.Parameter{{Name: "obj"}},
		Constants: []*values.Value{
			values.NewString("payload"),
			values.NewString("hit"),
			values.NewInt(9),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_INIT_METHOD_CALL, opcodes.IS_CV, 0, opcodes.IS_CONST, 1, opcodes.IS_UNUSED, 0),
			opcodes.Simple(opcodes.OP_SEND_VAL, opcodes.IS_CONST, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 2),
			opcodes.Bare(opcodes.OP_DO_FCALL),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}

	receiver := values.NewObject("Counter")
	payload := fn.Constants[0]

	obj, g := mustGenerator(t, machine, ctx, fn, receiver)

	_, err := g.Valid()
	require.NoError(t, err)

	// caller + local slot + synthetic frame + call slot
	assert.Equal(t, int32(4), receiver.RefCount())
	assert.Equal(t, int32(2), payload.RefCount())

	machine.ReleaseObject(ctx, obj)
	assert.Equal(t, int32(1), receiver.RefCount())
	assert.Equal(t, int32(1), payload.RefCount())
	receiver.Release()
}

func TestGeneratorSymbolTableClone(t *testing.T) {
	fn := &registry.Function{
		Name:             "tabled",
		IsGenerator:      true,
		NumLocals:        1,
		NumTemps:         1,
		NeedsSymbolTable: true,
		VarNames:         []string{"x"},
		Constants: []*values.Value{
			values.NewInt(5),
			values.NewInt(1),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_ASSIGN, opcodes.IS_CV, 0, opcodes.IS_CONST, 0, opcodes.IS_UNUSED, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CV, 0),
			opcodes.New(opcodes.OP_ADD, opcodes.IS_CV, 0, opcodes.IS_CONST, 1, opcodes.IS_TMP_VAR, 0),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_TMP_VAR, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	before := values.LiveCount()

	obj, g := mustGenerator(t, machine, ctx, fn)

	val, err := g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(5), val.ToInt())
	val.Release()
	require.NotNil(t, g.frame.SymbolTable)
	assert.Same(t, g.frame.SymbolTable["x"], g.frame.Locals[0])

	obj2, err := machine.CloneObject(ctx, obj)
	require.NoError(t, err)
	g2 := FromObject(obj2)
	require.NotNil(t, g2.frame.SymbolTable)
	assert.Same(t, g2.frame.SymbolTable["x"], g2.frame.Locals[0])

	require.NoError(t, g.Next())
	val, err = g.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(6), val.ToInt())
	val.Release()

	val, err = g2.Current()
	require.NoError(t, err)
	assert.Equal(t, int64(5), val.ToInt())
	val.Release()

	require.NoError(t, g.Next())
	require.NoError(t, g2.Next())
	require.NoError(t, g2.Next())

	machine.ReleaseObject(ctx, obj)
	machine.ReleaseObject(ctx, obj2)
	assert.Equal(t, before, values.LiveCount())
}

func TestGeneratorClosureBodyCopied(t *testing.T) {
	bound := values.NewString("captured")
	fn := &registry.Function{
		Name:        "{closure}",
		IsGenerator: true,
		IsClosure:   true,
		BoundVars:   map[string]*values.Value{"c": bound},
		Constants: []*values.Value{
			values.NewInt(1),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_CONST, 0),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, fn)

	// The generator runs its own copy of the closure body with its own
	// references on the captured state.
	require.NotNil(t, g.closureCopy)
	assert.NotSame(t, fn, g.closureCopy)
	assert.Equal(t, int32(2), bound.RefCount())

	_, err := g.Valid()
	require.NoError(t, err)

	machine.ReleaseObject(ctx, obj)
	assert.Equal(t, int32(1), bound.RefCount())
	bound.Release()
}

func TestGeneratorManualResumeAfterCloseIsSilent(t *testing.T) {
	machine, ctx := testSetup()
	obj, g := mustGenerator(t, machine, ctx, pairBody())

	machine.ReleaseObject(ctx, obj)
	require.True(t, g.Closed())

	// The closer already ran; every further advance is a no-op.
	require.NoError(t, g.Next())
	valid, err := g.Valid()
	require.NoError(t, err)
	assert.False(t, valid)
}

package main

import (
	"github.com/Nirvanko/php-src/opcodes"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// demoBody pairs a hand-assembled generator function with how the demo
// driver should exercise it.
type demoBody struct {
	fn        *registry.Function
	wantsSend bool
}

var demoBodies = map[string]func() demoBody{
	"counter":     buildCounter,
	"squares":     buildSquares,
	"accumulator": buildAccumulator,
	"keyed":       buildKeyed,
}

// counter yields three strings under auto keys.
func buildCounter() demoBody {
	return demoBody{fn: &registry.Function{
		Name:        "counter",
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
	}}
}

// squares yields i*i while i < 5.
func buildSquares() demoBody {
	return demoBody{fn: &registry.Function{
		Name:        "squares",
		IsGenerator: true,
		NumLocals:   1,
		NumTemps:    3,
		VarNames:    []string{"i"},
		Constants: []*values.Value{
			values.NewInt(0),
			values.NewInt(5),
			values.NewInt(1),
		},
		Instructions: []*opcodes.Instruction{
			opcodes.New(opcodes.OP_ASSIGN, opcodes.IS_CV, 0, opcodes.IS_CONST, 0, opcodes.IS_UNUSED, 0),
			opcodes.New(opcodes.OP_IS_SMALLER, opcodes.IS_CV, 0, opcodes.IS_CONST, 1, opcodes.IS_TMP_VAR, 0),
			opcodes.New(opcodes.OP_JMPZ, opcodes.IS_TMP_VAR, 0, opcodes.IS_UNUSED, 8, opcodes.IS_UNUSED, 0),
			opcodes.New(opcodes.OP_MUL, opcodes.IS_CV, 0, opcodes.IS_CV, 0, opcodes.IS_TMP_VAR, 1),
			opcodes.Simple(opcodes.OP_YIELD, opcodes.IS_TMP_VAR, 1),
			opcodes.New(opcodes.OP_ADD, opcodes.IS_CV, 0, opcodes.IS_CONST, 2, opcodes.IS_TMP_VAR, 2),
			opcodes.New(opcodes.OP_ASSIGN, opcodes.IS_CV, 0, opcodes.IS_TMP_VAR, 2, opcodes.IS_UNUSED, 0),
			opcodes.Simple(opcodes.OP_JMP, opcodes.IS_UNUSED, 1),
			opcodes.Bare(opcodes.OP_GENERATOR_RETURN),
		},
	}}
}

// accumulator binds the sent value and yields it incremented.
func buildAccumulator() demoBody {
	return demoBody{
		wantsSend: true,
		fn: &registry.Function{
			Name:        "accumulator",
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
		},
	}
}

// keyed mixes auto keys with a user-supplied integer key.
func buildKeyed() demoBody {
	return demoBody{fn: &registry.Function{
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
	}}
}

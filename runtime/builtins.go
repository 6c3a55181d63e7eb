package runtime

import (
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// GetBuiltinFunctions returns the builtin functions callable from compiled
// bodies.
func GetBuiltinFunctions() []*registry.Function {
	return []*registry.Function{
		{
			Name:      "strlen",
			IsBuiltin: true,
			MinArgs:   1,
			MaxArgs:   1,
			Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
				if len(args) < 1 {
					return values.NewInt(0), nil
				}
				return values.NewInt(int64(len(args[0].ToString()))), nil
			},
		},
		{
			Name:      "abs",
			IsBuiltin: true,
			MinArgs:   1,
			MaxArgs:   1,
			Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
				if len(args) < 1 {
					return values.NewInt(0), nil
				}
				if args[0].IsFloat() {
					f := args[0].ToFloat()
					if f < 0 {
						f = -f
					}
					return values.NewFloat(f), nil
				}
				n := args[0].ToInt()
				if n < 0 {
					n = -n
				}
				return values.NewInt(n), nil
			},
		},
		{
			Name:      "max",
			IsBuiltin: true,
			MinArgs:   1,
			Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
				if len(args) == 0 {
					return values.NewNull(), nil
				}
				best := args[0]
				for _, v := range args[1:] {
					if v.Compare(best) > 0 {
						best = v
					}
				}
				return best.Copy(), nil
			},
		},
		{
			Name:      "var_dump",
			IsBuiltin: true,
			MinArgs:   1,
			Builtin: func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
				for _, v := range args {
					out := values.NewString(v.String() + "\n")
					if err := ctx.WriteOutput(out); err != nil {
						out.Release()
						return nil, err
					}
					out.Release()
				}
				return values.NewNull(), nil
			},
		},
	}
}

package runtime

import (
	phperrors "github.com/Nirvanko/php-src/errors"
	"github.com/Nirvanko/php-src/registry"
	"github.com/Nirvanko/php-src/values"
)

// GetInterfaces returns all iterator-related interface definitions.
func GetInterfaces() []*registry.Interface {
	return []*registry.Interface{
		getTraversableInterface(),
		getIteratorInterface(),
	}
}

// GetIteratorClasses returns all iterator-related class definitions.
func GetIteratorClasses() []*registry.Class {
	return []*registry.Class{
		getGeneratorClass(),
	}
}

func getTraversableInterface() *registry.Interface {
	return &registry.Interface{
		Name:    "Traversable",
		Methods: make(map[string]*registry.InterfaceMethod),
		Extends: []string{},
	}
}

func getIteratorInterface() *registry.Interface {
	methods := map[string]*registry.InterfaceMethod{
		"current": {Name: "current", ReturnType: "mixed"},
		"key":     {Name: "key", ReturnType: "mixed"},
		"next":    {Name: "next", ReturnType: "void"},
		"rewind":  {Name: "rewind", ReturnType: "void"},
		"valid":   {Name: "valid", ReturnType: "bool"},
	}
	return &registry.Interface{
		Name:    "Iterator",
		Methods: methods,
		Extends: []string{"Traversable"},
	}
}

// generatorFromArgs extracts the generator implementation behind the
// receiver object every Generator method is called on.
func generatorFromArgs(args []*values.Value) (registry.Generator, bool) {
	if len(args) < 1 || !args[0].IsObject() {
		return nil, false
	}
	res := args[0].ObjectGet("__generator")
	if res == nil || !res.IsResource() {
		return nil, false
	}
	gen, ok := res.Data.(registry.Generator)
	return gen, ok
}

func generatorMethod(name string, impl registry.BuiltinImplementation) *registry.Function {
	return &registry.Function{
		Name:      name,
		IsBuiltin: true,
		Builtin:   impl,
	}
}

func getGeneratorClass() *registry.Class {
	methods := map[string]*registry.Function{
		// Generators come into existence only by invoking a function whose
		// body yields.
		"__construct": generatorMethod("__construct", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			return nil, phperrors.NewRecoverable("The \"Generator\" class is reserved for internal use and cannot be manually instantiated")
		}),
		"rewind": generatorMethod("rewind", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			if err := gen.Rewind(); err != nil {
				return nil, err
			}
			return values.NewNull(), nil
		}),
		"valid": generatorMethod("valid", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewBool(false), nil
			}
			valid, err := gen.Valid()
			if err != nil {
				return nil, err
			}
			return values.NewBool(valid), nil
		}),
		"current": generatorMethod("current", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			return gen.Current()
		}),
		"key": generatorMethod("key", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			return gen.Key()
		}),
		"next": generatorMethod("next", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			if err := gen.Next(); err != nil {
				return nil, err
			}
			return values.NewNull(), nil
		}),
		"send": generatorMethod("send", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			var sent *values.Value
			if len(args) > 1 {
				sent = args[1]
			} else {
				sent = values.NewNull()
				defer sent.Release()
			}
			return gen.Send(sent)
		}),
		"throw": generatorMethod("throw", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			gen, ok := generatorFromArgs(args)
			if !ok {
				return values.NewNull(), nil
			}
			var exc *values.Value
			if len(args) > 1 {
				exc = args[1]
			} else {
				exc = values.NewNull()
				defer exc.Release()
			}
			return gen.Throw(exc)
		}),
		// Specifying the serialization deny flag is not enough: object
		// unserialization reaches __wakeup, so the error is thrown here.
		"__wakeup": generatorMethod("__wakeup", func(ctx registry.BuiltinCallContext, args []*values.Value) (*values.Value, error) {
			return nil, phperrors.ThrowMessage("Exception", "Unserialization of 'Generator' is not allowed")
		}),
	}

	return &registry.Class{
		Name:            "Generator",
		IsFinal:         true,
		NotSerializable: true,
		Interfaces:      []string{"Iterator"},
		Methods:         methods,
		Constants:       make(map[string]*values.Value),
	}
}

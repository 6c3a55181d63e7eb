package runtime

import (
	"fmt"
	"sync"

	"github.com/Nirvanko/php-src/registry"
)

var bootstrapOnce sync.Once
var bootstrapErr error

// Bootstrap registers the runtime's interfaces, classes and builtin
// functions into the global registry. Safe to call more than once.
func Bootstrap() error {
	bootstrapOnce.Do(func() {
		for _, iface := range GetInterfaces() {
			if err := registry.GlobalRegistry.RegisterInterface(iface); err != nil {
				bootstrapErr = fmt.Errorf("runtime bootstrap: %w", err)
				return
			}
		}
		for _, class := range GetIteratorClasses() {
			if err := registry.GlobalRegistry.RegisterClass(class); err != nil {
				bootstrapErr = fmt.Errorf("runtime bootstrap: %w", err)
				return
			}
		}
		for _, fn := range GetBuiltinFunctions() {
			if err := registry.GlobalRegistry.RegisterFunction(fn); err != nil {
				bootstrapErr = fmt.Errorf("runtime bootstrap: %w", err)
				return
			}
		}
	})
	return bootstrapErr
}

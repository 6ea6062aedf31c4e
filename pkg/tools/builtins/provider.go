package builtins

import (
	"fmt"

	"github.com/rhuss/parley/pkg/tools"
	"github.com/rhuss/parley/pkg/tools/registry"
)

// ProviderName is the registry name of the built-in tool provider.
const ProviderName = "builtin"

var available = map[string]func() tools.Tool{
	calculatorName:  func() tools.Tool { return Calculator{} },
	currentTimeName: func() tools.Tool { return CurrentTime{} },
}

// Names lists the available built-in tools.
func Names() []string {
	return []string{calculatorName, currentTimeName}
}

// NewProvider returns a registry provider with the named built-ins, in the
// given order. Unknown names are an error.
func NewProvider(names []string) (registry.Provider, error) {
	list := make([]tools.Tool, 0, len(names))
	for _, name := range names {
		ctor, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown builtin tool %q", name)
		}
		list = append(list, ctor())
	}
	return registry.Static{ProviderName: ProviderName, ToolList: list}, nil
}

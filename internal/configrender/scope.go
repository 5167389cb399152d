package configrender

import (
	"fmt"

	"github.com/ankaios/ankaios/internal/wire"
)

// Scope maps a workload's local alias names to the config items they refer
// to. It is the unit passed to Render.
type Scope map[string]wire.ConfigItem

// BuildScope resolves a workload's alias -> configKey mapping against
// desiredState.configs. A missing key means a required config reference is
// absent, and the entire update containing this workload must be rejected.
func BuildScope(aliasToKey map[string]string, configs map[string]wire.ConfigItem) (Scope, error) {
	scope := make(Scope, len(aliasToKey))
	for alias, key := range aliasToKey {
		item, ok := configs[key]
		if !ok {
			return nil, fmt.Errorf("%w: alias %q references key %q", ErrRenderMissingConfig, alias, key)
		}
		scope[alias] = item
	}
	return scope, nil
}

package configrender

import "github.com/ankaios/ankaios/internal/wire"

// Rendered pairs a fully-resolved workload with the instance name derived
// from its rendered runtimeConfig.
type Rendered struct {
	Name     wire.WorkloadInstanceName
	Workload wire.Workload
}

// RenderDesired renders every workload in ds, resolving each workload's
// Configs alias map against ds.Configs. Workloads with an empty Configs
// mapping pass through unrendered (there is nothing to substitute and no
// config lookup can fail for them). Any single rendering failure aborts the
// whole pass: the caller must treat the update as rejected and leave the
// state store unchanged.
func RenderDesired(ds wire.DesiredState) (map[string]Rendered, error) {
	out := make(map[string]Rendered, len(ds.Workloads))
	for name, wl := range ds.Workloads {
		rendered := wl
		if len(wl.Configs) > 0 {
			scope, err := BuildScope(wl.Configs, ds.Configs)
			if err != nil {
				return nil, err
			}
			rendered, err = RenderWorkload(wl, scope)
			if err != nil {
				return nil, err
			}
		}
		out[name] = Rendered{
			Name: wire.WorkloadInstanceName{
				WorkloadName: name,
				AgentName:    rendered.Agent,
				ID:           InstanceID(rendered.RuntimeConfig),
			},
			Workload: rendered,
		}
	}
	return out, nil
}

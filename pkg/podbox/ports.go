package podbox

import (
	"sort"

	"github.com/podbox/podbox/pkg/engine"
)

// planPorts renders the configured port requests for the engine, sorted
// by container port so the invocation is deterministic. Fixed host ports
// pass through verbatim; the engine is authoritative and will reject a
// taken port at start time. Ephemeral requests (host 0) are delegated to
// the engine entirely.
func planPorts(cfg Config) []engine.PortSpec {
	if len(cfg.Ports) == 0 {
		return nil
	}
	specs := make([]engine.PortSpec, 0, len(cfg.Ports))
	for containerPort, hostPort := range cfg.Ports {
		specs = append(specs, engine.PortSpec{Container: containerPort, Host: hostPort})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Container < specs[j].Container })
	return specs
}

// resolvePorts combines the requested mapping with the bindings the
// engine reported after start. Only requested container ports appear in
// the result; the engine's realized binding wins over the request.
func resolvePorts(requested map[int]int, realized map[int]int) map[int]int {
	resolved := make(map[int]int, len(requested))
	for containerPort, hostPort := range requested {
		if actual, ok := realized[containerPort]; ok {
			resolved[containerPort] = actual
			continue
		}
		if hostPort != 0 {
			resolved[containerPort] = hostPort
		}
	}
	return resolved
}

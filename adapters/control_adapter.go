// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-relay/api"
	"github.com/momentics/hioload-relay/control"
)

// ControlAdapter bundles config, metrics and debug probes of one relay.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// StatMetricsUpdated is the Stats key carrying the last metric change time.
const StatMetricsUpdated = "metrics.updated"

// NewControlAdapter returns an adapter with empty config and metrics and the
// platform probes already registered.
func NewControlAdapter() *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

// GetConfig returns a snapshot of the published configuration.
func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig merges cfg into the published configuration and runs every
// listener registered with OnConfigChange. The owner decides which keys take
// effect at runtime.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// OnConfigChange registers fn to receive the merged configuration after each
// SetConfig.
func (c *ControlAdapter) OnConfigChange(fn func(map[string]any)) {
	c.config.OnChange(fn)
}

// Stats merges metrics and probe output; probes are prefixed with "debug.".
// "metrics.updated" holds the time of the last metric change, once there was one.
func (c *ControlAdapter) Stats() map[string]any {
	stats, updated := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats)+1)
	for k, v := range stats {
		combined[k] = v
	}
	if !updated.IsZero() {
		combined[StatMetricsUpdated] = updated
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

// RegisterDebugProbe adds a named probe whose result is reported by Stats
// under "debug.<name>". A later registration replaces an earlier one.
func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Metrics exposes the registry for the owning server to update.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry {
	return c.metrics
}

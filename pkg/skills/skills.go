// Package skills registers the agent's tool catalog, grouped by capability
// area. Registration order is catalog order.
package skills

import (
	"fmt"

	"github.com/roostlabs/roost/pkg/bus"
	"github.com/roostlabs/roost/pkg/capture"
	"github.com/roostlabs/roost/pkg/memory"
	"github.com/roostlabs/roost/pkg/tool"
	"github.com/roostlabs/roost/pkg/watcher"
	"github.com/roostlabs/roost/pkg/world"
)

// Deps carries the wired subsystems tools act on.
type Deps struct {
	Bridge   *bus.Bridge
	World    *world.Model
	Watchers *watcher.Engine
	Captures *capture.Router
	Memory   *memory.Manager
}

// RegisterAll installs every skill into the registry.
func RegisterAll(r *tool.Registry, d Deps) error {
	for _, register := range []func(*tool.Registry, Deps) error{
		registerBus,
		registerNodes,
		registerWatchers,
		registerData,
		registerMemory,
		registerSystem,
	} {
		if err := register(r, d); err != nil {
			return fmt.Errorf("registering skills: %w", err)
		}
	}
	return nil
}

func registerEach(r *tool.Registry, defs []tool.Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

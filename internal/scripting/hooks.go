package scripting

import (
	"github.com/l1jgo/worldsync/internal/visibility"
	"github.com/l1jgo/worldsync/internal/world"
)

// RadiusHook returns a visibility radius override backed by view_radius.
// It returns nil when no script defines the hook.
func (e *Engine) RadiusHook(state *world.State, actors string) visibility.RadiusFunc {
	if !e.Has("view_radius") {
		return nil
	}
	return func(observer string, base int) int {
		var fields map[string]any
		if c := state.Collection(actors); c != nil {
			if a, ok := c.Get(observer); ok {
				fields = a.Flat()
			}
		}
		return e.ViewRadius(observer, base, fields)
	}
}

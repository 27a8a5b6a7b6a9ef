// Package analysis runs per-game metric plugins. Pure plugins work from the
// parsed game alone; engine plugins additionally consult a UCI engine.
package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/notnil/chess"
)

// Plugin is the common surface of all analysis plugins. Name doubles as the
// key under which results land in the game's metrics document.
type Plugin interface {
	Name() string
	Version() string
}

// GamePlugin computes a metric from the parsed game alone.
type GamePlugin interface {
	Plugin
	Analyze(g *chess.Game) (json.RawMessage, error)
}

// EnginePlugin computes a metric with the help of a UCI engine.
type EnginePlugin interface {
	Plugin
	AnalyzeWithEngine(g *chess.Game, eng Engine) (json.RawMessage, error)
}

// Registry holds the enabled plugins in registration order.
type Registry struct {
	plugins []Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with every built-in plugin enabled.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []Plugin{
		&MoveCount{},
		&TimeStats{},
		&Castling{},
		&LargestSwing{},
	} {
		if err := r.Register(p); err != nil {
			panic(err) // built-ins have unique names
		}
	}
	return r
}

// Register adds a plugin. Duplicate names are rejected because the name is
// the metrics key.
func (r *Registry) Register(p Plugin) error {
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin %q already registered", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// Plugins returns the registered plugins in order.
func (r *Registry) Plugins() []Plugin {
	return r.plugins
}

// Names returns the registered plugin names in order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// NeedsEngine reports whether any registered plugin requires an engine.
func (r *Registry) NeedsEngine() bool {
	for _, p := range r.plugins {
		if _, ok := p.(EnginePlugin); ok {
			return true
		}
	}
	return false
}

// Package module implements the hooks service module
package module

import (
	"agpm/internal/modkit"
	"agpm/internal/services/hooks/domain"
	"agpm/internal/services/hooks/service"
)

// Ports exposed by the hooks module
type Ports struct {
	Emitter domain.EmitterPort
}

// Module implements the hooks service module
type Module struct {
	deps       modkit.Deps
	ports      Ports
	dispatcher *service.Dispatcher
}

// New constructs the hooks module; settings come from env plus the caller's
// programmatic action lists
func New(deps modkit.Deps, settings domain.Settings) (*Module, error) {
	d, err := service.New(settings, deps.Log)
	if err != nil {
		return nil, err
	}
	m := &Module{deps: deps, dispatcher: d}
	m.ports = Ports{Emitter: d}
	return m, nil
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return "hooks" }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// Stop drains the queue and joins the worker
func (m *Module) Stop() { m.dispatcher.Stop() }

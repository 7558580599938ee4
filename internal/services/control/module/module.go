// Package module implements the control server module
package module

import (
	"context"
	"net"

	"agpm/internal/core/rules"
	"agpm/internal/modkit"
	"agpm/internal/services/control/service"
)

// Ports exposed by the control module
type Ports struct {
	Runner RunnerPort
}

// RunnerPort is the lifecycle surface the main wires to signals
type RunnerPort interface {
	Start(ctx context.Context) error
	Addr() net.Addr
	Stop()
}

// Module implements the control service module
type Module struct {
	deps  modkit.Deps
	ports Ports
	srv   *service.Server
}

// New constructs the control module around a backend
func New(deps modkit.Deps, backend service.Backend, gate rules.MergeGate, prot *rules.Protection) *Module {
	opts := FromConfig(deps.Cfg)
	srv := service.New(opts, backend, gate, prot, deps.Log)

	m := &Module{deps: deps, srv: srv}
	m.ports = Ports{Runner: srv}
	return m
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return "control" }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// Sink mirrors protocol lines to an operator callback
func (m *Module) Sink(fn func(string)) { m.srv.Sink = fn }

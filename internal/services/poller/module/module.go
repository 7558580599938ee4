// Package module wires the poll orchestrator from shared deps
package module

import (
	"context"
	"time"

	"agpm/internal/core/rules"
	"agpm/internal/modkit"
	"agpm/internal/platform/workpool"
	"agpm/internal/services/poller/domain"
	"agpm/internal/services/poller/service"

	hookdom "agpm/internal/services/hooks/domain"
)

// Ports exposed by the poller module
type Ports struct {
	Runner RunnerPort
}

// RunnerPort is the lifecycle surface the main wires to signals
type RunnerPort interface {
	Start(ctx context.Context)
	Sweep(ctx context.Context) error
	Stop()
}

// Module implements the poller service module
type Module struct {
	deps  modkit.Deps
	ports Ports
	svc   *service.Service
}

// Wiring carries the cross module collaborators the env cannot express
type Wiring struct {
	Client     domain.ClientPort
	History    domain.HistoryPort
	Emitter    hookdom.EmitterPort
	Pool       *workpool.Pool
	Protection *rules.Protection
	Gate       rules.MergeGate
	Callbacks  domain.Callbacks
}

// New constructs the poller module
func New(deps modkit.Deps, w Wiring) *Module {
	cfg := FromConfig(deps.Cfg)

	var emitter domain.EmitterPort
	if w.Emitter != nil {
		emitter = hookEmitter{sink: w.Emitter}
	}
	svc := service.New(cfg, service.Deps{
		Client:     w.Client,
		History:    w.History,
		Emitter:    emitter,
		Pool:       w.Pool,
		Protection: w.Protection,
		Gate:       w.Gate,
		Callbacks:  w.Callbacks,
		Log:        deps.Log,
	})

	m := &Module{deps: deps, svc: svc}
	m.ports = Ports{Runner: svc}
	return m
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return "poller" }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// hookEmitter adapts the hooks event type onto the orchestrator port
type hookEmitter struct {
	sink hookdom.EmitterPort
}

func (e hookEmitter) Emit(name string, data map[string]any) {
	e.sink.Emit(hookdom.Event{Name: name, Timestamp: time.Now().UTC(), Data: data})
}

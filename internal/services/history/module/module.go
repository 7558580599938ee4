// Package module implements the history service module
package module

import (
	"agpm/internal/modkit"
	"agpm/internal/services/history/domain"
	"agpm/internal/services/history/repo"
	"agpm/internal/services/history/service"

	perr "agpm/internal/platform/errors"
)

// Ports exposed by the history module
type Ports struct {
	Store  domain.StorePort
	Export domain.ExportPort
}

// Module implements the history service module
type Module struct {
	deps  modkit.Deps
	ports Ports
	store *repo.SQLite
}

// New constructs a history module. The database handle comes from deps when
// present, otherwise the configured file path is opened here
func New(deps modkit.Deps) (*Module, error) {
	opts := FromConfig(deps.Cfg)

	var (
		store *repo.SQLite
		err   error
	)
	if deps.DB != nil {
		store, err = repo.New(deps.DB)
	} else {
		if opts.Path == "" {
			return nil, perr.Newf(perr.ErrorCodeConfig, "history path not configured")
		}
		store, err = repo.Open(opts.Path)
	}
	if err != nil {
		return nil, err
	}

	svc := service.New(store)
	m := &Module{deps: deps, store: store}
	m.ports = Ports{
		Store:  svc,
		Export: svc,
	}
	return m, nil
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return "history" }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// Close releases the store when this module opened it
func (m *Module) Close() error {
	if m.deps.DB != nil {
		return nil
	}
	return m.store.Close()
}

// Package modkit provides module wiring and core deps
package modkit

import (
	"database/sql"

	"agpm/internal/platform/config"
	"agpm/internal/platform/logger"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log logger.Logger
	Cfg config.Conf
	DB  *sql.DB
}

// ZeroOK returns true when deps are safe to use with zero values in tests
// consumers should still nil check the optional DB
func (d Deps) ZeroOK() bool { return true }

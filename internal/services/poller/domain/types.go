// Package domain declares the poll orchestrator's configuration and ports
package domain

import (
	"time"

	"agpm/internal/adapters/github"
	"agpm/internal/core/textsort"
)

// Settings steers one orchestrator instance
type Settings struct {
	// Interval between sweeps; 0 disables periodic polling and leaves
	// Sweep to be driven on demand
	Interval time.Duration

	// Repos pins the sweep to explicit owner/name refs. Empty means
	// discover through the remote listing
	Repos []github.RepoRef

	// Sweep scope
	IncludeMerged bool
	OnlyPulls     bool
	OnlyStray     bool

	// Destructive toggles
	AutoMerge       bool
	RejectDirty     bool
	DeleteStray     bool
	AllowDeleteBase bool

	// Branch purge
	PurgePrefix string
	PurgeOnly   bool

	// Pull listing controls
	PullLimit  int
	PullSince  time.Duration
	SinglePage bool
	Sort       textsort.Mode

	// Hook thresholds; 0 disables
	PullThreshold   int
	BranchThreshold int
}

// Callbacks are the optional observer hooks invoked during a sweep
type Callbacks struct {
	// OnPulls receives the aggregated, sorted pull request list
	OnPulls func(pulls []github.PullRequest)

	// OnStray receives the per repo stray candidate count
	OnStray func(repo github.RepoRef, count int)
}

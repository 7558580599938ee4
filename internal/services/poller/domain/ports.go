package domain

import (
	"context"
	"time"

	"agpm/internal/adapters/github"
	"agpm/internal/core/rules"
)

// ClientPort is the slice of the remote client the orchestrator drives
type ClientPort interface {
	ListRepositories(ctx context.Context) ([]github.RepoRef, error)
	ListPullRequests(
		ctx context.Context,
		repo github.RepoRef,
		includeMerged bool,
		perPage int,
		since time.Duration,
	) ([]github.PullRequest, error)
	ListOpenPullRequests(ctx context.Context, repo github.RepoRef, limit int) ([]github.PullRequest, error)
	MergePullRequest(ctx context.Context, repo github.RepoRef, number int, gate rules.MergeGate) (bool, error)
	ClosePullRequest(ctx context.Context, repo github.RepoRef, number int) (bool, error)
	ListBranches(ctx context.Context, repo github.RepoRef) ([]github.Branch, error)
	DeleteBranch(ctx context.Context, repo github.RepoRef, ref string, prot *rules.Protection) (bool, error)
	CleanupBranches(ctx context.Context, repo github.RepoRef, prefix string, prot *rules.Protection) (int, error)
	CloseDirtyBranches(
		ctx context.Context,
		repo github.RepoRef,
		prot *rules.Protection,
		allowDeleteBase bool,
	) (int, error)
}

// HistoryPort records every pull request the sweep sees
type HistoryPort interface {
	Insert(ctx context.Context, number int, title string, merged bool) error
	MarkMerged(ctx context.Context, number int) error
}

// EmitterPort forwards hook events; a nil emitter silences them
type EmitterPort interface {
	Emit(name string, data map[string]any)
}

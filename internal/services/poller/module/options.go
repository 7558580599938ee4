package module

import (
	"time"

	"agpm/internal/adapters/github"
	"agpm/internal/core/textsort"
	"agpm/internal/platform/config"
	"agpm/internal/services/poller/domain"
)

// FromConfig reads orchestrator settings from the scoped env view.
// The single page listing path kicks in when the local rate cap leaves no
// room for pagination or when the caller asks for it outright
func FromConfig(cfg config.Conf) domain.Settings {
	pf := cfg.Prefix("POLL_")
	maxRate := cfg.MayInt("MAX_REQUEST_RATE", 0)

	var repos []github.RepoRef
	for _, slug := range cfg.MayCSV("REPOS", nil) {
		if ref, ok := github.ParseRepoRef(slug); ok {
			repos = append(repos, ref)
		}
	}

	return domain.Settings{
		Interval:        time.Duration(pf.MayInt("INTERVAL", 0)) * time.Second,
		Repos:           repos,
		IncludeMerged:   cfg.MayBool("INCLUDE_MERGED", false),
		OnlyPulls:       cfg.MayBool("ONLY_POLL_PRS", false),
		OnlyStray:       cfg.MayBool("ONLY_POLL_STRAY", false),
		AutoMerge:       cfg.MayBool("AUTO_MERGE", false),
		RejectDirty:     cfg.MayBool("REJECT_DIRTY", false),
		DeleteStray:     cfg.MayBool("DELETE_STRAY", false),
		AllowDeleteBase: cfg.MayBool("ALLOW_DELETE_BASE_BRANCH", false),
		PurgePrefix:     cfg.MayString("PURGE_PREFIX", ""),
		PurgeOnly:       cfg.MayBool("PURGE_ONLY", false),
		PullLimit:       cfg.MayInt("PR_LIMIT", 0),
		PullSince:       time.Duration(cfg.MayInt("PR_SINCE", 0)) * time.Second,
		SinglePage:      maxRate == 1 || cfg.MayBool("USE_GRAPHQL", false),
		Sort:            textsort.ParseMode(cfg.MayString("SORT", "alpha")),
		PullThreshold:   cfg.Prefix("HOOK_").MayInt("PULL_THRESHOLD", 0),
		BranchThreshold: cfg.Prefix("HOOK_").MayInt("BRANCH_THRESHOLD", 0),
	}
}

// Package service runs the poll orchestrator
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"agpm/internal/adapters/github"
	"agpm/internal/core/rules"
	"agpm/internal/core/textsort"
	"agpm/internal/platform/logger"
	"agpm/internal/platform/workpool"
	"agpm/internal/services/poller/domain"
)

// Deps is everything the orchestrator needs wired in
type Deps struct {
	Client     domain.ClientPort
	History    domain.HistoryPort
	Emitter    domain.EmitterPort
	Pool       *workpool.Pool
	Protection *rules.Protection
	Gate       rules.MergeGate
	Decider    rules.PullDecider
	Brancher   rules.BranchDecider
	Callbacks  domain.Callbacks
	Log        logger.Logger
}

// Service owns the supervisor loop and the per repo sweep tasks
type Service struct {
	cfg  domain.Settings
	deps Deps
	log  logger.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	started bool
}

// New constructs the orchestrator; Start launches the supervisor
func New(cfg domain.Settings, deps Deps) *Service {
	return &Service{cfg: cfg, deps: deps, log: deps.Log, done: make(chan struct{})}
}

// Start launches the supervisor. With a zero interval it runs a single sweep
// and the supervisor parks until Stop
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	go s.supervise(ctx)
}

// Stop cancels the supervisor, joins it, then stops the pool.
// Idempotent, and safe before Start
func (s *Service) Stop() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.started {
			<-s.done
		}
		if s.deps.Pool != nil {
			s.deps.Pool.Stop()
		}
	})
}

func (s *Service) supervise(ctx context.Context) {
	defer close(s.done)

	if err := s.Sweep(ctx); err != nil {
		s.log.Error().Err(err).Msg("initial sweep failed")
	}
	if s.cfg.Interval <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(s.cfg.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep fans one task per repository out to the pool, waits for all of them,
// then sorts the aggregated pull list and fires callbacks and thresholds.
// A failing repo marks its task Failed and never stops the rest
func (s *Service) Sweep(ctx context.Context) error {
	repos := s.cfg.Repos
	if len(repos) == 0 {
		discovered, err := s.deps.Client.ListRepositories(ctx)
		if err != nil {
			return err
		}
		repos = discovered
	}

	var (
		mu       sync.Mutex
		pulls    []github.PullRequest
		branches int
		handles  []*workpool.Handle
	)
	for _, repo := range repos {
		repo := repo
		h := s.deps.Pool.Submit(repo.Slug(), func(ctx context.Context) error {
			ps, bs, err := s.pollRepo(ctx, repo)
			mu.Lock()
			pulls = append(pulls, ps...)
			branches += bs
			mu.Unlock()
			return err
		})
		handles = append(handles, h)
	}
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			// already recorded on the pool snapshot; sweep goes on
			s.log.Warn().Err(err).Msg("repository task failed")
		}
	}

	textsort.By(pulls, func(p github.PullRequest) string { return p.Title }, s.cfg.Sort)
	if s.deps.Callbacks.OnPulls != nil {
		s.deps.Callbacks.OnPulls(pulls)
	}
	s.fireThresholds(len(pulls), branches)
	return ctx.Err()
}

func (s *Service) fireThresholds(pullCount, branchCount int) {
	if s.deps.Emitter == nil {
		return
	}
	if s.cfg.PullThreshold > 0 && pullCount >= s.cfg.PullThreshold {
		s.deps.Emitter.Emit("poll.pull_threshold", map[string]any{
			"count":     pullCount,
			"threshold": s.cfg.PullThreshold,
		})
	}
	if s.cfg.BranchThreshold > 0 && branchCount >= s.cfg.BranchThreshold {
		s.deps.Emitter.Emit("poll.branch_threshold", map[string]any{
			"count":     branchCount,
			"threshold": s.cfg.BranchThreshold,
		})
	}
}

// pollRepo runs the five sweep steps for one repository
func (s *Service) pollRepo(ctx context.Context, repo github.RepoRef) ([]github.PullRequest, int, error) {
	log := s.log.With().Str("repo", repo.Slug()).Logger()

	// purge only mode does nothing but branch cleanup
	if s.cfg.PurgeOnly {
		n, err := s.deps.Client.CleanupBranches(ctx, repo, s.cfg.PurgePrefix, s.deps.Protection)
		if n > 0 {
			log.Info().Int("deleted", n).Msg("purge only cleanup")
		}
		return nil, 0, err
	}

	var pulls []github.PullRequest
	if !s.cfg.OnlyStray {
		var err error
		pulls, err = s.sweepPulls(ctx, repo, log)
		if err != nil {
			return pulls, 0, err
		}
	}

	branchCount := 0
	if !s.cfg.OnlyPulls {
		n, err := s.sweepBranches(ctx, repo, log)
		if err != nil {
			return pulls, n, err
		}
		branchCount = n
	}

	if s.cfg.PurgePrefix != "" {
		if n, err := s.deps.Client.CleanupBranches(ctx, repo, s.cfg.PurgePrefix, s.deps.Protection); err != nil {
			return pulls, branchCount, err
		} else if n > 0 {
			log.Info().Int("deleted", n).Msg("cleanup removed closed pull branches")
		}
	}

	if s.cfg.RejectDirty && !s.cfg.OnlyPulls {
		n, err := s.deps.Client.CloseDirtyBranches(ctx, repo, s.deps.Protection, s.cfg.AllowDeleteBase)
		if err != nil {
			return pulls, branchCount, err
		}
		if n > 0 {
			log.Info().Int("deleted", n).Msg("dirty branches closed")
		}
	}
	return pulls, branchCount, nil
}

// sweepPulls lists, records, and (when enabled) acts on pull requests
func (s *Service) sweepPulls(ctx context.Context, repo github.RepoRef, log logger.Logger) ([]github.PullRequest, error) {
	var (
		pulls []github.PullRequest
		err   error
	)
	if s.cfg.SinglePage {
		pulls, err = s.deps.Client.ListOpenPullRequests(ctx, repo, s.cfg.PullLimit)
	} else {
		pulls, err = s.deps.Client.ListPullRequests(ctx, repo, s.cfg.IncludeMerged, s.cfg.PullLimit, s.cfg.PullSince)
	}
	if err != nil {
		return nil, err
	}

	for _, pr := range pulls {
		if s.deps.History != nil {
			if herr := s.deps.History.Insert(ctx, pr.Number, pr.Title, pr.Merged); herr != nil {
				log.Warn().Err(herr).Int("number", pr.Number).Msg("history insert failed, continuing")
			}
		}
		if !s.cfg.AutoMerge {
			continue
		}
		s.actOnPull(ctx, repo, pr, log)
	}
	return pulls, nil
}

func (s *Service) actOnPull(ctx context.Context, repo github.RepoRef, pr github.PullRequest, log logger.Logger) {
	action := s.deps.Decider.Decide(rules.PullInput{
		State:          pr.State,
		MergeableState: pr.MergeableState,
		Draft:          pr.Draft,
		Checks:         pr.Checks,
	})
	switch action {
	case rules.ActionMerge:
		ok, err := s.deps.Client.MergePullRequest(ctx, repo, pr.Number, s.deps.Gate)
		if err != nil {
			log.Warn().Err(err).Int("number", pr.Number).Msg("merge failed")
			return
		}
		if !ok {
			return
		}
		if s.deps.History != nil {
			if herr := s.deps.History.MarkMerged(ctx, pr.Number); herr != nil {
				log.Warn().Err(herr).Int("number", pr.Number).Msg("history update failed")
			}
		}
		s.emitPull("pull.merged", repo, pr)
		log.Info().Int("number", pr.Number).Msg("pull request merged")

	case rules.ActionClose:
		ok, err := s.deps.Client.ClosePullRequest(ctx, repo, pr.Number)
		if err != nil {
			log.Warn().Err(err).Int("number", pr.Number).Msg("close failed")
			return
		}
		if ok {
			s.emitPull("pull.closed", repo, pr)
			log.Info().Int("number", pr.Number).Msg("pull request closed")
		}

	default:
		log.Debug().Int("number", pr.Number).Str("action", action.String()).Msg("pull request left alone")
	}
}

// sweepBranches marks stray candidates and optionally deletes them
func (s *Service) sweepBranches(ctx context.Context, repo github.RepoRef, log logger.Logger) (int, error) {
	branches, err := s.deps.Client.ListBranches(ctx, repo)
	if err != nil {
		return 0, err
	}

	var stray []github.Branch
	for _, b := range branches {
		if s.cfg.PurgePrefix != "" && strings.HasPrefix(b.Ref, s.cfg.PurgePrefix) {
			continue
		}
		stray = append(stray, b)
	}
	if s.deps.Callbacks.OnStray != nil {
		s.deps.Callbacks.OnStray(repo, len(stray))
	}
	log.Debug().Int("total", len(branches)).Int("stray", len(stray)).Msg("branch sweep")

	if !s.cfg.DeleteStray {
		return len(branches), nil
	}
	for _, b := range stray {
		action := s.deps.Brancher.Decide(rules.BranchInput{Stray: true})
		if action != rules.ActionDelete {
			continue
		}
		ok, derr := s.deps.Client.DeleteBranch(ctx, repo, b.Ref, s.deps.Protection)
		if derr != nil {
			return len(branches), derr
		}
		if ok {
			s.emitBranch("branch.deleted", repo, b.Ref)
			log.Info().Str("ref", b.Ref).Msg("stray branch deleted")
		}
	}
	return len(branches), nil
}

func (s *Service) emitPull(name string, repo github.RepoRef, pr github.PullRequest) {
	if s.deps.Emitter == nil {
		return
	}
	s.deps.Emitter.Emit(name, map[string]any{
		"owner":  repo.Owner,
		"repo":   repo.Name,
		"number": pr.Number,
		"title":  pr.Title,
	})
}

func (s *Service) emitBranch(name string, repo github.RepoRef, ref string) {
	if s.deps.Emitter == nil {
		return
	}
	s.deps.Emitter.Emit(name, map[string]any{
		"owner":  repo.Owner,
		"repo":   repo.Name,
		"branch": ref,
	})
}

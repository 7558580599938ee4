// Command agpm-poller is the monitoring daemon: it sweeps the configured
// repositories, applies the merge and branch rules, and serves the optional
// control and status surfaces
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"agpm/internal/adapters/github"
	"agpm/internal/core/rules"
	"agpm/internal/modkit"
	"agpm/internal/modkit/module"
	"agpm/internal/platform/config"
	"agpm/internal/platform/logger"
	"agpm/internal/platform/ratelimit"
	"agpm/internal/platform/workpool"
	"agpm/internal/services/status"

	controlmod "agpm/internal/services/control/module"
	historymod "agpm/internal/services/history/module"
	hooksmod "agpm/internal/services/hooks/module"
	pollerdom "agpm/internal/services/poller/domain"
	pollermod "agpm/internal/services/poller/module"
)

// settings is the validated bootstrap surface; everything else is read by the
// modules through their own config prefixes
type settings struct {
	Token           string  `validate:"required"`
	APIBase         string  `validate:"omitempty,url"`
	MaxRequestRate  int     `validate:"gte=0"`
	MaxHourly       int     `validate:"gte=0"`
	RateLimitMargin float64 `validate:"gte=0,lte=1"`
	Workers         int     `validate:"gte=0"`
	HTTPTimeout     int     `validate:"gte=0"`
	HTTPRetries     int     `validate:"gte=0,lte=10"`
	PerPage         int     `validate:"gte=0,lte=100"`
}

func mustSetEnv(key, val string) {
	if val != "" {
		_ = os.Setenv(key, val)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	// flags override their env equivalents so operators can do one-off runs
	var (
		fRepos     = flag.String("repos", "", "comma separated owner/name list (overrides AGPM_REPOS)")
		fInterval  = flag.Int("interval", -1, "poll interval seconds, 0 for a single sweep (overrides AGPM_POLL_INTERVAL)")
		fPurgeOnly = flag.Bool("purge-only", false, "only purge matching branches, skip the sweeps")
		fSort      = flag.String("sort", "", "pull request sort mode: alpha | reverse | alphanum | reverse-alphanum")
		fYes       = flag.Bool("yes", false, "skip the confirmation prompt for destructive options")
	)
	flag.Parse()

	mustSetEnv("AGPM_REPOS", *fRepos)
	if *fInterval >= 0 {
		_ = os.Setenv("AGPM_POLL_INTERVAL", fmt.Sprintf("%d", *fInterval))
	}
	if *fPurgeOnly {
		_ = os.Setenv("AGPM_PURGE_ONLY", "true")
	}
	mustSetEnv("AGPM_SORT", *fSort)

	root := config.New().Prefix("AGPM_")
	log := logger.Get()

	st := settings{
		Token:           root.MayString("TOKEN", ""),
		APIBase:         root.MayString("API_BASE", ""),
		MaxRequestRate:  root.MayInt("MAX_REQUEST_RATE", 0),
		MaxHourly:       root.MayInt("MAX_HOURLY_REQUESTS", 0),
		RateLimitMargin: root.MayFloat64("RATE_LIMIT_MARGIN", 0.7),
		Workers:         root.MayInt("WORKERS", 0),
		HTTPTimeout:     root.MayInt("HTTP_TIMEOUT", 30),
		HTTPRetries:     root.MayInt("HTTP_RETRIES", 3),
		PerPage:         root.MayInt("PR_LIMIT", 0),
	}
	if err := validator.New().Struct(st); err != nil {
		log.Error().Err(err).Msg("configuration invalid")
		return 1
	}

	if destructive(root) && !*fYes {
		if !confirm("destructive options enabled (purge/delete); proceed? [y/N] ") {
			log.Warn().Msg("cancelled by operator")
			return 2
		}
	}

	// platform pieces
	pool := workpool.New(workpool.Options{
		Workers: st.Workers,
		OnBacklog: func(outstanding int, clearance time.Duration) {
			log.Warn().Int("outstanding", outstanding).Dur("clearance", clearance).Msg("work pool backlog")
		},
	})
	gov := ratelimit.New(ratelimit.Options{
		RequestsPerMinute: st.MaxRequestRate,
		MaxHourly:         st.MaxHourly,
		Margin:            st.RateLimitMargin,
		QueueMargin:       root.MayFloat64("QUEUE_MARGIN", 0),
		QueueSlack:        root.MayInt("QUEUE_SLACK", 0),
		ProbeRetries:      root.MayInt("RATE_LIMIT_PROBE_RETRIES", 0),
		Outstanding:       pool.Outstanding,
	})
	cache := github.NewCache(
		root.MayString("CACHE_PATH", ""),
		time.Duration(root.MayInt("CACHE_FLUSH_INTERVAL", 0))*time.Second,
	)
	client := github.NewClient(github.Options{
		BaseURL:       st.APIBase,
		Token:         st.Token,
		Timeout:       time.Duration(st.HTTPTimeout) * time.Second,
		MaxRetries:    st.HTTPRetries,
		DownloadLimit: root.MayInt("DOWNLOAD_LIMIT", 0),
		UploadLimit:   root.MayInt("UPLOAD_LIMIT", 0),
		MaxDownload:   int64(root.MayInt("MAX_DOWNLOAD", 0)),
		MaxUpload:     int64(root.MayInt("MAX_UPLOAD", 0)),
		Include:       root.MayCSV("INCLUDE_REPOS", nil),
		Exclude:       root.MayCSV("EXCLUDE_REPOS", nil),
		PerPage:       st.PerPage,
	}, gov, cache)

	prot, err := rules.CompileProtection(
		root.MayCSV("PROTECTED_BRANCHES", nil),
		root.MayCSV("PROTECTED_BRANCH_EXCLUDES", nil),
	)
	if err != nil {
		log.Error().Err(err).Msg("branch protection invalid")
		return 1
	}
	gate := rules.MergeGate{
		RequiredApprovals:    root.MayInt("REQUIRED_APPROVALS", 0),
		RequireMergeable:     root.MayBool("REQUIRE_MERGEABLE", false),
		RequireCleanState:    root.MayBool("REQUIRE_MERGEABLE_STATE", false),
		RequireStatusSuccess: root.MayBool("REQUIRE_STATUS_SUCCESS", false),
	}

	deps := modkit.Deps{Cfg: root, Log: *log}

	// modules
	history, err := historymod.New(deps)
	if err != nil {
		log.Error().Err(err).Msg("history store failed to open")
		return 1
	}
	defer func() { _ = history.Close() }()
	module.Register(history.Name(), history.Ports())
	histPorts := module.MustPortsOf[historymod.Ports](history)

	hooks, err := hooksmod.New(deps, hooksmod.FromConfig(root))
	if err != nil {
		log.Error().Err(err).Msg("hook configuration invalid")
		return 1
	}
	module.Register(hooks.Name(), hooks.Ports())
	hookPorts := module.MustPortsOf[hooksmod.Ports](hooks)

	poller := pollermod.New(deps, pollermod.Wiring{
		Client:     client,
		History:    histPorts.Store,
		Emitter:    hookPorts.Emitter,
		Pool:       pool,
		Protection: prot,
		Gate:       gate,
		Callbacks: pollerdom.Callbacks{
			OnPulls: func(pulls []github.PullRequest) {
				log.Info().Int("count", len(pulls)).Msg("aggregated pull requests")
			},
			OnStray: func(repo github.RepoRef, count int) {
				if count > 0 {
					log.Info().Str("repo", repo.Slug()).Int("stray", count).Msg("stray branch candidates")
				}
			},
		},
	})
	module.Register(poller.Name(), poller.Ports())
	runner := module.MustPortsOf[pollermod.Ports](poller).Runner

	var control *controlmod.Module
	if root.Prefix("MCP_").MayBool("ENABLED", false) {
		control = controlmod.New(deps, client, gate, prot)
		control.Sink(func(line string) { log.Debug().Str("line", line).Msg("control") })
		module.Register(control.Name(), control.Ports())
	}

	var statusSrv *status.Server
	if addr := root.MayString("STATUS_ADDR", ""); addr != "" {
		statusSrv = status.NewServer(addr, status.Deps{
			Governor: gov,
			Pool:     pool,
			History:  histPorts.Store,
			Log:      *log,
		})
	}

	// lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// periodic budget probes keep the governor's server view fresh and let it
	// degrade to local throttling when the probes keep failing
	refresh := time.Duration(root.MayInt("RATE_LIMIT_REFRESH_INTERVAL", 0)) * time.Second
	client.StartBudgetProber(ctx, refresh)

	if control != nil {
		ctrlRunner := module.MustPortsOf[controlmod.Ports](control).Runner
		if err := ctrlRunner.Start(ctx); err != nil {
			log.Error().Err(err).Msg("control server failed to start")
			return 1
		}
	}
	if statusSrv != nil {
		statusSrv.Start()
	}
	runner.Start(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	got := <-sig
	log.Info().Str("signal", got.String()).Msg("shutting down")

	// ordered shutdown: stop the surfaces, then the sweeps, then the sinks
	if control != nil {
		module.MustPortsOf[controlmod.Ports](control).Runner.Stop()
	}
	if statusSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		_ = statusSrv.Stop(shutdownCtx)
		done()
	}
	cancel()
	runner.Stop()
	hooks.Stop()
	if err := cache.Close(); err != nil {
		log.Warn().Err(err).Msg("cache flush on shutdown failed")
	}
	return 0
}

// destructive reports whether any irreversible toggle is active
func destructive(root config.Conf) bool {
	return root.MayBool("PURGE_ONLY", false) ||
		root.MayBool("DELETE_STRAY", false) ||
		root.MayBool("REJECT_DIRTY", false) ||
		root.MayString("PURGE_PREFIX", "") != ""
}

func confirm(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

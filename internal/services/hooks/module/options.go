package module

import (
	"agpm/internal/platform/config"
	"agpm/internal/services/hooks/domain"
)

// FromConfig reads the env-expressible part of the hook settings.
// Structured action lists are supplied programmatically by the caller;
// the env surface covers the common single-sink setups
func FromConfig(cfg config.Conf) domain.Settings {
	hf := cfg.Prefix("HOOK_")
	s := domain.Settings{
		Enabled:         hf.MayBool("ENABLED", false),
		PullThreshold:   hf.MayInt("PULL_THRESHOLD", 0),
		BranchThreshold: hf.MayInt("BRANCH_THRESHOLD", 0),
		QueueSize:       hf.MayInt("QUEUE", 0),
	}
	if cmd := hf.MayString("COMMAND", ""); cmd != "" {
		s.DefaultActions = append(s.DefaultActions, domain.Action{
			Kind:    domain.ActionCommand,
			Command: cmd,
		})
	}
	if ep := hf.MayString("ENDPOINT", ""); ep != "" {
		s.DefaultActions = append(s.DefaultActions, domain.Action{
			Kind:     domain.ActionHTTP,
			Endpoint: ep,
			Method:   hf.MayString("METHOD", ""),
		})
	}
	return s
}

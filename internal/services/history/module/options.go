package module

import "agpm/internal/platform/config"

// Options holds configuration settings for the history module
type Options struct {
	Path string
}

// FromConfig reads configuration settings from the config.Conf
func FromConfig(cfg config.Conf) Options {
	hf := cfg.Prefix("HISTORY_")
	return Options{
		Path: hf.MayString("DB", "agpm-history.db"),
	}
}

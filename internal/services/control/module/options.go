package module

import (
	"agpm/internal/platform/config"
	"agpm/internal/services/control/service"
)

// FromConfig reads the control server settings
func FromConfig(cfg config.Conf) service.Settings {
	mf := cfg.Prefix("MCP_")
	return service.Settings{
		BindAddress: mf.MayString("BIND", "127.0.0.1"),
		Port:        mf.MayInt("PORT", 0),
		MaxClients:  mf.MayInt("MAX_CLIENTS", 0),
	}
}

package service

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	perr "agpm/internal/platform/errors"
	"agpm/internal/services/hooks/domain"
)

// commandEnv builds the scoped environment for a command action.
// Handing the variables to the child process only keeps the parent
// environment untouched for the rest of the run
func commandEnv(event string, a domain.Action, payload []byte) []string {
	env := append(os.Environ(),
		"AGPM_HOOK_EVENT="+event,
		"AGPM_HOOK_PAYLOAD="+string(payload),
		"AGPM_HOOK_COMMAND="+a.Command,
	)
	for _, p := range a.Parameters {
		name, value := p, p
		if n, v, ok := strings.Cut(p, "="); ok {
			name, value = n, v
		}
		env = append(env, "AGPM_HOOK_PARAM_"+sanitizeEnvName(name)+"="+value)
	}
	return env
}

// sanitizeEnvName uppercases and replaces every non alphanumeric byte with '_'
func sanitizeEnvName(s string) string {
	if s == "" {
		return "PARAM"
	}
	b := []byte(strings.ToUpper(s))
	for i, c := range b {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}

// runCommand executes the action through the platform shell
func runCommand(ctx context.Context, a domain.Action, env []string) error {
	if strings.TrimSpace(a.Command) == "" {
		return perr.Newf(perr.ErrorCodeInvalidArgument, "hook command empty")
	}
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd", "/C", a.Command)
	} else {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", a.Command)
	}
	cmd.Env = env
	if out, err := cmd.CombinedOutput(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "hook command failed: %s", firstLine(out))
	}
	return nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

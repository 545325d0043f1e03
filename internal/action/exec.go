package action

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/filewatchd/internal/config"
)

// defaultExecTimeout bounds how long a spawned process may run before it is
// killed.
const defaultExecTimeout = 60 * time.Second

// ExecRunner spawns a process for each settled file. With shell set it runs
// the configured command through the platform shell (script execution);
// otherwise the command is executed directly.
type ExecRunner struct {
	shell   bool
	timeout time.Duration
	log     zerolog.Logger
}

// NewExecRunner creates a direct process runner.
func NewExecRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		timeout: defaultExecTimeout,
		log:     log.With().Str("component", "exec").Logger(),
	}
}

// NewScriptRunner creates a runner that executes the command via the shell.
func NewScriptRunner(log zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		shell:   true,
		timeout: defaultExecTimeout,
		log:     log.With().Str("component", "script").Logger(),
	}
}

// Execute runs the configured command with {file}, {name}, and {dir}
// placeholders expanded. When no placeholder is used the file path is
// appended as the final argument.
func (r *ExecRunner) Execute(ctx context.Context, event Event, cfg *config.Effective) Outcome {
	f, info, err := openReady(ctx, event.Path, cfg)
	if err != nil {
		return Outcome{Err: err}
	}
	f.Close()

	if info.Size() == 0 && cfg.DiscardZeroByteFiles {
		r.log.Info().Str("path", event.Path).Msg("discarding zero-byte file")
		return Outcome{Skipped: true, Err: ErrZeroByteDiscarded}
	}

	args, sawPlaceholder := expandArgs(cfg.Arguments, event.Path)
	if !sawPlaceholder {
		args = append(args, event.Path)
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var cmd *exec.Cmd
	if r.shell {
		line := cfg.Command
		if len(args) > 0 {
			line += " " + strings.Join(args, " ")
		}
		cmd = exec.CommandContext(cctx, "/bin/sh", "-c", line)
	} else {
		cmd = exec.CommandContext(cctx, cfg.Command, args...)
	}

	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		r.log.Debug().Str("path", event.Path).Str("command", cfg.Command).
			Str("output", strings.TrimSpace(string(output))).Msg("process output")
	}
	if err != nil {
		r.log.Warn().Err(err).Str("path", event.Path).Str("command", cfg.Command).Msg("process failed")
		return Outcome{Err: err}
	}
	return Outcome{Success: true}
}

// expandArgs substitutes the path placeholders and reports whether any were
// present.
func expandArgs(args []string, path string) ([]string, bool) {
	replacer := strings.NewReplacer(
		"{file}", path,
		"{name}", filepath.Base(path),
		"{dir}", filepath.Dir(path),
	)

	out := make([]string, len(args))
	saw := false
	for i, a := range args {
		if strings.Contains(a, "{file}") || strings.Contains(a, "{name}") || strings.Contains(a, "{dir}") {
			saw = true
		}
		out[i] = replacer.Replace(a)
	}
	return out, saw
}

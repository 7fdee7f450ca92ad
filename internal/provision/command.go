package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/system"
	"github.com/firefly-engineering/firefly-forage/packages/vncgate/internal/target"
)

// Template placeholders understood by command templates.
const (
	PlaceholderAccount = "{account}"
	PlaceholderKey     = "{key}"
	PlaceholderSocket  = "{socket}"
)

// Expand splits a shell-quoted command template into argv and substitutes
// placeholders in every word. Substituted values are never re-split.
func Expand(template string, req SpawnRequest) ([]string, error) {
	words, err := shellquote.Split(template)
	if err != nil {
		return nil, fmt.Errorf("invalid command template %q: %w", template, err)
	}
	r := strings.NewReplacer(
		PlaceholderAccount, req.Account,
		PlaceholderKey, req.Key,
		PlaceholderSocket, req.Target.Path(),
	)
	for i, w := range words {
		words[i] = r.Replace(w)
	}
	return words, nil
}

// runner executes commands and logs them in shell-quoted form.
type runner struct {
	exec   system.CommandExecutor
	logger *slog.Logger
}

func (r runner) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	r.logger.Debug("running command", "cmd", shellquote.Join(argv...))
	out, err := r.exec.Execute(ctx, argv[0], argv[1:]...)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", shellquote.Join(argv...), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r runner) start(argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	pid, err := r.exec.Start(argv[0], argv[1:]...)
	if err != nil {
		return fmt.Errorf("%s: %w", shellquote.Join(argv...), err)
	}
	r.logger.Debug("started command", "cmd", shellquote.Join(argv...), "pid", pid)
	return nil
}

// privileged prefixes argv with sudo unless disabled.
func privileged(useSudo bool, argv ...string) []string {
	if !useSudo {
		return argv
	}
	return append([]string{"sudo"}, argv...)
}

// grantSocket gives group access to a published socket.
func (r runner) grantSocket(ctx context.Context, useSudo bool, group, path string) error {
	if group == "" || path == "" {
		return nil
	}
	if err := r.run(ctx, privileged(useSudo, "chgrp", group, path)); err != nil {
		return err
	}
	return r.run(ctx, privileged(useSudo, "chmod", "g+rw", path))
}

// dialCheck reports whether something accepts connections at t.
func dialCheck(ctx context.Context, t target.Target) error {
	d := &target.Dialer{Dialer: net.Dialer{Timeout: 500 * time.Millisecond}}
	conn, err := d.Dial(ctx, t)
	if err != nil {
		return err
	}
	return conn.Close()
}

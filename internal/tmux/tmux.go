// ABOUTME: tmux-backed implementation of the command sink and the liveness prober.
// ABOUTME: Shells out to the tmux CLI; multiline text goes through load-buffer/paste-buffer.

package tmux

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/2389/watchtower/internal/command"
)

// Controller drives a local tmux server through its CLI. It implements
// command.Sink for the monitor core and the prober interface for the
// reconciler.
type Controller struct {
	logger *slog.Logger
}

// New creates a Controller. Pass nil logger for default.
func New(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{logger: logger.With("component", "tmux")}
}

// InsideTmux reports whether the process is running under a tmux client.
func InsideTmux() bool {
	return os.Getenv("TMUX") != ""
}

// run executes one tmux command and returns its stdout.
func (c *Controller) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("tmux %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// SendText implements command.Sink. Single-line text goes through send-keys
// with Enter as a separate argument so tmux never interprets the text as a
// key name; multiline content is loaded into a tmux buffer and pasted.
func (c *Controller) SendText(ctx context.Context, identity, text string, submit bool) error {
	if strings.Contains(text, "\n") {
		return c.sendBuffered(ctx, identity, text, submit)
	}

	args := []string{"send-keys", "-t", identity, text}
	if submit {
		args = append(args, "Enter")
	}
	if _, err := c.run(ctx, args...); err != nil {
		return err
	}

	c.logger.Debug("sent text to pane", "pane_id", identity, "len", len(text))
	return nil
}

// sendBuffered delivers multiline content through a named tmux buffer. The
// buffer is deleted on paste (-d) so repeated sends don't accumulate.
func (c *Controller) sendBuffered(ctx context.Context, identity, content string, submit bool) error {
	bufName := fmt.Sprintf("watchtower-%d", os.Getpid())

	load := exec.CommandContext(ctx, "tmux", "load-buffer", "-b", bufName, "-")
	load.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	load.Stderr = &stderr
	if err := load.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("tmux load-buffer: %s", msg)
	}

	if _, err := c.run(ctx, "paste-buffer", "-t", identity, "-b", bufName, "-d"); err != nil {
		return err
	}

	if submit {
		if _, err := c.run(ctx, "send-keys", "-t", identity, "Enter"); err != nil {
			return err
		}
	}

	c.logger.Debug("sent buffered content to pane", "pane_id", identity, "len", len(content))
	return nil
}

// SpawnAgent implements command.Sink. When a branch is requested the agent
// gets an isolated git worktree; worktree failures fall back to the project
// directory rather than aborting the spawn.
func (c *Controller) SpawnAgent(ctx context.Context, req command.SpawnRequest) (command.SpawnResult, error) {
	workDir := req.WorkingDir
	if req.Branch != "" {
		dir, err := addWorktree(ctx, req.WorkingDir, req.Branch)
		if err != nil {
			c.logger.Error("worktree creation failed, using project dir",
				"branch", req.Branch,
				"error", err)
		} else {
			c.logger.Info("created isolated worktree",
				"branch", req.Branch,
				"path", dir)
			workDir = dir
		}
	}

	out, err := c.run(ctx, "split-window", "-h", "-c", workDir, "-P", "-F", "#{pane_id}")
	if err != nil {
		return command.SpawnResult{}, err
	}
	paneID := strings.TrimSpace(out)
	if paneID == "" {
		return command.SpawnResult{}, fmt.Errorf("tmux split-window returned no pane id")
	}
	res := command.SpawnResult{Identity: paneID, WorkingDir: workDir}

	if req.StartCommand != "" {
		if err := c.SendText(ctx, paneID, req.StartCommand, true); err != nil {
			return res, fmt.Errorf("starting agent in %s: %w", paneID, err)
		}
	}

	c.logger.Info("spawned agent pane",
		"pane_id", paneID,
		"dir", workDir,
		"task_id", req.TaskID)
	return res, nil
}

// Kill implements command.Sink.
func (c *Controller) Kill(ctx context.Context, identity string) error {
	if _, err := c.run(ctx, "kill-pane", "-t", identity); err != nil {
		return err
	}
	c.logger.Info("killed pane", "pane_id", identity)
	return nil
}

// ListPanes returns every live pane id across all sessions, one probe per
// sweep. Implements the reconcile prober.
func (c *Controller) ListPanes(ctx context.Context) ([]string, error) {
	out, err := c.run(ctx, "list-panes", "-a", "-F", "#{pane_id}")
	if err != nil {
		return nil, err
	}
	return parsePanes(out), nil
}

// parsePanes splits list-panes output into pane ids.
func parsePanes(out string) []string {
	var panes []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			panes = append(panes, line)
		}
	}
	return panes
}

// addWorktree creates a worktree for branch as a sibling of the repository
// directory and returns its path.
func addWorktree(ctx context.Context, repoDir, branch string) (string, error) {
	check := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--is-inside-work-tree")
	if err := check.Run(); err != nil {
		return "", fmt.Errorf("not a git repository: %s", repoDir)
	}

	target := worktreePath(repoDir, branch)
	add := exec.CommandContext(ctx, "git", "-C", repoDir, "worktree", "add", "-b", branch, target)
	var stderr bytes.Buffer
	add.Stderr = &stderr
	if err := add.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git worktree add: %s", msg)
	}
	return target, nil
}

// worktreePath places the worktree next to the repository, suffixed with the
// branch name. Slashes in branch names become dashes.
func worktreePath(repoDir, branch string) string {
	safe := strings.ReplaceAll(branch, "/", "-")
	return filepath.Join(filepath.Dir(repoDir), filepath.Base(repoDir)+"-"+safe)
}

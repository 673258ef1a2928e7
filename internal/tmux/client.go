// ABOUTME: Terminal control adapter executing tmux commands via subprocess
// ABOUTME: All invocations are bounded by a per-command timeout

package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(ctx context.Context, args []string, input []byte) ([]byte, error)
}

// Client executes tmux commands.
type Client struct {
	runner  CommandRunner
	timeout time.Duration
}

// NewClient returns a tmux client shelling out to the given binary.
// Every command is bounded by timeout; a hung subprocess is killed
// and reported as a failure.
func NewClient(binary string, timeout time.Duration) *Client {
	if binary == "" {
		binary = "tmux"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{runner: execRunner{binary: binary}, timeout: timeout}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner, timeout: 10 * time.Second}
}

// ListSessions returns the names of all running tmux sessions.
// No running server is reported as zero sessions, not an error.
func (c *Client) ListSessions(ctx context.Context) ([]string, error) {
	output, err := c.runWithOutput(ctx, []string{"list-sessions", "-F", "#{session_name}"}, nil)
	if err != nil {
		// tmux exits nonzero when no server is running
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) || strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return splitLines(output), nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(ctx context.Context, name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	output, err := c.runner.Run(ctx, []string{"has-session", "-t", name}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

// ListWindows returns the window names of an existing session.
func (c *Client) ListWindows(ctx context.Context, session string) ([]string, error) {
	output, err := c.runWithOutput(ctx, []string{"list-windows", "-t", session, "-F", "#{window_name}"}, nil)
	if err != nil {
		return nil, err
	}
	return splitLines(output), nil
}

// CreateSession creates a detached tmux session with a named initial window,
// optionally running a command in it.
func (c *Client) CreateSession(ctx context.Context, name, windowName string, command []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if windowName != "" {
		args = append(args, "-n", windowName)
	}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(ctx, args, nil)
}

// CreateWindow creates a new window in an existing session.
func (c *Client) CreateWindow(ctx context.Context, session, windowName string, command []string) error {
	args := []string{"new-window", "-t", session}
	if windowName != "" {
		args = append(args, "-n", windowName)
	}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(ctx, args, nil)
}

// KillSession terminates a tmux session.
func (c *Client) KillSession(ctx context.Context, name string) error {
	return c.run(ctx, []string{"kill-session", "-t", name}, nil)
}

// KillWindow terminates a tmux window.
func (c *Client) KillWindow(ctx context.Context, target string) error {
	return c.run(ctx, []string{"kill-window", "-t", target}, nil)
}

// SendLiteral sends text to a target pane as literal keystrokes,
// without interpreting key names.
func (c *Client) SendLiteral(ctx context.Context, target, text string) error {
	return c.run(ctx, []string{"send-keys", "-t", target, "-l", text}, nil)
}

// SendKeys sends named keys (e.g. "Enter", "Escape", "C-c") to a target pane.
func (c *Client) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	return c.run(ctx, args, nil)
}

// SendInterrupt sends Ctrl-C to a target pane.
func (c *Client) SendInterrupt(ctx context.Context, target string) error {
	return c.SendKeys(ctx, target, "C-c")
}

// DisableVimMode switches a session's key tables to emacs. Vi-style
// command mode can swallow injected keystrokes mid-sequence.
func (c *Client) DisableVimMode(ctx context.Context, session string) error {
	if err := c.run(ctx, []string{"set-option", "-t", session, "mode-keys", "emacs"}, nil); err != nil {
		return err
	}
	return c.run(ctx, []string{"set-option", "-t", session, "status-keys", "emacs"}, nil)
}

// LoadBuffer loads data into the tmux paste buffer.
func (c *Client) LoadBuffer(ctx context.Context, data []byte) error {
	return c.run(ctx, []string{"load-buffer", "-"}, data)
}

// PasteBuffer pastes the current buffer into a target pane.
func (c *Client) PasteBuffer(ctx context.Context, target string) error {
	return c.run(ctx, []string{"paste-buffer", "-t", target}, nil)
}

// CapturePane captures pane contents as raw text. lines limits scrollback
// depth; zero captures only the visible pane.
func (c *Client) CapturePane(ctx context.Context, target string, lines int) (string, error) {
	args := []string{"capture-pane", "-p", "-t", target}
	if lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", lines))
	}
	output, err := c.runWithOutput(ctx, args, nil)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func (c *Client) run(ctx context.Context, args []string, input []byte) error {
	_, err := c.runWithOutput(ctx, args, input)
	return err
}

func (c *Client) runWithOutput(ctx context.Context, args []string, input []byte) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	output, err := c.runner.Run(ctx, args, input)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tmux %s timed out after %s", args[0], c.timeout)
		}
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

func splitLines(output []byte) []string {
	trimmed := strings.TrimSpace(string(output))
	if trimmed == "" {
		return nil
	}
	lines := strings.Split(trimmed, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\r")
	}
	return lines
}

type execRunner struct {
	binary string
}

func (r execRunner) Run(ctx context.Context, args []string, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}

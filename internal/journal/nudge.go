// ABOUTME: Scheduled reminder nudging the supervisor to journal
// ABOUTME: Fires when agents accumulate tasks without a journal entry

package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/cmux-dev/cmux/internal/registry"
)

// Notifier delivers a nudge message to the supervisor's terminal.
type Notifier interface {
	Inject(ctx context.Context, target, text string) error
}

// Nudger periodically checks the registry for agents that have completed
// enough tasks since their last reset to deserve a journal reminder.
type Nudger struct {
	registry  *registry.Registry
	notifier  Notifier
	target    string
	threshold int
	schedule  string
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewNudger schedules reminders per the cron expression. target is the
// tmux pane that receives the nudge, typically the main supervisor.
func NewNudger(reg *registry.Registry, notifier Notifier, target, schedule string, threshold int) *Nudger {
	return &Nudger{
		registry:  reg,
		notifier:  notifier,
		target:    target,
		threshold: threshold,
		schedule:  schedule,
		logger:    slog.Default().With("component", "journal-nudge"),
	}
}

// Start begins the schedule. An empty schedule disables the nudger.
func (n *Nudger) Start() error {
	if n.schedule == "" {
		n.logger.Info("journal nudge disabled")
		return nil
	}
	n.cron = cron.New()
	if _, err := n.cron.AddFunc(n.schedule, n.check); err != nil {
		return fmt.Errorf("scheduling journal nudge %q: %w", n.schedule, err)
	}
	n.cron.Start()
	n.logger.Info("journal nudge scheduled", "schedule", n.schedule, "threshold", n.threshold)
	return nil
}

// Stop halts the schedule and waits for any in-flight check to finish.
func (n *Nudger) Stop() {
	if n.cron == nil {
		return
	}
	<-n.cron.Stop().Done()
}

func (n *Nudger) check() {
	entries, err := n.registry.AllEntries()
	if err != nil {
		n.logger.Warn("journal nudge skipped", "error", err)
		return
	}

	var overdue []string
	for _, entry := range entries {
		if entry.TasksSinceReset >= n.threshold {
			name := entry.DisplayName
			if name == "" {
				name = entry.AgentID
			}
			overdue = append(overdue, fmt.Sprintf("%s (%d tasks)", name, entry.TasksSinceReset))
		}
	}
	if len(overdue) == 0 {
		return
	}
	sort.Strings(overdue)

	msg := fmt.Sprintf(
		"[SYSTEM] Journal reminder: %s completed work without a journal entry. Consider writing one.",
		strings.Join(overdue, ", "))
	if err := n.notifier.Inject(context.Background(), n.target, msg); err != nil {
		n.logger.Warn("failed to deliver journal nudge", "error", err)
		return
	}
	n.logger.Info("journal nudge delivered", "agents", len(overdue))
}

// ABOUTME: Text injection into agent terminals with long-message staging
// ABOUTME: Short text goes in as keystrokes, long text rides the paste buffer

package session

import (
	"context"
	"strings"
	"time"

	"github.com/cmux-dev/cmux/internal/tmux"
)

// Keystroke injection is subject to the command-line length ceiling, so
// anything longer (or multi-line) is staged through the paste buffer.
const directInjectLimit = 200

// The target process needs a beat between receiving text and the submit
// keystroke. Pasted multi-line blocks are visibly re-rendered before they
// are ready, hence the longer settle.
const (
	singleLineSettle = 500 * time.Millisecond
	multiLineSettle  = 2 * time.Second
)

// Injector delivers text to a tmux target and submits it with Enter.
type Injector struct {
	tmux  *tmux.Client
	sleep func(ctx context.Context, d time.Duration) error
}

func NewInjector(client *tmux.Client) *Injector {
	return &Injector{tmux: client, sleep: sleepCtx}
}

// Inject sends text to the target pane followed by a settle delay and a
// final Enter.
func (i *Injector) Inject(ctx context.Context, target, text string) error {
	multiline := strings.ContainsAny(text, "\n\r")

	if multiline || len(text) > directInjectLimit {
		if err := i.tmux.LoadBuffer(ctx, []byte(text)); err != nil {
			return err
		}
		if err := i.tmux.PasteBuffer(ctx, target); err != nil {
			return err
		}
	} else {
		if err := i.tmux.SendLiteral(ctx, target, text); err != nil {
			return err
		}
	}

	settle := singleLineSettle
	if multiline {
		settle = multiLineSettle
	}
	if err := i.sleep(ctx, settle); err != nil {
		return err
	}
	return i.tmux.SendKeys(ctx, target, "Enter")
}

// sleepCtx waits for d unless ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

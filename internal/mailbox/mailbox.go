// ABOUTME: Append-only mailbox router for agent-to-agent and webhook delivery
// ABOUTME: External delivery daemon tails the log and performs actual routing

package mailbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bodies longer than this, or containing newlines, are staged to a body
// file so every log record stays on one line.
const inlineBodyLimit = 1024

// SupervisorAddress is where webhook payloads are routed. The delivery
// daemon resolves it to the main session's supervisor window.
const SupervisorAddress = "supervisor"

// Router appends delivery requests to a durable line-oriented log. It never
// performs delivery itself; a separate daemon tails the log and injects the
// messages through the terminal layer.
type Router struct {
	logPath        string
	bodyDir        string
	defaultSession string
	logger         *slog.Logger
}

// NewRouter creates a mailbox router. Addresses without an explicit
// "session:" namespace are qualified with defaultSession.
func NewRouter(logPath, bodyDir, defaultSession string) *Router {
	return &Router{
		logPath:        logPath,
		bodyDir:        bodyDir,
		defaultSession: defaultSession,
		logger:         slog.Default().With("component", "mailbox"),
	}
}

// Send queues a message from one agent to another and returns the new
// record's id.
func (r *Router) Send(from, to, subject, body string) (string, error) {
	id := uuid.New().String()
	rec := &Record{
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		From:      r.normalizeAddress(from),
		To:        r.normalizeAddress(to),
		Subject:   subject,
		Status:    StatusUnread,
	}
	if err := r.append(rec, body); err != nil {
		return "", err
	}
	r.logger.Info("queued mailbox message", "id", id, "from", rec.From, "to", rec.To)
	return id, nil
}

// SendToSupervisor queues an inbound webhook payload for the supervisor.
// The payload is stored as indented JSON so it reads well in a terminal.
func (r *Router) SendToSupervisor(messageID, source string, payload any) error {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}
	rec := &Record{
		ID:        messageID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		From:      "webhook:" + source,
		To:        r.normalizeAddress(SupervisorAddress),
		Subject:   fmt.Sprintf("Webhook from %s", source),
		Status:    StatusUnread,
	}
	if err := r.append(rec, string(body)); err != nil {
		return err
	}
	r.logger.Info("queued webhook for supervisor", "id", messageID, "source", source)
	return nil
}

// normalizeAddress qualifies bare window names with the default session.
// "webhook:" sources and already-qualified "session:window" addresses pass
// through unchanged.
func (r *Router) normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" || strings.Contains(addr, ":") {
		return addr
	}
	return r.defaultSession + ":" + addr
}

// append stages the body, takes the cross-process lock, and writes one
// record line. Lock contention past the bounded wait fails the append
// loudly; the caller owns the retry decision.
func (r *Router) append(rec *Record, body string) error {
	if len(body) > inlineBodyLimit || strings.ContainsAny(body, "\n\r") {
		path, err := r.writeBodyFile(rec.ID, body)
		if err != nil {
			return err
		}
		rec.BodyFile = path
	} else {
		rec.Body = body
	}

	line, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.logPath), 0o755); err != nil {
		return fmt.Errorf("creating mailbox directory: %w", err)
	}

	lockFile, err := lockLog(r.logPath)
	if err != nil {
		return err
	}
	defer unlock(lockFile)

	f, err := os.OpenFile(r.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening mailbox log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending mailbox record %s: %w", rec.ID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing mailbox log: %w", err)
	}
	return nil
}

func (r *Router) writeBodyFile(id, body string) (string, error) {
	if err := os.MkdirAll(r.bodyDir, 0o755); err != nil {
		return "", fmt.Errorf("creating mailbox body directory: %w", err)
	}
	path := filepath.Join(r.bodyDir, id+".txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing mailbox body file: %w", err)
	}
	return path, nil
}

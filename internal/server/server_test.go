// ABOUTME: HTTP API tests exercising the full route tree over a fake tmux
// ABOUTME: Uses a real SQLite store and registry in temp directories

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux-dev/cmux/internal/agents"
	"github.com/cmux-dev/cmux/internal/config"
	"github.com/cmux-dev/cmux/internal/journal"
	"github.com/cmux-dev/cmux/internal/mailbox"
	"github.com/cmux-dev/cmux/internal/realtime"
	"github.com/cmux-dev/cmux/internal/registry"
	"github.com/cmux-dev/cmux/internal/session"
	"github.com/cmux-dev/cmux/internal/store"
	"github.com/cmux-dev/cmux/internal/tmux"
)

type fakeRunner struct {
	mu      sync.Mutex
	windows map[string][]string
	panes   map[string]string
	calls   [][]string
}

func (f *fakeRunner) Run(ctx context.Context, args []string, input []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), args...))

	switch args[0] {
	case "list-sessions":
		names := make([]string, 0, len(f.windows))
		for name := range f.windows {
			names = append(names, name)
		}
		sort.Strings(names)
		return []byte(strings.Join(names, "\n")), nil
	case "has-session":
		if _, ok := f.windows[args[2]]; ok {
			return nil, nil
		}
		return nil, &exec.ExitError{}
	case "list-windows":
		wins, ok := f.windows[args[2]]
		if !ok {
			return nil, &exec.ExitError{}
		}
		return []byte(strings.Join(wins, "\n")), nil
	case "new-session":
		name := args[3]
		var window string
		for i, a := range args {
			if a == "-n" {
				window = args[i+1]
			}
		}
		f.windows[name] = []string{window}
		return nil, nil
	case "new-window":
		sessionName := args[2]
		var window string
		for i, a := range args {
			if a == "-n" {
				window = args[i+1]
			}
		}
		f.windows[sessionName] = append(f.windows[sessionName], window)
		return nil, nil
	case "kill-session":
		delete(f.windows, args[2])
		return nil, nil
	case "kill-window":
		parts := strings.SplitN(args[2], ":", 2)
		kept := f.windows[parts[0]][:0]
		for _, w := range f.windows[parts[0]] {
			if w != parts[1] {
				kept = append(kept, w)
			}
		}
		f.windows[parts[0]] = kept
		return nil, nil
	case "capture-pane":
		return []byte(f.panes[args[3]]), nil
	}
	return nil, nil
}

func (f *fakeRunner) sent(command string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, call := range f.calls {
		if call[0] == command {
			out = append(out, call)
		}
	}
	return out
}

type testEnv struct {
	srv        *Server
	runner     *fakeRunner
	store      store.Store
	mailboxLog string
	bodyDir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	runner := &fakeRunner{
		windows: map[string][]string{
			"cmux": {"supervisor", "monitor", "worker-1"},
		},
		panes: map[string]string{},
	}
	client := tmux.NewClientWithRunner(runner)

	st, err := store.NewSQLiteStore(filepath.Join(dir, "cmux.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := registry.New(filepath.Join(dir, "registry.json"), "cmux:supervisor")
	injector := session.NewInjector(client)
	sessions := session.NewManager(client, injector, "cmux", "agentd --headless", 0, 0)
	agentsMgr := agents.NewManager(client, reg, injector, st, "cmux")

	mailboxLog := filepath.Join(dir, "mailbox", "log.jsonl")
	bodyDir := filepath.Join(dir, "mailbox", "bodies")

	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Sessions: config.SessionsConfig{MainSession: "cmux"},
	}

	srv := New(cfg, Deps{
		Store:    st,
		Hub:      realtime.NewHub(time.Minute),
		Agents:   agentsMgr,
		Sessions: sessions,
		Mailbox:  mailbox.NewRouter(mailboxLog, bodyDir, "cmux"),
		Journal:  journal.NewService(filepath.Join(dir, "journal")),
		Registry: reg,
	})

	return &testEnv{srv: srv, runner: runner, store: st, mailboxLog: mailboxLog, bodyDir: bodyDir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			decoded = nil
		}
	}
	return rec, decoded
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestAgentEventLifecycle(t *testing.T) {
	env := newTestEnv(t)

	for _, tool := range []string{"Read", "Edit"} {
		rec, body := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
			"event_type": "PostToolUse",
			"session_id": "sess-1",
			"agent_id":   "agent-builder",
			"tool_name":  tool,
			"tool_input": map[string]any{"path": "main.go"},
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["event_id"])
	}

	rec, body := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type":       "Stop",
		"session_id":       "sess-1",
		"agent_id":         "agent-builder",
		"response_content": "Refactor complete.",
		"usage":            map[string]any{"input_tokens": 100, "output_tokens": 50},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	messageID, _ := body["message_id"].(string)
	require.NotEmpty(t, messageID)
	assert.Equal(t, float64(3), body["linked_events"])

	rec, body = env.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])
	messages := body["messages"].([]any)
	first := messages[0].(map[string]any)
	assert.Equal(t, "agent-builder", first["from_agent"])
	assert.Equal(t, store.MessageTypeResponse, first["type"])
	assert.Equal(t, "Refactor complete.", first["content"])

	rec, body = env.do(t, http.MethodGet, "/api/messages/"+messageID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])
}

func TestAgentEventSystemTag(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type":       "Stop",
		"session_id":       "sess-1",
		"agent_id":         "agent-builder",
		"response_content": "[SYS] Compaction finished",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/messages", nil)
	first := body["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, store.MessageTypeSystem, first["type"])
	assert.Equal(t, "Compaction finished", first["content"])
}

func TestAgentEventFallsBackToSessionID(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type": "PostToolUse",
		"session_id": "sess-9",
		"agent_id":   "unknown",
		"tool_name":  "Bash",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/agent-events?agent_id=sess-9", nil)
	assert.Equal(t, float64(1), body["total"])
}

func TestAgentEventValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type": "SomethingElse",
		"session_id": "sess-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "event_type")

	rec, body = env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type": "Stop",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "session_id")
}

func TestTruncateContent(t *testing.T) {
	long := strings.Repeat("x", 1500)
	got := truncateContent(long).(string)
	assert.Len(t, got, 1000+len("... [truncated]"))
	assert.True(t, strings.HasSuffix(got, "... [truncated]"))

	nested := map[string]any{
		"inner": map[string]any{"blob": long},
		"short": "ok",
	}
	truncated := truncateContent(nested).(map[string]any)
	assert.Equal(t, "ok", truncated["short"])
	inner := truncated["inner"].(map[string]any)
	assert.True(t, strings.HasSuffix(inner["blob"].(string), "... [truncated]"))

	items := make([]any, 25)
	for i := range items {
		items[i] = "item"
	}
	assert.Len(t, truncateContent(items).([]any), 10)
}

func TestThoughtsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/thoughts", map[string]any{
		"agent_id": "agent-builder",
		"content":  "Considering a different parser approach",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = env.do(t, http.MethodGet, "/api/thoughts?agent_id=agent-builder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = env.do(t, http.MethodPost, "/api/thoughts", map[string]any{"agent_id": "agent-builder"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "content")
}

func TestTasksLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec, parent := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title":   "Ship the importer",
		"project": "importer",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	parentID := parent["id"].(string)

	rec, child := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"title":     "Write the schema",
		"project":   "importer",
		"parent_id": parentID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	childID := child["id"].(string)

	rec, body := env.do(t, http.MethodGet, "/api/tasks/tree?project=importer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])
	roots := body["tree"].([]any)
	require.Len(t, roots, 1)
	assert.Equal(t, parentID, roots[0].(map[string]any)["id"])

	rec, body = env.do(t, http.MethodGet, "/api/tasks/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])

	rec, updated := env.do(t, http.MethodPatch, "/api/tasks/"+childID, map[string]any{
		"assigned_to": "agent-builder",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in-progress", updated["status"])

	rec, body = env.do(t, http.MethodDelete, "/api/tasks/"+parentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["deleted"])

	rec, _ = env.do(t, http.MethodGet, "/api/tasks/"+childID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/tasks", map[string]any{"title": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserMessageAndInbox(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/messages/user", map[string]any{
		"from_agent": "agent-builder",
		"content":    "Done with the first pass",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, body = env.do(t, http.MethodGet, "/api/messages/inbox/user", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, _ = env.do(t, http.MethodPost, "/api/messages/user", map[string]any{"from_agent": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageStatusUpdate(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/messages/internal", map[string]any{
		"from_agent":  "supervisor",
		"to_agent":    "agent-builder",
		"type":        store.MessageTypeTask,
		"content":     "Build the exporter",
		"task_status": "submitted",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	messageID := body["id"].(string)

	rec, body = env.do(t, http.MethodPatch, "/api/messages/"+messageID+"/status", map[string]any{
		"status": "working",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "working", body["task_status"])

	rec, _ = env.do(t, http.MethodPatch, "/api/messages/"+messageID+"/status", map[string]any{
		"status": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookQueuesMailbox(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/webhooks/github", map[string]any{
		"action": "opened",
		"number": 42,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	require.NotEmpty(t, body["message_id"])

	records, err := mailbox.ReadLog(env.mailboxLog)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "webhook:github", records[0].From)
	assert.Equal(t, "cmux:supervisor", records[0].To)
	assert.NotEmpty(t, records[0].BodyFile)

	staged, err := os.ReadFile(records[0].BodyFile)
	require.NoError(t, err)
	assert.Contains(t, string(staged), `"action"`)
}

func TestWebhookRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/webhooks/", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader("not json"))
	out := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)

	rec, body := env.do(t, http.MethodGet, "/webhooks/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHeartbeat(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no_data", body["status"])

	rec, _ = env.do(t, http.MethodPost, "/api/heartbeat", map[string]any{
		"agent_count": 3,
		"status":      "healthy",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body = env.do(t, http.MethodGet, "/api/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["received_at"])
}

func TestHeartbeatNullBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/heartbeat", strings.NewReader("null"))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2, body := env.do(t, http.MethodGet, "/api/heartbeat", nil)
	require.Equal(t, http.StatusOK, rec2.Code)
	assert.NotEmpty(t, body["received_at"])
}

func TestBudget(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/agent-events", map[string]any{
		"event_type": "Stop",
		"session_id": "sess-1",
		"agent_id":   "agent-builder",
		"usage":      map[string]any{"input_tokens": 200, "output_tokens": 80},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/budget", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = env.do(t, http.MethodGet, "/api/budget/agent-builder", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	usage := body["usage"].(map[string]any)
	assert.Equal(t, float64(200), usage["input_tokens"])
	assert.Len(t, body["recent_events"].([]any), 1)
}

func TestJournalAPI(t *testing.T) {
	env := newTestEnv(t)

	rec, entry := env.do(t, http.MethodPost, "/api/journal/entries", map[string]any{
		"title":      "Importer milestone",
		"content":    "Schema landed, parser next.",
		"project_id": "importer",
		"date":       "2026-03-14",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Importer milestone", entry["title"])

	rec, body := env.do(t, http.MethodGet, "/api/journal/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"2026-03-14"}, body["dates"])

	rec, body = env.do(t, http.MethodGet, "/api/journal/days/2026-03-14?project=importer", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["content"], "Importer milestone")

	rec, body = env.do(t, http.MethodGet, "/api/journal/search?q=parser", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, _ = env.do(t, http.MethodGet, "/api/journal/days/not-a-date", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/journal/entries", map[string]any{"content": "no title"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionsListAndGuards(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.windows["cmux-demo"] = []string{"supervisor-demo", "worker-a"}
	env.runner.windows["scratch"] = []string{"bash"}
	env.runner.mu.Unlock()

	rec, body := env.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])

	rec, main := env.do(t, http.MethodGet, "/api/sessions/cmux", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Main", main["name"])
	assert.Equal(t, true, main["is_main"])

	rec, _ = env.do(t, http.MethodDelete, "/api/sessions/cmux", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/sessions/cmux-nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionTerminateAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.windows["cmux-demo"] = []string{"supervisor-demo", "worker-a"}
	env.runner.mu.Unlock()

	rec, body := env.do(t, http.MethodPost, "/api/sessions/cmux-demo/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusPaused, body["status"])

	rec, sess := env.do(t, http.MethodGet, "/api/sessions/cmux-demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusPaused, sess["status"])

	rec, body = env.do(t, http.MethodPost, "/api/sessions/cmux-demo/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StatusActive, body["status"])

	rec, body = env.do(t, http.MethodDelete, "/api/sessions/cmux-demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "terminated", body["status"])

	env.runner.mu.Lock()
	_, exists := env.runner.windows["cmux-demo"]
	env.runner.mu.Unlock()
	assert.False(t, exists)
}

func TestSessionAgentsListing(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/sessions/cmux/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []any{"supervisor", "worker-1"}, body["agents"])
}

func TestAgentsListAndMessage(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total"])

	rec, body = env.do(t, http.MethodPost, "/api/agents/worker-1/message", map[string]any{
		"message": "status report please",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", body["status"])
	require.NotEmpty(t, body["message_id"])

	keystrokes := env.runner.sent("send-keys")
	require.NotEmpty(t, keystrokes)
	assert.Contains(t, keystrokes[0], "status report please")

	rec, stored := env.do(t, http.MethodGet, "/api/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), stored["total"])
}

func TestAgentTerminalCapture(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.panes["cmux:worker-1"] = "$ make test\nok"
	env.runner.mu.Unlock()

	rec, body := env.do(t, http.MethodGet, "/api/agents/worker-1/terminal?lines=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["output"], "make test")
}

func TestRemoveAgentArchives(t *testing.T) {
	env := newTestEnv(t)
	env.runner.mu.Lock()
	env.runner.panes["cmux:worker-1"] = "final output"
	env.runner.mu.Unlock()

	rec, _ := env.do(t, http.MethodDelete, "/api/agents/worker-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/archives", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), body["total"])
	archive := body["archives"].([]any)[0].(map[string]any)
	archiveID := archive["id"].(string)

	rec, body = env.do(t, http.MethodGet, "/api/archives/"+archiveID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "final output", body["terminal_output"])

	rec, _ = env.do(t, http.MethodDelete, "/api/agents/supervisor", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/agents/worker-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgentRegister(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/agents/register", map[string]any{
		"location_key": "cmux:worker-1",
		"display_name": "Builder",
		"role":         registry.RoleWorker,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	agentID := body["agent_id"].(string)
	assert.True(t, strings.HasPrefix(agentID, registry.AgentIDPrefix))

	rec, agent := env.do(t, http.MethodGet, "/api/agents/"+agentID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Builder", agent["name"])

	rec, _ = env.do(t, http.MethodPost, "/api/agents/register", map[string]any{
		"location_key": "no-colon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateWorkerEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "worker-2"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "worker-2", body["name"])

	rec, _ = env.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "worker-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

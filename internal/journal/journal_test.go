// ABOUTME: Tests for the daily journal service
// ABOUTME: Entry formatting, project filtering, search, and the nudge check

package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux-dev/cmux/internal/registry"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := NewService(t.TempDir())
	s.now = func() time.Time {
		return time.Date(2026, 3, 14, 9, 16, 0, 0, time.UTC)
	}
	return s
}

func TestAddEntryFormatsHeader(t *testing.T) {
	s := newTestService(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	_, err := s.AddEntry("Fixed the build", "Root cause was a stale cache.", "cmux-web", day)
	require.NoError(t, err)
	_, err = s.AddEntry("Quick log", "", "", day)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(s.baseDir, "2026-03-14", "journal.md"))
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "# Journal - 2026-03-14")
	assert.Contains(t, content, "## 09:16 - [cmux-web] Fixed the build")
	assert.Contains(t, content, "Root cause was a stale cache.")
	assert.Contains(t, content, "## 09:16 - Quick log")
}

func TestGetDayProjectFilter(t *testing.T) {
	s := newTestService(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	_, err := s.AddEntry("Web work", "tweaked css", "web", day)
	require.NoError(t, err)
	_, err = s.AddEntry("API work", "added endpoint", "api", day)
	require.NoError(t, err)

	got, err := s.GetDay(day, "api")
	require.NoError(t, err)
	assert.Contains(t, got.Content, "API work")
	assert.Contains(t, got.Content, "added endpoint")
	assert.NotContains(t, got.Content, "tweaked css")
	assert.Contains(t, got.Content, "# Journal - 2026-03-14")
}

func TestGetDayMissingIsEmpty(t *testing.T) {
	s := newTestService(t)

	got, err := s.GetDay(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	assert.Equal(t, "2030-01-01", got.Date)
	assert.Empty(t, got.Content)
	assert.Empty(t, got.Artifacts)
}

func TestListDatesNewestFirst(t *testing.T) {
	s := newTestService(t)

	for _, d := range []string{"2026-03-12", "2026-03-14", "2026-03-13"} {
		day, err := time.Parse("2006-01-02", d)
		require.NoError(t, err)
		_, err = s.AddEntry("note", "", "", day)
		require.NoError(t, err)
	}
	// A stray directory without a journal is ignored
	require.NoError(t, os.MkdirAll(filepath.Join(s.baseDir, "2026-03-15"), 0o755))

	dates, err := s.ListDates()
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-03-14", "2026-03-13", "2026-03-12"}, dates)
}

func TestSearch(t *testing.T) {
	s := newTestService(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	_, err := s.AddEntry("Deploy notes", "rolled back the canary twice", "infra", day)
	require.NoError(t, err)
	_, err = s.AddEntry("Web polish", "canary yellow buttons", "web", day)
	require.NoError(t, err)

	results, err := s.Search("canary", 10, "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Deploy notes", results[0].Title)
	assert.Equal(t, "infra", results[0].ProjectID)
	assert.Contains(t, results[0].Snippet, "rolled back")

	filtered, err := s.Search("canary", 10, "web")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "Web polish", filtered[0].Title)

	limited, err := s.Search("canary", 1, "")
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestArtifactRoundTrip(t *testing.T) {
	s := newTestService(t)
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	path, err := s.SaveArtifact("trace.txt", []byte("stack trace"), day)
	require.NoError(t, err)
	assert.Contains(t, path, "artifacts")

	data, err := s.GetArtifact("trace.txt", day)
	require.NoError(t, err)
	assert.Equal(t, "stack trace", string(data))

	missing, err := s.GetArtifact("nope.txt", day)
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = s.SaveArtifact("../escape.txt", []byte("x"), day)
	assert.Error(t, err)

	got, err := s.GetDay(day, "")
	require.NoError(t, err)
	assert.Contains(t, got.Artifacts, "trace.txt")
}

type fakeNotifier struct {
	target, text string
	calls        int
}

func (f *fakeNotifier) Inject(ctx context.Context, target, text string) error {
	f.target, f.text = target, text
	f.calls++
	return nil
}

func TestNudgeCheck(t *testing.T) {
	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"), "cmux:supervisor")
	_, err := reg.Register("cmux:worker-1", registry.Entry{DisplayName: "builder", TasksSinceReset: 7})
	require.NoError(t, err)
	_, err = reg.Register("cmux:worker-2", registry.Entry{DisplayName: "tester", TasksSinceReset: 2})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	n := NewNudger(reg, notifier, "cmux:supervisor", "@hourly", 5)
	n.check()

	require.Equal(t, 1, notifier.calls)
	assert.Equal(t, "cmux:supervisor", notifier.target)
	assert.Contains(t, notifier.text, "builder (7 tasks)")
	assert.NotContains(t, notifier.text, "tester")
}

func TestNudgeCheckBelowThresholdIsSilent(t *testing.T) {
	reg := registry.New(filepath.Join(t.TempDir(), "registry.json"), "cmux:supervisor")
	_, err := reg.Register("cmux:worker-1", registry.Entry{TasksSinceReset: 1})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	n := NewNudger(reg, notifier, "cmux:supervisor", "@hourly", 5)
	n.check()

	assert.Zero(t, notifier.calls)
}

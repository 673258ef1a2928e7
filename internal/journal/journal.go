// ABOUTME: Daily markdown journal under dated directories
// ABOUTME: One journal.md plus an artifacts dir per day, entries keyed by time headers

package journal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const journalFileName = "journal.md"

var (
	dateDirPattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	headerWithProj   = regexp.MustCompile(`^## \d{2}:\d{2} - \[([^\]]+)\] (.+)`)
	headerWithoutPrj = regexp.MustCompile(`^## \d{2}:\d{2} - (.+)`)
)

// Entry is one journal note.
type Entry struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	ProjectID string    `json:"project_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Day is the rendered journal for one date.
type Day struct {
	Date      string   `json:"date"`
	Content   string   `json:"content"`
	Artifacts []string `json:"artifacts"`
}

// SearchResult points at one matching journal line.
type SearchResult struct {
	Date       string `json:"date"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	LineNumber int    `json:"line_number"`
	ProjectID  string `json:"project_id,omitempty"`
}

// Service reads and writes dated journal files.
type Service struct {
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		logger:  slog.Default().With("component", "journal"),
		now:     time.Now,
	}
}

func (s *Service) dayDir(day time.Time) string {
	return filepath.Join(s.baseDir, day.Format("2006-01-02"))
}

func (s *Service) journalFile(day time.Time) string {
	return filepath.Join(s.dayDir(day), journalFileName)
}

func (s *Service) artifactsDir(day time.Time) string {
	return filepath.Join(s.dayDir(day), "artifacts")
}

func (s *Service) ensureDay(day time.Time) error {
	if err := os.MkdirAll(s.artifactsDir(day), 0o755); err != nil {
		return fmt.Errorf("creating journal directories: %w", err)
	}
	path := s.journalFile(day)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		header := fmt.Sprintf("# Journal - %s\n", day.Format("2006-01-02"))
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return fmt.Errorf("creating journal file: %w", err)
		}
	}
	return nil
}

// AddEntry appends a note to today's journal (or the given day). Quick
// logs may have an empty body.
func (s *Service) AddEntry(title, content, projectID string, day time.Time) (*Entry, error) {
	if day.IsZero() {
		day = s.now()
	}
	if err := s.ensureDay(day); err != nil {
		return nil, err
	}

	now := s.now()
	header := fmt.Sprintf("## %s - %s", now.Format("15:04"), title)
	if projectID != "" {
		header = fmt.Sprintf("## %s - [%s] %s", now.Format("15:04"), projectID, title)
	}

	text := "\n" + header + "\n"
	if strings.TrimSpace(content) != "" {
		text += content + "\n"
	}

	f, err := os.OpenFile(s.journalFile(day), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return nil, fmt.Errorf("appending journal entry: %w", err)
	}

	return &Entry{Title: title, Content: content, ProjectID: projectID, Timestamp: now}, nil
}

// GetDay returns the journal for one date, optionally filtered to a
// single project's sections.
func (s *Service) GetDay(day time.Time, project string) (*Day, error) {
	result := &Day{Date: day.Format("2006-01-02"), Artifacts: []string{}}

	raw, err := os.ReadFile(s.journalFile(day))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading journal file: %w", err)
	}
	content := string(raw)
	if project != "" {
		content = filterByProject(content, project)
	}
	result.Content = content

	entries, err := os.ReadDir(s.artifactsDir(day))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				result.Artifacts = append(result.Artifacts, e.Name())
			}
		}
	}
	return result, nil
}

// ListDates returns every date with a journal, newest first.
func (s *Service) ListDates() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing journal dates: %w", err)
	}

	var dates []string
	for _, e := range entries {
		if !e.IsDir() || !dateDirPattern.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.baseDir, e.Name(), journalFileName)); err == nil {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Search scans journals newest-first for lines containing query.
func (s *Service) Search(query string, limit int, project string) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	queryLower := strings.ToLower(query)

	dates, err := s.ListDates()
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	for _, dateStr := range dates {
		day, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(s.journalFile(day))
		if err != nil {
			continue
		}

		currentTitle := ""
		currentProject := ""
		for lineNum, line := range strings.Split(string(raw), "\n") {
			if strings.HasPrefix(line, "## ") {
				currentProject = parseProjectID(line)
				currentTitle = parseTitle(line)
			}
			if project != "" && currentProject != project {
				continue
			}
			if !strings.Contains(strings.ToLower(line), queryLower) {
				continue
			}

			snippet := strings.TrimSpace(line)
			if len(snippet) > 200 {
				snippet = snippet[:200] + "..."
			}
			title := currentTitle
			if title == "" {
				title = "Journal"
			}
			results = append(results, SearchResult{
				Date:       dateStr,
				Title:      title,
				Snippet:    snippet,
				LineNumber: lineNum + 1,
				ProjectID:  currentProject,
			})
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// SaveArtifact stores a file alongside the day's journal.
func (s *Service) SaveArtifact(filename string, content []byte, day time.Time) (string, error) {
	if day.IsZero() {
		day = s.now()
	}
	if filename != filepath.Base(filename) || filename == "" || filename == "." {
		return "", fmt.Errorf("invalid artifact filename %q", filename)
	}
	if err := s.ensureDay(day); err != nil {
		return "", err
	}
	path := filepath.Join(s.artifactsDir(day), filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return path, nil
}

// GetArtifact reads one artifact for a date. Missing artifacts are nil.
func (s *Service) GetArtifact(filename string, day time.Time) ([]byte, error) {
	if filename != filepath.Base(filename) {
		return nil, fmt.Errorf("invalid artifact filename %q", filename)
	}
	data, err := os.ReadFile(filepath.Join(s.artifactsDir(day), filename))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	return data, nil
}

// filterByProject keeps only the sections tagged with the given project,
// plus the day header.
func filterByProject(content, project string) string {
	var out []string
	include := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			include = parseProjectID(line) == project
		} else if strings.HasPrefix(line, "# ") {
			out = append(out, line)
			continue
		}
		if include {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func parseProjectID(header string) string {
	if m := headerWithProj.FindStringSubmatch(header); m != nil {
		return m[1]
	}
	return ""
}

func parseTitle(header string) string {
	if m := headerWithProj.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[2])
	}
	if m := headerWithoutPrj.FindStringSubmatch(header); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(header)
}

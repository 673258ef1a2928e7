// ABOUTME: Journal entry, search, and archive browsing handlers
// ABOUTME: Backs the daily activity log written by agents

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cmux-dev/cmux/internal/journal"
)

const journalDateLayout = "2006-01-02"

// JournalEntryRequest is the JSON body for POST /api/journal/entries.
// Date is optional and defaults to today.
type JournalEntryRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	ProjectID string `json:"project_id"`
	Date      string `json:"date"`
}

func (s *Server) handleJournalEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req JournalEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		s.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	day := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse(journalDateLayout, req.Date)
		if err != nil {
			s.sendJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	entry, err := s.journal.AddEntry(req.Title, req.Content, req.ProjectID, day)
	if err != nil {
		s.logger.Error("failed to write journal entry", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to write entry")
		return
	}

	s.sendJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleJournalDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	dates, err := s.journal.ListDates()
	if err != nil {
		s.logger.Error("failed to list journal dates", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to list dates")
		return
	}
	if dates == nil {
		dates = []string{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"dates": dates,
		"total": len(dates),
	})
}

func (s *Server) handleJournalDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	dateStr := strings.TrimPrefix(r.URL.Path, "/api/journal/days/")
	day, err := time.Parse(journalDateLayout, dateStr)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	rendered, err := s.journal.GetDay(day, r.URL.Query().Get("project"))
	if err != nil {
		s.logger.Error("failed to read journal day", "date", dateStr, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}

	s.sendJSON(w, http.StatusOK, rendered)
}

func (s *Server) handleJournalSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	results, err := s.journal.Search(query, queryInt(r, "limit", 20), r.URL.Query().Get("project"))
	if err != nil {
		s.logger.Error("journal search failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []journal.SearchResult{}
	}

	s.sendJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"total":   len(results),
	})
}

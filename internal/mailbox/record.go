// ABOUTME: Wire codec for mailbox log records
// ABOUTME: One JSON object per line, large bodies staged to sidecar files

package mailbox

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// StatusUnread is the lifecycle status every record starts with. The
// delivery daemon rewrites it after routing the message.
const StatusUnread = "unread"

// Record is one line of the mailbox log. Either Body or BodyFile is set,
// never both: bodies above the inline threshold live in a sidecar file so
// the log itself stays line-oriented and greppable.
type Record struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body,omitempty"`
	BodyFile  string `json:"body_file,omitempty"`
	Status    string `json:"status"`
}

// encodeRecord renders a record as a single newline-terminated JSON line.
// Bodies containing newlines must already have been staged to a body file.
func encodeRecord(rec *Record) ([]byte, error) {
	if strings.ContainsAny(rec.Body, "\n\r") {
		return nil, fmt.Errorf("inline body must not contain newlines (record %s)", rec.ID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding mailbox record %s: %w", rec.ID, err)
	}
	return append(data, '\n'), nil
}

// ReadLog parses every record in the log at path. A missing log is an
// empty log. Malformed lines abort the read rather than being skipped so
// corruption is noticed, not silently delivered around.
func ReadLog(path string) ([]*Record, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening mailbox log: %w", err)
	}
	defer f.Close()

	var records []*Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parsing mailbox log line %d: %w", lineNo, err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mailbox log: %w", err)
	}
	return records, nil
}

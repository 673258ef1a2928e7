// ABOUTME: Durable agent registry mapping window location keys to stable identities
// ABOUTME: File-backed JSON with advisory locking, shared across processes

package registry

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Agent roles stored in the registry.
const (
	RoleWorker            = "worker"
	RoleSupervisor        = "supervisor"
	RoleProjectSupervisor = "project-supervisor"
)

const (
	// AgentIDPrefix distinguishes stable agent IDs from location keys.
	AgentIDPrefix = "agent-"

	// RootSupervisorID is the reserved identity of the main session supervisor.
	RootSupervisorID = "agent-root"

	idSuffixLength = 8
	maxIDAttempts  = 100
)

var (
	// ErrNotFound is returned when no entry exists for the given key.
	ErrNotFound = errors.New("registry entry not found")

	// ErrIDExhausted is returned when the ID generator cannot find a free
	// identifier within its retry budget. This is fatal, not retryable.
	ErrIDExhausted = errors.New("agent ID space exhausted")
)

// Entry is the durable metadata for one registered agent.
type Entry struct {
	AgentID         string `json:"agent_id"`
	DisplayName     string `json:"display_name,omitempty"`
	Role            string `json:"role"`
	ProjectID       string `json:"project_id,omitempty"`
	Permanent       bool   `json:"permanent,omitempty"`
	RegisteredAt    string `json:"registered_at"`
	ResetCount      int    `json:"reset_count"`
	TasksSinceReset int    `json:"tasks_since_reset"`

	// Extra carries unknown keys written by sibling tools so a
	// read-modify-write cycle here never drops them.
	Extra map[string]json.RawMessage `json:"-"`
}

type entryAlias Entry

// UnmarshalJSON decodes known fields and keeps unrecognized keys in Extra.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var known entryAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, field := range []string{"agent_id", "display_name", "role", "project_id", "permanent", "registered_at", "reset_count", "tasks_since_reset"} {
		delete(raw, field)
	}
	*e = Entry(known)
	if len(raw) > 0 {
		e.Extra = raw
	}
	return nil
}

// MarshalJSON encodes known fields merged with any preserved unknown keys.
func (e Entry) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(entryAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// Registry is a file-backed agent registry safe for concurrent use from
// multiple goroutines and multiple processes. The file is ground truth;
// the in-memory map is a cache refreshed whenever the file's modification
// time advances past what this process last observed.
type Registry struct {
	path    string
	rootKey string
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
	lastMod time.Time
	loaded  bool
}

// New creates a registry backed by the JSON file at path. rootKey is the
// location key of the main session supervisor, which always receives the
// reserved RootSupervisorID.
func New(path, rootKey string) *Registry {
	return &Registry{
		path:    path,
		rootKey: rootKey,
		logger:  slog.Default().With("component", "registry"),
		entries: make(map[string]*Entry),
	}
}

// Path returns the backing file path.
func (r *Registry) Path() string {
	return r.path
}

// Register creates or updates the entry for locationKey. A new stable agent
// ID is assigned when the caller does not supply one; an existing entry's ID
// and registration time are never overwritten. Returns the stored entry.
func (r *Registry) Register(locationKey string, meta Entry) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lockFile, err := lockPath(r.path+".lock", true)
	if err != nil {
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	defer unlock(lockFile)

	if err := r.reloadLocked(); err != nil {
		return nil, err
	}

	entry := &meta
	if existing, ok := r.entries[locationKey]; ok {
		// Identity is immutable once assigned
		entry.AgentID = existing.AgentID
		entry.RegisteredAt = existing.RegisteredAt
		if entry.Extra == nil {
			entry.Extra = existing.Extra
		}
	}

	if locationKey == r.rootKey {
		entry.AgentID = RootSupervisorID
		if entry.Role == "" {
			entry.Role = RoleSupervisor
		}
	}

	if entry.AgentID == "" {
		id, err := r.generateIDLocked()
		if err != nil {
			return nil, err
		}
		entry.AgentID = id
	}
	if entry.Role == "" {
		entry.Role = RoleWorker
	}
	if entry.RegisteredAt == "" {
		entry.RegisteredAt = time.Now().UTC().Format(time.RFC3339)
	}

	r.entries[locationKey] = entry
	if err := r.saveLocked(); err != nil {
		return nil, err
	}

	r.logger.Info("registered agent", "location", locationKey, "agent_id", entry.AgentID, "role", entry.Role)
	cp := *entry
	return &cp, nil
}

// Unregister removes the entry for locationKey. Returns true if it existed.
func (r *Registry) Unregister(locationKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lockFile, err := lockPath(r.path+".lock", true)
	if err != nil {
		return false, fmt.Errorf("locking registry: %w", err)
	}
	defer unlock(lockFile)

	if err := r.reloadLocked(); err != nil {
		return false, err
	}
	if _, ok := r.entries[locationKey]; !ok {
		return false, nil
	}
	delete(r.entries, locationKey)
	if err := r.saveLocked(); err != nil {
		return false, err
	}
	r.logger.Info("unregistered agent", "location", locationKey)
	return true, nil
}

// Update applies fn to the entry for locationKey under the write lock and
// persists the result. Returns ErrNotFound if no entry exists.
func (r *Registry) Update(locationKey string, fn func(*Entry)) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lockFile, err := lockPath(r.path+".lock", true)
	if err != nil {
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	defer unlock(lockFile)

	if err := r.reloadLocked(); err != nil {
		return nil, err
	}
	entry, ok := r.entries[locationKey]
	if !ok {
		return nil, ErrNotFound
	}
	id := entry.AgentID
	fn(entry)
	entry.AgentID = id // identity survives arbitrary metadata edits
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	cp := *entry
	return &cp, nil
}

// GetMetadata returns the entry for locationKey, or ErrNotFound.
func (r *Registry) GetMetadata(locationKey string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(); err != nil {
		return nil, err
	}
	entry, ok := r.entries[locationKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// FindByAgentID returns the location key and entry for a stable agent ID.
func (r *Registry) FindByAgentID(agentID string) (string, *Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(); err != nil {
		return "", nil, err
	}
	for key, entry := range r.entries {
		if entry.AgentID == agentID {
			cp := *entry
			return key, &cp, nil
		}
	}
	return "", nil, ErrNotFound
}

// FindByDisplayName returns the location key and entry for a display name.
func (r *Registry) FindByDisplayName(name string) (string, *Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(); err != nil {
		return "", nil, err
	}
	for key, entry := range r.entries {
		if entry.DisplayName == name {
			cp := *entry
			return key, &cp, nil
		}
	}
	return "", nil, ErrNotFound
}

// AllEntries returns a copy of every entry keyed by location key.
func (r *Registry) AllEntries() (map[string]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.refreshLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(r.entries))
	for key, entry := range r.entries {
		out[key] = *entry
	}
	return out, nil
}

// CleanupStale removes entries whose location key is not in the live set,
// except entries marked permanent. Returns the removed location keys.
func (r *Registry) CleanupStale(live map[string]bool) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lockFile, err := lockPath(r.path+".lock", true)
	if err != nil {
		return nil, fmt.Errorf("locking registry: %w", err)
	}
	defer unlock(lockFile)

	if err := r.reloadLocked(); err != nil {
		return nil, err
	}

	var removed []string
	for key, entry := range r.entries {
		if live[key] || entry.Permanent {
			continue
		}
		delete(r.entries, key)
		removed = append(removed, key)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if err := r.saveLocked(); err != nil {
		return nil, err
	}
	r.logger.Info("removed stale registry entries", "count", len(removed), "keys", removed)
	return removed, nil
}

// refreshLocked re-reads the file if it changed since the last observed
// modification time. Used on read paths; callers hold r.mu.
func (r *Registry) refreshLocked() error {
	info, err := os.Stat(r.path)
	if os.IsNotExist(err) {
		if !r.loaded {
			r.entries = make(map[string]*Entry)
			r.loaded = true
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat registry: %w", err)
	}
	if r.loaded && !info.ModTime().After(r.lastMod) {
		return nil
	}

	lockFile, err := lockPath(r.path+".lock", false)
	if err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	migrated, err := r.readFileLocked()
	unlock(lockFile)
	if err != nil {
		return err
	}
	if !migrated {
		return nil
	}

	// Persisting lazily filled fields so sibling readers see stable IDs
	// is a read-modify-write cycle and needs the exclusive lock. Re-read
	// under it: a sibling may have written in the window between the two
	// locks, and its IDs must win over the ones generated above.
	exclusive, err := lockPath(r.path+".lock", true)
	if err != nil {
		return fmt.Errorf("locking registry: %w", err)
	}
	defer unlock(exclusive)
	migrated, err = r.readFileLocked()
	if err != nil {
		return err
	}
	if !migrated {
		return nil
	}
	return r.saveLocked()
}

// reloadLocked unconditionally re-reads the file inside a write cycle.
// Callers hold r.mu and the exclusive file lock.
func (r *Registry) reloadLocked() error {
	if _, err := r.readFileLocked(); err != nil {
		return err
	}
	return nil
}

// readFileLocked loads and parses the registry file. A corrupt file is
// degraded to an empty registry: the registry is a cache over live terminal
// state, so losing it only forgets stable identities. Returns whether any
// legacy entry was migrated.
func (r *Registry) readFileLocked() (bool, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.entries = make(map[string]*Entry)
		r.loaded = true
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading registry: %w", err)
	}

	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		r.logger.Error("registry file corrupt, starting empty", "path", r.path, "error", err)
		entries = make(map[string]*Entry)
	}
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	r.entries = entries

	migrated, err := r.migrateLocked()
	if err != nil {
		return false, err
	}

	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	r.loaded = true
	return migrated, nil
}

// migrateLocked fills defaults into legacy entries that predate newer fields.
func (r *Registry) migrateLocked() (bool, error) {
	migrated := false
	for key, entry := range r.entries {
		if entry == nil {
			entry = &Entry{}
			r.entries[key] = entry
		}
		if entry.AgentID == "" {
			if key == r.rootKey {
				entry.AgentID = RootSupervisorID
			} else {
				id, err := r.generateIDLocked()
				if err != nil {
					return false, err
				}
				entry.AgentID = id
			}
			migrated = true
		}
		if entry.Role == "" {
			entry.Role = RoleWorker
			migrated = true
		}
		if entry.RegisteredAt == "" {
			entry.RegisteredAt = time.Now().UTC().Format(time.RFC3339)
			migrated = true
		}
	}
	if migrated {
		r.logger.Info("migrated legacy registry entries")
	}
	return migrated, nil
}

// generateIDLocked produces a fresh collision-checked agent ID.
func (r *Registry) generateIDLocked() (string, error) {
	taken := make(map[string]bool, len(r.entries))
	for _, entry := range r.entries {
		taken[entry.AgentID] = true
	}
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := AgentIDPrefix + randomSuffix()
		if !taken[id] && id != RootSupervisorID {
			return id, nil
		}
	}
	return "", fmt.Errorf("generating agent ID after %d attempts: %w", maxIDAttempts, ErrIDExhausted)
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix() string {
	buf := make([]byte, idSuffixLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}

// saveLocked writes the registry atomically via temp file and rename.
func (r *Registry) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replacing registry: %w", err)
	}
	if info, err := os.Stat(r.path); err == nil {
		r.lastMod = info.ModTime()
	}
	return nil
}

// ABOUTME: Hierarchical task store: CRUD, tree assembly, stats, recursive delete
// ABOUTME: Validates status/priority/source against closed enumerations

package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Task status values
const (
	TaskStateBacklog    = "backlog"
	TaskStatePending    = "pending"
	TaskStateAssigned   = "assigned"
	TaskStateInProgress = "in-progress"
	TaskStateReview     = "review"
	TaskStateDone       = "done"
	TaskStateBlocked    = "blocked"
	TaskStateFailed     = "failed"
)

// ValidTaskStates enumerates allowed task statuses
var ValidTaskStates = map[string]bool{
	TaskStateBacklog:    true,
	TaskStatePending:    true,
	TaskStateAssigned:   true,
	TaskStateInProgress: true,
	TaskStateReview:     true,
	TaskStateDone:       true,
	TaskStateBlocked:    true,
	TaskStateFailed:     true,
}

// ValidTaskPriorities enumerates allowed task priorities
var ValidTaskPriorities = map[string]bool{
	"critical": true,
	"high":     true,
	"medium":   true,
	"low":      true,
}

// ValidTaskSources enumerates allowed task origins
var ValidTaskSources = map[string]bool{
	"user":              true,
	"backlog":           true,
	"self-generated":    true,
	"worker-escalation": true,
	"system":            true,
}

const taskIDPrefix = "t_"

// genTaskID generates an id in the shared CLI format: t_ + 8 alphanumerics
func genTaskID() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return taskIDPrefix + string(buf)
}

func taskTimestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

const taskColumns = `id, title, description, project, assigned_to, status, priority, source, linked_workers, parent_id, resources, created_at, updated_at, completed_at`

func scanTask(scanner interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var resourcesJSON string
	if err := scanner.Scan(&t.ID, &t.Title, &t.Description, &t.Project, &t.AssignedTo,
		&t.Status, &t.Priority, &t.Source, &t.LinkedWorkers, &t.ParentID,
		&resourcesJSON, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	if resourcesJSON != "" {
		if err := json.Unmarshal([]byte(resourcesJSON), &t.Resources); err != nil {
			// Tolerate hand-edited rows; an unreadable list degrades to empty
			t.Resources = nil
		}
	}
	if t.Resources == nil {
		t.Resources = []string{}
	}
	return &t, nil
}

// ListTasks returns tasks matching the filters in creation order.
// Done tasks are excluded unless IncludeDone is set or Status is "done".
func (s *SQLiteStore) ListTasks(ctx context.Context, filters TaskFilters) ([]*Task, error) {
	var conditions []string
	var args []any

	if !filters.IncludeDone && filters.Status != TaskStateDone {
		conditions = append(conditions, "status != 'done'")
	}
	if filters.Project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, filters.Project)
	}
	if filters.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filters.Status)
	}
	if filters.AssignedTo != "" {
		conditions = append(conditions, "assigned_to = ?")
		args = append(args, filters.AssignedTo)
	}
	if filters.ParentID != nil {
		conditions = append(conditions, "parent_id = ?")
		args = append(args, *filters.ParentID)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// GetTaskTree returns the task hierarchy: roots with nested children.
// Children lists are always present once computed, never nil.
// The second return value is the total number of tasks fetched.
func (s *SQLiteStore) GetTaskTree(ctx context.Context, project string, includeDone bool) ([]*Task, int, error) {
	var conditions []string
	var args []any
	if !includeDone {
		conditions = append(conditions, "status != 'done'")
	}
	if project != "" {
		conditions = append(conditions, "project = ?")
		args = append(args, project)
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying task tree: %w", err)
	}
	defer rows.Close()

	all, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}

	byParent := make(map[string][]*Task)
	for _, t := range all {
		byParent[t.ParentID] = append(byParent[t.ParentID], t)
	}

	var attach func(t *Task)
	attach = func(t *Task) {
		children := byParent[t.ID]
		if children == nil {
			children = []*Task{}
		}
		t.Children = children
		for _, c := range children {
			attach(c)
		}
	}

	roots := byParent[""]
	if roots == nil {
		roots = []*Task{}
	}
	for _, root := range roots {
		attach(root)
	}
	return roots, len(all), nil
}

// GetTaskStats computes dashboard aggregates. Priority and assignee counts
// cover only non-terminal tasks so resolved work doesn't skew the picture.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		ByStatus:       make(map[string]int),
		ByPriority:     make(map[string]int),
		ByAssignee:     make(map[string]int),
		NeedsAttention: []*Task{},
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("querying status counts: %w", err)
	}
	if err := scanCounts(rows, stats.ByStatus); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT COALESCE(NULLIF(priority, ''), 'medium'), COUNT(*)
		FROM tasks
		WHERE status NOT IN ('done', 'failed')
		GROUP BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("querying priority counts: %w", err)
	}
	if err := scanCounts(rows, stats.ByPriority); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT CASE WHEN assigned_to = '' THEN '(unassigned)' ELSE assigned_to END, COUNT(*)
		FROM tasks
		WHERE status NOT IN ('done', 'failed')
		GROUP BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("querying assignee counts: %w", err)
	}
	if err := scanCounts(rows, stats.ByAssignee); err != nil {
		return nil, err
	}

	attentionRows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status IN ('blocked', 'failed')
		   OR (priority = 'critical' AND status NOT IN ('done', 'failed'))
		ORDER BY CASE status WHEN 'failed' THEN 1 WHEN 'blocked' THEN 2 ELSE 3 END
	`)
	if err != nil {
		return nil, fmt.Errorf("querying attention tasks: %w", err)
	}
	defer attentionRows.Close()
	attention, err := collectTasks(attentionRows)
	if err != nil {
		return nil, err
	}
	if attention != nil {
		stats.NeedsAttention = attention
	}

	return stats, nil
}

func scanCounts(rows *sql.Rows, into map[string]int) error {
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("scanning count row: %w", err)
		}
		into[key] = count
	}
	return rows.Err()
}

// GetTask retrieves one task with its direct children.
// Returns ErrNotFound if the task doesn't exist.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("querying task children: %w", err)
	}
	defer rows.Close()
	children, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = []*Task{}
	}
	task.Children = children
	return task, nil
}

// CreateTask validates and inserts a new task. A task created with an
// assignee and no explicit status starts as assigned rather than pending.
func (s *SQLiteStore) CreateTask(ctx context.Context, create *TaskCreate) (*Task, error) {
	if strings.TrimSpace(create.Title) == "" {
		return nil, fmt.Errorf("title is required: %w", ErrValidation)
	}
	priority := create.Priority
	if priority == "" {
		priority = "medium"
	}
	if !ValidTaskPriorities[priority] {
		return nil, fmt.Errorf("invalid priority %q (valid: %s): %w", priority, enumList(ValidTaskPriorities), ErrValidation)
	}
	source := create.Source
	if source == "" {
		source = "system"
	}
	if !ValidTaskSources[source] {
		return nil, fmt.Errorf("invalid source %q (valid: %s): %w", source, enumList(ValidTaskSources), ErrValidation)
	}

	if create.ParentID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, create.ParentID).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("parent task %s: %w", create.ParentID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("checking parent task: %w", err)
		}
	}

	status := TaskStatePending
	if create.AssignedTo != "" {
		status = TaskStateAssigned
	}

	id := genTaskID()
	now := taskTimestamp()
	resources := create.Resources
	if resources == nil {
		resources = []string{}
	}
	resourcesJSON, err := json.Marshal(resources)
	if err != nil {
		return nil, fmt.Errorf("encoding resources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, project, assigned_to, status, priority, source, parent_id, resources, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, create.Title, create.Description, create.Project, create.AssignedTo,
		status, priority, source, create.ParentID, string(resourcesJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	s.logger.Info("created task", "id", id, "title", create.Title, "status", status)
	return s.GetTask(ctx, id)
}

// UpdateTask applies a partial update. Setting an assignee on a pending task
// auto-advances it to assigned unless the caller explicitly set a status.
// A task moved to done records its completion time.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, update *TaskUpdate) (*Task, error) {
	if update.Status != nil && !ValidTaskStates[*update.Status] {
		return nil, fmt.Errorf("invalid status %q (valid: %s): %w", *update.Status, enumList(ValidTaskStates), ErrValidation)
	}
	if update.Priority != nil && !ValidTaskPriorities[*update.Priority] {
		return nil, fmt.Errorf("invalid priority %q (valid: %s): %w", *update.Priority, enumList(ValidTaskPriorities), ErrValidation)
	}
	if update.Source != nil && !ValidTaskSources[*update.Source] {
		return nil, fmt.Errorf("invalid source %q (valid: %s): %w", *update.Source, enumList(ValidTaskSources), ErrValidation)
	}

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	now := taskTimestamp()
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *update.Status)
		if *update.Status == TaskStateDone {
			sets = append(sets, "completed_at = ?")
			args = append(args, now)
		}
	}
	if update.AssignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *update.AssignedTo)
		if current.Status == TaskStatePending && update.Status == nil {
			sets = append(sets, "status = ?")
			args = append(args, TaskStateAssigned)
		}
	}
	if update.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *update.Priority)
	}
	if update.Source != nil {
		sets = append(sets, "source = ?")
		args = append(args, *update.Source)
	}

	args = append(args, id)
	if _, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	s.logger.Debug("updated task", "id", id)
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task and its whole subtree, children before parents.
// Returns the number of tasks deleted including the root.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) (int, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("checking task: %w", err)
	}

	deleted, err := s.deleteTaskRecursive(ctx, id)
	if err != nil {
		return deleted, err
	}
	s.logger.Info("deleted task subtree", "id", id, "count", deleted)
	return deleted, nil
}

func (s *SQLiteStore) deleteTaskRecursive(ctx context.Context, id string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("querying task children: %w", err)
	}
	var childIDs []string
	for rows.Next() {
		var childID string
		if err := rows.Scan(&childID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning child id: %w", err)
		}
		childIDs = append(childIDs, childID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterating child rows: %w", err)
	}
	rows.Close()

	count := 0
	for _, childID := range childIDs {
		n, err := s.deleteTaskRecursive(ctx, childID)
		count += n
		if err != nil {
			return count, err
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return count, fmt.Errorf("deleting task: %w", err)
	}
	return count + 1, nil
}

func collectTasks(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task rows: %w", err)
	}
	return tasks, nil
}

func enumList(valid map[string]bool) string {
	keys := make([]string, 0, len(valid))
	for k := range valid {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}

// ABOUTME: Store interface and data types for cmux persistence
// ABOUTME: Defines Message, AgentEvent, Task structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrValidation is returned when input fails enum or reference validation
var ErrValidation = errors.New("validation failed")

// MessageType constants for message types
const (
	MessageTypeTask     = "task"
	MessageTypeStatus   = "status"
	MessageTypeResponse = "response"
	MessageTypeError    = "error"
	MessageTypeUser     = "user"
	MessageTypeMailbox  = "mailbox"
	MessageTypeSystem   = "system"
)

// TaskStatus constants for the task-lifecycle status carried on task messages
const (
	TaskStatusSubmitted     = "submitted"
	TaskStatusWorking       = "working"
	TaskStatusInputRequired = "input-required"
	TaskStatusCompleted     = "completed"
	TaskStatusFailed        = "failed"
)

// ValidTaskStatuses enumerates the allowed message task-lifecycle states
var ValidTaskStatuses = map[string]bool{
	TaskStatusSubmitted:     true,
	TaskStatusWorking:       true,
	TaskStatusInputRequired: true,
	TaskStatusCompleted:     true,
	TaskStatusFailed:        true,
}

// Message represents one unit of agent communication.
// TaskStatus is only meaningful on task-assignment messages and is the one
// mutable field; everything else is immutable once stored.
type Message struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	FromAgent  string         `json:"from_agent"`
	ToAgent    string         `json:"to_agent"`
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	TaskStatus string         `json:"task_status,omitempty"`
}

// AgentEvent event types from agent execution hooks
const (
	EventTypePostToolUse = "PostToolUse"
	EventTypeStop        = "Stop"
)

// Usage carries token accounting reported on a hook event
type Usage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
}

// AgentEvent records one tool invocation or turn completion from an agent hook.
// MessageID is set retroactively when a Stop event produces a response message.
type AgentEvent struct {
	ID         string    `json:"id"`
	EventType  string    `json:"event_type"`
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolInput  any       `json:"tool_input,omitempty"`
	ToolOutput any       `json:"tool_output,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	MessageID  string    `json:"message_id,omitempty"`
	Usage      *Usage    `json:"usage,omitempty"`
}

// Thought is an ephemeral reasoning note from an agent, persisted for replay
type Thought struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ArchivedAgent is a terminated agent's terminal snapshot
type ArchivedAgent struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	AgentName      string    `json:"agent_name"`
	AgentType      string    `json:"agent_type"`
	ArchivedAt     time.Time `json:"archived_at"`
	TerminalOutput string    `json:"terminal_output,omitempty"`
}

// Task is a hierarchical work item
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Project       string   `json:"project"`
	AssignedTo    string   `json:"assigned_to"`
	Status        string   `json:"status"`
	Priority      string   `json:"priority"`
	Source        string   `json:"source"`
	LinkedWorkers string   `json:"linked_workers"`
	ParentID      string   `json:"parent_id"`
	Resources     []string `json:"resources"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	CompletedAt   string   `json:"completed_at"`
	Children      []*Task  `json:"children,omitempty"`
}

// TaskCreate holds fields for creating a task
type TaskCreate struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Project     string   `json:"project"`
	Priority    string   `json:"priority"`
	Source      string   `json:"source"`
	ParentID    string   `json:"parent_id"`
	AssignedTo  string   `json:"assigned_to"`
	Resources   []string `json:"resources"`
}

// TaskUpdate holds optional fields for a partial task update.
// Nil pointers mean "leave unchanged".
type TaskUpdate struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
	Priority   *string `json:"priority"`
	Source     *string `json:"source"`
}

// TaskFilters narrows task listings
type TaskFilters struct {
	Project     string
	Status      string
	AssignedTo  string
	ParentID    *string
	IncludeDone bool
}

// TaskStats holds dashboard aggregates over the task graph
type TaskStats struct {
	Total          int            `json:"total"`
	ByStatus       map[string]int `json:"by_status"`
	ByPriority     map[string]int `json:"by_priority"`
	ByAssignee     map[string]int `json:"by_assignee"`
	NeedsAttention []*Task        `json:"needs_attention"`
}

// EventFilters narrows event listings
type EventFilters struct {
	SessionID string
	AgentID   string
	EventType string
	Limit     int
}

// ThoughtFilters narrows thought listings
type ThoughtFilters struct {
	AgentID string
	Limit   int
}

// AgentUsage aggregates token usage across one agent's events.
// Events without usage data contribute nothing, including to EventCount.
type AgentUsage struct {
	AgentID             string `json:"agent_id"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	EventCount          int64  `json:"event_count"`
}

// Inbox is an agent's full chronological history plus its original assignment
type Inbox struct {
	PinnedTask *Message   `json:"pinned_task"`
	Messages   []*Message `json:"messages"`
	Total      int        `json:"total"`
}

// Store defines the persistence interface for messages, events, thoughts,
// archives, and tasks
type Store interface {
	// Messages
	StoreMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, limit, offset int, agentID string) ([]*Message, error)
	CountMessages(ctx context.Context, agentID string) (int, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	UpdateMessageStatus(ctx context.Context, id, taskStatus string) error
	GetTaskMessages(ctx context.Context, statusFilter string) ([]*Message, error)
	GetInbox(ctx context.Context, agentID string, limit, offset int) (*Inbox, error)

	// Agent events
	StoreEvent(ctx context.Context, event *AgentEvent) error
	LinkEventsToMessage(ctx context.Context, agentID, messageID string) (int, error)
	GetEventsByMessage(ctx context.Context, messageID string) ([]*AgentEvent, error)
	GetEvents(ctx context.Context, filters EventFilters) ([]*AgentEvent, error)

	// Thoughts
	StoreThought(ctx context.Context, thought *Thought) error
	GetThoughts(ctx context.Context, filters ThoughtFilters) ([]*Thought, error)

	// Archives
	ArchiveAgent(ctx context.Context, agentID, agentName, agentType, terminalOutput string) (string, error)
	ListArchives(ctx context.Context) ([]*ArchivedAgent, error)
	GetArchive(ctx context.Context, archiveID string) (*ArchivedAgent, error)
	GetArchiveByAgent(ctx context.Context, agentID string) (*ArchivedAgent, error)

	// Budget
	GetUsageSummary(ctx context.Context) ([]*AgentUsage, error)
	GetAgentUsage(ctx context.Context, agentID string) (*AgentUsage, error)

	// Tasks
	ListTasks(ctx context.Context, filters TaskFilters) ([]*Task, error)
	GetTaskTree(ctx context.Context, project string, includeDone bool) ([]*Task, int, error)
	GetTaskStats(ctx context.Context) (*TaskStats, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateTask(ctx context.Context, create *TaskCreate) (*Task, error)
	UpdateTask(ctx context.Context, id string, update *TaskUpdate) (*Task, error)
	DeleteTask(ctx context.Context, id string) (int, error)

	// Close releases any resources held by the store
	Close() error
}

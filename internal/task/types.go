// Package task implements the persisted task board: CRUD plus an
// append-only activity log over a single JSON document.
package task

import (
	"time"
)

// Task statuses. Initialized to StatusAssigned when created with an
// assignee, StatusInbox otherwise.
const (
	StatusInbox      = "inbox"
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusPeerReview = "peer_review"
	StatusReview     = "review"
	StatusDone       = "done"
)

// ValidStatuses is the set of allowed task statuses.
var ValidStatuses = map[string]bool{
	StatusInbox:      true,
	StatusAssigned:   true,
	StatusInProgress: true,
	StatusPeerReview: true,
	StatusReview:     true,
	StatusDone:       true,
}

// Task is one persisted unit of work on the board.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	Category    string     `json:"category,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Comments    []Comment  `json:"comments"`
	Logs        []LogEntry `json:"logs"`
}

// Comment is a free-form note attached to a task.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one structured progress line emitted by an agent while
// working a task. Distinct from comments: logs stream live to clients.
type LogEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"` // info, warn, error, ...
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Activity is an immutable audit record of one state change. Appended in
// chronological order, pruned to a bounded tail on save.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // task
	Action    string    `json:"action"`
	Agent     string    `json:"agent,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	TaskTitle string    `json:"taskTitle,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Target    string    `json:"target,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Column is one board column; the set is persisted so the front end and
// companion tools agree on ordering.
type Column struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// AgentProfile describes one known agent on the board.
type AgentProfile struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// Document is the root persisted aggregate. All task mutation is
// read-document → mutate → write-document against this one structure.
type Document struct {
	Version     int                     `json:"version"`
	LastUpdated time.Time               `json:"lastUpdated"`
	Columns     []Column                `json:"columns"`
	Tasks       []Task                  `json:"tasks"`
	Activity    []Activity              `json:"activity"`
	Agents      map[string]AgentProfile `json:"agents"`
}

// NewDocument returns an empty board with the standard columns.
func NewDocument() *Document {
	return &Document{
		Version: 1,
		Columns: []Column{
			{ID: StatusInbox, Title: "Inbox"},
			{ID: StatusAssigned, Title: "Assigned"},
			{ID: StatusInProgress, Title: "In Progress"},
			{ID: StatusPeerReview, Title: "Peer Review"},
			{ID: StatusReview, Title: "Review"},
			{ID: StatusDone, Title: "Done"},
		},
		Tasks:    []Task{},
		Activity: []Activity{},
		Agents:   map[string]AgentProfile{},
	}
}

// CreateInput holds the parameters for creating a task.
type CreateInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Assignee    string `json:"assignee,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// Patch is the allow-listed partial update for a task. Only these fields
// can be merged from client input; anything else in a request body is
// dropped rather than persisted.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	Category    *string `json:"category,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

// ListQuery holds filters and pagination for listing tasks.
type ListQuery struct {
	Status      string
	Assignee    string
	ExcludeDone bool
	Limit       int
	Offset      int
	Compact     bool // strip comments and logs from the projection
}

// Stats summarizes the board.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByAssignee map[string]int `json:"byAssignee"`
	Activity   int            `json:"activity"`
}

// Package message implements the inter-agent message store: the same
// single-document read-mutate-write discipline as the task board, over an
// independent JSON file.
package message

import (
	"time"
)

// Message statuses.
const (
	StatusPending      = "pending"
	StatusAcknowledged = "acknowledged"
	StatusCompleted    = "completed"
)

// ValidStatuses is the set of allowed message statuses.
var ValidStatuses = map[string]bool{
	StatusPending:      true,
	StatusAcknowledged: true,
	StatusCompleted:    true,
}

// Message is one persisted inter-agent message.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type,omitempty"` // request, report, fyi, ...
	Subject   string    `json:"subject"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	Status    string    `json:"status"`
	TaskID    string    `json:"taskId,omitempty"`
	Replies   []Reply   `json:"replies"`
}

// Reply is an append-only response threaded onto a message.
type Reply struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Document is the persisted root for messages.
type Document struct {
	Version     int       `json:"version"`
	LastUpdated time.Time `json:"lastUpdated"`
	Messages    []Message `json:"messages"`
}

// NewDocument returns an empty message file.
func NewDocument() *Document {
	return &Document{Version: 1, Messages: []Message{}}
}

// CreateInput holds the parameters for sending a message.
type CreateInput struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type,omitempty"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	TaskID  string `json:"taskId,omitempty"`
}

// Patch is the allow-listed partial update for a message.
type Patch struct {
	Read    *bool   `json:"read,omitempty"`
	Status  *string `json:"status,omitempty"`
	Subject *string `json:"subject,omitempty"`
	Content *string `json:"content,omitempty"`
	TaskID  *string `json:"taskId,omitempty"`
}

// AgentCounts is the per-recipient slice of Counts.
type AgentCounts struct {
	Total   int `json:"total"`
	Unread  int `json:"unread"`
	Pending int `json:"pending"`
}

// Counts aggregates the message file globally and per recipient.
type Counts struct {
	Total    int                    `json:"total"`
	Unread   int                    `json:"unread"`
	Pending  int                    `json:"pending"`
	ByAgent map[string]AgentCounts `json:"byAgent"`
}

package message

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bridge/internal/errors"
	"github.com/p-blackswan/bridge/internal/safewrite"
)

const readCacheTTL = 2 * time.Second

// TaskCreator is the slice of the task store that message-to-task
// promotion needs. Decoupled here so the stores stay independent.
type TaskCreator interface {
	CreateFromMessage(title, description, assignee string) (taskID string, err error)
}

// Store owns the message document with the same single-writer discipline
// as the task store.
type Store struct {
	path   string
	writer safewrite.Writer
	logger zerolog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	cached   *Document
	loadedAt time.Time

	onChange func()
}

// NewStore returns a message store persisting to path.
func NewStore(path string, w safewrite.Writer, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		writer: w,
		logger: logger.With().Str("component", "message-store").Logger(),
		clock:  time.Now,
	}
}

// OnChange registers a hook fired after any successful mutation.
func (s *Store) OnChange(fn func()) { s.onChange = fn }

// SetClock overrides the time source for tests.
func (s *Store) SetClock(fn func() time.Time) { s.clock = fn }

// Invalidate drops the read cache after an external file change.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) newID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("msg_%d_%s", s.clock().UnixMilli(), suffix)
}

func (s *Store) loadLocked(force bool) (*Document, error) {
	if !force && s.cached != nil && s.clock().Sub(s.loadedAt) < readCacheTTL {
		return s.cached, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			doc := NewDocument()
			s.cached = doc
			s.loadedAt = s.clock()
			return doc, nil
		}
		return nil, fmt.Errorf("read message document: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse message document: %w", err)
	}
	s.cached = doc
	s.loadedAt = s.clock()
	return doc, nil
}

func (s *Store) persistLocked(doc *Document, reason string) error {
	doc.LastUpdated = s.clock().UTC()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal message document: %w", err)
	}
	res := s.writer.Write(s.path, data, reason)
	if res.Blocked {
		s.cached = nil
		s.logger.Warn().Str("reason", reason).Msg("message document write blocked")
		return perrors.ErrPersistBlocked
	}
	if res.Err != nil {
		s.cached = nil
		return fmt.Errorf("persist message document: %w", res.Err)
	}
	s.cached = doc
	s.loadedAt = s.clock()
	return nil
}

func findMessage(doc *Document, id string) int {
	for i := range doc.Messages {
		if doc.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Load returns the current document for read paths.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked(false)
	if err != nil {
		return Document{}, err
	}
	return *doc, nil
}

// Create appends a new message in pending state.
func (s *Store) Create(in CreateInput) (Message, error) {
	if strings.TrimSpace(in.To) == "" {
		return Message{}, &perrors.ValidationError{Field: "to", Reason: "must not be empty"}
	}
	if strings.TrimSpace(in.Subject) == "" && strings.TrimSpace(in.Content) == "" {
		return Message{}, &perrors.ValidationError{Field: "subject", Reason: "subject or content required"}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	m := Message{
		ID:        s.newID(),
		From:      strings.ToLower(strings.TrimSpace(in.From)),
		To:        strings.ToLower(strings.TrimSpace(in.To)),
		Type:      in.Type,
		Subject:   in.Subject,
		Content:   in.Content,
		Timestamp: s.clock().UTC(),
		Status:    StatusPending,
		TaskID:    in.TaskID,
		Replies:   []Reply{},
	}
	doc.Messages = append(doc.Messages, m)
	if err := s.persistLocked(doc, "message create"); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	return m, nil
}

// Update applies a patch to a message.
func (s *Store) Update(id string, p Patch) (Message, error) {
	if p.Status != nil && !ValidStatuses[*p.Status] {
		return Message{}, &perrors.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	i := findMessage(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, &perrors.NotFoundError{Kind: "message", ID: id}
	}
	m := &doc.Messages[i]
	if p.Read != nil {
		m.Read = *p.Read
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Subject != nil {
		m.Subject = *p.Subject
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.TaskID != nil {
		m.TaskID = *p.TaskID
	}
	updated := *m
	if err := s.persistLocked(doc, "message update"); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	return updated, nil
}

// Delete removes a message.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := findMessage(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return &perrors.NotFoundError{Kind: "message", ID: id}
	}
	doc.Messages = append(doc.Messages[:i], doc.Messages[i+1:]...)
	if err := s.persistLocked(doc, "message delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.fireChange()
	return nil
}

// Reply appends a reply and advances the message status: completed when
// the replier closes it out, acknowledged otherwise.
func (s *Store) Reply(id, from, text string, complete bool) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, &perrors.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	i := findMessage(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, &perrors.NotFoundError{Kind: "message", ID: id}
	}
	m := &doc.Messages[i]
	m.Replies = append(m.Replies, Reply{
		ID:        s.newID(),
		From:      strings.ToLower(strings.TrimSpace(from)),
		Text:      text,
		Timestamp: s.clock().UTC(),
	})
	if complete {
		m.Status = StatusCompleted
	} else {
		m.Status = StatusAcknowledged
	}
	updated := *m
	if err := s.persistLocked(doc, "message reply"); err != nil {
		s.mu.Unlock()
		return Message{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	return updated, nil
}

// MarkRead flags a message as read.
func (s *Store) MarkRead(id string) (Message, error) {
	read := true
	return s.Update(id, Patch{Read: &read})
}

// Counts scans the full message list and aggregates totals globally and
// per recipient. Agents with no traffic still appear with zero counts so
// the front end can render a stable roster.
func (s *Store) Counts(agents []string) (Counts, error) {
	s.mu.Lock()
	doc, err := s.loadLocked(false)
	s.mu.Unlock()
	if err != nil {
		return Counts{}, err
	}
	c := Counts{ByAgent: map[string]AgentCounts{}}
	for _, a := range agents {
		c.ByAgent[strings.ToLower(a)] = AgentCounts{}
	}
	for _, m := range doc.Messages {
		c.Total++
		if !m.Read {
			c.Unread++
		}
		if m.Status == StatusPending {
			c.Pending++
		}
		ac := c.ByAgent[m.To]
		ac.Total++
		if !m.Read {
			ac.Unread++
		}
		if m.Status == StatusPending {
			ac.Pending++
		}
		c.ByAgent[m.To] = ac
	}
	return c, nil
}

// CreateTaskFromMessage promotes a message into a task on the board and
// back-links the new task ID onto the message. The two writes hit
// separate documents with no shared transaction: if the back-link fails
// after the task landed, the task stays and the inconsistency is logged.
func (s *Store) CreateTaskFromMessage(id string, tc TaskCreator) (Message, string, error) {
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Message{}, "", err
	}
	i := findMessage(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Message{}, "", &perrors.NotFoundError{Kind: "message", ID: id}
	}
	m := doc.Messages[i]
	s.mu.Unlock()

	title := m.Subject
	if strings.TrimSpace(title) == "" {
		title = m.Content
	}
	taskID, err := tc.CreateFromMessage(title, m.Content, m.To)
	if err != nil {
		return Message{}, "", fmt.Errorf("create task from message %s: %w", id, err)
	}

	updated, err := s.Update(id, Patch{TaskID: &taskID})
	if err != nil {
		s.logger.Error().Err(err).
			Str("message_id", id).
			Str("task_id", taskID).
			Msg("task created but message back-link failed")
		return m, taskID, nil
	}
	return updated, taskID, nil
}

func (s *Store) fireChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

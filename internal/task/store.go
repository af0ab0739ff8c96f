package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/bridge/internal/errors"
	"github.com/p-blackswan/bridge/internal/safewrite"
	"github.com/p-blackswan/bridge/internal/snapshot"
)

// readCacheTTL bounds how long GET paths may serve a previously parsed
// document. Mutations always re-read from disk before applying.
const readCacheTTL = 2 * time.Second

// Store owns the task document. A single mutex serializes every
// read-mutate-persist cycle so concurrent writers cannot clobber each
// other's changes.
type Store struct {
	path         string
	archiveDir   string
	writer       safewrite.Writer
	maxActivity  int
	maxLogsPer   int
	logger       zerolog.Logger
	clock        func() time.Time

	mu       sync.Mutex
	cached   *Document
	loadedAt time.Time

	onChange func()
	onLog    func(t Task, entry LogEntry)
	onDone   func(t Task)
}

// NewStore returns a store persisting to path, archiving to archiveDir.
func NewStore(path, archiveDir string, w safewrite.Writer, maxActivity, maxLogsPerTask int, logger zerolog.Logger) *Store {
	return &Store{
		path:        path,
		archiveDir:  archiveDir,
		writer:      w,
		maxActivity: maxActivity,
		maxLogsPer:  maxLogsPerTask,
		logger:      logger.With().Str("component", "task-store").Logger(),
		clock:       time.Now,
	}
}

// OnChange registers a hook fired after any successful mutation, outside
// the store lock. Used to fan board updates out to connected clients.
func (s *Store) OnChange(fn func()) { s.onChange = fn }

// OnLog registers a hook fired when a log entry is appended to a task.
func (s *Store) OnLog(fn func(t Task, entry LogEntry)) { s.onLog = fn }

// OnDone registers a hook fired when a task transitions into done.
func (s *Store) OnDone(fn func(t Task)) { s.onDone = fn }

// SetClock overrides the time source for tests.
func (s *Store) SetClock(fn func() time.Time) { s.clock = fn }

// Invalidate drops the read cache. Called when the underlying file
// changes outside this process.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Store) newID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("task_%d_%s", s.clock().UnixMilli(), suffix)
}

func (s *Store) newEntryID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%s", prefix, s.clock().UnixMilli(), suffix)
}

// loadLocked parses the document from disk, honoring the read cache
// unless force is set. Caller holds s.mu. A missing file yields an empty
// board rather than an error.
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
		return nil, fmt.Errorf("read task document: %w", err)
	}
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("parse task document: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = map[string]AgentProfile{}
	}
	s.cached = doc
	s.loadedAt = s.clock()
	return doc, nil
}

// persistLocked prunes, bumps lastUpdated and writes the document
// through the guarded writer. Caller holds s.mu. On a blocked write the
// in-memory cache is invalidated so the next read reflects disk, and
// ErrPersistBlocked is returned.
func (s *Store) persistLocked(doc *Document, reason string) error {
	if len(doc.Activity) > s.maxActivity {
		doc.Activity = append([]Activity(nil), doc.Activity[len(doc.Activity)-s.maxActivity:]...)
	}
	for i := range doc.Tasks {
		if len(doc.Tasks[i].Logs) > s.maxLogsPer {
			doc.Tasks[i].Logs = append([]LogEntry(nil), doc.Tasks[i].Logs[len(doc.Tasks[i].Logs)-s.maxLogsPer:]...)
		}
	}
	doc.LastUpdated = s.clock().UTC()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task document: %w", err)
	}
	res := s.writer.Write(s.path, data, reason)
	if res.Blocked {
		s.cached = nil
		s.logger.Warn().Str("reason", reason).Msg("task document write blocked")
		return perrors.ErrPersistBlocked
	}
	if res.Err != nil {
		s.cached = nil
		return fmt.Errorf("persist task document: %w", res.Err)
	}
	s.cached = doc
	s.loadedAt = s.clock()
	return nil
}

func (s *Store) appendActivity(doc *Document, act Activity) {
	act.ID = s.newEntryID("act")
	act.Type = "task"
	act.Timestamp = s.clock().UTC()
	doc.Activity = append(doc.Activity, act)
}

func findTask(doc *Document, id string) int {
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
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

// Create adds a new task. With an assignee the task starts in assigned
// and gets both a created and an assigned activity record.
func (s *Store) Create(in CreateInput) (Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return Task{}, &perrors.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	now := s.clock().UTC()
	t := Task{
		ID:          s.newID(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Status:      StatusInbox,
		Assignee:    strings.ToLower(strings.TrimSpace(in.Assignee)),
		Category:    in.Category,
		Priority:    in.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		Comments:    []Comment{},
		Logs:        []LogEntry{},
	}
	if t.Assignee != "" {
		t.Status = StatusAssigned
	}
	doc.Tasks = append(doc.Tasks, t)
	s.appendActivity(doc, Activity{Action: "created", TaskID: t.ID, TaskTitle: t.Title, Agent: t.Assignee})
	if t.Assignee != "" {
		s.appendActivity(doc, Activity{Action: "assigned", TaskID: t.ID, TaskTitle: t.Title, Target: t.Assignee})
	}
	if err := s.persistLocked(doc, "task create"); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	return t, nil
}

// Update applies a patch to an existing task. A status change records a
// single moved activity carrying the old and new columns.
func (s *Store) Update(id string, p Patch, agent string) (Task, error) {
	if p.Status != nil && !ValidStatuses[*p.Status] {
		return Task{}, &perrors.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *p.Status)}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	i := findTask(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Task{}, &perrors.NotFoundError{Kind: "task", ID: id}
	}
	t := &doc.Tasks[i]
	var done bool
	if p.Status != nil && *p.Status != t.Status {
		s.appendActivity(doc, Activity{Action: "moved", TaskID: t.ID, TaskTitle: t.Title, Agent: agent, From: t.Status, To: *p.Status})
		done = *p.Status == StatusDone
		t.Status = *p.Status
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) != "" {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Assignee != nil {
		next := strings.ToLower(strings.TrimSpace(*p.Assignee))
		if next != t.Assignee {
			s.appendActivity(doc, Activity{Action: "assigned", TaskID: t.ID, TaskTitle: t.Title, Agent: agent, Target: next})
			t.Assignee = next
		}
	}
	if p.Category != nil {
		t.Category = *p.Category
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	t.UpdatedAt = s.clock().UTC()
	updated := *t
	if err := s.persistLocked(doc, "task update"); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	if done && s.onDone != nil {
		s.onDone(updated)
	}
	return updated, nil
}

// Delete removes a task and records the deletion.
func (s *Store) Delete(id, agent string) error {
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	i := findTask(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return &perrors.NotFoundError{Kind: "task", ID: id}
	}
	removed := doc.Tasks[i]
	doc.Tasks = append(doc.Tasks[:i], doc.Tasks[i+1:]...)
	s.appendActivity(doc, Activity{Action: "deleted", TaskID: removed.ID, TaskTitle: removed.Title, Agent: agent})
	if err := s.persistLocked(doc, "task delete"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	s.fireChange()
	return nil
}

// AddComment appends a comment to a task.
func (s *Store) AddComment(id, author, text string) (Task, error) {
	if strings.TrimSpace(text) == "" {
		return Task{}, &perrors.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	i := findTask(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Task{}, &perrors.NotFoundError{Kind: "task", ID: id}
	}
	t := &doc.Tasks[i]
	c := Comment{
		ID:        s.newEntryID("cmt"),
		Author:    strings.ToLower(strings.TrimSpace(author)),
		Text:      text,
		Timestamp: s.clock().UTC(),
	}
	t.Comments = append(t.Comments, c)
	t.UpdatedAt = c.Timestamp
	s.appendActivity(doc, Activity{Action: "commented", TaskID: t.ID, TaskTitle: t.Title, Agent: c.Author})
	updated := *t
	if err := s.persistLocked(doc, "task comment"); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	s.mu.Unlock()
	s.fireChange()
	return updated, nil
}

// AddLog appends a progress log line to a task. The per-task tail is
// bounded on save; the OnLog hook lets callers stream the entry to
// clients without waiting for the next board broadcast.
func (s *Store) AddLog(id, message, logType, agent string) (Task, error) {
	if strings.TrimSpace(message) == "" {
		return Task{}, &perrors.ValidationError{Field: "message", Reason: "must not be empty"}
	}
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	i := findTask(doc, id)
	if i < 0 {
		s.mu.Unlock()
		return Task{}, &perrors.NotFoundError{Kind: "task", ID: id}
	}
	t := &doc.Tasks[i]
	entry := LogEntry{
		ID:        s.newEntryID("log"),
		Message:   message,
		Type:      logType,
		Agent:     strings.ToLower(strings.TrimSpace(agent)),
		Timestamp: s.clock().UTC(),
	}
	t.Logs = append(t.Logs, entry)
	t.UpdatedAt = entry.Timestamp
	updated := *t
	if err := s.persistLocked(doc, "task log"); err != nil {
		s.mu.Unlock()
		return Task{}, err
	}
	s.mu.Unlock()
	if s.onLog != nil {
		s.onLog(updated, entry)
	}
	return updated, nil
}

// Get returns one task by ID.
func (s *Store) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked(false)
	if err != nil {
		return Task{}, err
	}
	i := findTask(doc, id)
	if i < 0 {
		return Task{}, &perrors.NotFoundError{Kind: "task", ID: id}
	}
	return doc.Tasks[i], nil
}

// List returns tasks matching the query plus the pre-pagination total.
func (s *Store) List(q ListQuery) ([]Task, int, error) {
	s.mu.Lock()
	doc, err := s.loadLocked(false)
	s.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	out := make([]Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if q.Assignee != "" && t.Assignee != strings.ToLower(q.Assignee) {
			continue
		}
		if q.ExcludeDone && t.Status == StatusDone {
			continue
		}
		out = append(out, t)
	}
	total := len(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if q.Offset > 0 {
		if q.Offset >= len(out) {
			out = out[:0]
		} else {
			out = out[q.Offset:]
		}
	}
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	if q.Compact {
		for i := range out {
			out[i].Comments = nil
			out[i].Logs = nil
		}
	}
	return out, total, nil
}

// Stats summarizes the board by status and assignee.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	doc, err := s.loadLocked(false)
	s.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Total:      len(doc.Tasks),
		ByStatus:   map[string]int{},
		ByAssignee: map[string]int{},
		Activity:   len(doc.Activity),
	}
	for _, t := range doc.Tasks {
		st.ByStatus[t.Status]++
		if t.Assignee != "" {
			st.ByAssignee[t.Assignee]++
		}
	}
	return st, nil
}

// Archive moves done tasks older than cutoffDays into a date-keyed
// archive file and removes them from the live document. Re-running on
// the same day appends to the same file, so repeated sweeps are safe.
func (s *Store) Archive(cutoffDays int) (int, error) {
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	cutoff := s.clock().UTC().AddDate(0, 0, -cutoffDays)
	var keep []Task
	var old []Task
	for _, t := range doc.Tasks {
		if t.Status == StatusDone && t.UpdatedAt.Before(cutoff) {
			old = append(old, t)
		} else {
			keep = append(keep, t)
		}
	}
	if len(old) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	if err := s.appendArchive(old); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	doc.Tasks = keep
	if doc.Tasks == nil {
		doc.Tasks = []Task{}
	}
	s.appendActivity(doc, Activity{Action: "archived", Message: fmt.Sprintf("%d task(s) archived", len(old))})
	if err := s.persistLocked(doc, "task archive"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()
	s.fireChange()
	s.logger.Info().Int("count", len(old)).Msg("archived done tasks")
	return len(old), nil
}

func (s *Store) appendArchive(tasks []Task) error {
	name := fmt.Sprintf("tasks-%s.json", s.clock().UTC().Format("2006-01-02"))
	path := filepath.Join(s.archiveDir, name)
	var existing []Task
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parse archive %s: %w", name, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read archive %s: %w", name, err)
	}
	existing = append(existing, tasks...)
	data, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}
	res := s.writer.Write(path, data, "task archive")
	if res.Blocked {
		return perrors.ErrPersistBlocked
	}
	if res.Err != nil {
		return fmt.Errorf("write archive %s: %w", name, res.Err)
	}
	return nil
}

// Prune trims the activity tail and per-task logs and persists the
// result. Normally pruning rides along with every save; this exists for
// explicit maintenance sweeps.
func (s *Store) Prune() error {
	s.mu.Lock()
	doc, err := s.loadLocked(true)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.persistLocked(doc, "task prune")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.fireChange()
	return nil
}

// TasksByAssignee projects open tasks per agent for the snapshot
// aggregator.
func (s *Store) TasksByAssignee() map[string][]snapshot.TaskRef {
	doc, err := s.Load()
	if err != nil {
		s.logger.Warn().Err(err).Msg("task projection unavailable")
		return map[string][]snapshot.TaskRef{}
	}
	out := map[string][]snapshot.TaskRef{}
	for _, t := range doc.Tasks {
		if t.Assignee == "" || t.Status == StatusDone {
			continue
		}
		out[t.Assignee] = append(out[t.Assignee], snapshot.TaskRef{
			ID:     t.ID,
			Title:  t.Title,
			Status: t.Status,
		})
	}
	return out
}

// CreateFromMessage adapts Create for message-to-task promotion.
func (s *Store) CreateFromMessage(title, description, assignee string) (string, error) {
	t, err := s.Create(CreateInput{Title: title, Description: description, Assignee: assignee})
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func (s *Store) fireChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

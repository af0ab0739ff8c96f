package message

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/bridge/internal/errors"
	"github.com/p-blackswan/bridge/internal/safewrite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.json")
	return NewStore(path, safewrite.NewGuarded(zerolog.Nop()), zerolog.Nop())
}

func TestCreateNormalizesAddresses(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Create(CreateInput{From: " Riker ", To: "DATA", Subject: "status check"})
	require.NoError(t, err)
	assert.Equal(t, "riker", m.From)
	assert.Equal(t, "data", m.To)
	assert.Equal(t, StatusPending, m.Status)
	assert.False(t, m.Read)
	assert.NotNil(t, m.Replies)
}

func TestCreateRequiresRecipientAndBody(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(CreateInput{From: "riker", Subject: "no recipient"})
	assert.True(t, perrors.IsValidation(err))

	_, err = s.Create(CreateInput{From: "riker", To: "data"})
	assert.True(t, perrors.IsValidation(err))
}

func TestReplyAdvancesStatus(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Create(CreateInput{From: "riker", To: "worf", Subject: "perimeter sweep"})
	require.NoError(t, err)

	acked, err := s.Reply(m.ID, "worf", "in progress", false)
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	require.Len(t, acked.Replies, 1)

	completed, err := s.Reply(m.ID, "worf", "sweep complete", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, completed.Status)
	require.Len(t, completed.Replies, 2)
}

func TestUpdateAndDelete(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Create(CreateInput{From: "data", To: "geordi", Subject: "diagnostics"})
	require.NoError(t, err)

	read, err := s.MarkRead(m.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	bad := "vaporized"
	_, err = s.Update(m.ID, Patch{Status: &bad})
	assert.True(t, perrors.IsValidation(err))

	require.NoError(t, s.Delete(m.ID))
	err = s.Delete(m.ID)
	assert.True(t, perrors.IsNotFound(err))
}

func TestCountsGlobalAndPerAgent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateInput{From: "riker", To: "data", Subject: "one"})
	require.NoError(t, err)
	m2, err := s.Create(CreateInput{From: "riker", To: "data", Subject: "two"})
	require.NoError(t, err)
	_, err = s.Create(CreateInput{From: "data", To: "worf", Subject: "three"})
	require.NoError(t, err)

	_, err = s.MarkRead(m2.ID)
	require.NoError(t, err)
	_, err = s.Reply(m2.ID, "data", "done", true)
	require.NoError(t, err)

	c, err := s.Counts([]string{"data", "worf", "quark"})
	require.NoError(t, err)
	assert.Equal(t, 3, c.Total)
	assert.Equal(t, 2, c.Unread)
	assert.Equal(t, 2, c.Pending)
	assert.Equal(t, AgentCounts{Total: 2, Unread: 1, Pending: 1}, c.ByAgent["data"])
	assert.Equal(t, AgentCounts{Total: 1, Unread: 1, Pending: 1}, c.ByAgent["worf"])
	assert.Equal(t, AgentCounts{}, c.ByAgent["quark"], "idle agents still get a zero row")
}

type fakeTaskCreator struct {
	title, desc, assignee string
	id                    string
	err                   error
}

func (f *fakeTaskCreator) CreateFromMessage(title, description, assignee string) (string, error) {
	f.title, f.desc, f.assignee = title, description, assignee
	return f.id, f.err
}

func TestCreateTaskFromMessageBackLinks(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Create(CreateInput{From: "riker", To: "geordi", Subject: "fix the lift", Content: "turbolift three is stuck"})
	require.NoError(t, err)

	tc := &fakeTaskCreator{id: "task_1_abc"}
	updated, taskID, err := s.CreateTaskFromMessage(m.ID, tc)
	require.NoError(t, err)
	assert.Equal(t, "task_1_abc", taskID)
	assert.Equal(t, "task_1_abc", updated.TaskID)
	assert.Equal(t, "fix the lift", tc.title)
	assert.Equal(t, "geordi", tc.assignee)
}

func TestCreateTaskFromMessagePropagatesCreateFailure(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Create(CreateInput{From: "riker", To: "geordi", Subject: "doomed"})
	require.NoError(t, err)

	tc := &fakeTaskCreator{err: errors.New("board unavailable")}
	_, _, err = s.CreateTaskFromMessage(m.ID, tc)
	require.Error(t, err)

	// The message is untouched when the task never landed.
	got, err := s.Load()
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Empty(t, got.Messages[0].TaskID)
}

func TestCreateTaskFromMessageMissing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.CreateTaskFromMessage("msg_0_none", &fakeTaskCreator{})
	assert.True(t, perrors.IsNotFound(err))
}

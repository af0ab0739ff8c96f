package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/bridge/internal/hub"
	"github.com/p-blackswan/bridge/internal/task"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *gws.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

// startServer wires the hub callbacks the way the daemon does and serves
// the app on a loopback listener.
func startServer(t *testing.T) (string, *task.Store) {
	t.Helper()
	srv, tasks, messages := testServer(t)
	h := srv.deps.Hub

	h.OnRegister(func() []hub.Frame {
		frames := []hub.Frame{{Type: hub.TypeInit, Data: srv.deps.Aggregator.Gather(context.Background())}}
		if doc, err := tasks.Load(); err == nil {
			frames = append(frames, hub.Frame{Type: hub.TypeTasks, Data: doc})
		}
		if doc, err := messages.Load(); err == nil {
			frames = append(frames, hub.Frame{Type: hub.TypeMessages, Data: doc})
		}
		return frames
	})
	tasks.OnChange(func() {
		if doc, err := tasks.Load(); err == nil {
			h.Broadcast(hub.TypeTasksUpdate, doc)
		}
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.App().Listener(ln)
	t.Cleanup(func() { srv.Shutdown() })

	return ln.Addr().String(), tasks
}

func TestE2E_ConnectReceivesInitialFrames(t *testing.T) {
	addr, _ := startServer(t)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, hub.TypeInit, readFrame(t, conn).Type)
	assert.Equal(t, hub.TypeTasks, readFrame(t, conn).Type)
	assert.Equal(t, hub.TypeMessages, readFrame(t, conn).Type)
}

func TestE2E_RestPatchBroadcastsOneTasksUpdate(t *testing.T) {
	addr, tasks := startServer(t)
	created, err := tasks.Create(task.CreateInput{Title: "reroute power", Assignee: "geordi"})
	require.NoError(t, err)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Drain the three initial frames.
	for i := 0; i < 3; i++ {
		readFrame(t, conn)
	}

	req, err := http.NewRequest("PATCH",
		fmt.Sprintf("http://%s/api/tasks/%s", addr, created.ID),
		strings.NewReader(`{"status":"in_progress"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f := readFrame(t, conn)
	require.Equal(t, hub.TypeTasksUpdate, f.Type)
	var doc task.Document
	require.NoError(t, json.Unmarshal(f.Data, &doc))
	require.Len(t, doc.Tasks, 1)
	assert.Equal(t, task.StatusInProgress, doc.Tasks[0].Status)

	// The debounce window collapses to a single frame: nothing further.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "no trailing frame expected")
}

func TestE2E_PingPongFrame(t *testing.T) {
	addr, _ := startServer(t)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	for i := 0; i < 3; i++ {
		readFrame(t, conn)
	}

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, hub.TypePong, readFrame(t, conn).Type)
}

func TestE2E_CreateTaskOverWebsocket(t *testing.T) {
	addr, tasks := startServer(t)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	for i := 0; i < 3; i++ {
		readFrame(t, conn)
	}

	require.NoError(t, conn.WriteMessage(gws.TextMessage,
		[]byte(`{"type":"create_task","title":"scan the nebula","assignee":"data"}`)))

	f := readFrame(t, conn)
	require.Equal(t, hub.TypeTasksUpdate, f.Type)

	list, _, err := tasks.List(task.ListQuery{Assignee: "data"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "scan the nebula", list[0].Title)
}

func TestE2E_UnknownFrameIgnored(t *testing.T) {
	addr, _ := startServer(t)

	conn, _, err := gws.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	for i := 0; i < 3; i++ {
		readFrame(t, conn)
	}

	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"self_destruct"}`)))
	// Connection survives: a ping still round-trips.
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(`{"type":"ping"}`)))
	assert.Equal(t, hub.TypePong, readFrame(t, conn).Type)
}

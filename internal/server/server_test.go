package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/bridge/internal/cache"
	"github.com/p-blackswan/bridge/internal/collab"
	"github.com/p-blackswan/bridge/internal/config"
	"github.com/p-blackswan/bridge/internal/hub"
	"github.com/p-blackswan/bridge/internal/message"
	"github.com/p-blackswan/bridge/internal/safewrite"
	"github.com/p-blackswan/bridge/internal/snapshot"
	"github.com/p-blackswan/bridge/internal/task"
)

type stubSystem struct{}

func (stubSystem) Collect(context.Context) collab.SystemInfo { return collab.SystemInfo{} }

type stubGit struct{}

func (stubGit) StatusAll(context.Context, []string) []collab.GitStatus { return nil }

type stubFleet struct{}

func (stubFleet) Sessions(context.Context) []collab.Session       { return []collab.Session{} }
func (stubFleet) Cron(context.Context) []collab.CronJob           { return []collab.CronJob{} }
func (stubFleet) Checkpoints(context.Context) []collab.Checkpoint { return []collab.Checkpoint{} }

type stubQuark struct{}

func (stubQuark) Read() (collab.Portfolio, error) {
	return collab.Portfolio{StartingBalance: 100}, nil
}

type stubGateway struct{}

func (stubGateway) Probe(context.Context) collab.GatewayStatus { return collab.GatewayStatus{} }

type stubWeather struct{}

func (stubWeather) Fetch(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{"temp":"21C"}`), nil
}

// testServer builds a full app over temp-dir stores and stub collaborators.
func testServer(t *testing.T) (*Server, *task.Store, *message.Store) {
	t.Helper()
	logger := zerolog.Nop()
	dir := t.TempDir()

	cfg := config.Config{
		Port:             0,
		Home:             dir,
		ArchiveAfterDays: 7,
		MaxActivity:      500,
		MaxLogsPerTask:   50,
		DebounceWindow:   5 * time.Millisecond,
		PingInterval:     time.Minute,
	}

	writer := safewrite.NewGuarded(logger)
	tasks := task.NewStore(cfg.TasksPath(), cfg.ArchiveDir(), writer, cfg.MaxActivity, cfg.MaxLogsPerTask, logger)
	messages := message.NewStore(cfg.MessagesPath(), writer, logger)

	roster := snapshot.DefaultRoster()
	agg := snapshot.New(snapshot.Deps{
		Cache:   cache.New(logger),
		System:  stubSystem{},
		Git:     stubGit{},
		Fleet:   stubFleet{},
		Quark:   stubQuark{},
		Gateway: stubGateway{},
		Weather: stubWeather{},
		Roster:  roster,
		Tasks:   tasks,
	}, logger)

	h := hub.New(cfg.DebounceWindow, logger)
	t.Cleanup(h.Close)

	srv := New(Deps{
		Config:     cfg,
		Aggregator: agg,
		Tasks:      tasks,
		Messages:   messages,
		Hub:        h,
		Status:     collab.NewStatusReader(cfg.StatusPath, logger),
		Roster:     roster,
	}, logger)
	return srv, tasks, messages
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, body := doJSON(t, srv.App(), "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestServer_GetData(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, body := doJSON(t, srv.App(), "GET", "/api/data", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["stardate"])
	assert.Contains(t, body, "crew")
}

func TestServer_TaskCRUD(t *testing.T) {
	srv, _, _ := testServer(t)
	app := srv.App()

	resp, created := doJSON(t, app, "POST", "/api/tasks", `{"title":"align the dish","assignee":"geordi"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.True(t, strings.HasPrefix(id, "task_"))
	assert.Equal(t, "assigned", created["status"])

	resp, updated := doJSON(t, app, "PATCH", "/api/tasks/"+id, `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in_progress", updated["status"])

	resp, list := doJSON(t, app, "GET", "/api/tasks?assignee=geordi", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), list["total"])

	resp, _ = doJSON(t, app, "POST", "/api/tasks/"+id+"/comments", `{"author":"data","text":"trajectory verified"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/tasks/"+id+"/logs", `{"message":"phase one","logType":"info","agent":"geordi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, stats := doJSON(t, app, "GET", "/api/tasks/stats", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), stats["total"])

	resp, _ = doJSON(t, app, "DELETE", "/api/tasks/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_TaskErrors(t *testing.T) {
	srv, _, _ := testServer(t)
	app := srv.App()

	resp, body := doJSON(t, app, "PATCH", "/api/tasks/task_0_missing", `{"status":"done"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")

	resp, body = doJSON(t, app, "POST", "/api/tasks", `{"title":""}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "title")

	resp, body = doJSON(t, app, "POST", "/api/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON", body["error"])
}

func TestServer_MessageFlow(t *testing.T) {
	srv, _, _ := testServer(t)
	app := srv.App()

	resp, created := doJSON(t, app, "POST", "/api/messages", `{"from":"riker","to":"worf","subject":"drill","content":"run security drill"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := created["id"].(string)
	assert.Equal(t, "pending", created["status"])

	resp, replied := doJSON(t, app, "POST", "/api/messages/"+id+"/reply", `{"from":"worf","text":"drill complete","complete":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", replied["status"])

	resp, promoted := doJSON(t, app, "POST", "/api/messages/"+id+"/create-task", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	taskID := promoted["taskId"].(string)
	assert.True(t, strings.HasPrefix(taskID, "task_"))
	msg := promoted["message"].(map[string]any)
	assert.Equal(t, taskID, msg["taskId"])

	resp, counts := doJSON(t, app, "GET", "/api/messages/counts", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), counts["total"])
	byAgent := counts["byAgent"].(map[string]any)
	assert.Contains(t, byAgent, "worf")
	assert.Contains(t, byAgent, "quark", "full crew present even without traffic")
}

func TestServer_StatusProxyFallback(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, body := doJSON(t, srv.App(), "GET", "/api/stall", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unknown", body["status"], "missing status file degrades, never errors")
}

func TestServer_WeatherProxy(t *testing.T) {
	srv, _, _ := testServer(t)

	resp, body := doJSON(t, srv.App(), "GET", "/api/weather", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "21C", body["temp"])
}

func TestServer_CORSPreflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req, _ := http.NewRequest("OPTIONS", "/api/tasks", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_ArchiveEndpoint(t *testing.T) {
	srv, tasks, _ := testServer(t)
	app := srv.App()

	// Backdate a done task beyond the cutoff.
	tasks.SetClock(func() time.Time { return time.Now().AddDate(0, 0, -30) })
	created, err := tasks.Create(task.CreateInput{Title: "stale"})
	require.NoError(t, err)
	done := task.StatusDone
	_, err = tasks.Update(created.ID, task.Patch{Status: &done}, "")
	require.NoError(t, err)
	tasks.SetClock(time.Now)

	resp, body := doJSON(t, app, "POST", "/api/tasks/archive", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["archived"])

	_, err = tasks.Get(created.ID)
	require.Error(t, err)
}

package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_CapturesOutput(t *testing.T) {
	r := NewRunner(5*time.Second, zerolog.Nop())

	out, err := r.Run(context.Background(), "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(100*time.Millisecond, zerolog.Nop())

	_, err := r.Run(context.Background(), "sleep 2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunner_FailureReturnsError(t *testing.T) {
	r := NewRunner(5*time.Second, zerolog.Nop())

	_, err := r.Run(context.Background(), "exit 3")
	assert.Error(t, err)
}

func TestParseLoadAvg(t *testing.T) {
	out := " 10:02:11 up 3 days,  4:12,  2 users,  load average: 0.52, 0.61, 0.70"
	assert.InDelta(t, 0.52, parseLoadAvg(out), 0.001)
	assert.Zero(t, parseLoadAvg("garbage"))
}

func TestParseUptimePretty(t *testing.T) {
	out := " 10:02:11 up 3 days,  4:12,  2 users,  load average: 0.52, 0.61, 0.70"
	assert.Equal(t, "3 days,  4:12", parseUptimePretty(out))
}

func TestParseFreeMem(t *testing.T) {
	out := "              total        used        free\nMem:          15876        8123        1204\nSwap:          2047           0        2047"
	used, total := parseFreeMem(out)
	assert.Equal(t, int64(8123), used)
	assert.Equal(t, int64(15876), total)
}

func TestParseDiskUse(t *testing.T) {
	out := "Filesystem      Size  Used Avail Use% Mounted on\n/dev/sda1       234G  180G   42G  82% /"
	assert.Equal(t, 82, parseDiskUse(out))
}

func TestParseBranchHeader(t *testing.T) {
	tests := []struct {
		header string
		branch string
		ahead  int
		behind int
	}{
		{"main...origin/main [ahead 2, behind 1]", "main", 2, 1},
		{"main...origin/main [ahead 3]", "main", 3, 0},
		{"feature/x", "feature/x", 0, 0},
	}
	for _, tt := range tests {
		branch, ahead, behind := parseBranchHeader(tt.header)
		assert.Equal(t, tt.branch, branch)
		assert.Equal(t, tt.ahead, ahead)
		assert.Equal(t, tt.behind, behind)
	}
}

func TestGit_StatusCountsChanges(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner(10*time.Second, zerolog.Nop())
	if _, err := r.RunIn(context.Background(), dir, "git init -q -b main ."); err != nil {
		t.Skip("git not available")
	}
	_, err := r.RunIn(context.Background(), dir, "touch a.txt b.txt")
	require.NoError(t, err)

	g := NewGit(r, zerolog.Nop())
	st := g.Status(context.Background(), dir)

	assert.Equal(t, "main", st.Branch)
	assert.True(t, st.Dirty)
	assert.Equal(t, 2, st.Changes)
}

func TestQuark_ReadMissingFileIsEmpty(t *testing.T) {
	q := NewQuark(filepath.Join(t.TempDir(), "nope.json"), zerolog.Nop())

	p, err := q.Read()
	require.NoError(t, err)
	assert.Zero(t, p.Balance)
	assert.Empty(t, p.Trades)
}

func TestQuark_ReadPortfolio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolio.json")
	body := `{"starting_balance":100,"balance":125,"trades":[{"result":"win","profit":10},{"result":"loss","profit":-5},{"result":"win","profit":20}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	q := NewQuark(path, zerolog.Nop())
	p, err := q.Read()
	require.NoError(t, err)

	assert.Equal(t, 100.0, p.StartingBalance)
	assert.Len(t, p.Trades, 3)
	assert.Equal(t, "loss", p.Trades[1].Result)
}

func TestGateway_ProbeOnlineAndOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uptime":"48h"}`))
	}))
	defer srv.Close()

	g := NewGateway(srv.URL, time.Second, zerolog.Nop())
	st := g.Probe(context.Background())
	assert.Equal(t, "ONLINE", st.Status)
	assert.Equal(t, "48h", st.Uptime)

	dead := NewGateway("http://127.0.0.1:1", time.Second, zerolog.Nop())
	assert.Equal(t, "OFFLINE", dead.Probe(context.Background()).Status)
}

func TestWeather_FetchPassesRawJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"current_condition":[{"temp_C":"21"}]}`))
	}))
	defer srv.Close()

	w := NewWeather(srv.URL, time.Second, zerolog.Nop())
	raw, err := w.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
	assert.Contains(t, string(raw), "temp_C")
}

func TestStatusReader_FallbackAndPassthrough(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stall.json"), []byte(`{"stalled":false}`), 0o644))

	sr := NewStatusReader(func(name string) string { return filepath.Join(dir, name+".json") }, zerolog.Nop())

	assert.JSONEq(t, `{"stalled":false}`, string(sr.Read("stall")))
	assert.JSONEq(t, `{"status":"unknown"}`, string(sr.Read("work-loop")))
}

func TestFleet_SessionsFallsBackToEmpty(t *testing.T) {
	r := NewRunner(time.Second, zerolog.Nop())
	f := NewFleet("definitely-not-a-real-binary", r, zerolog.Nop())

	sessions := f.Sessions(context.Background())
	assert.NotNil(t, sessions)
	assert.Empty(t, sessions)
}

func TestFleet_SessionsDecodesJSON(t *testing.T) {
	// Stand in for the fleet CLI with a shell script.
	dir := t.TempDir()
	script := filepath.Join(dir, "fleet")
	body := "#!/bin/sh\necho '[{\"key\":\"agent:main\",\"label\":\"research sweep\"}]'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	r := NewRunner(5*time.Second, zerolog.Nop())
	f := NewFleet(script, r, zerolog.Nop())

	sessions := f.Sessions(context.Background())
	require.Len(t, sessions, 1)
	assert.Equal(t, "research sweep", sessions[0].Label)
}

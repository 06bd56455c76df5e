package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepsearch/internal/config"
	"deepsearch/internal/graph"
	"deepsearch/internal/research"
	"deepsearch/internal/service"
	"deepsearch/internal/session"
)

// stubGraph completes immediately with a canned answer.
func stubGraph(t *testing.T) *graph.Compiled {
	t.Helper()
	g, err := graph.New(research.StateSchema()).
		AddNode(research.NodeFinalizeAnswer, func(ctx context.Context, s graph.State, cfg graph.Config) (graph.State, error) {
			return graph.State{
				research.FieldFinalAnswer: "Paris.",
				research.FieldLoopCount:   1,
				research.FieldSearchQuery: []string{"q"},
			}, nil
		}).
		AddEdge(research.NodeFinalizeAnswer, graph.End).
		SetEntry(research.NodeFinalizeAnswer).
		Compile()
	require.NoError(t, err)
	return g
}

func newTestServer(t *testing.T, apiKey string) (*Server, *session.Registry, *session.Monitor) {
	t.Helper()
	reg := session.NewRegistry()
	monitor := session.NewMonitor()
	monitor.Close()
	t.Cleanup(monitor.Close)

	svc := service.New(stubGraph(t), reg, monitor)
	cfg := config.DefaultServerConfig()
	cfg.APIKey = apiKey
	return New(cfg, svc, reg, monitor), reg, monitor
}

func TestRunEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/deepsearch/run", "application/json",
		strings.NewReader(`{"query": "What is the capital of France?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out service.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
	assert.Equal(t, "Paris.", out.Answer)
	assert.Equal(t, 1, out.Metadata.NumberOfQueries)
}

func TestRunEndpointValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cases := []string{
		`{}`,
		`{"query": ""}`,
		`{"query": "q", "max_research_loops": 9}`,
		`not json`,
	}
	for _, body := range cases {
		resp, err := http.Post(ts.URL+"/api/v1/deepsearch/run", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestAPIKeyGate(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	// Missing key.
	resp, err := http.Post(ts.URL+"/api/v1/deepsearch/run", "application/json",
		strings.NewReader(`{"query": "q"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct key.
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/deepsearch/run", strings.NewReader(`{"query": "q"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Stats endpoint stays open.
	resp, err = http.Get(ts.URL + "/api/v1/monitor/sse/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStreamEndpointFramingAndHeaders(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/deepsearch/run/stream", "application/json",
		strings.NewReader(`{"query": "capital of France"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))
	assert.NotEmpty(t, resp.Header.Get("X-Connection-ID"))

	var eventLines, dataLines []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLines = append(eventLines, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NotEmpty(t, eventLines)
	assert.Equal(t, "started", eventLines[0])
	assert.Equal(t, "completed", eventLines[len(eventLines)-1])
	require.Equal(t, len(eventLines), len(dataLines))

	// Every data line is a well-formed event whose type matches the frame.
	var lastSeq int64
	for i, d := range dataLines {
		var e service.Event
		require.NoError(t, json.Unmarshal([]byte(d), &e))
		assert.Equal(t, eventLines[i], string(e.Type))
		assert.Greater(t, e.Sequence, lastSeq)
		lastSeq = e.Sequence
	}
}

func TestStreamEndpointRegistersMonitorConnection(t *testing.T) {
	srv, _, monitor := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/deepsearch/run/stream", "application/json",
		strings.NewReader(`{"query": "q"}`))
	require.NoError(t, err)
	_, _ = bufio.NewReader(resp.Body).ReadString(0)
	resp.Body.Close()

	stats := monitor.Snapshot()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, 1, stats.SuccessfulConnections)
}

func TestCancelEndpoint(t *testing.T) {
	srv, reg, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	reg.Create("abc")
	resp, err := http.Post(ts.URL+"/api/v1/deepsearch/cancel/abc", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, reg.IsCancelled("abc"))
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

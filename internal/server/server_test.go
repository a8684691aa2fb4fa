package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/urska/config"
	"github.com/mohammad-safakhou/urska/internal/admission"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/service"
	"github.com/mohammad-safakhou/urska/internal/store"
	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	events []progress.Event
	err    error
	runs   map[string]store.RunRecord
	asked  chan service.Request
}

func (f *fakeService) Ask(ctx context.Context, req service.Request, sink progress.Sink) (service.Result, error) {
	if f.asked != nil {
		f.asked <- req
	}
	for _, ev := range f.events {
		if err := sink.Emit(ctx, ev); err != nil {
			return service.Result{}, err
		}
	}
	return service.Result{RunID: "run-1"}, f.err
}

func (f *fakeService) Run(_ context.Context, id string) (store.RunRecord, error) {
	rec, ok := f.runs[id]
	if !ok {
		return store.RunRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (f *fakeService) Runs(context.Context, int) ([]store.RunRecord, error) {
	out := make([]store.RunRecord, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeService) QueueStats() admission.Stats {
	return admission.Stats{Capacity: 1, Waiting: 2, Running: 1}
}

type toolList []tools.Tool

func (t toolList) Tools() []tools.Tool { return t }

func newTestServer(svc Service, opts ...Option) *httptest.Server {
	opts = append([]Option{WithGatherer(prometheus.NewRegistry())}, opts...)
	s := New(config.ServerConfig{StreamBuffer: 4}, svc, opts...)
	return httptest.NewServer(s.Handler())
}

func readSSE(t *testing.T, resp *http.Response) []progress.Event {
	t.Helper()
	var out []progress.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev progress.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		out = append(out, ev)
	}
	return out
}

func TestAskStreamsProgress(t *testing.T) {
	svc := &fakeService{events: []progress.Event{
		progress.QueuePosition(1),
		progress.Notification("Preparing..."),
		progress.Chunk("Answer"),
		progress.End("Answer based on R"),
	}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(`{"objective":"X?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.Len(t, events, 4)
	n, ok := events[0].Position()
	require.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, progress.TypeEnd, events[3].Type)
	assert.Equal(t, "Answer based on R", events[3].Text())
}

func TestAskStreamsFailure(t *testing.T) {
	svc := &fakeService{
		events: []progress.Event{progress.Fail("PlanFormatError", "plan: unexpected field foo")},
		err:    errors.New("plan: unexpected field foo"),
	}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(`{"objective":"X?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	events := readSSE(t, resp)
	require.Len(t, events, 1)
	f, ok := events[0].Failure()
	require.True(t, ok)
	assert.Equal(t, "PlanFormatError", f.Kind)
}

func TestAskRejectsBadRequests(t *testing.T) {
	ts := newTestServer(&fakeService{})
	defer ts.Close()

	for _, body := range []string{`{"objective":"  "}`, `not json`} {
		resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		var payload map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.NotEmpty(t, payload["error"])
	}
}

func TestAskPassesConversation(t *testing.T) {
	svc := &fakeService{asked: make(chan service.Request, 1), events: []progress.Event{progress.End("ok")}}
	ts := newTestServer(svc)
	defer ts.Close()

	body := `{"objective":"and X?","conversation":[{"role":"user","content":"Tell me about Y"},{"role":"assistant","content":"Y is"}]}`
	resp, err := http.Post(ts.URL+"/api/ask", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	readSSE(t, resp)

	select {
	case req := <-svc.asked:
		assert.Equal(t, "and X?", req.Objective)
		require.Len(t, req.Conversation, 2)
		assert.Equal(t, "Tell me about Y", req.Conversation[0].Content)
	case <-time.After(time.Second):
		t.Fatal("service not called")
	}
}

func TestRunEndpoints(t *testing.T) {
	svc := &fakeService{runs: map[string]store.RunRecord{
		"run-1": {ID: "run-1", Objective: "X?", Status: store.StatusDone, Answer: "Answer based on R"},
	}}
	ts := newTestServer(svc)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/runs/run-1")
	require.NoError(t, err)
	var rec store.RunRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Answer based on R", rec.Answer)

	resp, err = http.Get(ts.URL + "/api/runs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/runs?limit=5")
	require.NoError(t, err)
	var list struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Len(t, list.Runs, 1)

	resp, err = http.Get(ts.URL + "/api/runs?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueToolsAndHealth(t *testing.T) {
	ts := newTestServer(&fakeService{}, WithTools(toolList{{Name: "T", Description: "looks things up"}}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/queue")
	require.NoError(t, err)
	var st admission.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Equal(t, admission.Stats{Capacity: 1, Waiting: 2, Running: 1}, st)

	resp, err = http.Get(ts.URL + "/api/tools")
	require.NoError(t, err)
	var tl struct {
		Tools []tools.Tool `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tl))
	resp.Body.Close()
	require.Len(t, tl.Tools, 1)
	assert.Equal(t, "T", tl.Tools[0].Name)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

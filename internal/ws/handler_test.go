package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy_prices/internal/model"
	"energy_prices/internal/pipeline"
)

type fakeReporter struct {
	mu   sync.Mutex
	reqs []pipeline.Request
	err  error
}

func (f *fakeReporter) Build(_ context.Context, req pipeline.Request) (*pipeline.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Report{
		Kind:    req.Kind,
		Country: "NL",
		Years:   req.Years,
		Annual:  []model.AggregateRow{{Key: req.Years[0], Mean: 42.5, Count: 10}},
	}, nil
}

type fakeCache struct {
	mu        sync.Mutex
	entries   []model.CacheEntry
	refreshed []int
}

func (f *fakeCache) Refresh(_ context.Context, kind model.Kind, year int) (model.PriceSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, year)
	f.entries = append(f.entries, model.CacheEntry{Kind: kind, Country: "NL", Year: year, Rows: 24})
	return model.PriceSeries{Kind: kind, Observations: make([]model.PriceObservation, 24)}, nil
}

func (f *fakeCache) Entries(context.Context) ([]model.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.CacheEntry(nil), f.entries...), nil
}

func testHandler() (*Handler, *fakeReporter, *fakeCache) {
	rep := &fakeReporter{}
	c := &fakeCache{entries: []model.CacheEntry{{Kind: model.KindDayAhead, Country: "NL", Year: 2022, Complete: true, Rows: 8760}}}
	h := NewHandler(NewHub(), rep, c, DataLoadedPayload{
		Country:  "NL",
		Timezone: "Europe/Amsterdam",
		Kinds:    []string{"day_ahead", "imbalance"},
	})
	return h, rep, c
}

// dialHandler sets up a test server with the handler and returns a WS connection.
func dialHandler(t *testing.T, handler *Handler) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		server.Close()
	}
}

// readJSON reads the next JSON message from the connection.
func readJSON(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(msg, &env))
	return env
}

// sendJSON sends a JSON message on the connection.
func sendJSON(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := NewEnvelope(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func drainInitial(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	readJSON(t, conn) // data:loaded
	readJSON(t, conn) // cache:status
}

func TestHandler_InitialMessages(t *testing.T) {
	handler, _, _ := testHandler()

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()

	env1 := readJSON(t, conn)
	assert.Equal(t, TypeDataLoaded, env1.Type)

	var dl DataLoadedPayload
	require.NoError(t, json.Unmarshal(env1.Payload, &dl))
	assert.Equal(t, "NL", dl.Country)
	assert.Equal(t, "Europe/Amsterdam", dl.Timezone)
	assert.Len(t, dl.Kinds, 2)

	env2 := readJSON(t, conn)
	assert.Equal(t, TypeCacheStatus, env2.Type)

	var cs CacheStatusPayload
	require.NoError(t, json.Unmarshal(env2.Payload, &cs))
	require.Len(t, cs.Entries, 1)
	assert.Equal(t, 2022, cs.Entries[0].Year)
	assert.True(t, cs.Entries[0].Complete)
}

func TestHandler_ReportRequest(t *testing.T) {
	handler, rep, _ := testHandler()

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	drainInitial(t, conn)

	sendJSON(t, conn, TypeReportRequest, ReportRequestPayload{Kind: "DA", Years: []int{2022, 2023}, Days: "business"})

	env := readJSON(t, conn)
	assert.Equal(t, TypeReportData, env.Type)

	var r pipeline.Report
	require.NoError(t, json.Unmarshal(env.Payload, &r))
	assert.Equal(t, model.KindDayAhead, r.Kind)
	assert.Equal(t, []int{2022, 2023}, r.Years)
	require.Len(t, r.Annual, 1)
	assert.InDelta(t, 42.5, r.Annual[0].Mean, 1e-9)

	rep.mu.Lock()
	defer rep.mu.Unlock()
	require.Len(t, rep.reqs, 1)
	assert.Equal(t, pipeline.BusinessDays, rep.reqs[0].Days)
}

func TestHandler_ReportErrors(t *testing.T) {
	handler, rep, _ := testHandler()
	rep.err = errors.New("no data for day_ahead")

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	drainInitial(t, conn)

	tests := []struct {
		name    string
		payload ReportRequestPayload
		want    string
	}{
		{"unknown kind", ReportRequestPayload{Kind: "intraday", Years: []int{2023}}, "unknown price kind"},
		{"bad filter", ReportRequestPayload{Kind: "day_ahead", Years: []int{2023}, Days: "weekends"}, "day filter"},
		{"builder failure", ReportRequestPayload{Kind: "imbalance", Years: []int{2023}}, "no data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sendJSON(t, conn, TypeReportRequest, tt.payload)
			env := readJSON(t, conn)
			assert.Equal(t, TypeError, env.Type)

			var p ErrorPayload
			require.NoError(t, json.Unmarshal(env.Payload, &p))
			assert.Equal(t, TypeReportRequest, p.Request)
			assert.Contains(t, p.Message, tt.want)
		})
	}
}

func TestHandler_CacheRefresh(t *testing.T) {
	handler, _, c := testHandler()

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	drainInitial(t, conn)

	sendJSON(t, conn, TypeCacheRefresh, CacheRefreshPayload{Kind: "imb", Year: 2024})

	env := readJSON(t, conn)
	assert.Equal(t, TypeCacheRefreshed, env.Type)
	var p CacheRefreshedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, CacheRefreshedPayload{Kind: "imbalance", Year: 2024, Rows: 24}, p)

	env = readJSON(t, conn)
	assert.Equal(t, TypeCacheStatus, env.Type)
	var cs CacheStatusPayload
	require.NoError(t, json.Unmarshal(env.Payload, &cs))
	assert.Len(t, cs.Entries, 2)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, []int{2024}, c.refreshed)
}

func TestHandler_CacheQuery(t *testing.T) {
	handler, _, _ := testHandler()

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	drainInitial(t, conn)

	sendJSON(t, conn, TypeCacheQuery, nil)
	env := readJSON(t, conn)
	assert.Equal(t, TypeCacheStatus, env.Type)
}

func TestHandler_InvalidAndUnknownMessages(t *testing.T) {
	handler, _, _ := testHandler()

	conn, cleanup := dialHandler(t, handler)
	defer cleanup()
	drainInitial(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	env := readJSON(t, conn)
	assert.Equal(t, TypeError, env.Type)

	sendJSON(t, conn, "sim:start", nil)
	env = readJSON(t, conn)
	assert.Equal(t, TypeError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "sim:start", p.Request)

	// Connection still serves requests afterwards.
	sendJSON(t, conn, TypeCacheQuery, nil)
	assert.Equal(t, TypeCacheStatus, readJSON(t, conn).Type)
}

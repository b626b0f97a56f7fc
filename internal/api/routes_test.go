package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signac/viewer/internal/backend"
	"github.com/signac/viewer/internal/cache"
	"github.com/signac/viewer/internal/dataset"
	"github.com/signac/viewer/internal/metrics"
	"github.com/signac/viewer/internal/protocol"
	"github.com/signac/viewer/internal/render"
	"github.com/signac/viewer/internal/rpc"
)

type memLoader struct{}

func (memLoader) Columns() ([]string, error) { return []string{"ZMass", "ZPt"}, nil }
func (memLoader) Column(i int) ([]float32, error) {
	if i == 0 {
		return []float32{10, 20, 30, 40}, nil
	}
	return []float32{1, 2, 3, 4}, nil
}
func (memLoader) Close() error { return nil }

type testServer struct {
	srv     *httptest.Server
	svc     *backend.Service
	hub     *Hub
	metrics *metrics.Registry
}

// gatedLoader holds back its last column until release is closed.
type gatedLoader struct {
	release chan struct{}
}

func (gatedLoader) Columns() ([]string, error) { return []string{"ZMass", "Slow"}, nil }
func (l gatedLoader) Column(i int) ([]float32, error) {
	if i == 1 {
		<-l.release
		return []float32{-2, 0, 2, 8}, nil
	}
	return []float32{10, 20, 30, 40}, nil
}
func (gatedLoader) Close() error { return nil }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, memLoader{})
}

func newTestServerWith(t *testing.T, loader dataset.Loader) *testServer {
	t.Helper()
	ds, err := dataset.New(loader, dataset.Config{Workers: 2})
	require.NoError(t, err)

	c, err := cache.NewManager(cache.Config{ImageCacheSizeMB: 8, QueryCacheSize: 10})
	require.NoError(t, err)

	reg := metrics.NewRegistry()
	svc := backend.NewService(backend.Config{
		Dataset:  ds,
		Renderer: render.NewRenderer(render.Config{}),
		Cache:    c,
		Metrics:  reg.Server,
	})
	hub := NewHub(HubConfig{Service: svc, Metrics: reg.Server, AllowedOrigins: []string{"http://localhost:3000"}})
	router := NewRouter(RouterConfig{
		Service:     svc,
		Hub:         hub,
		Cache:       c,
		Metrics:     reg,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		c.Close()
		ds.Close()
	})
	return &testServer{srv: srv, svc: svc, hub: hub, metrics: reg}
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
}

func TestFieldsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.get(t, "/api/fields")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Fields []struct {
			Label  string `json:"label"`
			Loaded bool   `json:"loaded"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Len(t, payload.Fields, 2)
	assert.Equal(t, "ZMass", payload.Fields[0].Label)
	assert.False(t, payload.Fields[0].Loaded)
}

func TestFieldStatsEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.get(t, "/api/fields/ZMass/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))

	var stats FieldStats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	assert.Equal(t, FieldStats{Label: "ZMass", Count: 4, Min: 10, Max: 40, Mean: 25}, stats)

	resp, _ = s.get(t, "/api/fields/ZMass/stats")
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp, _ = s.get(t, "/api/fields/nope/stats")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "signac_server_clients_connected")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/fields", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocket_RPCRoundTrip(t *testing.T) {
	s := newTestServer(t)

	events := make(chan protocol.Event, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rpc.Dial(ctx, rpc.Config{
		URL:     s.wsURL(),
		OnEvent: func(ev protocol.Event) { events <- ev },
	})
	require.NoError(t, err)
	defer client.Close()

	next := func() protocol.Event {
		select {
		case ev := <-events:
			return ev
		case <-ctx.Done():
			t.Fatal("no event")
			return protocol.Event{}
		}
	}

	require.NoError(t, client.Go(ctx, protocol.MethodRequestFieldList, protocol.FieldListRequest{}).Wait(ctx))
	ev := next()
	require.NotNil(t, ev.FieldList)
	assert.Len(t, ev.FieldList.Fields, 2)

	client.Go(ctx, protocol.MethodRequestNewPlot, protocol.NewPlotRequest{PlotID: 0, Width: 20, Height: 20})
	client.Go(ctx, protocol.MethodRequestImage, protocol.ImageRequest{PlotID: 0, Width: 20, Height: 20})
	ev = next()
	require.NotNil(t, ev.Image)
	assert.False(t, ev.Image.Unchanged())
	assert.Equal(t, "X", ev.Image.Axis.XLabel)

	client.Go(ctx, protocol.MethodSetFilter, protocol.FilterRequest{Slot: 0, Field: "ZPt"})
	ev = next()
	require.NotNil(t, ev.FilterDomain)
	assert.Equal(t, protocol.FilterDomain{Slot: 0, Field: "ZPt", Min: 1, Max: 4}, *ev.FilterDomain)

	assert.Equal(t, 1, s.svc.Clients())

	client.Close()
	require.Eventually(t, func() bool { return s.svc.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_SlowFilterFieldDoesNotHoldImages(t *testing.T) {
	loader := gatedLoader{release: make(chan struct{})}
	s := newTestServerWith(t, loader)
	var once sync.Once
	release := func() { once.Do(func() { close(loader.release) }) }
	t.Cleanup(release)

	events := make(chan protocol.Event, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := rpc.Dial(ctx, rpc.Config{
		URL:     s.wsURL(),
		OnEvent: func(ev protocol.Event) { events <- ev },
	})
	require.NoError(t, err)
	defer client.Close()

	next := func() protocol.Event {
		select {
		case ev := <-events:
			return ev
		case <-ctx.Done():
			t.Fatal("no event")
			return protocol.Event{}
		}
	}

	require.NoError(t, client.Go(ctx, protocol.MethodRequestNewPlot,
		protocol.NewPlotRequest{PlotID: 0, Width: 20, Height: 20}).Wait(ctx))
	require.NoError(t, client.Go(ctx, protocol.MethodSetFilter,
		protocol.FilterRequest{Slot: 0, Field: "Slow"}).Wait(ctx))
	client.Go(ctx, protocol.MethodRequestImage, protocol.ImageRequest{PlotID: 0, Width: 20, Height: 20})

	ev := next()
	require.NotNil(t, ev.Image, "image answered while the filter column loads")
	assert.Nil(t, ev.FilterDomain)

	release()
	ev = next()
	require.NotNil(t, ev.FilterDomain)
	assert.Equal(t, protocol.FilterDomain{Slot: 0, Field: "Slow", Min: -2, Max: 8}, *ev.FilterDomain)
}

func TestWebSocket_ErrorFrames(t *testing.T) {
	s := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() protocol.Envelope {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var env protocol.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		return env
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	env := read()
	assert.Equal(t, protocol.TypeError, env.Type)
	assert.Contains(t, env.Error, "malformed")

	call, err := protocol.NewCall(7, "c-1", "frobnicate", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(call))
	env = read()
	assert.Equal(t, uint64(7), env.ID)
	assert.Contains(t, env.Error, "unknown method")

	call, err = protocol.NewCall(8, "c-2", protocol.MethodRequestFieldList, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(call))
	env = read()
	assert.Equal(t, uint64(8), env.ID)
	assert.Contains(t, env.Error, ErrClientMismatch.Error())
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	s := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()

	call, err := protocol.NewCall(1, "c-1", protocol.MethodRequestFieldList, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(call))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, 1, s.svc.Clients())

	s.hub.Close()
	assert.Equal(t, 0, s.svc.Clients())
	assert.Equal(t, 0, s.hub.Connections())
}

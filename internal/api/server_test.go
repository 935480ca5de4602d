package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/humshakals/api/schemas"
	"github.com/xkilldash9x/humshakals/internal/browser"
	"github.com/xkilldash9x/humshakals/internal/browser/browsertest"
	"github.com/xkilldash9x/humshakals/internal/browser/stealth"
	"github.com/xkilldash9x/humshakals/internal/config"
	"github.com/xkilldash9x/humshakals/internal/devices"
	"github.com/xkilldash9x/humshakals/internal/kvstore"
	"github.com/xkilldash9x/humshakals/internal/orchestrator"
	"github.com/xkilldash9x/humshakals/internal/pocket"
	"github.com/xkilldash9x/humshakals/internal/scheduler"
	"github.com/xkilldash9x/humshakals/internal/state"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type nopHost struct{}

func (nopHost) AttachDebugChannel(context.Context, string) error                   { return nil }
func (nopHost) SetDeviceMetrics(context.Context, string, int64, int64, bool) error { return nil }
func (nopHost) SetTouchEmulation(context.Context, string, bool) error              { return nil }
func (nopHost) DetachDebugChannel(context.Context, string) error                   { return nil }
func (nopHost) OpenDevTools(context.Context, string, bool, string) error           { return nil }
func (nopHost) AppVersion() string                                                 { return "1.4.0" }

func (nopHost) CaptureScreenshot(_ context.Context, filename, _ string) (string, error) {
	return "/out/" + filename, nil
}

func (nopHost) SaveReport(_ context.Context, filename, _ string) (string, error) {
	return "/out/" + filename, nil
}

type surfaceFactory struct{}

func (surfaceFactory) NewSurface(_ context.Context, d schemas.DeviceProfile, _ stealth.Params) (browser.Surface, error) {
	return browsertest.New("target-" + d.ID), nil
}

type fixture struct {
	srv   *Server
	http  *httptest.Server
	orch  *orchestrator.Orchestrator
	clock *scheduler.ManualClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	fs, err := kvstore.NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	settings := kvstore.NewSettings(fs, zap.NewNop())
	registry := devices.NewRegistry(ctx, settings, zap.NewNop())

	cfg := config.NewDefaultConfig()
	cfg.SetPreviewSuite(schemas.DefaultSuiteID)
	p, err := pocket.New(cfg.Pocket(), settings, logger)
	require.NoError(t, err)

	clock := scheduler.NewManualClock()
	orch, err := orchestrator.New(cfg, logger, orchestrator.Dependencies{
		Registry: registry,
		Store:    state.NewStore(state.Initial(cfg.Preview())),
		Factory:  surfaceFactory{},
		Host:     nopHost{},
		Pocket:   p,
		Clock:    clock,
	})
	require.NoError(t, err)
	require.NoError(t, orch.Start(ctx))

	srv := NewServer(orch, logger)
	detach := srv.Attach(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
		detach()
		orch.Close(context.Background())
	})
	return &fixture{srv: srv, http: ts, orch: orch, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, Response) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.http.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	res, err := f.http.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out Response
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t)
	code, res := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Success)

	_, res = f.do(t, http.MethodGet, "/api/version", "")
	assert.Equal(t, map[string]interface{}{"version": "1.4.0"}, res.Data)
}

func TestNavigateAndContexts(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPost, "/api/navigate", `{"address":"example.com"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]interface{}{"address": "https://example.com"}, res.Data)

	f.clock.Advance(10 * time.Second)

	code, res = f.do(t, http.MethodGet, "/api/contexts", "")
	require.Equal(t, http.StatusOK, code)
	snaps, okType := res.Data.([]interface{})
	require.True(t, okType)
	require.Len(t, snaps, 3, "default suite")
	for _, s := range snaps {
		assert.Equal(t, "https://example.com", s.(map[string]interface{})["url"])
	}

	code, _ = f.do(t, http.MethodPost, "/api/navigate", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestToggles(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPut, "/api/touch", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res.Data.(map[string]interface{})["touch"])

	code, res = f.do(t, http.MethodPut, "/api/rotate", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, res.Data.(map[string]interface{})["rotate"])

	code, res = f.do(t, http.MethodPut, "/api/zoom", `{"zoom":0.7}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0.67, res.Data.(map[string]interface{})["zoom"])

	code, _ = f.do(t, http.MethodPut, "/api/touch", `{}`)
	assert.Equal(t, http.StatusBadRequest, code, "enabled is required")
}

func TestContextActions(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPost, "/api/contexts/10003/screenshot", "")
	require.Equal(t, http.StatusOK, code)
	path := res.Data.(map[string]interface{})["path"].(string)
	assert.True(t, strings.HasPrefix(path, "/out/iPhone_SE_viewport_"), path)

	code, res = f.do(t, http.MethodPost, "/api/contexts/10003/report", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, res.Data.(map[string]interface{})["path"], "-Report-")

	code, _ = f.do(t, http.MethodPost, "/api/contexts/nope/reload", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/contexts/10003/teleport", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/contexts/10003/back", "")
	assert.Equal(t, http.StatusConflict, code, "no history yet")

	code, _ = f.do(t, http.MethodPut, "/api/contexts/10003/mirroring", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	c, err := f.orch.Context("10003")
	require.NoError(t, err)
	assert.False(t, c.Mirroring())

	code, res = f.do(t, http.MethodGet, "/api/contexts/10003/events", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{}, res.Data)
}

func TestDevicesAndSuites(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodGet, "/api/devices?type=desktop", "")
	require.Equal(t, http.StatusOK, code)
	for _, d := range res.Data.([]interface{}) {
		assert.Equal(t, "desktop", d.(map[string]interface{})["type"])
	}

	code, _ = f.do(t, http.MethodGet, "/api/devices?type=watch", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = f.do(t, http.MethodPost, "/api/devices",
		`{"name":"Kiosk","width":1024,"height":600,"dpr":1,"type":"tablet","isTouchCapable":true}`)
	require.Equal(t, http.StatusCreated, code)
	id := res.Data.(map[string]interface{})["id"].(string)
	assert.True(t, strings.HasPrefix(id, schemas.CustomDevicePrefix))

	code, _ = f.do(t, http.MethodPost, "/api/suites/active/devices/"+id, "")
	require.Equal(t, http.StatusOK, code)
	_, err := f.orch.Context(id)
	require.NoError(t, err, "toggling mounts the device")

	code, _ = f.do(t, http.MethodDelete, "/api/devices/"+id, "")
	require.Equal(t, http.StatusOK, code)
	_, err = f.orch.Context(id)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownDevice, "removal unmounts the device")

	code, _ = f.do(t, http.MethodDelete, "/api/devices/10003", "")
	assert.Equal(t, http.StatusBadRequest, code, "built-ins cannot be removed")

	code, res = f.do(t, http.MethodPost, "/api/suites", `{"name":"Phones","deviceIds":["10003","10010"]}`)
	require.Equal(t, http.StatusCreated, code)
	suiteID := res.Data.(map[string]interface{})["id"].(string)

	code, _ = f.do(t, http.MethodPut, "/api/suites/active", `{"id":"`+suiteID+`"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, f.orch.Contexts(), 2)

	code, _ = f.do(t, http.MethodPut, "/api/suites/active", `{"id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRules(t *testing.T) {
	f := newFixture(t)

	code, res := f.do(t, http.MethodPatch, "/api/rules", `{"networkMatch":"/api/*"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/api/*", res.Data.(map[string]interface{})["networkMatch"])

	_, res = f.do(t, http.MethodGet, "/api/rules", "")
	assert.Equal(t, "/api/*", res.Data.(map[string]interface{})["networkMatch"])
	assert.Equal(t, "/api/*", f.orch.Store().Rules().NetworkMatch)
}

func TestStream(t *testing.T) {
	f := newFixture(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.srv.Hub().Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	f.orch.Store().Dispatch(state.SetZoom{Zoom: 1})
	m := read()
	assert.Equal(t, MessageState, m.Type)

	f.orch.Pocket().Notify(schemas.Notification{DeviceID: "10003", Kind: pocket.KindError, Message: "boom"})
	m = read()
	assert.Equal(t, MessageNotification, m.Type)
	assert.Equal(t, "10003", m.DeviceID)

	// Narrow the stream to one device.
	require.NoError(t, conn.WriteJSON(command{Type: "subscribe", DeviceID: "90002"}))
	require.Eventually(t, func() bool {
		hub := f.srv.Hub()
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.wants("90002") && !c.wants("10003") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	f.orch.Pocket().Notify(schemas.Notification{DeviceID: "10003", Kind: pocket.KindLog, Message: "filtered"})
	f.orch.Pocket().Notify(schemas.Notification{DeviceID: "90002", Kind: pocket.KindLog, Message: "kept"})
	m = read()
	assert.Equal(t, "90002", m.DeviceID)
}

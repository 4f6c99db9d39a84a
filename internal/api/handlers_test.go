package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baby-monitor/relay-server/internal/cache"
	"github.com/baby-monitor/relay-server/internal/config"
	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
	"github.com/baby-monitor/relay-server/internal/realtime"
	"github.com/baby-monitor/relay-server/internal/stream"
)

type recordingSink struct {
	commands []models.DeviceCommand
	err      error
}

func (s *recordingSink) SendCommand(cmd models.DeviceCommand) error {
	s.commands = append(s.commands, cmd)
	return s.err
}

func newTestServer(t *testing.T) (*RESTServer, *recordingSink) {
	t.Helper()

	cfg := config.Default()
	cfg.Stream.MinFrameSize = 1
	cfg.Stream.KeepAliveTimeout = 100 * time.Millisecond
	cfg.Realtime.IdleTimeout = time.Second

	tracker := ingest.NewDeviceTracker()
	store := cache.NewMemoryStore(time.Minute)
	bus := stream.NewFrameBus(cfg.Stream.ViewerQueueSize, cfg.Stream.MinFrameSize)
	registry := realtime.NewConnectionRegistry(ingest.StatusSnapshot{Tracker: tracker})
	pipeline := ingest.NewPipeline(tracker, store, bus, registry)
	ticker := realtime.NewHeartbeatTicker(time.Second, 30*time.Second, registry, cache.Freshness{Store: store})
	sink := &recordingSink{}

	return NewRESTServer(cfg, Deps{
		Pipeline: pipeline,
		Registry: registry,
		Bus:      bus,
		Store:    store,
		Sink:     sink,
		Ticker:   ticker,
		Tracker:  tracker,
	}), sink
}

func doJSON(t *testing.T, s *RESTServer, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["cache"])
}

func TestHandleRoot(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", body["status"])
}

func TestIngestSensorAndReadBack(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/esp32/data", map[string]interface{}{
		"temperature": 22.0,
		"humidity":    50.0,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Contains(t, body["processed"], "sensor")
	assert.Equal(t, "low", body["alert_level"])

	rec, body = doJSON(t, s, http.MethodGet, "/app/data/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, 22.0, data["temperature"])
}

func TestIngestImageAndReadBack(t *testing.T) {
	s, _ := newTestServer(t)

	payload := make([]byte, 32)
	copy(payload, []byte{0xff, 0xd8, 0xff})
	rec, body := doJSON(t, s, http.MethodPost, "/esp32/data", map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(payload),
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["processed"], "image")

	rec, body = doJSON(t, s, http.MethodGet, "/app/images/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), body["image"])
}

func TestIngestInvalidBody(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/esp32/data", bytes.NewReader([]byte("{broken")))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestImageEndpointRejectsBadBase64(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/esp32/image", map[string]interface{}{
		"image": "%%%not-base64%%%",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "decode frame")
}

func TestIngestImageEndpointRequiresImage(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/esp32/image", map[string]interface{}{
		"temperature": 22.0,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLatestDataNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodGet, "/app/data/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeviceCommand(t *testing.T) {
	s, sink := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/esp32/command", map[string]interface{}{
		"command": "restart",
		"params":  map[string]interface{}{"delay": 5},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", body["status"])
	require.Len(t, sink.commands, 1)
	assert.Equal(t, "restart", sink.commands[0].Command)
	assert.Equal(t, "api", sink.commands[0].Source)
}

func TestDeviceCommandMissingName(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/esp32/command", map[string]interface{}{
		"params": map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleTime(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/app/time", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UTC", body["timezone"])
	assert.Contains(t, body, "utc_time")
	assert.Contains(t, body, "timestamp_unix")
}

func TestVideoStatus(t *testing.T) {
	s, _ := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodGet, "/video/status", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["viewer_count"])
	assert.Equal(t, false, body["has_latest_frame"])
}

func TestHandleStatusIncludesDevices(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, http.MethodPost, "/esp32/data", map[string]interface{}{
		"temperature": 22.0,
	})

	rec, body := doJSON(t, s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	devices := body["devices"].(map[string]interface{})
	assert.Contains(t, devices, models.DeviceSensor)
	assert.Contains(t, devices, "overall")
}

package command

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
)

func trackerFor(addr string) *ingest.DeviceTracker {
	tracker := ingest.NewDeviceTracker()
	if addr != "" {
		tracker.MarkSeen(models.DeviceSensor, addr)
	}
	return tracker
}

func TestSendCommandSuccess(t *testing.T) {
	var received models.DeviceCommand
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/command", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	relay := NewRelay(trackerFor(strings.TrimPrefix(srv.URL, "http://")), time.Second)

	cmd := models.NewDeviceCommand("lullaby_control", map[string]interface{}{"action": "start"}, "mobile_app")
	require.NoError(t, relay.SendCommand(cmd))

	assert.Equal(t, "lullaby_control", received.Command)
	assert.Equal(t, "start", received.Params["action"])
	assert.Equal(t, "mobile_app", received.Source)
}

func TestSendCommandNoKnownAddress(t *testing.T) {
	relay := NewRelay(trackerFor(""), time.Second)

	err := relay.SendCommand(models.NewDeviceCommand("restart", nil, "api"))
	assert.ErrorIs(t, err, ErrDeviceUnreachable)
}

func TestSendCommandDeviceRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tracker := trackerFor(strings.TrimPrefix(srv.URL, "http://"))
	relay := NewRelay(tracker, time.Second)

	err := relay.SendCommand(models.NewDeviceCommand("restart", nil, "api"))
	assert.ErrorIs(t, err, ErrDeviceUnreachable)

	state, _ := tracker.State(models.DeviceSensor)
	assert.Equal(t, ingest.DeviceError, state.Status)
}

func TestSendCommandConnectionFailure(t *testing.T) {
	// Reserved port, nothing listens there.
	tracker := trackerFor("127.0.0.1:1")
	relay := NewRelay(tracker, 200*time.Millisecond)

	err := relay.SendCommand(models.NewDeviceCommand("restart", nil, "api"))
	assert.ErrorIs(t, err, ErrDeviceUnreachable)

	state, _ := tracker.State(models.DeviceSensor)
	assert.Equal(t, ingest.DeviceTimeout, state.Status)
}

package api

import (
	"bufio"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baby-monitor/relay-server/internal/models"
)

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestAppStreamHandshake(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/app/stream")

	first := readMessage(t, conn)
	assert.Equal(t, models.MsgConnectionEstablished, first["type"])
	clientID := first["client_id"].(string)
	assert.True(t, strings.HasPrefix(clientID, "mobile_app_"))

	second := readMessage(t, conn)
	assert.Equal(t, models.MsgCurrentStatus, second["type"])
}

func TestAppStreamPingPong(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/app/stream")
	readMessage(t, conn) // connection_established
	readMessage(t, conn) // current_status

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))

	msg := readMessage(t, conn)
	assert.Equal(t, models.MsgPong, msg["type"])
}

func TestAppStreamReceivesSensorBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/app/stream")
	readMessage(t, conn)
	readMessage(t, conn)

	doJSON(t, s, http.MethodPost, "/esp32/data", map[string]interface{}{
		"temperature": 27.0,
		"humidity":    50.0,
	})

	// esp32_sensor_data and new_data arrive in some order.
	types := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg := readMessage(t, conn)
		types[msg["type"].(string)] = true
	}
	assert.True(t, types[models.MsgSensorData])
	assert.True(t, types[models.MsgNewData])
}

func TestAppStreamWebCategoryExcludedFromSensorData(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "/app/stream?client_type=web")
	first := readMessage(t, conn)
	assert.True(t, strings.HasPrefix(first["client_id"].(string), "web_"))
	readMessage(t, conn) // current_status

	doJSON(t, s, http.MethodPost, "/esp32/data", map[string]interface{}{
		"temperature": 22.0,
	})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg map[string]interface{}
	err := conn.ReadJSON(&msg)
	assert.Error(t, err, "web clients must not receive mobile-only sensor data")
}

func TestVideoStreamDeliversFrames(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	payload := make([]byte, 64)
	copy(payload, []byte{0xff, 0xd8, 0xff})
	doJSON(t, s, http.MethodPost, "/esp32/image", map[string]interface{}{
		"image": base64.StdEncoding.EncodeToString(payload),
	})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/video/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	// The latest frame replays to the fresh viewer.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)

	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Length: 64\r\n", line)

	_, err = reader.ReadString('\n') // blank line
	require.NoError(t, err)

	body := make([]byte, 64)
	_, err = io.ReadFull(reader, body)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
}

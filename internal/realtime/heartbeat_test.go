package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baby-monitor/relay-server/internal/models"
)

type fakeBroadcaster struct {
	mu    sync.Mutex
	msgs  []models.BroadcastMessage
	count int
}

func (b *fakeBroadcaster) BroadcastAll(msg models.BroadcastMessage) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
	return b.count
}

func (b *fakeBroadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *fakeBroadcaster) sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

type fixedSource struct {
	t   time.Time
	err error
}

func (s fixedSource) LatestDataTime(context.Context) (time.Time, error) {
	return s.t, s.err
}

func TestBuildTimeUpdateFresh(t *testing.T) {
	now := time.Now().UTC()
	source := fixedSource{t: now.Add(-10 * time.Second)}
	h := NewHeartbeatTicker(time.Second, 30*time.Second, &fakeBroadcaster{}, source)

	msg := h.buildTimeUpdate(context.Background(), now)

	require.Equal(t, models.MsgTimeUpdate, msg.Type)
	assert.Equal(t, "UTC", msg.Payload["server_timezone"])
	assert.Equal(t, true, msg.Payload["data_is_fresh"])
	assert.InDelta(t, 10.0, msg.Payload["data_age_seconds"].(float64), 0.5)
}

func TestBuildTimeUpdateStale(t *testing.T) {
	now := time.Now().UTC()
	source := fixedSource{t: now.Add(-2 * time.Minute)}
	h := NewHeartbeatTicker(time.Second, 30*time.Second, &fakeBroadcaster{}, source)

	msg := h.buildTimeUpdate(context.Background(), now)

	assert.Equal(t, false, msg.Payload["data_is_fresh"])
}

func TestBuildTimeUpdateCacheError(t *testing.T) {
	source := fixedSource{err: errors.New("cache down")}
	h := NewHeartbeatTicker(time.Second, 30*time.Second, &fakeBroadcaster{}, source)

	msg := h.buildTimeUpdate(context.Background(), time.Now().UTC())

	// Freshness fields are absent, not false, when the cache fails.
	assert.NotContains(t, msg.Payload, "data_is_fresh")
	assert.NotContains(t, msg.Payload, "data_age_seconds")
	assert.NotContains(t, msg.Payload, "latest_data_time")
	assert.Contains(t, msg.Payload, "server_time_utc")
	assert.Contains(t, msg.Payload, "uptime_seconds")
}

func TestHeartbeatDelivers(t *testing.T) {
	b := &fakeBroadcaster{count: 1}
	h := NewHeartbeatTicker(10*time.Millisecond, 30*time.Second, b, nil)

	h.Start()
	defer h.Stop()

	require.Eventually(t, func() bool {
		return b.sent() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestHeartbeatSkipsWithoutSubscribers(t *testing.T) {
	b := &fakeBroadcaster{count: 0}
	h := NewHeartbeatTicker(10*time.Millisecond, 30*time.Second, b, nil)

	h.Start()
	time.Sleep(50 * time.Millisecond)
	h.Stop()

	assert.Zero(t, b.sent())
}

func TestStartStopIdempotent(t *testing.T) {
	h := NewHeartbeatTicker(10*time.Millisecond, 30*time.Second, &fakeBroadcaster{}, nil)

	h.Start()
	h.Start()
	h.Stop()
	h.Stop()

	// Restartable after a stop.
	h.Start()
	h.Stop()
}

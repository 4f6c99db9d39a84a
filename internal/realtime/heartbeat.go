package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/models"
)

// Broadcaster is the slice of the registry the heartbeat needs.
type Broadcaster interface {
	BroadcastAll(msg models.BroadcastMessage) int
	Count() int
}

// FreshnessSource reports the capture time of the newest stored reading.
// The snapshot cache implements it; absence is an injected no-op, not a
// nil check at call sites.
type FreshnessSource interface {
	LatestDataTime(ctx context.Context) (time.Time, error)
}

// NopFreshnessSource is the injected default when no cache exists.
type NopFreshnessSource struct{}

// LatestDataTime reports no data.
func (NopFreshnessSource) LatestDataTime(context.Context) (time.Time, error) {
	return time.Time{}, context.Canceled
}

// HeartbeatTicker periodically pushes synchronized time to every
// subscriber. It runs until stopped; a cache failure only omits the
// freshness fields from that tick.
type HeartbeatTicker struct {
	interval        time.Duration
	freshnessWindow time.Duration
	broadcaster     Broadcaster
	source          FreshnessSource
	startedAt       time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHeartbeatTicker creates a stopped ticker.
func NewHeartbeatTicker(interval, freshnessWindow time.Duration, b Broadcaster, source FreshnessSource) *HeartbeatTicker {
	if source == nil {
		source = NopFreshnessSource{}
	}
	return &HeartbeatTicker{
		interval:        interval,
		freshnessWindow: freshnessWindow,
		broadcaster:     b,
		source:          source,
		startedAt:       time.Now().UTC(),
	}
}

// Start launches the heartbeat loop. Calling Start on a running ticker is
// a no-op.
func (h *HeartbeatTicker) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan struct{})

	go h.loop(ctx, h.done)
	log.Info().Dur("interval", h.interval).Msg("Heartbeat started")
}

// Stop cancels the loop and waits for any in-flight broadcast to finish.
// Calling Stop on a stopped ticker is a no-op.
func (h *HeartbeatTicker) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Heartbeat stopped")
}

func (h *HeartbeatTicker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *HeartbeatTicker) tick(ctx context.Context) {
	if h.broadcaster.Count() == 0 {
		return
	}
	h.broadcaster.BroadcastAll(h.buildTimeUpdate(ctx, time.Now().UTC()))
}

// buildTimeUpdate assembles the time_update payload. Freshness fields are
// present only when the cache answered.
func (h *HeartbeatTicker) buildTimeUpdate(ctx context.Context, now time.Time) models.BroadcastMessage {
	payload := map[string]interface{}{
		"server_time_utc": now.Format(time.RFC3339),
		"server_timezone": "UTC",
		"uptime_seconds":  now.Sub(h.startedAt).Seconds(),
	}

	latest, err := h.source.LatestDataTime(ctx)
	if err == nil && !latest.IsZero() {
		age := now.Sub(latest).Seconds()
		payload["latest_data_time"] = latest.Format(time.RFC3339)
		payload["data_age_seconds"] = age
		payload["data_is_fresh"] = age < h.freshnessWindow.Seconds()
	} else if err != nil {
		log.Debug().Err(err).Msg("Freshness lookup failed, broadcasting time only")
	}

	return models.NewBroadcast(models.MsgTimeUpdate, payload)
}

// TimeInfo returns the current time information served by the REST API.
func (h *HeartbeatTicker) TimeInfo() map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"utc_time":       now.Format(time.RFC3339),
		"timestamp_unix": now.Unix(),
		"timezone":       "UTC",
		"server_uptime":  now.Sub(h.startedAt).Seconds(),
	}
}

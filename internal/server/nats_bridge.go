package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
)

// NATSBridge feeds device payloads arriving over NATS into the ingest
// pipeline. It is an optional transport next to the HTTP API; both end in
// the same pipeline.
type NATSBridge struct {
	nc       *nats.Conn
	pipeline *ingest.Pipeline
	subs     []*nats.Subscription
}

// NewNATSBridge creates the bridge
func NewNATSBridge(nc *nats.Conn, pipeline *ingest.Pipeline) *NATSBridge {
	return &NATSBridge{
		nc:       nc,
		pipeline: pipeline,
		subs:     make([]*nats.Subscription, 0),
	}
}

// Start subscribes and blocks until ctx is cancelled
func (b *NATSBridge) Start(ctx context.Context) error {
	sub1, err := b.nc.Subscribe("devices.*.telemetry", b.handleTelemetry)
	if err != nil {
		return fmt.Errorf("subscribe device telemetry: %w", err)
	}
	b.subs = append(b.subs, sub1)

	sub2, err := b.nc.Subscribe("devices.*.frame", b.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe device frames: %w", err)
	}
	b.subs = append(b.subs, sub2)

	log.Info().
		Int("subscriptions", len(b.subs)).
		Msg("NATS bridge started")

	<-ctx.Done()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// handleTelemetry handles sensor payloads
func (b *NATSBridge) handleTelemetry(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received device telemetry")

	var payload models.DevicePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal device telemetry")
		return
	}

	b.pipeline.Process(context.Background(), &payload, sourceFromSubject(msg.Subject))
}

// handleFrame handles camera frame payloads
func (b *NATSBridge) handleFrame(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received device frame")

	var payload models.DevicePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal device frame")
		return
	}
	if !payload.HasImage() {
		log.Warn().Str("subject", msg.Subject).Msg("Frame subject carried no image")
		return
	}

	b.pipeline.Process(context.Background(), &payload, sourceFromSubject(msg.Subject))
}

// sourceFromSubject derives a source address from a devices.<id>.<kind>
// subject. The device segment stands in for a network address.
func sourceFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) == 3 {
		return "nats:" + parts[1]
	}
	return "nats:" + subject
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/config"
	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
)

// MQTTBridge feeds device payloads published over MQTT into the ingest
// pipeline. Battery-powered sensor firmware tends to ship an MQTT client
// rather than an HTTP one, so this sits next to the REST ingest path.
type MQTTBridge struct {
	cfg      config.MQTTConfig
	pipeline *ingest.Pipeline
	client   mqtt.Client
}

// NewMQTTBridge creates the bridge
func NewMQTTBridge(cfg config.MQTTConfig, pipeline *ingest.Pipeline) *MQTTBridge {
	return &MQTTBridge{
		cfg:      cfg,
		pipeline: pipeline,
	}
}

// Start connects, subscribes and blocks until ctx is cancelled
func (b *MQTTBridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().
			Str("broker", b.cfg.Broker).
			Msg("MQTT client connected")

		// Resubscribe on every (re)connect
		token := client.Subscribe(b.cfg.Topic, 0, b.handleMessage)
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Error().
				Err(token.Error()).
				Str("topic", b.cfg.Topic).
				Msg("MQTT subscribe failed")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().
			Err(err).
			Str("broker", b.cfg.Broker).
			Msg("MQTT connection lost")
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connect mqtt broker %s: timeout", b.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", b.cfg.Broker, err)
	}

	log.Info().
		Str("topic", b.cfg.Topic).
		Msg("MQTT bridge started")

	<-ctx.Done()

	b.client.Disconnect(250)
	return ctx.Err()
}

// handleMessage handles an inbound device publication
func (b *MQTTBridge) handleMessage(client mqtt.Client, msg mqtt.Message) {
	log.Debug().
		Str("topic", msg.Topic()).
		Int("size", len(msg.Payload())).
		Msg("Received MQTT telemetry")

	var payload models.DevicePayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Error().Err(err).Str("topic", msg.Topic()).Msg("Failed to unmarshal MQTT telemetry")
		return
	}

	b.pipeline.Process(context.Background(), &payload, sourceFromTopic(msg.Topic()))
}

// sourceFromTopic derives a source address from a devices/<id>/telemetry
// topic.
func sourceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 3 {
		return "mqtt:" + parts[1]
	}
	return "mqtt:" + topic
}

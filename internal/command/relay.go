package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
)

// ErrDeviceUnreachable reports that the command could not be delivered.
// The relay never retries; failure is surfaced to the original requester
// only.
var ErrDeviceUnreachable = errors.New("device unreachable")

// Relay pushes control commands to the sensor device over plain HTTP.
// It is fire-and-forget with a short timeout: a real-time command that
// cannot be delivered now is worthless later.
type Relay struct {
	tracker    *ingest.DeviceTracker
	httpClient *http.Client
}

// NewRelay creates a relay that resolves the device address from the
// tracker's last-seen record.
func NewRelay(tracker *ingest.DeviceTracker, timeout time.Duration) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Relay{
		tracker: tracker,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendCommand delivers a command to the device's /command endpoint. The
// device address must be known from a previous push; a device that never
// reported in cannot be commanded.
func (r *Relay) SendCommand(cmd models.DeviceCommand) error {
	addr := r.tracker.Addr(models.DeviceSensor)
	if addr == "" {
		return fmt.Errorf("%w: no known device address", ErrDeviceUnreachable)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	url := fmt.Sprintf("http://%s/command", addr)
	resp, err := r.httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		r.tracker.MarkStatus(models.DeviceSensor, ingest.DeviceTimeout)
		log.Warn().Err(err).Str("url", url).Str("command", cmd.Command).Msg("Command delivery failed")
		return fmt.Errorf("%w: %v", ErrDeviceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.tracker.MarkStatus(models.DeviceSensor, ingest.DeviceError)
		log.Warn().Int("status", resp.StatusCode).Str("command", cmd.Command).Msg("Device rejected command")
		return fmt.Errorf("%w: device returned HTTP %d", ErrDeviceUnreachable, resp.StatusCode)
	}

	log.Info().Str("command", cmd.Command).Str("device", addr).Msg("Command delivered")
	return nil
}

package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/cache"
	"github.com/baby-monitor/relay-server/internal/ingest"
	"github.com/baby-monitor/relay-server/internal/models"
	"github.com/baby-monitor/relay-server/internal/realtime"
)

// ========== Info handlers ==========

// HandleRoot returns service info
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"status":  "online",
		"endpoints": map[string]string{
			"device_ingest": "/esp32/data",
			"app_websocket": "/app/stream",
			"video_stream":  "/video/stream",
			"latest_data":   "/app/data/latest",
			"latest_image":  "/app/images/latest",
		},
	})
}

// HandleHealth returns liveness plus collaborator health
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cacheStatus := "ok"
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		cacheStatus = "unavailable"
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"cache":              cacheStatus,
		"active_connections": s.deps.Registry.Count(),
		"uptime_seconds":     time.Since(s.startedAt).Seconds(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleStatus returns the full observability snapshot
func (s *RESTServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":     s.config.Server.Name,
		"version":     s.config.Server.Version,
		"devices":     s.deps.Tracker.Snapshot(),
		"connections": s.deps.Registry.Stats(),
		"stream":      s.deps.Bus.Stats(),
		"cache":       s.deps.Store.Stats(),
	})
}

// HandleTime returns server time info
func (s *RESTServer) HandleTime(w http.ResponseWriter, r *http.Request) {
	info := s.deps.Ticker.TimeInfo()
	if hb, ok := s.deps.Tracker.LastHeartbeat(); ok {
		info["last_device_heartbeat"] = hb.Format(time.RFC3339)
	}
	s.respondJSON(w, http.StatusOK, info)
}

// ========== Device ingest handlers ==========

// HandleIngestData is the unified ingest endpoint. A payload with an
// image goes through the frame path, a payload with sensor fields goes
// through the sensor path, and both run when both are present.
func (s *RESTServer) HandleIngestData(w http.ResponseWriter, r *http.Request) {
	var payload models.DevicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res := s.deps.Pipeline.Process(r.Context(), &payload, clientAddr(r))

	response := map[string]interface{}{
		"status":    "success",
		"processed": res.ProcessedTypes,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if res.Assessment != nil {
		response["alert_level"] = res.Assessment.Level
		response["alert_score"] = res.Assessment.Score
	}
	if res.FrameErr != nil {
		response["image_error"] = res.FrameErr.Error()
	}

	s.deps.Registry.BroadcastCategory(realtime.CategoryMobile, models.NewBroadcast(models.MsgNewData, map[string]interface{}{
		"processed": res.ProcessedTypes,
	}))

	s.respondJSON(w, http.StatusOK, response)
}

// HandleIngestSensor accepts sensor readings only
func (s *RESTServer) HandleIngestSensor(w http.ResponseWriter, r *http.Request) {
	var payload models.DevicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reading, assessment := s.deps.Pipeline.ProcessSensor(r.Context(), &payload, clientAddr(r))

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"alert_level": assessment.Level,
		"alert_score": assessment.Score,
		"timestamp":   reading.Timestamp.Format(time.RFC3339),
	})
}

// HandleIngestImage accepts camera frames only
func (s *RESTServer) HandleIngestImage(w http.ResponseWriter, r *http.Request) {
	var payload models.DevicePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !payload.HasImage() {
		s.respondError(w, http.StatusBadRequest, "missing image data")
		return
	}

	frame, err := s.deps.Pipeline.ProcessFrame(r.Context(), &payload, clientAddr(r))
	if err != nil {
		var decodeErr *ingest.DecodeError
		if errors.As(err, &decodeErr) {
			s.respondError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "success",
		"size":           frame.Size,
		"format":         frame.Format,
		"format_suspect": frame.FormatSuspect,
		"timestamp":      frame.Timestamp.Format(time.RFC3339),
	})
}

// HandleDeviceCommand relays a command to the sensor device
func (s *RESTServer) HandleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string                 `json:"command"`
		Params  map[string]interface{} `json:"params"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Command == "" {
		s.respondError(w, http.StatusBadRequest, "missing command")
		return
	}

	cmd := models.NewDeviceCommand(req.Command, req.Params, "api")
	if err := s.deps.Sink.SendCommand(cmd); err != nil {
		log.Warn().Err(err).Str("command", req.Command).Msg("Device command failed")
		s.respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status":  "failed",
			"command": req.Command,
			"error":   err.Error(),
		})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "sent",
		"command": req.Command,
	})
}

// ========== App data handlers ==========

// HandleLatestData returns the cached sensor snapshot
func (s *RESTServer) HandleLatestData(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Store.SensorSnapshot(r.Context())
	if err != nil {
		s.respondCacheError(w, err, "no sensor data available")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"data":       snap.Reading,
		"assessment": snap.Assessment,
		"stored_at":  snap.StoredAt.Format(time.RFC3339),
	})
}

// HandleLatestImage returns the cached image snapshot
func (s *RESTServer) HandleLatestImage(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Store.ImageSnapshot(r.Context())
	if err != nil {
		s.respondCacheError(w, err, "no image available")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"image":     snap.ImageBase64,
		"metadata":  snap.Metadata,
		"timestamp": snap.Timestamp.Format(time.RFC3339),
	})
}

// ========== Response helpers ==========

func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func (s *RESTServer) respondCacheError(w http.ResponseWriter, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, cache.ErrNoSnapshot):
		s.respondError(w, http.StatusNotFound, notFoundMsg)
	case errors.Is(err, cache.ErrCacheUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, "cache unavailable")
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// clientAddr strips the port from the request's remote address
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

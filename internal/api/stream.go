package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/baby-monitor/relay-server/internal/stream"
)

// HandleVideoStream serves the MJPEG stream. Each viewer gets a bounded
// queue on the frame bus; when no frame arrives within the keep-alive
// window the latest frame is resent so players do not tear the stream
// down during camera gaps.
func (s *RESTServer) HandleVideoStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	id, frames := s.deps.Bus.AddViewer()
	defer s.deps.Bus.RemoveViewer(id)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+stream.Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info().Str("viewerID", id).Msg("Video viewer connected")
	defer log.Info().Str("viewerID", id).Msg("Video viewer disconnected")

	keepAlive := s.config.Stream.KeepAliveTimeout
	timer := time.NewTimer(keepAlive)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case wrapped, open := <-frames:
			if !open {
				// Evicted by the bus for falling behind.
				return
			}
			if _, err := w.Write(wrapped); err != nil {
				return
			}
			flusher.Flush()
			timer.Reset(keepAlive)

		case <-timer.C:
			if wrapped, ok := s.deps.Bus.LatestWrapped(); ok {
				if _, err := w.Write(wrapped); err != nil {
					return
				}
				flusher.Flush()
			}
			timer.Reset(keepAlive)
		}
	}
}

// HandleVideoStatus returns frame bus stats
func (s *RESTServer) HandleVideoStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Bus.Stats())
}

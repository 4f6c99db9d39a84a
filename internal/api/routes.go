package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up the route tree
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health and info
	r.Get("/", s.HandleRoot)
	r.Get("/health", s.HandleHealth)
	r.Get("/status", s.HandleStatus)

	// Device ingest
	r.Route("/esp32", func(r chi.Router) {
		r.Post("/data", s.HandleIngestData)
		r.Post("/sensor", s.HandleIngestSensor)
		r.Post("/image", s.HandleIngestImage)
		r.Post("/command", s.HandleDeviceCommand)
	})

	// App-facing surface
	r.Route("/app", func(r chi.Router) {
		r.Get("/stream", s.HandleAppStream)
		r.Get("/data/latest", s.HandleLatestData)
		r.Get("/images/latest", s.HandleLatestImage)
		r.Get("/time", s.HandleTime)
	})

	// Video fan-out
	r.Route("/video", func(r chi.Router) {
		r.Get("/stream", s.HandleVideoStream)
		r.Get("/status", s.HandleVideoStatus)
	})
}

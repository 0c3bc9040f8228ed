package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.recoveryMiddleware)

	// Scrapes and probes stay out of the request log.
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	r.Get("/health", s.handleHealth)

	if s.cfg.Enabled {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(s.loggingMiddleware)
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/mappings", s.handleListMappings)
			r.Get("/ws", s.handleFeed)
		})
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, ErrCodeMethodNotAllow, "method not allowed")
	})

	return r
}

// handleHealth answers 200 while both transports are up, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus returns the same health document the bridge publishes on its
// status topic.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Snapshot())
}

// MappingView is the JSON form of one mapping table entry.
type MappingView struct {
	Topic      string `json:"topic"`
	ReplyTopic string `json:"reply_topic,omitempty"`
	Pin        int    `json:"pin"`
	Encoder    string `json:"encoder"`
	ExtraData  string `json:"extra_data,omitempty"`
	Ack        bool   `json:"ack"`
	Retain     bool   `json:"retain"`
}

func mappingView(e bridge.Entry) MappingView {
	return MappingView{
		Topic:      e.Topic,
		ReplyTopic: e.ReplyTopic,
		Pin:        e.Pin,
		Encoder:    e.Encoder.Name(),
		ExtraData:  e.ExtraData,
		Ack:        e.Ack,
		Retain:     !e.SuppressRetain,
	}
}

// handleListMappings returns the mapping table in configuration order.
func (s *Server) handleListMappings(w http.ResponseWriter, _ *http.Request) {
	views := []MappingView{}
	if s.mappings != nil {
		for _, e := range s.mappings.Entries() {
			views = append(views, mappingView(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mappings": views,
		"count":    len(views),
	})
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/fwmon-client/pkg/cache"
	"github.com/Sternrassler/fwmon-client/pkg/client"
	"github.com/Sternrassler/fwmon-client/pkg/controller"
	"github.com/Sternrassler/fwmon-client/pkg/metrics"
	"github.com/Sternrassler/fwmon-client/pkg/pagination"
)

// server exposes the view controllers to a presentation layer.
type server struct {
	views  map[string]*controller.Controller
	report func(ctx context.Context) (*client.Report, error)
	logger zerolog.Logger
}

type enrichmentResponse struct {
	cache.Record
	Error string `json:"error,omitempty"`
	Risk  int    `json:"risk"`
}

func newRouter(s *server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/report", s.handleReport)

	r.Get("/views", func(w http.ResponseWriter, _ *http.Request) {
		names := make([]string, 0, len(s.views))
		for name := range s.views {
			names = append(names, name)
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, names)
	})

	r.Route("/views/{view}", func(r chi.Router) {
		r.Get("/", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			writeJSON(w, http.StatusOK, c.Snapshot())
		}))

		r.Put("/filter", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			var f pagination.Filter
			if !decode(w, r, &f) {
				return
			}
			c.SetFilter(f)
			writeJSON(w, http.StatusAccepted, c.Snapshot())
		}))

		r.Put("/page", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			var body struct {
				Page int `json:"page"`
			}
			if !decode(w, r, &body) {
				return
			}
			c.SetPage(body.Page)
			writeJSON(w, http.StatusAccepted, c.Snapshot())
		}))

		r.Put("/per-page", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			var body struct {
				PerPage int `json:"per_page"`
			}
			if !decode(w, r, &body) {
				return
			}
			c.SetPerPage(body.PerPage)
			writeJSON(w, http.StatusAccepted, c.Snapshot())
		}))

		r.Put("/interval", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			var body struct {
				Seconds int `json:"seconds"`
			}
			if !decode(w, r, &body) {
				return
			}
			c.SetInterval(body.Seconds)
			writeJSON(w, http.StatusOK, c.Snapshot().Poll)
		}))

		r.Post("/auto-reload", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			enabled := c.ToggleAutoReload()
			writeJSON(w, http.StatusOK, map[string]bool{"enabled": enabled})
		}))

		r.Post("/refresh", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			c.ForceRefresh()
			writeJSON(w, http.StatusAccepted, c.Snapshot())
		}))

		r.Get("/enrichment/{key}", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			rec := c.RequestEnrichment(chi.URLParam(r, "key"))
			writeJSON(w, http.StatusOK, enrichmentResponse{
				Record: rec,
				Error:  rec.ErrorString(),
				Risk:   rec.Payload.RiskScore(),
			})
		}))

		r.Delete("/enrichment/{key}", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			removed := c.InvalidateEnrichment(chi.URLParam(r, "key"))
			writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
		}))

		r.Post("/rows/{key}/{action}", s.withView(func(w http.ResponseWriter, r *http.Request, c *controller.Controller) {
			key := chi.URLParam(r, "key")
			action := controller.Action(chi.URLParam(r, "action"))

			err := c.MutateRow(r.Context(), key, action)
			switch {
			case err == nil:
				writeJSON(w, http.StatusOK, c.Snapshot())
			case errors.Is(err, controller.ErrNoMutator):
				writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": err.Error()})
			case errors.Is(err, controller.ErrClosed):
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			default:
				writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			}
		}))
	})

	return r
}

func (s *server) withView(h func(http.ResponseWriter, *http.Request, *controller.Controller)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "view")
		c, ok := s.views[name]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown view " + name})
			return
		}
		h(w, r, c)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "views": len(s.views)})
}

func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not available"})
		return
	}
	rep, err := s.report(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Report request failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

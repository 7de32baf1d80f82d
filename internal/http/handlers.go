package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/realtygenie/nurture-scheduler/internal/core"
	"github.com/realtygenie/nurture-scheduler/internal/dispatch"
	"github.com/realtygenie/nurture-scheduler/internal/metrics"
	"github.com/realtygenie/nurture-scheduler/internal/queue"
)

type Server struct {
	Store      *core.Store
	Populator  *queue.Populator
	Dispatcher *dispatch.Dispatcher
	Log        *logrus.Logger

	// Operational defaults; per-request query params can override where noted.
	MaxRetries   int
	Retention    time.Duration
	PollInterval time.Duration
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, instrument)

	r.Post("/campaigns/{id}/populate", s.populate)
	r.Post("/campaigns/{id}/retry-failed", s.retryFailed)
	r.Post("/campaigns/{id}/cancel", s.cancel)
	r.Post("/campaigns/{id}/pause", s.pause)
	r.Post("/campaigns/{id}/resume", s.resume)
	r.Get("/campaigns/{id}/stats", s.stats)
	r.Get("/campaigns/{id}/schedule/{lead_id}", s.schedule)

	r.Post("/dispatch/run", s.dispatchRun)
	r.Post("/queue/cleanup", s.cleanup)
	r.Get("/queue/health", s.queueHealth)

	s.mountHealth(r)
	s.mountMetrics(r)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_campaign_id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) populate(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	var in struct {
		BatchID uuid.UUID `json:"batch_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.BatchID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "batch_id_required"})
		return
	}
	res, err := s.Populator.Populate(r.Context(), id, in.BatchID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrCampaignNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
		case errors.Is(err, queue.ErrCampaignCanceled):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "campaign_canceled"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) retryFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	max := s.MaxRetries
	if v := r.URL.Query().Get("max_retries"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_max_retries"})
			return
		}
		max = n
	}
	n, err := s.Store.RequeueFailed(r.Context(), id, max)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.RetryTotal.Add(float64(n))
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := s.Store.SetCampaignStatus(r.Context(), id, core.CampaignCanceled); err != nil {
		if errors.Is(err, core.ErrCampaignNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	n, err := s.Store.CancelPending(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.CancelTotal.Add(float64(n))
	writeJSON(w, http.StatusOK, map[string]int{"canceled": n})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request)  { s.setStatus(w, r, core.CampaignPaused) }
func (s *Server) resume(w http.ResponseWriter, r *http.Request) { s.setStatus(w, r, core.CampaignActive) }

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request, status core.CampaignStatus) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if err := s.Store.SetCampaignStatus(r.Context(), id, status); err != nil {
		if errors.Is(err, core.ErrCampaignNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	if _, err := s.Store.GetCampaign(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrCampaignNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	out, err := s.Store.CampaignStats(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}
	leadID, err := uuid.Parse(chi.URLParam(r, "lead_id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_lead_id"})
		return
	}
	campaign, err := s.Store.GetCampaign(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrCampaignNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "campaign_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	lead, err := s.Store.GetLead(r.Context(), leadID)
	if err != nil {
		if errors.Is(err, core.ErrLeadNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "lead_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lead_id":  lead.ID,
		"email":    lead.Email,
		"schedule": s.Populator.Schedule(campaign, lead),
	})
}

func (s *Server) dispatchRun(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "true"
	stats, err := s.Dispatcher.RunOnce(r.Context(), dryRun)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dry_run": dryRun, "stats": stats})
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	retention := s.Retention
	if v := r.URL.Query().Get("retention_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_retention_days"})
			return
		}
		retention = time.Duration(n) * 24 * time.Hour
	}
	res, err := s.Store.Cleanup(r.Context(), retention, s.MaxRetries)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.CleanupTotal.Add(float64(res.SentRemoved + res.FailedRemoved))
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) queueHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Store.QueueHealth(r.Context(), s.PollInterval)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

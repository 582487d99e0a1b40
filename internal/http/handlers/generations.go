package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"teamshots/internal/domain"
	"teamshots/internal/queue"
)

type generationView struct {
	ID              string                      `json:"id"`
	PersonID        string                      `json:"personId"`
	UserID          string                      `json:"userId,omitempty"`
	TeamID          string                      `json:"teamId,omitempty"`
	Status          domain.GenerationStatus     `json:"status"`
	Progress        string                      `json:"progress"`
	Attempts        int                         `json:"attempts"`
	Credits         int                         `json:"credits"`
	FinalImageKey   string                      `json:"finalImageKey,omitempty"`
	FailureReason   string                      `json:"failureReason,omitempty"`
	Feedback        []domain.EvaluationFeedback `json:"feedback"`
	CancelRequested bool                        `json:"cancelRequested"`
	CreatedAt       time.Time                   `json:"createdAt"`
	UpdatedAt       time.Time                   `json:"updatedAt"`
}

func viewOf(g *domain.Generation) generationView {
	fb := g.Feedback
	if fb == nil {
		fb = []domain.EvaluationFeedback{}
	}
	return generationView{
		ID:              g.ID,
		PersonID:        g.PersonID,
		UserID:          g.UserID,
		TeamID:          g.TeamID,
		Status:          g.Status,
		Progress:        g.Progress,
		Attempts:        g.Attempts,
		Credits:         g.CreditCost,
		FinalImageKey:   g.FinalImageKey,
		FailureReason:   g.FailureReason,
		Feedback:        fb,
		CancelRequested: g.CancelRequested,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
	}
}

func (a *App) generationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := uuid.Parse(id); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "generation id must be a uuid")
		return "", false
	}
	return id, true
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := a.generationID(w, r)
	if !ok {
		return
	}
	g, err := a.Generations.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("get generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	a.json(w, http.StatusOK, viewOf(g))
}

// CancelGeneration flags the generation. Queued generations are cancelled
// immediately; running ones stop at the next state boundary.
func (a *App) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := a.generationID(w, r)
	if !ok {
		return
	}
	g, err := a.Generations.Get(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "generation not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("cancel lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load generation")
		return
	}
	if g.Status.Terminal() {
		a.error(w, http.StatusConflict, "not_cancellable", "generation already "+string(g.Status))
		return
	}
	flagged, err := a.Generations.RequestCancel(r.Context(), id)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", id).Msg("cancel generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to cancel generation")
		return
	}
	if !flagged {
		a.error(w, http.StatusConflict, "not_cancellable", "generation finished before it could be cancelled")
		return
	}
	a.Logger.Info().Str("generation_id", id).Msg("cancel requested")
	a.json(w, http.StatusAccepted, map[string]any{"id": id, "cancelRequested": true})
}

// CreateGeneration enqueues a job. Posting the same generationId twice is
// accepted once; the second call reports the existing record.
func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	if a.Publisher == nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "job publishing is not configured")
		return
	}
	var job queue.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(job.GenerationID) == "" {
		job.GenerationID = uuid.NewString()
	}
	created, err := a.Publisher.Publish(r.Context(), job)
	if errors.Is(err, queue.ErrInvalidJob) {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", job.GenerationID).Msg("enqueue generation failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue generation")
		return
	}
	code := http.StatusCreated
	if !created {
		code = http.StatusOK
	}
	a.json(w, code, map[string]any{"id": job.GenerationID, "status": domain.GenerationStatusQueued, "created": created})
}

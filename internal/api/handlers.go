package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/db"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/reelpipe/reelpipe/internal/pipeline"
	"github.com/reelpipe/reelpipe/internal/queue"
	"github.com/reelpipe/reelpipe/internal/renderqueue"
	"github.com/reelpipe/reelpipe/internal/webhook"
	"github.com/rs/zerolog"
)

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	renders *renderqueue.Worker
	hooks   *webhook.Dispatcher
	log     zerolog.Logger
}

func NewHandler(database *db.DB, q *queue.Queue, renders *renderqueue.Worker, hooks *webhook.Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		renders: renders,
		hooks:   hooks,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Generate handles POST /v1/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if req.TemplateID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "Template ID is required")
		return
	}

	var targetDuration int
	switch req.DurationMode {
	case "30s":
		targetDuration = 30
	case "60s", "":
		targetDuration = 60
	default:
		respondError(w, http.StatusBadRequest, "Invalid duration_mode. Allowed: 30s, 60s")
		return
	}

	aspectRatio := req.AspectRatio
	if aspectRatio == "" {
		aspectRatio = "9:16"
	}
	if _, _, err := pipeline.CropDimensions(1920, 1080, aspectRatio); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid aspect_ratio. Allowed: 16:9, 9:16, 1:1")
		return
	}

	// Template must exist before the job is accepted; an unknown template is
	// a caller error, not a pipeline failure.
	if _, err := h.db.GetTemplateStyle(r.Context(), req.TemplateID); err != nil {
		var nf *faults.NotFoundError
		if errors.As(err, &nf) {
			respondError(w, http.StatusBadRequest, "Template not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load template")
		return
	}

	job := &models.GenerationJob{
		ID:             uuid.New(),
		UserID:         req.UserID,
		Prompt:         req.Prompt,
		TemplateID:     req.TemplateID,
		TargetDuration: targetDuration,
		AspectRatio:    aspectRatio,
		VoiceID:        req.VoiceID,
		BurnSubtitles:  req.BurnSubtitles,
		WebhookURL:     req.WebhookURL,
		Status:         models.JobStatusQueued,
	}

	if err := h.db.CreateGenerationJob(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("failed to create generation job")
		respondError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.EnqueueGeneration(r.Context(), job.ID); err != nil {
		h.log.Error().Err(err).Str("job_id", job.ID.String()).Msg("failed to enqueue job")
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.GenerateResponse{
		Success:   true,
		JobID:     job.ID,
		ProjectID: job.ID,
		Status:    job.Status,
		Message:   "Video generation queued",
	})
}

// GetJob handles GET /v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.db.GetGenerationJob(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found")
		return
	}

	respondJSON(w, http.StatusOK, models.GenerateResponse{
		Success:   true,
		JobID:     job.ID,
		ProjectID: job.ID,
		Status:    job.Status.Public(),
		Message:   jobMessage(job),
		VideoURL:  job.FinalArtifactURL,
	})
}

// CancelJob handles POST /v1/jobs/{id}/cancel
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid job ID")
		return
	}

	if err := h.db.RequestJobCancel(r.Context(), jobID); err != nil {
		var nf *faults.NotFoundError
		if errors.As(err, &nf) {
			respondError(w, http.StatusConflict, "Job not found or already terminal")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to request cancellation")
		return
	}

	// Pending notifications for a cancelled job are noise.
	if _, err := h.hooks.CancelForProject(r.Context(), jobID); err != nil {
		h.log.Warn().Err(err).Str("job_id", jobID.String()).Msg("failed to cancel pending webhooks")
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status":  "cancelling",
		"message": "Cancellation requested, takes effect at the next stage boundary",
	})
}

// CreateRender handles POST /v1/renders
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	entry, err := h.renders.CreateRenderJob(r.Context(), &req)
	if err != nil {
		var ve *faults.ValidationError
		var nf *faults.NotFoundError
		switch {
		case errors.As(err, &ve):
			respondError(w, http.StatusBadRequest, ve.Error())
		case errors.As(err, &nf):
			respondError(w, http.StatusNotFound, "Project has no staged scenes to render")
		default:
			h.log.Error().Err(err).Msg("failed to create render job")
			respondError(w, http.StatusInternalServerError, "Failed to create render job")
		}
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateRenderResponse{
		JobID:  entry.ID,
		Status: entry.Status,
	})
}

// GetRender handles GET /v1/renders/{id}
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) {
	entryID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid render job ID")
		return
	}

	entry, err := h.renders.GetRenderJobStatus(r.Context(), entryID)
	if err != nil {
		respondError(w, http.StatusNotFound, "Render job not found")
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// ListProjectWebhooks handles GET /v1/projects/{id}/webhooks
func (h *Handler) ListProjectWebhooks(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid project ID")
		return
	}

	deliveries, err := h.db.ListWebhooksByProject(r.Context(), projectID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list webhook deliveries")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project_id": projectID,
		"deliveries": deliveries,
	})
}

func jobMessage(job *models.GenerationJob) string {
	switch job.Status {
	case models.JobStatusCompleted:
		return "Video generation completed"
	case models.JobStatusFailed:
		if job.ErrorMessage != nil {
			return *job.ErrorMessage
		}
		return "Video generation failed"
	case models.JobStatusQueued:
		return "Waiting for a worker"
	default:
		return "Video generation in progress"
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

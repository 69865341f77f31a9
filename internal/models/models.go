package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums

// JobStatus is the generation job state machine. Completed and failed are
// terminal: once reached, no further transition is permitted.
type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusScripting        JobStatus = "scripting"
	JobStatusGeneratingAssets JobStatus = "generating_assets"
	JobStatusStaging          JobStatus = "staging"
	JobStatusStitching        JobStatus = "stitching"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

// JobStatusProcessing is the coarse API-facing status covering every
// internal pipeline stage between queued and a terminal state.
const JobStatusProcessing JobStatus = "processing"

// Terminal reports whether the status accepts no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Public collapses internal stage names into the queued|processing|
// completed|failed surface the API reports.
func (s JobStatus) Public() JobStatus {
	switch s {
	case JobStatusQueued, JobStatusCompleted, JobStatusFailed:
		return s
	default:
		return JobStatusProcessing
	}
}

// AssetKind distinguishes the two per-scene generation modalities.
type AssetKind string

const (
	AssetKindNarration AssetKind = "narration"
	AssetKindVisual    AssetKind = "visual"
)

// Pacing is derived from a template's motion strength.
type Pacing string

const (
	PacingSlow   Pacing = "slow"
	PacingNormal Pacing = "normal"
	PacingFast   Pacing = "fast"
)

// PacingFor maps motion strength (1..4) onto a pacing bucket.
func PacingFor(motionStrength int) Pacing {
	switch {
	case motionStrength <= 1:
		return PacingSlow
	case motionStrength >= 3:
		return PacingFast
	default:
		return PacingNormal
	}
}

// RenderStatus is the render-queue entry state machine. Failed is only
// reached after the attempt budget is exhausted; completed and failed
// entries are never reclaimed.
type RenderStatus string

const (
	RenderStatusPending    RenderStatus = "pending"
	RenderStatusProcessing RenderStatus = "processing"
	RenderStatusCompleted  RenderStatus = "completed"
	RenderStatusFailed     RenderStatus = "failed"
)

// WebhookStatus follows the same terminal-state discipline. Cancelled is an
// external transition that halts retries.
type WebhookStatus string

const (
	WebhookStatusPending   WebhookStatus = "pending"
	WebhookStatusSent      WebhookStatus = "sent"
	WebhookStatusFailed    WebhookStatus = "failed"
	WebhookStatusCancelled WebhookStatus = "cancelled"
)

// CleanupStatus tracks scheduled-deletion entries.
type CleanupStatus string

const (
	CleanupStatusPending   CleanupStatus = "pending"
	CleanupStatusCompleted CleanupStatus = "completed"
	CleanupStatusFailed    CleanupStatus = "failed"
)

// CleanupAssetType selects the retention policy for a stored asset.
type CleanupAssetType string

const (
	AssetFinalVideo        CleanupAssetType = "final-video"
	AssetIntermediateAudio CleanupAssetType = "intermediate-audio"
	AssetIntermediateVideo CleanupAssetType = "intermediate-video"
)

// RetentionHours returns how long an asset of this type is kept. Zero means
// delete immediately after a successful stitch, with no queue entry.
func (t CleanupAssetType) RetentionHours() int {
	if t == AssetFinalVideo {
		return 24
	}
	return 0
}

// Script model

// Scene is one narration+visual segment of a generated video.
type Scene struct {
	Index           int    `json:"index"`
	NarrationText   string `json:"narration_text"`
	VisualPrompt    string `json:"visual_prompt"`
	DurationSeconds int    `json:"duration_seconds"`
}

// VideoScript is the planner output: an ordered, contiguously indexed list
// of scenes whose durations sum to the total.
type VideoScript struct {
	Title                string  `json:"title"`
	TotalDurationSeconds int     `json:"total_duration_seconds"`
	Scenes               []Scene `json:"scenes"`
}

// ProjectScene is the persisted form of a staged scene. Renders re-stitch
// from these rows without touching the generation providers again.
type ProjectScene struct {
	ProjectID       uuid.UUID `json:"project_id"`
	Index           int       `json:"index"`
	NarrationText   string    `json:"narration_text"`
	VisualPrompt    string    `json:"visual_prompt"`
	DurationSeconds int       `json:"duration_seconds"`
	NarrationURL    string    `json:"narration_url"`
	NarrationPath   string    `json:"narration_path"`
	VisualURL       string    `json:"visual_url"`
	VisualPath      string    `json:"visual_path,omitempty"`
}

// DraftScene is one scene as returned by the language model, before the
// planner normalizes durations and augments visual prompts.
type DraftScene struct {
	Narration string `json:"narration"`
	Visual    string `json:"visual"`
}

// ScriptDraft is the raw structured output of the script model.
type ScriptDraft struct {
	Title  string       `json:"title"`
	Scenes []DraftScene `json:"scenes"`
}

// SceneAssetResult is produced per fan-out task. The fan-in step partitions
// results into successful and failed sets.
type SceneAssetResult struct {
	SceneIndex int       `json:"scene_index"`
	Kind       AssetKind `json:"kind"`
	Success    bool      `json:"success"`
	URI        string    `json:"uri,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// TemplateStyle is a named template's AI configuration, resolved once per
// job and used to parameterize every downstream provider call.
type TemplateStyle struct {
	TemplateID           uuid.UUID `json:"template_id"`
	Name                 string    `json:"name"`
	VisualStyleSuffix    string    `json:"visual_style_suffix"`
	VisualNegativePrompt string    `json:"visual_negative_prompt"`
	VoiceID              string    `json:"voice_id"`
	MotionStrength       int       `json:"motion_strength"` // 1..4
	Pacing               Pacing    `json:"pacing"`
}

// Persistent entities

type GenerationJob struct {
	ID               uuid.UUID  `json:"id"`
	UserID           uuid.UUID  `json:"user_id"`
	Prompt           string     `json:"prompt"`
	TemplateID       uuid.UUID  `json:"template_id"`
	TargetDuration   int        `json:"target_duration_seconds"`
	AspectRatio      string     `json:"aspect_ratio"`
	VoiceID          *string    `json:"voice_id,omitempty"` // overrides the template voice
	BurnSubtitles    bool       `json:"burn_subtitles"`
	WebhookURL       *string    `json:"webhook_url,omitempty"`
	Status           JobStatus  `json:"status"`
	FinalArtifactURL *string    `json:"final_artifact_url,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	CancelRequested  bool       `json:"cancel_requested"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// RenderQueueEntry is a secondary/derived export job, decoupled from the
// primary pipeline. Attempts never exceeds MaxAttempts.
type RenderQueueEntry struct {
	ID            uuid.UUID    `json:"id"`
	ProjectID     uuid.UUID    `json:"project_id"`
	AspectRatio   string       `json:"aspect_ratio"`
	BurnSubtitles bool         `json:"burn_subtitles"`
	SubtitleStyle *string      `json:"subtitle_style,omitempty"`
	Status        RenderStatus `json:"status"`
	Priority      int          `json:"priority"`
	Attempts      int          `json:"attempts"`
	MaxAttempts   int          `json:"max_attempts"`
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty"`
	OutputURL     *string      `json:"output_url,omitempty"`
	ErrorMessage  *string      `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id"`
	ProjectID      uuid.UUID       `json:"project_id"`
	URL            string          `json:"url"`
	Payload        json.RawMessage `json:"payload"`
	Status         WebhookStatus   `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// WebhookPayload is the JSON body delivered to the caller-registered URL.
type WebhookPayload struct {
	ProjectID        uuid.UUID `json:"project_id"`
	Status           JobStatus `json:"status"`
	FinalArtifactURL string    `json:"final_artifact_url,omitempty"`
	Error            string    `json:"error,omitempty"`
}

type CleanupQueueEntry struct {
	ID                  uuid.UUID        `json:"id"`
	ProjectID           uuid.UUID        `json:"project_id"`
	AssetType           CleanupAssetType `json:"asset_type"`
	AssetURL            string           `json:"asset_url"`
	ScheduledDeletionAt time.Time        `json:"scheduled_deletion_at"`
	Status              CleanupStatus    `json:"status"`
	Attempts            int              `json:"attempts"`
	MaxAttempts         int              `json:"max_attempts"`
	ErrorMessage        *string          `json:"error_message,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// API DTOs

type GenerateRequest struct {
	Prompt        string    `json:"prompt"`
	TemplateID    uuid.UUID `json:"template_id"`
	UserID        uuid.UUID `json:"user_id"`
	DurationMode  string    `json:"duration_mode"` // "30s" | "60s"
	VoiceID       *string   `json:"voice_id,omitempty"`
	AspectRatio   string    `json:"aspect_ratio"`
	BurnSubtitles bool      `json:"burn_subtitles"`
	WebhookURL    *string   `json:"webhook_url,omitempty"`
}

type GenerateResponse struct {
	Success   bool      `json:"success"`
	JobID     uuid.UUID `json:"job_id"`
	ProjectID uuid.UUID `json:"project_id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	VideoURL  *string   `json:"video_url,omitempty"`
}

type CreateRenderRequest struct {
	ProjectID     uuid.UUID `json:"project_id"`
	AspectRatio   string    `json:"aspect_ratio"`
	BurnSubtitles bool      `json:"burn_subtitles"`
	SubtitleStyle *string   `json:"subtitle_style,omitempty"`
	Priority      int       `json:"priority"`
}

type CreateRenderResponse struct {
	JobID  uuid.UUID    `json:"job_id"`
	Status RenderStatus `json:"status"`
}

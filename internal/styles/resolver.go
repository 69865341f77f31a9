package styles

import (
	"context"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
)

// TemplateStore loads template rows. Satisfied by *db.DB.
type TemplateStore interface {
	GetTemplateStyle(ctx context.Context, templateID uuid.UUID) (*models.TemplateStyle, error)
}

// Resolver turns a template reference into the full style bundle used by
// every downstream provider call. Resolution happens exactly once per job,
// before any generation starts, so a bad template fails fast instead of
// after paid provider calls.
type Resolver struct {
	store TemplateStore
	log   zerolog.Logger
}

func NewResolver(store TemplateStore, log zerolog.Logger) *Resolver {
	return &Resolver{
		store: store,
		log:   log.With().Str("component", "styles").Logger(),
	}
}

// Resolve loads the template and derives its pacing from motion strength.
// A missing template surfaces as a not-found error, which is fatal for the
// job: generation never proceeds with a guessed style.
func (r *Resolver) Resolve(ctx context.Context, templateID uuid.UUID) (*models.TemplateStyle, error) {
	style, err := r.store.GetTemplateStyle(ctx, templateID)
	if err != nil {
		return nil, err
	}

	style.Pacing = models.PacingFor(style.MotionStrength)

	r.log.Debug().Str("template_id", templateID.String()).Str("name", style.Name).
		Str("pacing", string(style.Pacing)).Msg("template style resolved")

	return style, nil
}

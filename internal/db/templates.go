package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
)

// GetTemplateStyle loads a named template's AI configuration. The pacing
// column is not stored; the styles resolver derives it from motion strength.
func (db *DB) GetTemplateStyle(ctx context.Context, templateID uuid.UUID) (*models.TemplateStyle, error) {
	query := `
		SELECT id, name, visual_style_suffix, visual_negative_prompt,
		       voice_id, motion_strength
		FROM templates
		WHERE id = $1
	`

	style := &models.TemplateStyle{}
	err := db.QueryRowContext(ctx, query, templateID).Scan(
		&style.TemplateID, &style.Name, &style.VisualStyleSuffix,
		&style.VisualNegativePrompt, &style.VoiceID, &style.MotionStrength,
	)

	if err == sql.ErrNoRows {
		return nil, &faults.NotFoundError{Entity: "template", ID: templateID.String()}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return style, nil
}

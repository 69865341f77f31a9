package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
)

// SaveProjectScenes replaces a project's staged scene rows. Staging is
// idempotent per project, so a re-run overwrites rather than duplicates.
func (db *DB) SaveProjectScenes(ctx context.Context, projectID uuid.UUID, scenes []models.ProjectScene) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin scenes tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM project_scenes WHERE project_id = $1`, projectID,
	); err != nil {
		return fmt.Errorf("failed to clear project scenes: %w", err)
	}

	query := `
		INSERT INTO project_scenes (
			project_id, scene_index, narration_text, visual_prompt,
			duration_seconds, narration_url, narration_path, visual_url, visual_path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	for _, s := range scenes {
		if _, err := tx.ExecContext(ctx, query,
			projectID, s.Index, s.NarrationText, s.VisualPrompt,
			s.DurationSeconds, s.NarrationURL, s.NarrationPath, s.VisualURL, s.VisualPath,
		); err != nil {
			return fmt.Errorf("failed to insert scene %d: %w", s.Index, err)
		}
	}

	return tx.Commit()
}

// ListProjectScenes returns a project's staged scenes ordered by index.
func (db *DB) ListProjectScenes(ctx context.Context, projectID uuid.UUID) ([]models.ProjectScene, error) {
	query := `
		SELECT
			project_id, scene_index, narration_text, visual_prompt,
			duration_seconds, narration_url, narration_path, visual_url, visual_path
		FROM project_scenes
		WHERE project_id = $1
		ORDER BY scene_index ASC
	`

	rows, err := db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list project scenes: %w", err)
	}
	defer rows.Close()

	var scenes []models.ProjectScene
	for rows.Next() {
		var s models.ProjectScene
		if err := rows.Scan(
			&s.ProjectID, &s.Index, &s.NarrationText, &s.VisualPrompt,
			&s.DurationSeconds, &s.NarrationURL, &s.NarrationPath, &s.VisualURL, &s.VisualPath,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project scene: %w", err)
		}
		scenes = append(scenes, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project scenes: %w", err)
	}

	if len(scenes) == 0 {
		return nil, &faults.NotFoundError{Entity: "project scenes", ID: projectID.String()}
	}
	return scenes, nil
}

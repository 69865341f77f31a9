package styles

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/reelpipe/reelpipe/internal/faults"
	"github.com/reelpipe/reelpipe/internal/models"
	"github.com/rs/zerolog"
)

type fakeTemplateStore struct {
	styles map[uuid.UUID]*models.TemplateStyle
}

func (f *fakeTemplateStore) GetTemplateStyle(_ context.Context, id uuid.UUID) (*models.TemplateStyle, error) {
	s, ok := f.styles[id]
	if !ok {
		return nil, &faults.NotFoundError{Entity: "template", ID: id.String()}
	}
	copied := *s
	return &copied, nil
}

func TestResolveDerivesPacing(t *testing.T) {
	cases := []struct {
		motion int
		want   models.Pacing
	}{
		{1, models.PacingSlow},
		{2, models.PacingNormal},
		{3, models.PacingFast},
		{4, models.PacingFast},
	}

	for _, tc := range cases {
		id := uuid.New()
		store := &fakeTemplateStore{styles: map[uuid.UUID]*models.TemplateStyle{
			id: {TemplateID: id, Name: "cinematic", VoiceID: "voice-1", MotionStrength: tc.motion},
		}}
		r := NewResolver(store, zerolog.Nop())

		style, err := r.Resolve(context.Background(), id)
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if style.Pacing != tc.want {
			t.Errorf("motion %d: pacing = %q, want %q", tc.motion, style.Pacing, tc.want)
		}
	}
}

func TestResolveUnknownTemplateIsFatal(t *testing.T) {
	r := NewResolver(&fakeTemplateStore{styles: map[uuid.UUID]*models.TemplateStyle{}}, zerolog.Nop())

	_, err := r.Resolve(context.Background(), uuid.New())
	if err == nil {
		t.Fatal("expected error for unknown template")
	}

	var nf *faults.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %v, want NotFoundError", err)
	}
	if faults.Retryable(err) {
		t.Error("not-found must not be retryable")
	}
}

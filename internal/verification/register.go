package verification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/faceguard/internal/descriptor"
	"github.com/your-org/faceguard/internal/models"
)

type RegisterRequest struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Samples   []descriptor.Descriptor
	Image     []byte
	ImageType string
}

// Register replaces the user's template with the normalized mean of the
// pose samples. A reference image, when given, is stored alongside and the
// previous one is removed.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.FaceTemplate, error) {
	user, err := s.user(ctx, Request{UserID: req.UserID, OrgID: req.OrgID})
	if err != nil {
		return nil, err
	}
	mean, err := descriptor.Average(req.Samples)
	if err != nil {
		return nil, err
	}

	prev, err := s.users.GetTemplate(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	now := s.now()
	tpl := &models.FaceTemplate{
		UserID:      user.ID,
		OrgID:       user.OrgID,
		Descriptor:  mean,
		SampleCount: len(req.Samples),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if prev != nil {
		tpl.CreatedAt = prev.CreatedAt
		tpl.ImageKey = prev.ImageKey
	}

	if len(req.Image) > 0 && s.images != nil {
		key, err := s.images.PutReference(ctx, user.ID, req.Image, req.ImageType)
		if err != nil {
			return nil, fmt.Errorf("store reference image: %w", err)
		}
		tpl.ImageKey = key
	}

	if err := s.users.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	if prev != nil && prev.ImageKey != "" && prev.ImageKey != tpl.ImageKey {
		s.dropImage(ctx, prev.ImageKey)
	}

	slog.Info("face registered", "user_id", user.ID, "org_id", user.OrgID, "samples", len(req.Samples))
	return tpl, nil
}

// DeleteTemplate removes the template and its reference image.
func (s *Service) DeleteTemplate(ctx context.Context, userID, orgID uuid.UUID) error {
	if _, err := s.user(ctx, Request{UserID: userID, OrgID: orgID}); err != nil {
		return err
	}
	old, err := s.users.DeleteTemplate(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if old == nil {
		return ErrNoTemplate
	}
	if old.ImageKey != "" {
		s.dropImage(ctx, old.ImageKey)
	}
	return nil
}

func (s *Service) dropImage(ctx context.Context, key string) {
	if s.images == nil {
		return
	}
	if err := s.images.DeleteReference(ctx, key); err != nil {
		slog.Warn("delete reference image", "error", err, "key", key)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OmishaPatel/pasera/internal/model"
	"github.com/OmishaPatel/pasera/internal/repository"
)

// ProfileService manages the user data the notification dispatcher
// depends on. Identity itself comes from the external auth provider; the
// profile only carries delivery details.
type ProfileService struct {
	store repository.Store
}

// NewProfileService constructs a ProfileService.
func NewProfileService(store repository.Store) *ProfileService {
	return &ProfileService{store: store}
}

// Upsert creates or updates the caller's profile, including the Expo
// push-token subscription.
func (s *ProfileService) Upsert(ctx context.Context, userID string, req model.UpsertProfileRequest) (*model.Profile, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if !isValidEmail(req.Email) {
		return nil, fmt.Errorf("email is not a valid email address")
	}

	profile := &model.Profile{
		ID:            userID,
		Email:         req.Email,
		FullName:      strings.TrimSpace(req.FullName),
		ExpoPushToken: req.ExpoPushToken,
	}
	existing, err := s.store.GetProfile(ctx, userID)
	switch {
	case err == nil:
		profile.CreatedAt = existing.CreatedAt
	case errors.Is(err, repository.ErrNotFound):
		profile.CreatedAt = time.Now()
	default:
		return nil, fmt.Errorf("get profile: %w", err)
	}

	if err := s.store.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return profile, nil
}

// Get returns the caller's profile.
func (s *ProfileService) Get(ctx context.Context, userID string) (*model.Profile, error) {
	return s.store.GetProfile(ctx, userID)
}

// isValidEmail does a basic structural check (no external deps).
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}

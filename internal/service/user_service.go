package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkresic/strand/internal/domain"
	"github.com/nkresic/strand/internal/repository"
)

var ErrInvalidSettings = errors.New("invalid settings")

type UserService struct {
	userRepo repository.UserRepository
	notifier Notifier
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

func (s *UserService) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *UserService) Get(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

type UpdateSettingsInput struct {
	Privacy *domain.PrivacySettings `json:"privacy"`
	Notify  *domain.NotifySettings  `json:"notify"`
}

// UpdateSettings replaces whichever settings blocks the input carries and
// leaves the other untouched.
func (s *UserService) UpdateSettings(ctx context.Context, userID uuid.UUID, input UpdateSettingsInput) (*domain.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Privacy != nil {
		for _, v := range []domain.Visibility{input.Privacy.LastSeen, input.Privacy.Avatar, input.Privacy.GroupAdd} {
			if !v.Valid() {
				return nil, fmt.Errorf("%w: unknown visibility %q", ErrInvalidSettings, v)
			}
		}
		user.Privacy = *input.Privacy
	}
	if input.Notify != nil {
		user.Notify = *input.Notify
	}

	if err := s.userRepo.UpdateSettings(ctx, userID, user.Privacy, user.Notify); err != nil {
		return nil, fmt.Errorf("updating settings: %w", err)
	}

	updated, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.PresenceDelta(updated)
	}
	return updated, nil
}

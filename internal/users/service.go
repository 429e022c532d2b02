package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/inklingapp/inkling-server/internal/auth"
)

var (
	// ErrInvalidIdentity indicates the verified claims carried no usable subject.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownUser indicates the user id names no registered principal.
	ErrUnknownUser = errors.New("users: unknown user")
)

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service registers principals when an external credential is exchanged for
// a backend token and answers existence/lookup queries for the rest of the
// system (collaborator grant targets in particular).
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Register creates or refreshes the identity record for externally verified
// claims and returns the stored row. Display name and email are updated on
// each login so collaborators see current values.
func (s *Service) Register(ctx context.Context, claims auth.IdentityClaims) (Identity, error) {
	subject := normalize(claims.Subject)
	if subject == "" {
		return Identity{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", subject).
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			UserID:      subject,
			DisplayName: normalize(claims.DisplayName),
			Email:       normalize(claims.Email),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Identity{}, err
		}
		return identity, nil
	}
	if err != nil {
		return Identity{}, err
	}

	updates := map[string]interface{}{"last_seen_at": s.now()}
	if display := normalize(claims.DisplayName); display != "" && display != identity.DisplayName {
		updates["display_name"] = display
		identity.DisplayName = display
	}
	if email := normalize(claims.Email); email != "" && email != identity.Email {
		updates["email"] = email
		identity.Email = email
	}
	if err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("user_id = ?", subject).
		Updates(updates).Error; err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Lookup returns the identity for the user id.
func (s *Service) Lookup(ctx context.Context, userID string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", normalize(userID)).
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownUser
	}
	if err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// Exists reports whether the user id names a registered principal. This is
// the notes service's directory boundary for grant targets.
func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Identity{}).
		Where("user_id = ?", normalize(userID)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/FitClash/app/models"
	"github.com/ManuelReschke/FitClash/internal/pkg/apperror"
)

// AdminStore looks up and manages admin grants.
type AdminStore interface {
	// ActiveGrant returns the user's unrevoked grant, or nil.
	ActiveGrant(ctx context.Context, userID string) (*models.AdminGrant, error)
	Grant(ctx context.Context, userID, grantedBy, reason string) (*models.AdminGrant, error)
	Revoke(ctx context.Context, id uint) (*models.AdminGrant, error)
}

type gormAdminStore struct {
	db *gorm.DB
}

// NewGormAdminStore creates an admin store backed by the admin_grants table.
func NewGormAdminStore(db *gorm.DB) AdminStore {
	return &gormAdminStore{db: db}
}

func (s *gormAdminStore) ActiveGrant(ctx context.Context, userID string) (*models.AdminGrant, error) {
	var g models.AdminGrant
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Order("id ASC").
		First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Storage("access.active_grant", err, false, "user_id", userID)
	}
	return &g, nil
}

func (s *gormAdminStore) Grant(ctx context.Context, userID, grantedBy, reason string) (*models.AdminGrant, error) {
	const op = "access.grant"
	if err := validateGrant(op, userID, grantedBy); err != nil {
		return nil, err
	}
	existing, err := s.ActiveGrant(ctx, userID)
	if err != nil || existing != nil {
		return existing, err
	}
	g := &models.AdminGrant{UserID: userID, GrantedBy: grantedBy, Reason: strings.TrimSpace(reason)}
	if err := s.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, apperror.Storage(op, err, true, "user_id", userID)
	}
	return g, nil
}

func (s *gormAdminStore) Revoke(ctx context.Context, id uint) (*models.AdminGrant, error) {
	const op = "access.revoke_grant"
	var g models.AdminGrant
	err := s.db.WithContext(ctx).First(&g, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.KindNotFound, op, err, "id", id)
	}
	if err != nil {
		return nil, apperror.Storage(op, err, false, "id", id)
	}
	if g.RevokedAt != nil {
		return &g, nil
	}
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&g).Update("revoked_at", &now).Error; err != nil {
		return nil, apperror.Storage(op, err, true, "id", id)
	}
	g.RevokedAt = &now
	return &g, nil
}

func validateGrant(op, userID, grantedBy string) error {
	if strings.TrimSpace(userID) == "" {
		return apperror.Invalid(op, "user_id is required")
	}
	if strings.TrimSpace(grantedBy) == "" {
		return apperror.Invalid(op, "granted_by is required")
	}
	return nil
}

// MemoryAdminStore keeps grants in process memory.
type MemoryAdminStore struct {
	mu     sync.Mutex
	grants []*models.AdminGrant
}

func NewMemoryAdminStore() *MemoryAdminStore {
	return &MemoryAdminStore{}
}

func (s *MemoryAdminStore) ActiveGrant(ctx context.Context, userID string) (*models.AdminGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage("access.active_grant", err, false, "user_id", userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(userID), nil
}

func (s *MemoryAdminStore) activeLocked(userID string) *models.AdminGrant {
	for _, g := range s.grants {
		if g.UserID == userID && g.RevokedAt == nil {
			c := *g
			return &c
		}
	}
	return nil
}

func (s *MemoryAdminStore) Grant(ctx context.Context, userID, grantedBy, reason string) (*models.AdminGrant, error) {
	const op = "access.grant"
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "user_id", userID)
	}
	if err := validateGrant(op, userID, grantedBy); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g := s.activeLocked(userID); g != nil {
		return g, nil
	}
	g := &models.AdminGrant{
		ID:        uint(len(s.grants) + 1),
		UserID:    userID,
		GrantedBy: grantedBy,
		Reason:    strings.TrimSpace(reason),
		CreatedAt: time.Now(),
	}
	s.grants = append(s.grants, g)
	c := *g
	return &c, nil
}

func (s *MemoryAdminStore) Revoke(ctx context.Context, id uint) (*models.AdminGrant, error) {
	const op = "access.revoke_grant"
	if err := ctx.Err(); err != nil {
		return nil, apperror.Storage(op, err, true, "id", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.ID != id {
			continue
		}
		if g.RevokedAt == nil {
			now := time.Now()
			g.RevokedAt = &now
		}
		c := *g
		return &c, nil
	}
	return nil, apperror.New(apperror.KindNotFound, op, errors.New("grant not found"), "id", id)
}

// Bootstrap grants admin to each user id that has no active grant yet.
func Bootstrap(ctx context.Context, store AdminStore, userIDs []string) error {
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, err := store.Grant(ctx, id, "bootstrap", "ADMIN_BOOTSTRAP_USER_IDS"); err != nil {
			return err
		}
	}
	return nil
}

package grants

import (
	"context"
	"log/slog"
	"time"
)

// Invalidator drops cached permission resolutions for a single user.
type Invalidator interface {
	Invalidate(userID int64)
}

// Service handles grant lifecycle operations.
type Service struct {
	logger      *slog.Logger
	repo        Repository
	invalidator Invalidator
}

// NewService builds a Service instance. invalidator may be nil.
func NewService(logger *slog.Logger, repo Repository, invalidator Invalidator) *Service {
	return &Service{logger: logger, repo: repo, invalidator: invalidator}
}

// Assign grants a role to a user. Assigning an already-active pair is
// idempotent; a previously revoked pair is reactivated with the new
// assigner and expiry.
func (s *Service) Assign(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) error {
	if err := s.repo.Upsert(ctx, userID, roleID, assignedBy, expiresAt); err != nil {
		return err
	}
	s.invalidate(userID)
	s.logger.Info("role granted",
		slog.Int64("user_id", userID),
		slog.Int64("role_id", roleID),
		slog.Int64("assigned_by", assignedBy))
	return nil
}

// Revoke deactivates a grant. The row is kept so the assignment history
// stays auditable. Revoking an inactive or missing grant is a no-op.
func (s *Service) Revoke(ctx context.Context, userID, roleID int64) error {
	revoked, err := s.repo.Deactivate(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if revoked {
		s.invalidate(userID)
		s.logger.Info("role revoked", slog.Int64("user_id", userID), slog.Int64("role_id", roleID))
	}
	return nil
}

// ListActive returns the user's currently effective grants.
func (s *Service) ListActive(ctx context.Context, userID int64) ([]Grant, error) {
	return s.repo.ListActive(ctx, userID, time.Now().UTC())
}

// History returns every grant row for the user, revoked and expired
// included.
func (s *Service) History(ctx context.Context, userID int64) ([]Grant, error) {
	return s.repo.ListAll(ctx, userID)
}

func (s *Service) invalidate(userID int64) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}
}

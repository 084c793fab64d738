package credentials

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/matcontrol/matcontrol/internal/shared"
)

// Service wraps credential verification, password changes and the
// transparent legacy-to-adaptive upgrade.
type Service struct {
	logger    *slog.Logger
	repo      Repository
	cost      int
	validator *validator.Validate
}

// NewService constructs a new Service. cost is the bcrypt work factor.
func NewService(logger *slog.Logger, repo Repository, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		logger:    logger,
		repo:      repo,
		cost:      cost,
		validator: validator.New(),
	}
}

// Verify checks a submitted password against whichever representation the
// user row holds. The adaptive hash is authoritative whenever present;
// the legacy digest is consulted only as a fallback. A successful legacy
// match triggers the one-way upgrade to the adaptive format.
func (s *Service) Verify(ctx context.Context, login, password string) (VerifyResult, error) {
	user, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return VerifyResult{}, shared.ErrInvalidCredentials
		}
		return VerifyResult{}, err
	}
	if !user.IsActive {
		return VerifyResult{}, shared.ErrInvalidCredentials
	}

	if user.Credential.AdaptiveHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.Credential.AdaptiveHash), []byte(password)); err != nil {
			return VerifyResult{}, shared.ErrInvalidCredentials
		}
		return VerifyResult{User: user, Format: FormatAdaptive}, nil
	}

	if user.Credential.LegacyDigest != "" {
		if !legacyDigestMatches(user.Credential.LegacyDigest, password) {
			return VerifyResult{}, shared.ErrInvalidCredentials
		}
		s.migrateLegacy(ctx, user, password)
		return VerifyResult{User: user, Format: FormatLegacy}, nil
	}

	return VerifyResult{}, shared.ErrInvalidCredentials
}

// migrateLegacy computes the adaptive hash for a just-verified plaintext
// and persists it. Failures are logged, never surfaced: verification
// already succeeded with the legacy digest.
func (s *Service) migrateLegacy(ctx context.Context, user *User, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.logger.Warn("credential upgrade hash", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	if err := s.repo.UpgradeToAdaptive(ctx, user.ID, string(hash)); err != nil {
		s.logger.Warn("credential upgrade write", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return
	}
	user.Credential = Credential{Format: FormatAdaptive, AdaptiveHash: string(hash)}
	s.logger.Info("credential upgraded to adaptive format", slog.Int64("user_id", user.ID), slog.String("login", user.Login))
}

// ChangePassword re-verifies the old password by the same dual-path rule
// and writes the new password solely in adaptive format. A password
// change is always a one-way migration event.
func (s *Service) ChangePassword(ctx context.Context, login, oldPassword, newPassword string) error {
	if err := s.validator.Var(newPassword, "required,min=8"); err != nil {
		return errors.New("credentials: new password must be at least 8 characters")
	}
	result, err := s.Verify(ctx, login, oldPassword)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return err
	}
	return s.repo.SetAdaptivePassword(ctx, result.User.ID, string(hash))
}

// CreateUserInput carries validated administrative provisioning input.
type CreateUserInput struct {
	Login    string `validate:"required,min=2,max=64"`
	Name     string `validate:"required,max=128"`
	Password string `validate:"required,min=8"`
}

// CreateUser provisions a new account with an adaptive-only credential.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.cost)
	if err != nil {
		return nil, err
	}
	return s.repo.CreateUser(ctx, input.Login, input.Name, string(hash))
}

// GetUser fetches a user by id.
func (s *Service) GetUser(ctx context.Context, userID int64) (*User, error) {
	return s.repo.FindByID(ctx, userID)
}

// Deactivate soft-deletes a user account.
func (s *Service) Deactivate(ctx context.Context, userID int64) error {
	return s.repo.Deactivate(ctx, userID)
}

// legacyDigestMatches compares the stored hex SHA-256 digest against the
// digest of the submitted password in constant time.
func legacyDigestMatches(stored, password string) bool {
	sum := sha256.Sum256([]byte(password))
	computed := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(stored), []byte(computed)) == 1
}

package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/matcontrol/matcontrol/internal/shared"
)

type stubRepo struct {
	users map[string]*User

	upgradeCalls int
	upgradeErr   error
	lastUpgrade  string

	setCalls int
	lastSet  string
}

func newStubRepo(users ...*User) *stubRepo {
	repo := &stubRepo{users: make(map[string]*User)}
	for _, u := range users {
		repo.users[u.Login] = u
	}
	return repo
}

func (s *stubRepo) FindByLogin(ctx context.Context, login string) (*User, error) {
	user, ok := s.users[login]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	for _, u := range s.users {
		if u.ID == id {
			clone := *u
			return &clone, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateUser(ctx context.Context, login, name, adaptiveHash string) (*User, error) {
	user := &User{
		ID:       int64(len(s.users) + 1),
		Login:    login,
		Name:     name,
		IsActive: true,
		Credential: Credential{
			Format:       FormatAdaptive,
			AdaptiveHash: adaptiveHash,
		},
	}
	s.users[login] = user
	return user, nil
}

func (s *stubRepo) UpgradeToAdaptive(ctx context.Context, userID int64, adaptiveHash string) error {
	s.upgradeCalls++
	if s.upgradeErr != nil {
		return s.upgradeErr
	}
	s.lastUpgrade = adaptiveHash
	for _, u := range s.users {
		if u.ID == userID {
			u.Credential = Credential{Format: FormatAdaptive, AdaptiveHash: adaptiveHash}
		}
	}
	return nil
}

func (s *stubRepo) SetAdaptivePassword(ctx context.Context, userID int64, adaptiveHash string) error {
	s.setCalls++
	s.lastSet = adaptiveHash
	for _, u := range s.users {
		if u.ID == userID {
			u.Credential = Credential{Format: FormatAdaptive, AdaptiveHash: adaptiveHash}
		}
	}
	return nil
}

func (s *stubRepo) Deactivate(ctx context.Context, userID int64) error {
	for _, u := range s.users {
		if u.ID == userID {
			u.IsActive = false
			return nil
		}
	}
	return shared.ErrNotFound
}

var _ Repository = (*stubRepo)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func legacyDigest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func legacyUser(id int64, login, password string) *User {
	return &User{
		ID:       id,
		Login:    login,
		IsActive: true,
		Credential: Credential{
			Format:       FormatLegacy,
			LegacyDigest: legacyDigest(password),
		},
	}
}

func adaptiveUser(t *testing.T, id int64, login, password string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &User{
		ID:       id,
		Login:    login,
		IsActive: true,
		Credential: Credential{
			Format:       FormatAdaptive,
			AdaptiveHash: string(hash),
		},
	}
}

func TestVerifyLegacyTriggersUpgrade(t *testing.T) {
	repo := newStubRepo(legacyUser(1, "otk1", "secret123"))
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	result, err := svc.Verify(context.Background(), "otk1", "secret123")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Format != FormatLegacy {
		t.Fatalf("expected legacy format, got %v", result.Format)
	}
	if repo.upgradeCalls != 1 {
		t.Fatalf("expected 1 upgrade call, got %d", repo.upgradeCalls)
	}

	stored := repo.users["otk1"]
	if stored.Credential.Format != FormatAdaptive {
		t.Fatalf("expected adaptive format after upgrade, got %v", stored.Credential.Format)
	}
	if stored.Credential.LegacyDigest != "" {
		t.Fatalf("expected legacy digest cleared")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Credential.AdaptiveHash), []byte("secret123")); err != nil {
		t.Fatalf("upgraded hash does not match password: %v", err)
	}

	// Second login goes through the adaptive path, no further upgrades.
	result, err = svc.Verify(context.Background(), "otk1", "secret123")
	if err != nil {
		t.Fatalf("verify after upgrade: %v", err)
	}
	if result.Format != FormatAdaptive {
		t.Fatalf("expected adaptive format, got %v", result.Format)
	}
	if repo.upgradeCalls != 1 {
		t.Fatalf("expected no additional upgrade, got %d calls", repo.upgradeCalls)
	}
}

func TestVerifyAdaptiveIgnoresLegacyDigest(t *testing.T) {
	user := adaptiveUser(t, 1, "user1", "correctpass")
	// A stale legacy digest for a different password must have no effect.
	user.Credential.LegacyDigest = legacyDigest("stalepass")
	repo := newStubRepo(user)
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	if _, err := svc.Verify(context.Background(), "user1", "correctpass"); err != nil {
		t.Fatalf("verify adaptive: %v", err)
	}
	if _, err := svc.Verify(context.Background(), "user1", "stalepass"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials via adaptive path, got %v", err)
	}
	if repo.upgradeCalls != 0 {
		t.Fatalf("adaptive path must not trigger upgrades")
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	repo := newStubRepo(legacyUser(1, "known", "rightpass"))
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	_, unknownErr := svc.Verify(context.Background(), "ghost", "whatever")
	_, wrongErr := svc.Verify(context.Background(), "known", "wrongpass")
	if !errors.Is(unknownErr, shared.ErrInvalidCredentials) || !errors.Is(wrongErr, shared.ErrInvalidCredentials) {
		t.Fatalf("unknown login and wrong password must both yield ErrInvalidCredentials, got %v / %v", unknownErr, wrongErr)
	}
}

func TestVerifyInactiveUserRejected(t *testing.T) {
	user := adaptiveUser(t, 1, "gone", "secret123")
	user.IsActive = false
	svc := NewService(testLogger(), newStubRepo(user), bcrypt.MinCost)

	if _, err := svc.Verify(context.Background(), "gone", "secret123"); !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for inactive user, got %v", err)
	}
}

func TestVerifyMigrationFailureDoesNotFailLogin(t *testing.T) {
	repo := newStubRepo(legacyUser(1, "otk1", "secret123"))
	repo.upgradeErr = errors.New("storage down")
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	result, err := svc.Verify(context.Background(), "otk1", "secret123")
	if err != nil {
		t.Fatalf("login must succeed despite migration failure: %v", err)
	}
	if result.Format != FormatLegacy {
		t.Fatalf("expected legacy format, got %v", result.Format)
	}
}

func TestChangePasswordWritesAdaptiveOnly(t *testing.T) {
	repo := newStubRepo(legacyUser(1, "otk1", "oldpass99"))
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	if err := svc.ChangePassword(context.Background(), "otk1", "oldpass99", "newpass123"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if repo.setCalls != 1 {
		t.Fatalf("expected one password write, got %d", repo.setCalls)
	}
	stored := repo.users["otk1"]
	if stored.Credential.Format != FormatAdaptive || stored.Credential.LegacyDigest != "" {
		t.Fatalf("expected adaptive-only credential after change")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Credential.AdaptiveHash), []byte("newpass123")); err != nil {
		t.Fatalf("new hash mismatch: %v", err)
	}
}

func TestChangePasswordRejectsWrongOldPassword(t *testing.T) {
	repo := newStubRepo(adaptiveUser(t, 1, "user1", "rightpass"))
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	err := svc.ChangePassword(context.Background(), "user1", "wrongpass", "newpass123")
	if !errors.Is(err, shared.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if repo.setCalls != 0 {
		t.Fatalf("no write expected on rejected change")
	}
}

func TestChangePasswordRejectsShortPassword(t *testing.T) {
	repo := newStubRepo(adaptiveUser(t, 1, "user1", "rightpass"))
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	if err := svc.ChangePassword(context.Background(), "user1", "rightpass", "short"); err == nil {
		t.Fatalf("expected validation error for short password")
	}
}

func TestCreateUserValidatesInput(t *testing.T) {
	repo := newStubRepo()
	svc := NewService(testLogger(), repo, bcrypt.MinCost)

	if _, err := svc.CreateUser(context.Background(), CreateUserInput{Login: "x", Name: "X", Password: "longenough1"}); err == nil {
		t.Fatalf("expected validation error for one-char login")
	}

	user, err := svc.CreateUser(context.Background(), CreateUserInput{Login: "lab7", Name: "Lab Seven", Password: "longenough1"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Credential.Format != FormatAdaptive || user.Credential.LegacyDigest != "" {
		t.Fatalf("new users must be adaptive-only")
	}
}

package grants

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

type stubGrantRepo struct {
	grants map[[2]int64]*Grant

	upsertCalls     int
	deactivateCalls int
}

func newStubGrantRepo() *stubGrantRepo {
	return &stubGrantRepo{grants: make(map[[2]int64]*Grant)}
}

func (s *stubGrantRepo) Upsert(ctx context.Context, userID, roleID, assignedBy int64, expiresAt *time.Time) error {
	s.upsertCalls++
	key := [2]int64{userID, roleID}
	s.grants[key] = &Grant{
		UserID:     userID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: time.Now().UTC(),
		ExpiresAt:  expiresAt,
		IsActive:   true,
	}
	return nil
}

func (s *stubGrantRepo) Deactivate(ctx context.Context, userID, roleID int64) (bool, error) {
	s.deactivateCalls++
	grant, ok := s.grants[[2]int64{userID, roleID}]
	if !ok || !grant.IsActive {
		return false, nil
	}
	grant.IsActive = false
	return true, nil
}

func (s *stubGrantRepo) ListActive(ctx context.Context, userID int64, now time.Time) ([]Grant, error) {
	var active []Grant
	for _, g := range s.grants {
		if g.UserID == userID && g.ActiveAt(now) {
			active = append(active, *g)
		}
	}
	return active, nil
}

func (s *stubGrantRepo) ListAll(ctx context.Context, userID int64) ([]Grant, error) {
	var all []Grant
	for _, g := range s.grants {
		if g.UserID == userID {
			all = append(all, *g)
		}
	}
	return all, nil
}

var _ Repository = (*stubGrantRepo)(nil)

type recordingInvalidator struct {
	invalidated []int64
}

func (r *recordingInvalidator) Invalidate(userID int64) {
	r.invalidated = append(r.invalidated, userID)
}

func TestAssignIsIdempotent(t *testing.T) {
	repo := newStubGrantRepo()
	inv := &recordingInvalidator{}
	svc := NewService(slog.New(slog.DiscardHandler), repo, inv)

	if err := svc.Assign(context.Background(), 1, 2, 99, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.Assign(context.Background(), 1, 2, 99, nil); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("expected single grant row, got %d", len(repo.grants))
	}
	if len(inv.invalidated) != 2 {
		t.Fatalf("each assign must invalidate, got %v", inv.invalidated)
	}
}

func TestRevokeRetainsRowAndReassignReactivates(t *testing.T) {
	repo := newStubGrantRepo()
	svc := NewService(slog.New(slog.DiscardHandler), repo, nil)

	if err := svc.Assign(context.Background(), 1, 2, 99, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := svc.Revoke(context.Background(), 1, 2); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	all, _ := repo.ListAll(context.Background(), 1)
	if len(all) != 1 || all[0].IsActive {
		t.Fatalf("revocation must retain the row inactive, got %+v", all)
	}
	active, _ := svc.ListActive(context.Background(), 1)
	if len(active) != 0 {
		t.Fatalf("revoked grant must not be active")
	}

	if err := svc.Assign(context.Background(), 1, 2, 50, nil); err != nil {
		t.Fatalf("re-assign: %v", err)
	}
	active, _ = svc.ListActive(context.Background(), 1)
	if len(active) != 1 || active[0].AssignedBy != 50 {
		t.Fatalf("expected reactivated grant with new assigner, got %+v", active)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("reactivation must not create a duplicate row")
	}
}

func TestRevokeMissingGrantDoesNotInvalidate(t *testing.T) {
	repo := newStubGrantRepo()
	inv := &recordingInvalidator{}
	svc := NewService(slog.New(slog.DiscardHandler), repo, inv)

	if err := svc.Revoke(context.Background(), 1, 2); err != nil {
		t.Fatalf("revoke missing: %v", err)
	}
	if len(inv.invalidated) != 0 {
		t.Fatalf("no-op revoke must not invalidate")
	}
}

func TestGrantActiveAt(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	cases := []struct {
		name  string
		grant Grant
		want  bool
	}{
		{"active no expiry", Grant{IsActive: true}, true},
		{"active future expiry", Grant{IsActive: true, ExpiresAt: &future}, true},
		{"expired one second ago", Grant{IsActive: true, ExpiresAt: &past}, false},
		{"expiring exactly now", Grant{IsActive: true, ExpiresAt: &now}, false},
		{"revoked", Grant{IsActive: false}, false},
		{"revoked with future expiry", Grant{IsActive: false, ExpiresAt: &future}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.grant.ActiveAt(now); got != tc.want {
				t.Fatalf("ActiveAt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestListActiveExcludesExpired(t *testing.T) {
	repo := newStubGrantRepo()
	svc := NewService(slog.New(slog.DiscardHandler), repo, nil)

	expired := time.Now().UTC().Add(-time.Second)
	if err := svc.Assign(context.Background(), 1, 2, 99, &expired); err != nil {
		t.Fatalf("assign: %v", err)
	}
	active, err := svc.ListActive(context.Background(), 1)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expired grant must be excluded, got %+v", active)
	}
	// The row itself is untouched: expiry is a read-time classification.
	all, _ := svc.History(context.Background(), 1)
	if len(all) != 1 || !all[0].IsActive {
		t.Fatalf("expiry must not mutate stored state, got %+v", all)
	}
}

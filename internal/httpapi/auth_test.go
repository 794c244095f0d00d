package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

type userStoreStub struct {
	mu    sync.Mutex
	users map[string]domain.UserAccount
}

func (s *userStoreStub) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func newStubStore(t *testing.T, users ...domain.UserAccount) *userStoreStub {
	t.Helper()
	stub := &userStoreStub{users: make(map[string]domain.UserAccount)}
	for _, u := range users {
		u.Password = mustHashPassword(t, u.Password)
		stub.users[u.Username] = u
	}
	return stub
}

func TestLoginTokenCarriesBusinessClaim(t *testing.T) {
	users := newStubStore(t, domain.UserAccount{
		Username: "owner", Password: "owner-pass", Role: domain.RoleAdmin, BusinessID: "biz-1", Active: true,
	})
	manager := NewAuthManager("test-secret", time.Hour, users)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Owner", Password: "owner-pass"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.BusinessID != "biz-1" {
		t.Fatalf("expected business in login response, got %q", resp.BusinessID)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "owner" || actor.Role != domain.RoleAdmin || actor.BusinessID != "biz-1" {
		t.Fatalf("unexpected actor %+v", actor)
	}

	scope, err := ScopeFor(actor)
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if scope.BusinessID() != "biz-1" || scope.IsUnscoped() {
		t.Fatalf("expected scope bound to biz-1, got %s", scope)
	}
}

func TestLoginRejectsWrongPasswordAndUnknownUser(t *testing.T) {
	users := newStubStore(t, domain.UserAccount{
		Username: "owner", Password: "owner-pass", Role: domain.RoleAdmin, BusinessID: "biz-1", Active: true,
	})
	manager := NewAuthManager("test-secret", time.Hour, users)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "owner", Password: "nope"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "owner-pass"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestLoginRejectsInactiveAndUnboundAccounts(t *testing.T) {
	users := newStubStore(t,
		domain.UserAccount{Username: "gone", Password: "gone-pass", Role: domain.RoleStaff, BusinessID: "biz-1", Active: false},
		domain.UserAccount{Username: "drifter", Password: "drift-pass", Role: domain.RoleStaff, Active: true},
	)
	manager := NewAuthManager("test-secret", time.Hour, users)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "gone", Password: "gone-pass"}); !errors.Is(err, errInactiveAccount) {
		t.Fatalf("expected inactive account, got %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "drifter", Password: "drift-pass"}); !errors.Is(err, errNoBusiness) {
		t.Fatalf("expected no business, got %v", err)
	}
}

func TestScopeForOperatorIsUnscoped(t *testing.T) {
	scope, err := ScopeFor(domain.Actor{Username: "root", Role: domain.RoleSuperAdmin})
	if err != nil {
		t.Fatalf("scope: %v", err)
	}
	if !scope.IsUnscoped() {
		t.Fatalf("expected unscoped operator, got %s", scope)
	}

	if _, err := ScopeFor(domain.Actor{Username: "staff", Role: domain.RoleStaff}); !errors.Is(err, errNoBusiness) {
		t.Fatalf("expected no business error, got %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, newStubStore(t))
	other := NewAuthManager("other-secret", time.Hour, newStubStore(t))

	token, err := other.sign("owner", domain.RoleAdmin, "biz-1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	expired, err := manager.sign("owner", domain.RoleAdmin, "biz-1", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(expired); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	if !strings.HasPrefix(token, "ey") {
		t.Fatalf("expected a JWT, got %q", token)
	}
}

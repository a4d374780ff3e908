package app

import (
	"net/http"
	"testing"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

func TestRegisterCreatesPendingAccount(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"email":    "Alice@Example.com",
		"password": "hunter22",
	})
	expectStatus(t, rr, http.StatusCreated)

	var payload struct {
		Message string           `json:"message"`
		User    store.PublicUser `json:"user"`
		Token   string           `json:"token"`
	}
	decodeJSON(t, rr, &payload)
	if payload.User.IsApproved || payload.User.IsAdmin {
		t.Fatalf("expected a pending member, got %+v", payload.User)
	}
	if payload.User.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %q", payload.User.Email)
	}
	if payload.Token != "" {
		t.Fatal("registration must not issue a session")
	}
	if _, ok := env.store.users[payload.User.ID]; !ok {
		t.Fatal("expected the user to be stored")
	}
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("alice", false, false)

	cases := []struct {
		name string
		body map[string]string
		code string
	}{
		{"duplicate username", map[string]string{"username": "ALICE", "email": "other@example.com", "password": "hunter22"}, "CONFLICT"},
		{"duplicate email", map[string]string{"username": "bob", "email": "alice@example.com", "password": "hunter22"}, "CONFLICT"},
		{"short password", map[string]string{"username": "bob", "email": "bob@example.com", "password": "abc"}, "BAD_REQUEST"},
		{"bad email", map[string]string{"username": "bob", "email": "not-an-email", "password": "hunter22"}, "BAD_REQUEST"},
		{"missing fields", map[string]string{"username": "bob"}, "BAD_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/auth/register", "", tc.body)
			expectError(t, rr, http.StatusBadRequest, tc.code)
		})
	}
}

func TestRegisterRejectsMalformedJSON(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/auth/register", "", `{"username":`)
	expectError(t, rr, http.StatusBadRequest, "BAD_REQUEST")
}

func TestLoginFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("pending", false, false)
	env.seedUser("member", true, false)

	rr := env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "pending", "password": testPassword})
	expectError(t, rr, http.StatusForbidden, "NOT_APPROVED")

	rr = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "member", "password": "wrong-password"})
	expectError(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rr = env.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ghost", "password": testPassword})
	expectError(t, rr, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestLoginReturnsVerifiableToken(t *testing.T) {
	env := newTestEnv(t)
	member := env.seedUser("member", true, false)

	token := env.login("member")
	claims, err := auth.ParseToken([]byte("test-secret"), token)
	if err != nil {
		t.Fatalf("parse issued token: %v", err)
	}
	if claims.UserID != member.ID || claims.Username != "member" || !claims.IsApproved || claims.IsAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.ExpiresAt == nil || claims.ID == "" {
		t.Fatalf("expected expiry and token id, got %+v", claims.RegisteredClaims)
	}
}

func TestMeRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)
	member := env.seedUser("member", true, false)

	rr := env.do(http.MethodGet, "/api/auth/me", "", nil)
	expectError(t, rr, http.StatusUnauthorized, "UNAUTHENTICATED")

	rr = env.do(http.MethodGet, "/api/auth/me", "not-a-jwt", nil)
	expectError(t, rr, http.StatusUnauthorized, "UNAUTHENTICATED")

	token := env.login("member")
	rr = env.do(http.MethodGet, "/api/auth/me", token, nil)
	expectStatus(t, rr, http.StatusOK)
	var user map[string]any
	decodeJSON(t, rr, &user)
	if user["id"] != member.ID {
		t.Fatalf("expected user %s, got %v", member.ID, user["id"])
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Fatal("password hash must never be returned")
	}
}

func TestExpiredAndForeignTokensRejected(t *testing.T) {
	env := newTestEnv(t)
	member := env.seedUser("member", true, false)

	expired, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		UserID:     member.ID,
		Username:   member.Username,
		IsApproved: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr := env.do(http.MethodGet, "/api/auth/me", expired, nil)
	expectError(t, rr, http.StatusUnauthorized, "UNAUTHENTICATED")

	foreign, err := auth.IssueToken([]byte("another-secret"), auth.Claims{
		UserID:     member.ID,
		Username:   member.Username,
		IsApproved: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   member.ID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	rr = env.do(http.MethodGet, "/api/auth/me", foreign, nil)
	expectError(t, rr, http.StatusUnauthorized, "UNAUTHENTICATED")
}

func TestLogoutDenylistsToken(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("member", true, false)
	token := env.login("member")

	rr := env.do(http.MethodPost, "/api/auth/logout", token, nil)
	expectStatus(t, rr, http.StatusOK)

	if denied, _ := env.denylist.IsDenied(t.Context(), auth.HashToken(token)); !denied {
		t.Fatal("expected token hash on the denylist")
	}

	rr = env.do(http.MethodGet, "/api/auth/me", token, nil)
	expectError(t, rr, http.StatusUnauthorized, "UNAUTHENTICATED")

	// the token is still signed correctly; only the denylist stops it
	if _, err := auth.ParseToken([]byte("test-secret"), token); err != nil {
		t.Fatalf("token should still verify: %v", err)
	}

	fresh := env.login("member")
	rr = env.do(http.MethodGet, "/api/auth/me", fresh, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestLogoutTwiceSucceeds(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("member", true, false)
	token := env.login("member")

	if err := env.svc.Logout(t.Context(), token); err != nil {
		t.Fatalf("first logout: %v", err)
	}
	if err := env.svc.Logout(t.Context(), token); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if len(env.denylist.entries) != 1 {
		t.Fatalf("expected one denylist entry, got %d", len(env.denylist.entries))
	}
}

func TestLogoutWithGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	if err := env.svc.Logout(t.Context(), "garbage"); err == nil {
		t.Fatal("expected an error for a token that does not parse")
	}
}

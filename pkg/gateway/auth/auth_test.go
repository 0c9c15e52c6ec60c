package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upstac/platform/pkg/common/models"
)

const testSecret = "0123456789abcdef0123"

func TestJWTRoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSecret, "upstac", "upstac-api", time.Hour)
	require.NoError(t, err)

	user := models.User{ID: uuid.New(), Email: "tester@upstac.in", Role: models.RoleTester}
	token, expiresAt, err := m.IssueToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := m.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.User().ID)
	assert.Equal(t, models.RoleTester, claims.User().Role)
	assert.NotEmpty(t, claims.ID)
}

func TestJWTRejectsWrongAudienceAndExpiry(t *testing.T) {
	issuer, err := NewJWTManager(testSecret, "upstac", "other", time.Hour)
	require.NoError(t, err)
	validator, err := NewJWTManager(testSecret, "upstac", "upstac-api", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken(models.User{ID: uuid.New(), Role: models.RoleUser})
	require.NoError(t, err)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)

	expired, err := NewJWTManager(testSecret, "upstac", "upstac-api", time.Minute)
	require.NoError(t, err)
	expired.nowFunc = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err = expired.IssueToken(models.User{ID: uuid.New(), Role: models.RoleUser})
	require.NoError(t, err)
	_, err = validator.ValidateToken(context.Background(), token)
	assert.Error(t, err)

	_, err = validator.ValidateToken(context.Background(), "")
	assert.Error(t, err)
}

func TestNewJWTManagerRequiresLongSecret(t *testing.T) {
	_, err := NewJWTManager("short", "i", "a", time.Hour)
	assert.Error(t, err)
}

func TestRoleAuthorizer(t *testing.T) {
	authz := NewRoleAuthorizer(DefaultPolicy())
	tester := models.User{Role: models.RoleTester}
	doctor := models.User{Role: models.RoleDoctor}
	admin := models.User{Role: models.RoleAdmin}

	assert.NoError(t, authz.Authorize(tester, ActionAssignLabTest))
	assert.True(t, errors.Is(authz.Authorize(doctor, ActionAssignLabTest), ErrForbidden))
	assert.NoError(t, authz.Authorize(doctor, ActionUpdateConsultation))
	assert.True(t, errors.Is(authz.Authorize(tester, ActionUpdateConsultation), ErrForbidden))
	assert.NoError(t, authz.Authorize(admin, Action("anything")))
	assert.True(t, errors.Is(authz.Authorize(tester, Action("unknown")), ErrForbidden))
}

func TestLoadPolicyOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "policies:\n  - action: lab:view\n    roles: [TESTER, DOCTOR]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	authz := NewRoleAuthorizer(policy)
	assert.NoError(t, authz.Authorize(models.User{Role: models.RoleDoctor}, ActionViewLabQueue))
	assert.Error(t, authz.Authorize(models.User{Role: models.RoleDoctor}, ActionAssignLabTest))

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMemoryRevocationStore(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, store.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, err = store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}

type erroringRevocations struct{}

func (erroringRevocations) Revoke(context.Context, string, time.Time) error { return nil }

func (erroringRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestVerify(t *testing.T) {
	tokens, err := NewJWTManager("0123456789abcdef0123", "upstac", "upstac-api", time.Hour)
	require.NoError(t, err)
	ctx := context.Background()
	token, expiresAt, err := tokens.IssueToken(models.User{ID: uuid.New(), Role: models.RoleAdmin})
	require.NoError(t, err)

	claims, err := Verify(ctx, tokens, nil, token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, claims.Role)

	store := NewMemoryRevocationStore()
	_, err = Verify(ctx, tokens, store, token)
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, claims.ID, expiresAt))
	_, err = Verify(ctx, tokens, store, token)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	_, err = Verify(ctx, tokens, erroringRevocations{}, token)
	assert.ErrorIs(t, err, ErrRevocationsUnavailable)

	_, err = Verify(ctx, tokens, store, "garbage")
	assert.Error(t, err)
}

func TestOIDCExchange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "good-code", r.Form.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "idp-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer idp-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(OIDCProfile{Subject: "abc", Email: "doctor@upstac.in", Name: "Dr. Rao"})
	})
	idp := httptest.NewServer(mux)
	defer idp.Close()

	a, err := NewOIDCAuthenticator(idp.URL+"/", "client", "secret", "http://localhost/callback")
	require.NoError(t, err)

	loginURL, err := url.Parse(a.LoginURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loginURL.Path)
	assert.Equal(t, "state-1", loginURL.Query().Get("state"))

	profile, err := a.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "doctor@upstac.in", profile.Email)

	_, err = a.Exchange(context.Background(), "")
	assert.Error(t, err)
}

func TestNewOIDCAuthenticatorIncomplete(t *testing.T) {
	_, err := NewOIDCAuthenticator("", "client", "", "")
	assert.Error(t, err)
}

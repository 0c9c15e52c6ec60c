package routes

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/common/models"
	gatewayauth "github.com/upstac/platform/pkg/gateway/auth"
	"github.com/upstac/platform/pkg/gateway/middleware"
	"github.com/upstac/platform/pkg/identity"
)

const oidcStateCookie = "upstac_oidc_state"

type AuthHandler struct {
	service     *identity.Service
	tokenSigner *gatewayauth.JWTManager
	revocations gatewayauth.RevocationStore
	oidc        *gatewayauth.OIDCAuthenticator
}

// NewAuthHandler wires the auth routes. oidc may be nil when SSO is not configured.
func NewAuthHandler(service *identity.Service, tokenSigner *gatewayauth.JWTManager, revocations gatewayauth.RevocationStore, oidc *gatewayauth.OIDCAuthenticator) *AuthHandler {
	return &AuthHandler{service: service, tokenSigner: tokenSigner, revocations: revocations, oidc: oidc}
}

func (h *AuthHandler) Register(r *mux.Router) {
	r.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	if h.oidc != nil {
		r.HandleFunc("/oidc/login", h.handleOIDCLogin).Methods(http.MethodGet)
		r.HandleFunc("/oidc/callback", h.handleOIDCCallback).Methods(http.MethodGet)
	}

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.Authenticate(h.tokenSigner, h.revocations))
	protected.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			logger.Log.WithError(err).Error("authentication failed")
		}
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.respondWithToken(w, http.StatusOK, user)
}

// handleRegister accepts anonymous patient sign-ups. A valid bearer token is
// used as the actor so admins can create staff accounts through the same route.
func (h *AuthHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var actor *models.User
	if token := middleware.BearerToken(r); token != "" {
		claims, err := gatewayauth.Verify(r.Context(), h.tokenSigner, h.revocations, token)
		if err != nil {
			middleware.RejectToken(w, err)
			return
		}
		user := claims.User()
		actor = &user
	}

	user, err := h.service.Register(r.Context(), actor, req)
	switch {
	case err == nil:
	case errors.Is(err, gatewayauth.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	case errors.Is(err, identity.ErrEmailAlreadyExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	default:
		logger.Log.WithError(err).Warn("failed to register user")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *AuthHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID)
	if err != nil {
		logger.Log.WithError(err).Warn("failed to fetch user in /me")
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	until := time.Now().Add(time.Hour)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	if err := h.revocations.Revoke(r.Context(), claims.ID, until); err != nil {
		logger.Log.WithError(err).Error("failed to revoke token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) handleOIDCLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oidc.LoginURL(state), http.StatusFound)
}

// handleOIDCCallback issues a local token for the account matching the provider's e-mail.
func (h *AuthHandler) handleOIDCCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oidcStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	profile, err := h.oidc.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		logger.Log.WithError(err).Warn("oidc exchange failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.service.GetUserByEmail(r.Context(), profile.Email)
	if errors.Is(err, identity.ErrUserNotFound) {
		http.Error(w, "no account for this identity", http.StatusForbidden)
		return
	}
	if err != nil {
		logger.Log.WithError(err).Error("oidc user lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	h.respondWithToken(w, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, status int, user models.User) {
	token, expiresAt, err := h.tokenSigner.IssueToken(user)
	if err != nil {
		logger.Log.WithError(err).Error("failed issuing token")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respondJSON(w, status, models.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

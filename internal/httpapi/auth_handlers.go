package httpapi

import (
	"net/http"
	"strings"
	"time"

	"userboard.io/internal/auth"
	"userboard.io/internal/onboarding"
)

const (
	refreshCookie     = "refreshToken"
	refreshCookiePath = "/v1/auth"
)

type tokenResponse struct {
	AccessToken      string         `json:"access_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        int64          `json:"expires_in"`
	RefreshExpiresAt *time.Time     `json:"refresh_expires_at,omitempty"`
	User             *auth.UserView `json:"user,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req onboarding.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.onboarding.Register(r.Context(), req)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user,
		"message": "registration received, awaiting approval",
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      res.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        res.ExpiresIn,
		RefreshExpiresAt: &res.RefreshExpiresAt,
		User:             &res.User,
	})
}

// handleRefresh reads the refresh token from the cookie, falling back to the
// JSON body for non-browser clients.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := refreshFromRequest(w, r)
	res, err := a.auth.Refresh(r.Context(), raw)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	out := tokenResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   res.ExpiresIn,
		User:        &res.User,
	}
	if res.RefreshToken != "" {
		a.setRefreshCookie(w, res.RefreshToken, res.RefreshExpiresAt)
		out.RefreshExpiresAt = &res.RefreshExpiresAt
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLogout always succeeds; unknown or malformed tokens are ignored.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if raw := refreshFromRequest(w, r); raw != "" {
		a.auth.Logout(r.Context(), raw)
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	n, err := a.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	a.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"message": "all sessions revoked", "revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := a.onboarding.Get(r.Context(), userID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	sessions, err := a.auth.ActiveSessions(r.Context(), userID)
	if err != nil {
		a.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user, "active_sessions": sessions})
}

func refreshFromRequest(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(refreshCookie); err == nil && strings.TrimSpace(c.Value) != "" {
		return strings.TrimSpace(c.Value)
	}
	var req refreshRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.RefreshToken)
}

func (a *API) setRefreshCookie(w http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    value,
		Path:     refreshCookiePath,
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (a *API) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

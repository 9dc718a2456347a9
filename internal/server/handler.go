package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/auth"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/credential"
	"github.com/goldilocks/identity/internal/session"
)

// Handler exposes the auth service over HTTP. The session travels in an
// HttpOnly cookie; the CSRF token is returned in the login body for the
// client to echo in the X-CSRF-Token header.
type Handler struct {
	config  *config.SessionConfig
	log     *zap.Logger
	service *auth.Service
}

func NewHandler(config *config.SessionConfig, log *zap.Logger, service *auth.Service) *Handler {
	return &Handler{
		config:  config,
		log:     log,
		service: service,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type profileRequest struct {
	FullName *string `json:"full_name"`
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
	Website  *string `json:"website"`
	Company  *string `json:"company"`
	Timezone *string `json:"timezone"`
	Theme    *string `json:"theme"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Username, req.Password, req.FullName)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse(user))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "identifier and password are required")
		return
	}

	sess, err := h.service.Login(r.Context(), req.Identifier, req.Password, clientIP(r), r.UserAgent())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"csrf_token": sess.CSRFToken,
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, h.cookieName())
	if token != "" {
		if err := h.service.Logout(r.Context(), token); err != nil {
			h.log.Error("logout failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "logout failed")
			return
		}
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userResponse(user))
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, h.cookieName())
	sess, err := h.service.RefreshSession(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.setSessionCookie(w, sess)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token := sessionToken(r, h.cookieName())
	if err := h.service.ChangePassword(r.Context(), token, req.OldPassword, req.NewPassword); err != nil {
		h.writeServiceError(w, err)
		return
	}

	// Every session is revoked, the caller's included.
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token := sessionToken(r, h.cookieName())
	update := account.ProfileUpdate{
		FullName: req.FullName,
		Bio:      req.Bio,
		Location: req.Location,
		Website:  req.Website,
		Company:  req.Company,
		Timezone: req.Timezone,
		Theme:    req.Theme,
	}
	if err := h.service.UpdateProfile(r.Context(), token, update); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, h.cookieName())
	sessions, err := h.service.Sessions(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, map[string]interface{}{
			"id":               s.ID,
			"ip_address":       s.IPAddress,
			"user_agent":       s.UserAgent,
			"created_at":       s.CreatedAt.Format(time.RFC3339),
			"expires_at":       s.ExpiresAt.Format(time.RFC3339),
			"last_activity_at": s.LastActivityAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	token := sessionToken(r, h.cookieName())
	if err := h.service.RevokeSession(r.Context(), token, uint(id)); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, h.cookieName())
	if err := h.service.UnlockAccount(r.Context(), token, chi.URLParam(r, "uuid")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, h.cookieName())
	stats, err := h.service.Stats(r.Context(), token)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_users":    stats.TotalUsers,
		"active_users":   stats.ActiveUsers,
		"verified_users": stats.VerifiedUsers,
		"admin_users":    stats.AdminUsers,
		"recent_logins":  stats.RecentLogins,
	})
}

// writeServiceError maps the service error taxonomy onto status codes.
// Unknown errors stay opaque: the auth path fails closed with a generic 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var validation *credential.ValidationError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "validation failed",
			"field":  validation.Field,
			"reason": validation.Reason,
		})
	case errors.Is(err, account.ErrEmailExists), errors.Is(err, account.ErrUsernameExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrRegistrationClosed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrSessionExpired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, account.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.log.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) cookieName() string {
	if h.config.CookieName == "" {
		return "session"
	}
	return h.config.CookieName
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func userResponse(user *account.User) map[string]interface{} {
	resp := map[string]interface{}{
		"uuid":        user.UUID,
		"email":       user.Email,
		"username":    user.Username,
		"full_name":   user.FullName,
		"role":        user.Role.String(),
		"is_active":   user.IsActive,
		"is_verified": user.IsVerified,
		"created_at":  user.CreatedAt.Format(time.RFC3339),
	}
	if user.LastLoginAt != nil {
		resp["last_login_at"] = user.LastLoginAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/models"
	"github.com/username/carteira/src/security"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type AuthHandler struct {
	accounts            services.AccountService
	auth                *security.AuthService
	usingFallbackSecret bool
}

func NewAuthHandler(accounts services.AccountService, auth *security.AuthService, usingFallbackSecret bool) *AuthHandler {
	return &AuthHandler{
		accounts:            accounts,
		auth:                auth,
		usingFallbackSecret: usingFallbackSecret,
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// HandleConfig tells the client whether sessions survive a server restart.
func (h *AuthHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"usingFallbackSessionSecret": h.usingFallbackSecret,
		"sessionMaxAgeSeconds":       int(h.auth.MaxAge() / time.Second),
	})
}

func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "register")
		return
	}
	user, err := h.accounts.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		respondError(w, r, err, "register")
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		respondError(w, r, err, "create session")
		return
	}
	utils.WriteJSON(w, http.StatusCreated, map[string]interface{}{"user": user})
}

func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err, "log in")
		return
	}
	user, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, r, err, "log in")
		return
	}
	if err := h.startSession(w, r, user); err != nil {
		respondError(w, r, err, "create session")
		return
	}
	logger.FromContext(r.Context()).Info("User login successful", "userEmail", user.Email)
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, r)
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the session user. A session whose user no longer exists
// is cleared.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	email, ok := requireUser(w, r)
	if !ok {
		return
	}
	user, err := h.accounts.GetUser(r.Context(), email)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			clearSessionCookie(w, r)
			utils.SendJSONError(w, "invalid or expired session", http.StatusUnauthorized)
			return
		}
		respondError(w, r, err, "load user")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *models.User) error {
	token, err := h.auth.GenerateSessionToken(user.Email, user.Name)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.auth.MaxAge() / time.Second),
	})
	return nil
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     security.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

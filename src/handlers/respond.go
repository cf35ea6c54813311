package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/carteira/src/logger"
	"github.com/username/carteira/src/security/validation"
	"github.com/username/carteira/src/services"
	"github.com/username/carteira/src/utils"
)

type contextKey string

const (
	userEmailContextKey contextKey = "userEmail"
	userNameContextKey  contextKey = "userName"
	requestIDContextKey contextKey = "requestID"
)

const maxJSONBodyBytes = 1 << 20

// GetUserEmailFromContext returns the authenticated user set by AuthMiddleware.
func GetUserEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(userEmailContextKey).(string)
	return email, ok && email != ""
}

// requireUser writes a 401 and returns false when the request carries no user.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := GetUserEmailFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
	}
	return email, ok
}

func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", validation.ErrValidationFailed)
	}
	return nil
}

// respondError maps service errors onto HTTP statuses. Unclassified errors
// are logged and answered with a generic message naming the failed action.
func respondError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, validation.ErrValidationFailed):
		utils.SendJSONError(w, trimSentinel(err, validation.ErrValidationFailed), http.StatusBadRequest)
	case errors.Is(err, services.ErrParsingFailed):
		logger.FromContext(r.Context()).Warn("Upload could not be parsed", "action", action, "error", err)
		utils.SendJSONError(w, trimSentinel(err, services.ErrParsingFailed), http.StatusBadRequest)
	case errors.Is(err, services.ErrNotFound):
		utils.SendJSONError(w, trimSentinel(err, services.ErrNotFound), http.StatusNotFound)
	case errors.Is(err, services.ErrConflict):
		utils.SendJSONError(w, trimSentinel(err, services.ErrConflict), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.SendJSONError(w, services.ErrInvalidCredentials.Error(), http.StatusUnauthorized)
	case errors.Is(err, context.DeadlineExceeded):
		logger.FromContext(r.Context()).Warn("Request deadline exceeded", "action", action)
		utils.SendJSONError(w, "request timed out", http.StatusServiceUnavailable)
	default:
		logger.FromContext(r.Context()).Error("Request failed", "action", action, "error", err)
		utils.SendJSONError(w, "Failed to "+action, http.StatusInternalServerError)
	}
}

func trimSentinel(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}

// firstParam returns the first non-empty query value among names.
func firstParam(r *http.Request, names ...string) string {
	q := r.URL.Query()
	for _, n := range names {
		if v := strings.TrimSpace(q.Get(n)); v != "" {
			return v
		}
	}
	return ""
}

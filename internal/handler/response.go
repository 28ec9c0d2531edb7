package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/seoforge/backend/internal/contextkeys"
	"github.com/seoforge/backend/internal/domain"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Warn().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// Error writes an error JSON response, using AppError status codes when available.
// Server-side failures are logged and never expose their cause.
func Error(w http.ResponseWriter, err error) {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		log.Error().Err(err).Msg("Unhandled error")
		JSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if appErr.Code >= http.StatusInternalServerError {
		log.Error().Err(appErr).Int("status", appErr.Code).Msg("Request failed")
		if appErr.Code == http.StatusInternalServerError {
			JSON(w, appErr.Code, map[string]string{"error": "internal server error"})
			return
		}
	}
	JSON(w, appErr.Code, map[string]string{"error": appErr.Message})
}

// DecodeJSON decodes a JSON request body into v and validates its struct tags.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrBadRequest("invalid JSON body")
	}
	return Validate(v)
}

// Validate checks struct tags and reports the first failing field.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return domain.ErrValidation(fmt.Sprintf("%s failed on '%s'", lowerFirst(fe.Field()), fe.Tag()))
	}
	return domain.ErrValidation("invalid request")
}

// accountID returns the authenticated account id set by the auth middleware.
func accountID(r *http.Request) (string, bool) {
	return contextkeys.AccountID(r.Context())
}

func unauthorized(w http.ResponseWriter) {
	JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

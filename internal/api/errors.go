package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/home-awareness/internal/alarm"
	"github.com/nerrad567/home-awareness/internal/audio"
	"github.com/nerrad567/home-awareness/internal/settings"
)

// Error is the body of every failed response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeBadGateway     = "bad_gateway"
)

// domainError maps a package sentinel to the response it produces. An
// empty message passes the wrapped error text through to the client.
type domainError struct {
	target  error
	status  int
	code    string
	message string
}

var domainErrors = []domainError{
	{settings.ErrUnknownModule, http.StatusNotFound, ErrCodeNotFound, ""},
	{settings.ErrUnknownItem, http.StatusNotFound, ErrCodeNotFound, ""},
	{settings.ErrTypeMismatch, http.StatusUnprocessableEntity, ErrCodeValidation, ""},

	{alarm.ErrNotFound, http.StatusNotFound, ErrCodeNotFound, "alarm not found"},
	{alarm.ErrInvalidSpec, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
	{alarm.ErrLabelRequired, http.StatusUnprocessableEntity, ErrCodeValidation, ""},

	{audio.ErrUnknownCommand, http.StatusBadRequest, ErrCodeBadRequest, ""},
	{audio.ErrInvalidVolume, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
	{audio.ErrMissingArgument, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
	{audio.ErrPlayerUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable, "media player unavailable"},
	{audio.ErrRequestFailed, http.StatusBadGateway, ErrCodeBadGateway, "media player request failed"},
}

// writeDomainError writes the response mapped to err, or fallback when err
// wraps none of the known sentinels.
func writeDomainError(w http.ResponseWriter, err error, fallback Error) {
	for _, d := range domainErrors {
		if !errors.Is(err, d.target) {
			continue
		}
		msg := d.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, d.status, d.code, msg)
		return
	}
	writeError(w, fallback.Status, fallback.Code, fallback.Message)
}

func internalError(message string) Error {
	return Error{Status: http.StatusInternalServerError, Code: ErrCodeInternal, Message: message}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // the client may have gone away
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeUnavailable answers 503 for a collaborator that is switched off.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeValidationError answers 422 listing every failed field.
func writeValidationError(w http.ResponseWriter, err error) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, validationMessage(err))
}

// validationMessage flattens validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

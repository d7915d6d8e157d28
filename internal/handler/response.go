package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wealthpath/buckets/internal/apperror"
	"github.com/wealthpath/buckets/internal/logger"
)

// ErrorResponse represents a JSON error response body.
type ErrorResponse struct {
	Error string        `json:"error"`
	Field string        `json:"field,omitempty"`
	Kind  apperror.Kind `json:"kind,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// respondJSON writes a JSON response with the given status code.
// It sets the Content-Type header to application/json.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondErr maps any error onto a status code and a message. Client errors
// keep their text; server errors are reduced to their category and logged.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.GetStatusCode(err)
	resp := ErrorResponse{
		Error: apperror.GetMessage(err),
		Kind:  apperror.Classify(err),
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	} else if status < http.StatusInternalServerError {
		resp.Error = err.Error()
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	respondJSON(w, status, resp)
}

// decodeJSON reads the request body into dst and runs struct validation.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperror.BadRequest("invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperror.ValidationError(jsonField(fe), "failed "+fe.Tag()+" validation")
		}
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return nil
		}
		return apperror.BadRequest(err.Error())
	}
	return nil
}

// jsonField lower-cases the first letter of the failing struct field.
func jsonField(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return ""
	}
	return strings.ToLower(name[:1]) + name[1:]
}

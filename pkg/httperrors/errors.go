package httperrors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sir_venger/docupload/internal/models"
)

// CodeTooLarge marks a request body over the configured limit.
const CodeTooLarge = "too_large"

// Body is the JSON error envelope of the upload API.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Status maps an error of the upload taxonomy to an HTTP status.
func Status(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrState):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func Write(w http.ResponseWriter, err error) {
	code := models.Code(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		code = CodeTooLarge
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(err))
	_ = json.NewEncoder(w).Encode(Body{Error: err.Error(), Code: code})
}

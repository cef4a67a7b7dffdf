package httpx

import (
	"net/http"

	apperrors "github.com/telbill/robo-ops/internal/errors"
)

// StatusForError maps a service error to the HTTP status code it should
// render as. Invalid transitions render as 409 rather than 400 because the
// request was well-formed; the entity's current state simply forbids it.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsInvalidTransition(err), apperrors.IsConflict(err):
		return http.StatusConflict
	case apperrors.IsValidation(err):
		return http.StatusBadRequest
	case apperrors.IsTransport(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// RenderError writes a JSON error response for a service error, deriving the
// status code and machine-readable error code from the error itself. Field
// information from validation errors is included when present.
func RenderError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	code := string(apperrors.GetCode(err))
	if code == "" {
		code = "internal"
	}

	body := map[string]string{"error": code, "message": err.Error()}
	if field := apperrors.GetField(err); field != "" {
		body["field"] = field
	}
	WriteJSON(w, status, body)
}

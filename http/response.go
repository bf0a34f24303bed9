package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"weathercast/ml"
)

// errorResponse is the body of every error reply.
type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// statusForKind maps prediction failures to HTTP status codes.
func statusForKind(kind ml.ErrorKind) int {
	switch kind {
	case ml.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// predictionDetail is the message shown to the caller. A missing artifact keeps
// the wording clients already match on.
func predictionDetail(err error) string {
	if errors.Is(err, ml.ErrArtifactNotFound) {
		return "Model not found. Please train the model first."
	}
	return err.Error()
}

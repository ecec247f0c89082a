package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/leapstack-labs/provcat/internal/loader"
	"github.com/leapstack-labs/provcat/pkg/core"
	"github.com/leapstack-labs/provcat/pkg/lineage"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

// statusFor maps catalog errors to HTTP status codes.
func statusFor(err error) int {
	var (
		notFound   *core.NotFoundError
		mismatch   *core.DocumentMismatchError
		conflict   *core.ConflictError
		validation *core.ValidationError
		parse      *loader.DocumentParseError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &mismatch), errors.As(err, &conflict),
		errors.Is(err, lineage.ErrInconsistentLineage):
		return http.StatusConflict
	case errors.As(err, &validation), errors.As(err, &parse):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}
	body := errorBody{Error: err.Error()}
	var mismatch *core.DocumentMismatchError
	if errors.As(err, &mismatch) {
		body.Fields = mismatch.Fields
	}
	writeJSON(w, status, body)
}

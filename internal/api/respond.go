package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// errorEnvelope is the single error response shape used across the API.
type errorEnvelope struct {
	Detail string `json:"detail"`
}

// pagination parses skip/limit query params, clamping limit to max.
func pagination(r *http.Request, defaultLimit, maxLimit int) (skip, limit int) {
	skip = parseIntParam(r, "skip", 0)
	limit = parseIntParam(r, "limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if skip < 0 {
		skip = 0
	}
	return skip, limit
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseBoolParam(r *http.Request, name string, fallback bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

// decodeAndValidate decodes the JSON request body into dst and runs struct
// tag validation, returning a BodyValidation-kind error (422) on either
// failure. Validation (400) is reserved for domain/range-gate failures
// evaluated after the body is already well-formed, e.g. ingest's bound
// checks.
func decodeAndValidate(r *http.Request, validate *validator.Validate, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperr.Wrap(apperr.BodyValidation, "malformed request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.BodyValidation, "request failed validation", err)
	}
	return nil
}

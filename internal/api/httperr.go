package api

import (
	"net/http"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/log"
)

// writeError maps an apperr.Kind to its HTTP status and the documented
// {"detail": "..."} envelope. It never leaks a wrapped cause's text; the
// full error (with cause) is logged separately with the request's
// correlation id. Callers that already set a Retry-After header (the
// ingest handler's rate-limit check) should do so before invoking writeError.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)

	log.WithComponent("api").Error().
		Err(err).
		Str("request_id", requestIDFrom(r.Context())).
		Str("kind", string(kind)).
		Msg("request failed")

	writeJSON(w, status, errorEnvelope{Detail: err.Error()})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.AlreadyProcessed:
		return http.StatusBadRequest
	case apperr.BodyValidation:
		return http.StatusUnprocessableEntity
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Conflict:
		return http.StatusConflict
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.Transient:
		return http.StatusServiceUnavailable
	case apperr.Degraded:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/types"
)

type sampleRequest struct {
	BatteryID      string  `json:"battery_id" validate:"required"`
	Timestamp      string  `json:"timestamp" validate:"required"`
	VoltageV       float64 `json:"voltage_v"`
	CurrentA       float64 `json:"current_a"`
	TemperatureC   float64 `json:"temperature_c"`
	ResistanceMOhm float64 `json:"resistance_mohm"`
	SoCPct         float64 `json:"soc_pct"`
	SoHPct         float64 `json:"soh_pct"`
}

type ingestRequest struct {
	Samples []sampleRequest `json:"samples" validate:"required,min=1,dive"`
}

// handleIngestTelemetry is the authenticated producer endpoint described by
// §4.3: accepts a batch of samples, rate-limited per authenticated subject.
func (s *server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	resolved, _ := identityFrom(r.Context())

	if limited, retryAfter := s.deps.Ingest.RateLimited(resolved.UserID); limited {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeError(w, r, apperr.New(apperr.RateLimited, "ingest rate limit exceeded"))
		return
	}

	var req ingestRequest
	if err := decodeAndValidate(r, s.validate, &req); err != nil {
		writeError(w, r, err)
		return
	}

	batch := make([]types.Sample, len(req.Samples))
	for i, sr := range req.Samples {
		ts, err := time.Parse(time.RFC3339, sr.Timestamp)
		if err != nil {
			writeError(w, r, apperr.New(apperr.Validation, "timestamp must be ISO-8601"))
			return
		}
		batch[i] = types.Sample{
			BatteryID:      sr.BatteryID,
			Timestamp:      ts.UTC(),
			VoltageV:       sr.VoltageV,
			CurrentA:       sr.CurrentA,
			TemperatureC:   sr.TemperatureC,
			ResistanceMOhm: sr.ResistanceMOhm,
			SoCPct:         sr.SoCPct,
			SoHPct:         sr.SoHPct,
		}
	}

	if err := s.deps.Ingest.Ingest(r.Context(), batch); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "accepted"})
}

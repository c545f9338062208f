package api

import (
	"net/http"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5"
)

type batteryDTO struct {
	ID              string     `json:"id"`
	StringID        string     `json:"string_id"`
	Position        int        `json:"position"`
	Manufacturer    string     `json:"manufacturer"`
	Model           string     `json:"model"`
	SerialNumber    string     `json:"serial_number"`
	NominalVoltageV float64    `json:"nominal_voltage_v"`
	CapacityAh      float64    `json:"capacity_ah"`
	Status          string     `json:"status"`
	LatestSample    *sampleDTO `json:"latest_sample,omitempty"`
	OpenAlertCount  int        `json:"open_alert_count,omitempty"`
}

type sampleDTO struct {
	Timestamp      string  `json:"timestamp"`
	VoltageV       float64 `json:"voltage_v"`
	CurrentA       float64 `json:"current_a"`
	TemperatureC   float64 `json:"temperature_c"`
	ResistanceMOhm float64 `json:"resistance_mohm"`
	SoCPct         float64 `json:"soc_pct"`
	SoHPct         float64 `json:"soh_pct"`
}

func toSampleDTO(s types.Sample) sampleDTO {
	return sampleDTO{
		Timestamp:      s.Timestamp.UTC().Format(time.RFC3339),
		VoltageV:       s.VoltageV,
		CurrentA:       s.CurrentA,
		TemperatureC:   s.TemperatureC,
		ResistanceMOhm: s.ResistanceMOhm,
		SoCPct:         s.SoCPct,
		SoHPct:         s.SoHPct,
	}
}

func toBatteryDTO(b types.Battery, latest *types.Sample) batteryDTO {
	dto := batteryDTO{
		ID:              b.ID,
		StringID:        b.StringID,
		Position:        b.Position,
		Manufacturer:    b.Manufacturer,
		Model:           b.Model,
		SerialNumber:    b.SerialNumber,
		NominalVoltageV: b.NominalVoltageV,
		CapacityAh:      b.CapacityAh,
		Status:          string(b.Status),
	}
	if latest != nil {
		sample := toSampleDTO(*latest)
		dto.LatestSample = &sample
	}
	return dto
}

func (s *server) handleListBatteries(w http.ResponseWriter, r *http.Request) {
	skip, limit := pagination(r, 50, 1000)
	filter := storage.BatteryFilter{SiteID: r.URL.Query().Get("location_id"), Skip: skip, Limit: limit}

	batteries, err := s.deps.Store.ListBatteries(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]batteryDTO, len(batteries))
	for i, b := range batteries {
		out[i] = toBatteryDTO(b, nil)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetBattery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	battery, err := s.deps.Store.GetBattery(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	latest, err := s.deps.Store.LatestSample(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	dto := toBatteryDTO(*battery, latest)
	for _, kind := range allAlertKinds {
		if alert, err := s.deps.Store.GetOpenAlert(r.Context(), id, kind); err == nil && alert != nil {
			dto.OpenAlertCount++
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

// defaultTelemetryWindow is the lookback applied when start/end are omitted.
const defaultTelemetryWindow = 24 * time.Hour

func (s *server) handleBatteryTelemetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	end := time.Now().UTC()
	start := end.Add(-defaultTelemetryWindow)

	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, apperr.New(apperr.Validation, "start must be an ISO-8601 timestamp"))
			return
		}
		start = parsed.UTC()
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, apperr.New(apperr.Validation, "end must be an ISO-8601 timestamp"))
			return
		}
		end = parsed.UTC()
	}

	_, limit := pagination(r, 1000, 10000)

	samples, err := s.deps.Store.RangeSamples(r.Context(), id, start, end, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]sampleDTO, len(samples))
	for i, sample := range samples {
		out[i] = toSampleDTO(sample)
	}
	writeJSON(w, http.StatusOK, out)
}

type rulResponse struct {
	BatteryID  string  `json:"battery_id"`
	RULDays    int     `json:"rul_days"`
	Confidence float64 `json:"confidence"`
	RiskLevel  string  `json:"risk_level"`
	Degraded   bool    `json:"degraded"`
	AsOf       string  `json:"as_of"`
}

func (s *server) handleBatteryRUL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pred, err := s.deps.RUL.Predict(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rulResponse{
		BatteryID:  pred.BatteryID,
		RULDays:    pred.RULDays,
		Confidence: pred.Confidence,
		RiskLevel:  pred.RiskLevel,
		Degraded:   pred.Degraded,
		AsOf:       pred.AsOf.UTC().Format(time.RFC3339),
	})
}

package api

import (
	"net/http"
	"time"

	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5"
)

type alertDTO struct {
	ID           string  `json:"id"`
	BatteryID    string  `json:"battery_id"`
	Kind         string  `json:"alert_type"`
	Severity     string  `json:"severity"`
	Message      string  `json:"message"`
	Threshold    float64 `json:"threshold"`
	Observed     float64 `json:"observed"`
	TriggeredAt  string  `json:"triggered_at"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
	Acknowledged bool    `json:"acknowledged"`
}

func toAlertDTO(a types.Alert) alertDTO {
	dto := alertDTO{
		ID:           a.ID,
		BatteryID:    a.BatteryID,
		Kind:         string(a.Kind),
		Severity:     string(a.Severity),
		Message:      a.Message,
		Threshold:    a.Threshold,
		Observed:     a.Observed,
		TriggeredAt:  a.TriggeredAt.UTC().Format(time.RFC3339),
		Acknowledged: a.IsAcknowledged(),
	}
	if a.ResolvedAt != nil {
		resolved := a.ResolvedAt.UTC().Format(time.RFC3339)
		dto.ResolvedAt = &resolved
	}
	return dto
}

func (s *server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip, limit := pagination(r, 50, 1000)

	filter := storage.AlertFilter{
		SiteID:     q.Get("location_id"),
		Severity:   types.Severity(q.Get("severity")),
		Kind:       types.AlertKind(q.Get("alert_type")),
		ActiveOnly: parseBoolParam(r, "active_only", false),
		Skip:       skip,
		Limit:      limit,
	}
	if raw := q.Get("acknowledged"); raw != "" {
		v := raw == "true"
		filter.Acknowledged = &v
	}
	if raw := q.Get("start_date"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			start := parsed.UTC()
			filter.Start = &start
		}
	}
	if raw := q.Get("end_date"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			end := parsed.UTC()
			filter.End = &end
		}
	}

	alerts, err := s.deps.Store.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]alertDTO, len(alerts))
	for i, a := range alerts {
		out[i] = toAlertDTO(a)
	}
	writeJSON(w, http.StatusOK, out)
}

type alertStatsResponse struct {
	TotalOpen     int            `json:"total_open"`
	TotalResolved int            `json:"total_resolved"`
	BySeverity    map[string]int `json:"by_severity"`
	ByKind        map[string]int `json:"by_kind"`
}

func (s *server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntParam(r, "days", 30)
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats, err := s.deps.Store.AlertStats(r.Context(), q.Get("location_id"), since)
	if err != nil {
		writeError(w, r, err)
		return
	}

	bySeverity := make(map[string]int, len(stats.BySeverity))
	for k, v := range stats.BySeverity {
		bySeverity[string(k)] = v
	}
	byKind := make(map[string]int, len(stats.ByKind))
	for k, v := range stats.ByKind {
		byKind[string(k)] = v
	}

	writeJSON(w, http.StatusOK, alertStatsResponse{
		TotalOpen:     stats.TotalOpen,
		TotalResolved: stats.TotalResolved,
		BySeverity:    bySeverity,
		ByKind:        byKind,
	})
}

type acknowledgeRequest struct {
	Note string `json:"note"`
}

func (s *server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resolved, _ := identityFrom(r.Context())

	var req acknowledgeRequest
	if r.ContentLength > 0 {
		if err := decodeAndValidate(r, s.validate, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}

	alert, err := s.deps.Store.GetAlert(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alert.IsAcknowledged() {
		writeError(w, r, apperr.New(apperr.AlreadyProcessed, "Alert has already been acknowledged").WithEntity(id))
		return
	}

	ack := types.Acknowledgement{UserID: resolved.UserID, At: time.Now().UTC(), Note: req.Note}
	if err := s.deps.Store.AcknowledgeAlert(r.Context(), id, ack); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "alert acknowledged"})
}

func (s *server) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := s.deps.Store.GetAlert(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alert.ResolvedAt != nil {
		writeError(w, r, apperr.New(apperr.AlreadyProcessed, "Alert has already been resolved").WithEntity(id))
		return
	}

	if err := s.deps.Store.ResolveAlert(r.Context(), id, time.Now().UTC()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "alert resolved"})
}

package api

import (
	"net/http"

	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5"
)

type siteDTO struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Region    string   `json:"region"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Stats     *statsDTO `json:"stats,omitempty"`
}

type statsDTO struct {
	TotalBatteries  int     `json:"total_batteries"`
	ActiveBatteries int     `json:"active_batteries"`
	LowSoHBatteries int     `json:"low_soh_batteries"`
	MeanSoHPct      float64 `json:"mean_soh_pct"`
	OpenAlerts      int     `json:"open_alerts"`
}

func toSiteDTO(site types.Site, stats *types.SiteStats) siteDTO {
	dto := siteDTO{ID: site.ID, Name: site.Name, Region: site.Region, Latitude: site.Latitude, Longitude: site.Longitude}
	if stats != nil {
		dto.Stats = &statsDTO{
			TotalBatteries:  stats.TotalBatteries,
			ActiveBatteries: stats.ActiveBatteries,
			LowSoHBatteries: stats.LowSoHBatteries,
			MeanSoHPct:      stats.MeanSoHPct,
			OpenAlerts:      stats.OpenAlerts,
		}
	}
	return dto
}

func (s *server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	withStats := parseBoolParam(r, "include_stats", false)

	sites, statsBySite, err := s.deps.Store.ListSites(r.Context(), withStats)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]siteDTO, len(sites))
	for i, site := range sites {
		if st, ok := statsBySite[site.ID]; ok {
			stCopy := st
			out[i] = toSiteDTO(site, &stCopy)
		} else {
			out[i] = toSiteDTO(site, nil)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	site, err := s.deps.Store.GetSite(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSiteDTO(*site, nil))
}

func (s *server) handleListLocationBatteries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batteries, err := s.deps.Store.ListBatteriesBySite(r.Context(), id)
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

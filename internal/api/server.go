// Package api implements the Query & Command API: the versioned REST
// surface plus the websocket live-subscription endpoint that together
// compose over Store, Identity, Evaluator, and the Subscription Hub.
package api

import (
	"net/http"
	"time"

	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/internal/ingest"
	"github.com/ampguard/telemetry-core/internal/rul"
	"github.com/ampguard/telemetry-core/pkg/health"
	"github.com/ampguard/telemetry-core/pkg/hub"
	"github.com/ampguard/telemetry-core/pkg/metrics"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

// Version is the service version reported on /health.
const Version = "1.0.0"

// Dependencies bundles everything handlers need, composed once at startup.
type Dependencies struct {
	Store    storage.Store
	Identity *identity.Service
	Ingest   *ingest.Pipeline
	RUL      *rul.Proxy
	Hub      *hub.Hub

	StoreHealth health.Checker
}

type server struct {
	deps     Dependencies
	validate *validator.Validate
	router   http.Handler
	streams  *streamRegistry
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// CloseStreams sends every live /stream subscriber a graceful close frame,
// for use while the process is draining. http.Server.Shutdown never learns
// about these connections once upgraded, so nothing else would disconnect
// them before the process exits.
func (s *server) CloseStreams(reason string) {
	s.streams.closeAll(streamCloseShuttingDown, reason)
}

// New builds the chi router implementing §6's HTTP and websocket surface.
func New(deps Dependencies) *server {
	s := &server{deps: deps, validate: validator.New(), streams: newStreamRegistry()}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(deadline)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleHealthReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/refresh", s.handleRefresh)
		r.Post("/auth/logout", s.handleLogout)

		// handleStream authenticates the handshake itself (a browser
		// websocket client cannot set an Authorization header), so it sits
		// outside the authenticate/requireRole chain used by the rest of
		// this group.
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(authenticate(s.deps.Identity))

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/change-password", s.handleChangePassword)

			r.Route("/auth/users", func(r chi.Router) {
				r.Use(requireRole(identity.CanMutateUsers, "Admin access required"))
				r.Get("/", s.handleListUsers)
				r.Post("/", s.handleCreateUser)
				r.Patch("/{id}", s.handlePatchUser)
				r.Delete("/{id}", s.handleDeleteUser)
			})

			r.Get("/locations", s.handleListLocations)
			r.Get("/locations/{id}", s.handleGetLocation)
			r.Get("/locations/{id}/batteries", s.handleListLocationBatteries)

			r.Get("/batteries", s.handleListBatteries)
			r.Get("/batteries/{id}", s.handleGetBattery)
			r.Get("/batteries/{id}/telemetry", s.handleBatteryTelemetry)
			r.Get("/batteries/{id}/rul", s.handleBatteryRUL)

			r.Post("/telemetry", s.handleIngestTelemetry)

			r.Get("/alerts", s.handleListAlerts)
			r.Get("/alerts/stats", s.handleAlertStats)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(identity.CanActOnAlerts, "Engineer access required"))
				r.Post("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
				r.Post("/alerts/{id}/resolve", s.handleResolveAlert)
			})
		})
	})

	r.Handle("/metrics", metrics.Handler())

	s.router = r
	return s
}

// metricsMiddleware records per-route request counts and latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

var allAlertKinds = []types.AlertKind{
	types.AlertVoltageHigh, types.AlertVoltageLow, types.AlertTemperatureHigh,
	types.AlertResistanceDrift, types.AlertSoHDegraded, types.AlertRULWarning, types.AlertRULCritical,
}

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/pkg/apperr"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func logEvent(ctx context.Context) *zerolog.Event {
	return log.WithComponent("api").Info().Str("request_id", requestIDFrom(ctx))
}

func logErrorEvent(ctx context.Context) *zerolog.Event {
	return log.WithComponent("api").Error().Str("request_id", requestIDFrom(ctx))
}

type contextKey int

const (
	ctxKeyIdentity contextKey = iota
)

const (
	readDeadline  = 10 * time.Second
	writeDeadline = 30 * time.Second
)

func requestIDFrom(ctx context.Context) string {
	if id := middleware.GetReqID(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}

// deadline bounds request processing; reads get the short budget, writes
// (any method that is not GET/HEAD) get the longer one, per §5.
func deadline(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		budget := readDeadline
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			budget = writeDeadline
		}
		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves the bearer token and attaches the caller's identity
// to the request context. It is mounted on every route under the
// authenticated subrouter.
func authenticate(identitySvc *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, r, apperr.New(apperr.Unauthorized, "missing bearer token"))
				return
			}
			resolved, err := identitySvc.Resolve(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, resolved)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}

func identityFrom(ctx context.Context) (*identity.Resolved, bool) {
	resolved, ok := ctx.Value(ctxKeyIdentity).(*identity.Resolved)
	return resolved, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogger logs one structured line per request, keyed by the chi
// request id, in the style of pkg/log's component loggers.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logEvent(r.Context()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

// recoverer converts a panic in a handler into a logged Fatal-kind response
// instead of crashing the process, matching the chain's described
// "recoverer" stage.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logErrorEvent(r.Context()).Interface("panic", rec).Msg("recovered from panic")
				writeError(w, r, apperr.Newf(apperr.Fatal, "internal error: %v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireRole rejects the request with Forbidden unless allow(role) holds,
// using denyMessage as the response detail. It must run after authenticate.
func requireRole(allow func(types.Role) bool, denyMessage string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolved, ok := identityFrom(r.Context())
			if !ok {
				writeError(w, r, apperr.New(apperr.Unauthorized, "missing bearer token"))
				return
			}
			if !allow(resolved.Role) {
				writeError(w, r, apperr.New(apperr.Forbidden, denyMessage))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

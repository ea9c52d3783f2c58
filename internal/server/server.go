// Package server exposes the engine's operations over HTTP/JSON. Callers
// authenticate with the X-Signer header (the platform's edge handles real
// authentication; this layer trusts the header) and supply multisig
// co-signers via X-Cosigners, comma-separated.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"StackFutures/internal/engine"
	"StackFutures/internal/observability"
	"StackFutures/internal/service"
	"StackFutures/internal/vault"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Server is the HTTP/JSON API.
type Server struct {
	svc         *service.Service
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	log         zerolog.Logger
	addr        string
	corsOrigins []string
}

func New(addr string, corsOrigins []string, svc *service.Service, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		svc:         svc,
		health:      health,
		metrics:     metrics,
		log:         log,
		addr:        addr,
		corsOrigins: corsOrigins,
	}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors)
	r.Use(s.observe)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/markets", s.handleInitMarket)
		r.Get("/markets/{marketID}", s.handleGetMarket)
		r.Post("/markets/{marketID}/nav", s.handlePostNAV)
		r.Post("/markets/{marketID}/pause", s.handlePause)
		r.Post("/markets/{marketID}/params", s.handleUpdateParams)
		r.Post("/markets/{marketID}/params/propose", s.handleProposeParams)
		r.Post("/markets/{marketID}/params/execute", s.handleExecuteParams)
		r.Post("/markets/{marketID}/authority", s.handleRotateAuthority)
		r.Post("/markets/{marketID}/deals", s.handleOpenDeal)

		r.Get("/deals/{dealID}", s.handleGetDeal)
		r.Post("/deals/{dealID}/margin", s.handleAddMargin)
		r.Post("/deals/{dealID}/close", s.handleCloseDeal)
		r.Post("/deals/{dealID}/liquidate", s.handleLiquidate)
		r.Post("/deals/{dealID}/liquidate-to-im", s.handleLiquidateToIM)

		r.Post("/vaults", s.handleOpenVault)
		r.Get("/vaults/{vaultID}", s.handleGetVault)
		r.Post("/vaults/{vaultID}/deposit", s.handleDeposit)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msg("api server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cors sets response headers for the configured allowed origins and answers
// preflight requests. An empty origin list allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := len(s.corsOrigins) == 0
			for _, o := range s.corsOrigins {
				if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
					allowed = true
					break
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Signer, X-Cosigners")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// observe records request counts and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(pattern, http.StatusText(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(pattern).Observe(time.Since(start).Seconds())
	})
}

// ============================================================================
// Request helpers
// ============================================================================

var errInvalidSide = errors.New(`side must be "long" or "short"`)

// signer extracts the authenticated caller identity.
func signer(r *http.Request) (engine.ID, error) {
	v := strings.TrimSpace(r.Header.Get("X-Signer"))
	if v == "" {
		return engine.NilID, errors.New("missing X-Signer header")
	}
	return engine.ID(v), nil
}

// cosigners extracts the multisig co-signer set, which may be empty.
func cosigners(r *http.Request) []engine.ID {
	raw := r.Header.Get("X-Cosigners")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]engine.ID, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, engine.ID(p))
		}
	}
	return ids
}

func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestBodyLimit))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps engine errors to HTTP statuses: unknown resources are 404,
// authorization failures 403, state conflicts 409, rejected inputs 422.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrMarketNotFound),
		errors.Is(err, engine.ErrDealNotFound),
		errors.Is(err, vault.ErrVaultNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized),
		errors.Is(err, engine.ErrNotEnoughSigners):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrMarketExists),
		errors.Is(err, engine.ErrAlreadyOpen),
		errors.Is(err, engine.ErrNotOpen),
		errors.Is(err, engine.ErrMarketPaused),
		errors.Is(err, engine.ErrCircuitBreaker),
		errors.Is(err, engine.ErrPriceNotSet),
		errors.Is(err, engine.ErrPriceStale),
		errors.Is(err, engine.ErrClockWentBackwards),
		errors.Is(err, engine.ErrNoPendingParams),
		errors.Is(err, engine.ErrTimelockNotExpired),
		errors.Is(err, engine.ErrNotLiquidatable):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrZeroSize),
		errors.Is(err, engine.ErrInsufficientMargin),
		errors.Is(err, engine.ErrLeverageTooHigh),
		errors.Is(err, engine.ErrMathOverflow),
		errors.Is(err, engine.ErrOracleConfidenceTooWide),
		errors.Is(err, engine.ErrPriceJumpTooLarge),
		errors.Is(err, vault.ErrInsufficientBalance),
		errors.Is(err, vault.ErrInvalidCustody),
		errors.Is(err, vault.ErrVaultNotEmpty):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
}

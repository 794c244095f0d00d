package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/logger"
	"stockbook/backend/internal/metrics"
	"stockbook/backend/internal/service"
	"stockbook/backend/internal/store"
	"stockbook/backend/internal/tenant"
	"stockbook/backend/internal/xid"
)

type API struct {
	service        *service.Service
	auth           *AuthManager
	allowedOrigin  string
	loginLimiter   *attemptLimiter
	metricsHandler http.Handler
}

// New wires the HTTP surface. metricsHandler is mounted at /metrics when not
// nil.
func New(svc *service.Service, auth *AuthManager, allowedOrigin string, metricsHandler http.Handler) *API {
	return &API{
		service:        svc,
		auth:           auth,
		allowedOrigin:  allowedOrigin,
		loginLimiter:   newAttemptLimiter(5, time.Minute),
		metricsHandler: metricsHandler,
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(a.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(writeMethodNotAllowed)

	r.Get("/healthz", a.handleHealth)
	if a.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Post("/businesses", a.handleCreateBusiness)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Patch("/products/{id}", a.handleUpdateProduct)
			r.Delete("/products/{id}", a.handleDeleteProduct)

			r.Get("/vendors", a.handleListVendors)
			r.Post("/vendors", a.handleCreateVendor)
			r.Get("/banks", a.handleListBanks)
			r.Post("/banks", a.handleCreateBank)

			r.Get("/inventory", a.handleListInventory)
			r.Get("/inventory/{productID}", a.handleGetInventory)

			r.Get("/adjustments", a.handleListAdjustments)
			r.Post("/adjustments", a.handleCreateAdjustment)
			r.Delete("/adjustments/{id}", a.handleDeleteAdjustment)

			r.Get("/purchases", a.handleListPurchases)
			r.Post("/purchases", a.handleCreatePurchase)
			r.Get("/purchases/{id}", a.handleGetPurchase)
			r.Patch("/purchases/{id}", a.handleUpdatePurchase)
			r.Delete("/purchases/{id}", a.handleDeletePurchase)

			r.Get("/sales", a.handleListSales)
			r.Post("/sales", a.handleCreateSale)
			r.Get("/sales/{id}", a.handleGetSale)
			r.Patch("/sales/{id}", a.handleUpdateSale)
			r.Delete("/sales/{id}", a.handleDeleteSale)
			r.Get("/sales/{id}/payments", a.handleListPayments)
			r.Post("/sales/{id}/payments", a.handleRecordPayment)
			r.Delete("/sales/{id}/payments/{paymentID}", a.handleDeletePayment)
		})
	})

	return r
}

type ctxKey int

const (
	actorKey ctxKey = iota
	scopeKey
)

// requireAuth verifies the bearer token and derives the request's tenant
// scope from its claims. The scope never comes from client input.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, r, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		scope, err := ScopeFor(actor)
		if err != nil {
			writeError(w, r, http.StatusForbidden, err)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		ctx = context.WithValue(ctx, scopeKey, scope)
		reqLog := logger.From(ctx).With(logger.Actor(actor.Username), zap.String("scope", scope.String()))
		ctx = logger.ToContext(ctx, reqLog)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestScope returns the scope and actor set by requireAuth. A request that
// skipped requireAuth gets the zero scope, which every store call rejects.
func requestScope(r *http.Request) (tenant.Scope, domain.Actor) {
	scope, _ := r.Context().Value(scopeKey).(tenant.Scope)
	actor, _ := r.Context().Value(actorKey).(domain.Actor)
	return scope, actor
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 64 {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		reqLog := logger.L().With(logger.RequestID(requestID))
		r = r.WithContext(logger.ToContext(r.Context(), reqLog))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				reqLog.Error("panic serving request", zap.Any("panic", rec), zap.Stack("stack"))
				if ww.Status() == 0 {
					writeJSON(ww, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
				}
			}
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			reqLog.Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(startedAt)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// parseListFilter reads from, to and limit. Dates are RFC 3339 or YYYY-MM-DD;
// a bare "to" date covers the whole day.
func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{Limit: parsePositiveLimit(q.Get("limit"), 100, 500)}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		at, _, err := parseTime(raw)
		if err != nil {
			return domain.ListFilter{}, err
		}
		filter.From = &at
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		at, dateOnly, err := parseTime(raw)
		if err != nil {
			return domain.ListFilter{}, err
		}
		if dateOnly {
			at = at.Add(24*time.Hour - time.Nanosecond)
		}
		filter.To = &at
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return domain.ListFilter{}, errors.New("to must not be before from")
	}
	return filter, nil
}

func parseTime(raw string) (time.Time, bool, error) {
	if at, err := time.Parse(time.RFC3339, raw); err == nil {
		return at.UTC(), false, nil
	}
	at, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, errors.New("invalid date: use RFC 3339 or YYYY-MM-DD")
	}
	return at.UTC(), true, nil
}

// statusFor maps service errors onto HTTP statuses. Anything unrecognised is a
// 500 and its text never reaches the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrNegativeStock),
		errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound), errors.Is(err, tenant.ErrCrossTenant):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusNotFound {
		// a cross-tenant id must read exactly like a missing one
		err = store.ErrNotFound
	}
	writeError(w, r, status, err)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		logger.From(r.Context()).Error("request failed", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Package api exposes the thin HTTP boundary over search, discovery,
// inquiries and bookings.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/price-discovery/internal/booking"
	"github.com/sells-group/price-discovery/internal/model"
	"github.com/sells-group/price-discovery/internal/search"
)

// Searcher answers hybrid price queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (*search.Response, error)
}

// Discoverer triggers and reports discovery runs.
type Discoverer interface {
	TriggerByID(ctx context.Context, providerID, slug, query string) (model.DiscoveryJob, bool, error)
	Active(ctx context.Context, providerID string) ([]model.DiscoveryJob, error)
}

// Inquirer queues inquiries on the worker pool and reports their state.
type Inquirer interface {
	Enqueue(ctx context.Context, provider model.Provider, st model.ServiceType) (string, error)
	Status(ctx context.Context, providerID string) (model.InquiryState, error)
}

// Catalog loads providers and service types.
type Catalog interface {
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetServiceType(ctx context.Context, slug string) (*model.ServiceType, error)
	Ping(ctx context.Context) error
}

// Booker queues booking runs.
type Booker interface {
	Submit(ctx context.Context, req booking.Request) (*booking.Booking, error)
	Get(id string) (*booking.Booking, error)
}

// Deps are the handlers' collaborators. Inquiries and Bookings may be nil,
// in which case their routes answer 503.
type Deps struct {
	Catalog   Catalog
	Search    Searcher
	Discovery Discoverer
	Inquiries Inquirer
	Bookings  Booker
}

// Config configures the router.
type Config struct {
	CORSAllowedOrigins []string
	RequestTimeout     time.Duration
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	Deps
	router chi.Router
}

// NewServer builds the router.
func NewServer(deps Deps, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	s := &Server{Deps: deps}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Get("/search", s.search)
		r.Post("/discovery", s.triggerDiscovery)
		r.Route("/providers/{id}", func(r chi.Router) {
			r.Get("/discovery", s.discoveryStatus)
			r.Get("/inquiry", s.inquiryStatus)
			r.Post("/inquiry", s.sendInquiry)
		})
		r.Post("/book", s.book)
		r.Get("/book/{id}", s.bookingStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Catalog.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := search.Query{Text: params.Get("q")}

	var err error
	if q.Lat, err = parseFloat(params.Get("lat")); err != nil {
		writeError(w, http.StatusBadRequest, "lat must be a number")
		return
	}
	if q.Lng, err = parseFloat(params.Get("lng")); err != nil {
		writeError(w, http.StatusBadRequest, "lng must be a number")
		return
	}
	if raw := params.Get("radius"); raw != "" {
		if q.RadiusMeters, err = parseFloat(raw); err != nil {
			writeError(w, http.StatusBadRequest, "radius must be a number")
			return
		}
	}

	resp, err := s.Search.Search(r.Context(), q)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("api: search failed", zap.String("q", q.Text), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type discoveryRequest struct {
	ProviderID  string `json:"provider_id"`
	ServiceType string `json:"service_type"`
	Query       string `json:"query"`
}

func (s *Server) triggerDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProviderID == "" || req.ServiceType == "" {
		writeError(w, http.StatusBadRequest, "provider_id and service_type are required")
		return
	}

	job, acquired, err := s.Discovery.TriggerByID(r.Context(), req.ProviderID, req.ServiceType, req.Query)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		zap.L().Warn("api: discovery trigger failed",
			zap.String("provider_id", req.ProviderID),
			zap.String("service_type", req.ServiceType),
			zap.Error(err),
		)
		writeError(w, http.StatusServiceUnavailable, "discovery could not be scheduled")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"acquired": acquired,
		"job":      job,
	})
}

func (s *Server) discoveryStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active, err := s.Discovery.Active(r.Context(), id)
	if err != nil {
		zap.L().Error("api: discovery status", zap.String("provider_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "discovery status unavailable")
		return
	}
	if active == nil {
		active = []model.DiscoveryJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider_id": id,
		"running":     len(active) > 0,
		"jobs":        active,
	})
}

func (s *Server) inquiryStatus(w http.ResponseWriter, r *http.Request) {
	if s.Inquiries == nil {
		writeError(w, http.StatusServiceUnavailable, "inquiries are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	state, err := s.Inquiries.Status(r.Context(), id)
	if err != nil {
		zap.L().Error("api: inquiry status", zap.String("provider_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "inquiry status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"provider_id": id, "status": string(state)})
}

type inquiryRequest struct {
	ServiceType string `json:"service_type"`
}

func (s *Server) sendInquiry(w http.ResponseWriter, r *http.Request) {
	if s.Inquiries == nil {
		writeError(w, http.StatusServiceUnavailable, "inquiries are not configured")
		return
	}
	id := chi.URLParam(r, "id")
	var req inquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServiceType == "" {
		writeError(w, http.StatusBadRequest, "service_type is required")
		return
	}

	provider, err := s.Catalog.GetProvider(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	st, err := s.Catalog.GetServiceType(r.Context(), req.ServiceType)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	// The send runs off the request path; contact and send failures are
	// logged by the worker and show up as no change in inquiry status.
	inquiryID, err := s.Inquiries.Enqueue(r.Context(), *provider, *st)
	if err != nil {
		zap.L().Warn("api: enqueue inquiry", zap.String("provider_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "inquiry could not be queued")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"provider_id":  id,
		"service_type": st.Slug,
		"status":       "queued",
		"inquiry_id":   inquiryID,
	})
}

func (s *Server) book(w http.ResponseWriter, r *http.Request) {
	if s.Bookings == nil {
		writeError(w, http.StatusServiceUnavailable, "booking is not configured")
		return
	}
	var req booking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b, err := s.Bookings.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, booking.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Warn("api: booking submit failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "booking could not be queued")
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) bookingStatus(w http.ResponseWriter, r *http.Request) {
	if s.Bookings == nil {
		writeError(w, http.StatusServiceUnavailable, "booking is not configured")
		return
	}
	b, err := s.Bookings.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	zap.L().Error("api: lookup failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "lookup failed")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("api: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

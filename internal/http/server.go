package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"smartmeter/internal/billing"
	"smartmeter/internal/config"
	"smartmeter/internal/metrics"
	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

const maxBodyBytes = 1 << 20

// LatestCache is the optional fast path for a device's newest reading.
type LatestCache interface {
	Get(ctx context.Context, deviceIP string) (model.Reading, bool, error)
}

type Server struct {
	cfg     config.Config
	store   repository.Store
	billing *billing.Calculator
	latest  LatestCache
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewServer wires the API. latest may be nil when no cache is configured.
func NewServer(cfg config.Config, store repository.Store, calculator *billing.Calculator, latest LatestCache, logger *zap.Logger, m *metrics.Metrics) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("missing_jwt_secret")
	}
	if store == nil {
		return nil, errors.New("missing_store")
	}
	if calculator == nil {
		return nil, errors.New("missing_billing_calculator")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		billing: calculator,
		latest:  latest,
		logger:  logger.Named("http"),
		metrics: m,
		now:     time.Now,
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/register", s.handleRegister)

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/readings", s.handleLatestReadings)
			r.Get("/monthly/{deviceIp}", s.handleMonthly)
		})

		r.Route("/admin/users", func(r chi.Router) {
			r.Use(s.authMiddleware, s.requireAdmin)
			r.Get("/", s.handleListUsers)
			r.Post("/", s.handleCreateUser)
			r.Get("/{userID}", s.handleGetUser)
			r.Put("/{userID}", s.handleUpdateUser)
			r.Delete("/{userID}", s.handleDeleteUser)
		})
	})

	return r
}

// serverError logs err with request context and answers 500.
func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error, message string) {
	s.logger.Error(message,
		zap.Error(err),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
	)
	writeError(w, http.StatusInternalServerError, "server_error", message)
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// decodeJSON tolerates unknown fields; the dashboards post extra form state.
func decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hasznalt/apiserver/config"
	"github.com/hasznalt/apiserver/internal/auth"
	"github.com/hasznalt/apiserver/internal/db"
	"github.com/hasznalt/apiserver/internal/handlers"
	"github.com/hasznalt/apiserver/internal/logging"
	"github.com/hasznalt/apiserver/internal/services"
	"github.com/hasznalt/apiserver/internal/store"
	"github.com/jmoiron/sqlx"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	db         *sqlx.DB
	log        logging.Logger
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, log *logging.SlogLogger) (*Server, error) {
	sessionSecret := strings.TrimSpace(cfg.Session.Secret)
	if sessionSecret == "" {
		return nil, errors.New("SESSION_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cookies := auth.NewCookieCodec(sessionSecret, cfg.Session.CookieSecure)
	accountService := NewAccountService(dbConn, cookies, log)

	router := NewRouter(cfg, accountService, cookies, log)

	port := cfg.ServerPort
	if port == 0 {
		port = 3004
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     slog.NewLogLogger(log.Slog().Handler(), slog.LevelError),
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		log:        log,
	}, nil
}

// NewAccountService wires the account flows to the postgres-backed stores.
func NewAccountService(dbConn *sqlx.DB, cookies *auth.CookieCodec, log logging.Logger) *services.AccountService {
	accountRepo := store.NewAccountRepository(dbConn)
	sessionRepo := store.NewSessionRepository(dbConn)
	return services.NewAccountService(accountRepo, sessionRepo, cookies, log)
}

// NewRouter builds the HTTP routes around an account service.
func NewRouter(cfg config.Config, accountService *services.AccountService, cookies *auth.CookieCodec, log *logging.SlogLogger) *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  slog.NewLogLogger(log.Slog().Handler(), slog.LevelInfo),
			NoColor: true,
		}),
		middleware.Timeout(60*time.Second),
		cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodHead},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		handlers.AccountRouter(r, accountService, cookies, log)
		r.NotFound(handlers.APINotFound)
	})
	router.NotFound(handlers.SPA(cfg.StaticDir))

	return router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.log.Info(context.Background(), "listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and closes the
// database pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/auth"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/resources"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/session"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	database "github.com/FACorreiaa/clinic-admin/internal/db"
	"github.com/FACorreiaa/clinic-admin/internal/pkg/config"
)

// Server holds the dependencies for the HTTP server
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	dbPool   *pgxpool.Pool
	guard    *auth.Guard
	provider *resources.Provider
	router   http.Handler
}

// New builds the session store, the backend client, the guard and the data
// provider from cfg.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	kv, err := s.setupSessionKV(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to setup session store: %w", err)
	}
	store := session.NewStore(kv, cfg.Session.Key, logger)

	backend := transport.NewHTTPDoer(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	s.guard = auth.NewGuard(store, backend, cfg.Auth.PrivilegedRole, logger)

	client := transport.NewAuthorizedClient(backend, s.guard, s.guard, logger)
	s.provider = resources.NewProvider(client, resources.DefaultRegistry(), logger)

	logger.Info("Server dependencies ready",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("session_store", cfg.Session.Store))
	return s, nil
}

func (s *Server) setupSessionKV(ctx context.Context) (session.KV, error) {
	switch s.cfg.Session.Store {
	case config.SessionStorePostgres:
		pool, err := database.Init(ctx, s.cfg.Session.Postgres, s.logger)
		if err != nil {
			return nil, err
		}
		s.dbPool = pool
		s.logger.Info("Connected to Postgres",
			zap.String("host", s.cfg.Session.Postgres.Host),
			zap.String("port", s.cfg.Session.Postgres.Port),
			zap.String("database", s.cfg.Session.Postgres.DB))
		return session.NewPostgresKV(pool, s.logger), nil

	case config.SessionStoreFile:
		var sealer *session.Sealer
		if s.cfg.Session.Secret != "" {
			var err error
			if sealer, err = session.NewSealer(s.cfg.Session.Secret); err != nil {
				return nil, err
			}
		} else {
			s.logger.Warn("SESSION_SECRET not set, the session snapshot is stored in plain text",
				zap.String("path", s.cfg.Session.FilePath))
		}
		return session.NewCacheKV(s.logger, session.WithSnapshot(s.cfg.Session.FilePath, sealer))

	default:
		return session.NewCacheKV(s.logger)
	}
}

// HTTPServer creates and configures the HTTP server
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.router,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.cfg.Backend.Timeout*2 + 10*time.Second,
	}
}

// SetRouter sets the HTTP router/handler
func (s *Server) SetRouter(router http.Handler) {
	s.router = router
}

func (s *Server) Guard() *auth.Guard {
	return s.guard
}

func (s *Server) Provider() *resources.Provider {
	return s.provider
}

// Close releases the database pool, if any.
func (s *Server) Close() {
	if s.dbPool != nil {
		s.dbPool.Close()
	}
}

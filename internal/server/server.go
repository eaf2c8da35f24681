package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"catalog-sync/internal/config"
	"catalog-sync/internal/database"
	custommiddleware "catalog-sync/internal/middleware"
	"catalog-sync/internal/ratelimit"
	"catalog-sync/internal/repository"
	"catalog-sync/internal/service"
	"catalog-sync/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     *sql.DB
	redis  *redis.Client
}

// NewServer wires the ops API. redisClient may be nil, in which case requests
// are not rate limited.
func NewServer(cfg *config.Config, logger *zap.Logger, db *sql.DB, redisClient *redis.Client) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		health := database.Health(r.Context(), db)
		status := http.StatusOK
		if health["status"] != "up" {
			status = http.StatusServiceUnavailable
		}
		custommiddleware.RespondWithJSON(w, status, map[string]any{"status": health["status"], "database": health})
	})

	// Initialize repositories
	queueRepo := repository.NewQueueRepository(db, cfg.Queue.MaxAttempts)
	runRepo := repository.NewRunRepository(db)
	variantRepo := repository.NewVariantRepository(db)

	// Initialize services
	opsService := service.NewOpsService(queueRepo, runRepo, variantRepo)

	// Initialize handlers
	opsHandler := transport.NewOpsHandler(opsService, logger)

	router.Group(func(r chi.Router) {
		if redisClient != nil {
			limiter := ratelimit.NewRedis(redisClient, ratelimit.Config{
				RequestsPerWindow: cfg.Server.RequestsPerMinute,
				Window:            time.Minute,
				KeyPrefix:         "catalog_sync:api",
			})
			r.Use(custommiddleware.RateLimitMiddleware(limiter, logger))
		}
		opsHandler.RegisterRoutes(r)
	})

	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}

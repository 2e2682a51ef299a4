package clubgate

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/avdeevlv/clubgate/internal/config"
	"github.com/avdeevlv/clubgate/internal/http/handlers/approve"
	"github.com/avdeevlv/clubgate/internal/http/handlers/broadcastmsg"
	"github.com/avdeevlv/clubgate/internal/http/handlers/health"
	"github.com/avdeevlv/clubgate/internal/http/middlewarectx"
	approvalservice "github.com/avdeevlv/clubgate/internal/services/approval"
	broadcastservice "github.com/avdeevlv/clubgate/internal/services/broadcast"
	"github.com/avdeevlv/clubgate/internal/storage/cache"
)

// RegisterRoutes регистрирует все маршруты административного API.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg *config.Config,
	approvalService *approvalservice.Service, broadcastService *broadcastservice.Service,
	cacheRedis *cache.Cache, registry *prometheus.Registry) {
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
		middleware.URLFormat,
	)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.New(logger).ServeHTTP)

		// Группа со статическим токеном операторов
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.TokenMiddleware(cfg.APIToken, logger))
			r.Use(middlewarectx.RateLimitMiddleware(rate.NewLimiter(1, 3), logger))
			r.Post("/approve", approve.New(logger, approvalService, cacheRedis).ServeHTTP)
			r.Post("/broadcast", broadcastmsg.New(logger, broadcastService).ServeHTTP)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

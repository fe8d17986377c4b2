package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
	"github.com/framehost/authcore/internal/infra/config"
	"github.com/framehost/authcore/internal/transport/http/handlers"
	"github.com/framehost/authcore/internal/transport/http/middleware"
	"github.com/framehost/authcore/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Gateway       *usecase.AuthorizationGateway
	Auth          *usecase.AuthService
	Registration  *usecase.RegistrationService
	PasswordReset *usecase.PasswordResetService
	Moderator     *usecase.ContentModerator
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config   *config.AppConfig
	Logger   *zap.Logger
	Services ServiceSet
	Uploads  port.UploadRepository
	Objects  port.ObjectStore
	Metrics  *middleware.HTTPMetrics
	Database DatabaseChecker
	Cache    CacheChecker
}

// Register configures the gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(middleware.CORS([]string{"*"}))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Handler())
	}

	probes := make(map[string]handlers.Pinger, 2)
	if deps.Database != nil {
		probes["database"] = handlers.PingerFunc(deps.Database.Ping)
	}
	if deps.Cache != nil {
		probes["redis"] = handlers.PingerFunc(deps.Cache.HealthCheck)
	}
	healthHandler := handlers.NewHealthHandler(probes)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gateway := deps.Services.Gateway

	api := r.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(gateway, deps.Services.Auth, deps.Services.Registration, deps.Services.PasswordReset)
		authGroup := api.Group("/auth")
		authGroup.Use(middleware.Authorize(gateway, domain.EndpointAuth, false))
		authHandler.RegisterRoutes(authGroup)

		imageHandler := handlers.NewImageHandler(gateway, deps.Services.Moderator, deps.Uploads, deps.Objects, deps.Config.Moderation.MaxUploadBytes, deps.Logger)
		imageGroup := api.Group("/images")
		imageHandler.RegisterRoutes(imageGroup, middleware.Authorize(gateway, domain.EndpointUpload, true), middleware.Authorize(gateway, domain.EndpointAPI, true))
	}

	return r
}

package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/EternisAI/silo-config/internal/api/http/handler"
	"github.com/EternisAI/silo-config/internal/api/http/middleware"
	"github.com/EternisAI/silo-config/internal/auth"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/metrics"
	"github.com/EternisAI/silo-config/internal/registration"
	"github.com/EternisAI/silo-config/internal/rotation"
	"github.com/EternisAI/silo-config/pkg/configapi"
)

type Services struct {
	Registration *registration.Service
	Rotation     *rotation.Coordinator
	Tracker      *liveness.Tracker
	Auth         *auth.Service
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Limiter      *middleware.IPRateLimiter
	AdminAPIKey  string
	Version      string
	RuntimeID    string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.Metrics(srvs.Metrics))

	healthHandler := handler.NewHealthHandler(srvs.Version, srvs.RuntimeID)
	engine.GET("/health", healthHandler.Check)
	if srvs.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(metrics.Handler(srvs.Gatherer)))
	}

	clientHandler := handler.NewClientHandler(srvs.Registration)
	clients := engine.Group("", middleware.RateLimit(srvs.Limiter))
	{
		clients.POST(configapi.RegisterPath, clientHandler.Register)
		clients.POST(configapi.HeartbeatPath, clientHandler.Heartbeat)
		clients.POST(configapi.ValuesPath, clientHandler.Values)
	}

	jwtSecret := ""
	if srvs.Auth != nil {
		authHandler := handler.NewAuthHandler(srvs.Auth)
		engine.POST("/api/v1/auth/login", middleware.RateLimit(srvs.Limiter), authHandler.Login)
		jwtSecret = srvs.Auth.Secret()
	}

	adminHandler := handler.NewAdminHandler(srvs.Registration, srvs.Rotation, srvs.Tracker)
	admin := engine.Group("",
		middleware.AdminAuth(srvs.AdminAPIKey, jwtSecret),
		middleware.RequireRole(auth.RoleAdmin),
	)
	{
		admin.POST(configapi.InstanceHeartbeatPath, adminHandler.InstanceHeartbeat)
	}

	adminAPI := admin.Group("/api/v1/admin")
	{
		adminAPI.GET("/clients", adminHandler.ListClients)
		adminAPI.DELETE("/clients/:name", adminHandler.DeleteClient)
		adminAPI.GET("/clients/:name/history", adminHandler.History)
		adminAPI.POST("/clients/rotate-secret", adminHandler.RotateSecret)
		adminAPI.PUT("/clients/values", adminHandler.SetValues)
		adminAPI.PUT("/clients/live-reload", adminHandler.SetLiveReload)
		adminAPI.GET("/sessions", adminHandler.Sessions)
		adminAPI.GET("/instances", adminHandler.Instances)
		adminAPI.GET("/audit", adminHandler.Audit)
	}
}

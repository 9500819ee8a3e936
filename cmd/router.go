package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/config"
	"propertyescrow/pkg/escrow"
	"propertyescrow/pkg/events"
	"propertyescrow/pkg/metrics"
	"propertyescrow/pkg/parties"
	"propertyescrow/pkg/registry"
	"propertyescrow/pkg/response"
)

type routerDeps struct {
	escrow        escrow.EscrowService
	registry      registry.Registry
	parties       parties.PartyService
	hub           *events.Hub
	journal       events.Journal
	metrics       *metrics.EscrowMetrics
	authenticator *auth.Authenticator
	ping          func(context.Context) error
}

func newRouter(cfg config.Config, logger *zap.Logger, deps routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())
	router.Use(cors.New(corsConfig(cfg)))

	authenticate := deps.authenticator.Middleware()

	escrow.NewEscrowHandler(deps.escrow).RegisterRoutes(router, authenticate)
	registry.NewRegistryHandler(deps.registry).RegisterRoutes(router, authenticate)
	parties.NewPartyHandler(deps.parties).RegisterRoutes(router, authenticate)

	eventsHandler := events.NewHandler(deps.hub, logger.Named("events"))
	if deps.journal != nil {
		eventsHandler.SetJournal(deps.journal)
	}
	eventsHandler.RegisterRoutes(router)

	if deps.metrics != nil {
		router.GET("/metrics", deps.metrics.Handler())
	}
	router.GET("/healthz", healthz(deps.ping))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}

func corsConfig(cfg config.Config) cors.Config {
	origins := make([]string, 0, len(cfg.CORSAllowedOrigins))
	for _, o := range cfg.CORSAllowedOrigins {
		if o != "" {
			origins = append(origins, o)
		}
	}

	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSAllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// requestLogger replaces gin.Logger so access logs share the process logger.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if caller, ok := auth.Caller(c); ok {
			fields = append(fields, zap.String("caller", caller.Hex()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  response.APIResponse
// @Failure      503  {object}  response.APIResponse
// @Router       /healthz [get]
func healthz(ping func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				response.SendAPIResponse(c, http.StatusServiceUnavailable, false, "database unavailable", nil)
				return
			}
		}
		response.SendAPIResponse(c, http.StatusOK, true, "ok", nil)
	}
}

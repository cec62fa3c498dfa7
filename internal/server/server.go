// Package server assembles the HTTP surface.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/authgate/internal/config"
	"github.com/smallbiznis/authgate/internal/oauth2/guard"
	"github.com/smallbiznis/authgate/internal/observability"
	obsmiddleware "github.com/smallbiznis/authgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/authgate/internal/observability/metrics"
	obstracing "github.com/smallbiznis/authgate/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterProtectedRoutes),
	fx.Invoke(run),
)

// NewEngine builds the gin engine with the shared middleware chain and the
// operational endpoints.
func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// RegisterProtectedRoutes mounts the sample guarded resource. It requires a
// token carrying at least one of the read or write scopes.
func RegisterProtectedRoutes(r *gin.Engine, g *guard.Guard) {
	r.GET("/ping", g.RequireScopes(guard.StaticScopes{"read", "write"}), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"res": "pong"})
	})
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

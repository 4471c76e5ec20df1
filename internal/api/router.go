package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/register", s.RegisterHandler())
	r.POST("/auth/login", s.LoginHandler())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta", s.MetaListHandler())
		apiGroup.GET("/meta/:module/:entity", s.MetaEntityHandler())
		apiGroup.GET("/catalogs", s.MetaCatalogListHandler())
		apiGroup.GET("/catalogs/:name", s.MetaCatalogHandler())
		apiGroup.GET("/lint", s.SchemaLintHandler())

		// статические "служебные" маршруты - СНАЧАЛА
		apiGroup.GET("/:module/:entity/_count", s.CountHandler())
		apiGroup.GET("/:module/:entity/_exists", s.ExistsHandler())

		// обычные CRUD
		apiGroup.POST("/:module/:entity", s.CreateHandler())
		apiGroup.GET("/:module/:entity", s.ListHandler())
		apiGroup.GET("/:module/:entity/:id", s.GetOneHandler())
		apiGroup.PATCH("/:module/:entity/:id", s.UpdatePartialHandler())
		apiGroup.DELETE("/:module/:entity/:id", s.DeleteHandler())
	}
	return r
}

func (s *Server) Run(addr string) error {
	slog.Info("api: listening", "addr", addr)
	return s.Router().Run(addr)
}

// requestLog пишет запрос в slog после ответа.
func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			slog.Error("api: request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		slog.Debug("api: request", attrs...)
	}
}

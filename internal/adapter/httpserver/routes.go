package httpserver

import (
	"fmt"
	"log/slog"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(ErrorHandlingMiddleware())
	s.echo.Use(echoprometheus.NewMiddleware("unirig"))
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))

	s.registerHealthRoutes()
	s.echo.GET("/metrics", echoprometheus.NewHandler())

	api := s.echo.Group("/api", newRateLimiter(s.config.HTTPRatePerSecond, s.config.HTTPRateBurst))

	// The transport cap sits above the validated upload limit so the
	// intake layer is the one that rejects oversized models with a
	// structured error; slack covers multipart framing.
	uploadCap := fmt.Sprintf("%dB", s.config.MaxUploadBytes+1<<20)
	api.POST("/upload", s.handleUpload, middleware.BodyLimit(uploadCap))

	api.GET("/disk-space", s.handleDiskSpace)
	api.POST("/sessions/cleanup-all", s.handleCleanupAll)

	session := api.Group("/sessions/:session_id")
	session.GET("/stats", s.handleSessionStats)
	session.DELETE("", s.handleDeleteSession)
	session.POST("/pipeline/:stage", s.handleTriggerStage)
	session.GET("/jobs", s.handleListJobs)
	session.GET("/jobs/:job_id", s.handleGetJob)
	session.DELETE("/jobs/:job_id", s.handleCancelJob)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}

// Package httpserver is the echo transport for the rigging pipeline API.
// Handlers translate HTTP into application-service calls and map the
// structured error taxonomy back onto status codes; no business rules
// live here.
package httpserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JoseETeixeira/UniRig-Interface/internal/app"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/platform/config"
)

// pipelineService is the slice of the application layer the handlers use.
type pipelineService interface {
	SubmitArtifact(ctx context.Context, sessionID uuid.UUID, filename string, declaredSize int64, r io.Reader) (*domain.Job, error)
	TriggerStage(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, config domain.StageConfig) (*domain.Job, error)
	GetJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error)
	ListJobs(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error)
	CancelJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error)
	Stats(ctx context.Context, sessionID uuid.UUID) (*app.SessionStats, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error)
	DiskState(ctx context.Context) (domain.DiskSnapshot, error)
}

// sweeper triggers one cleanup cycle on demand.
type sweeper interface {
	Sweep(ctx context.Context)
}

// HealthCheck is a named health check function.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	service pipelineService
	cleanup sweeper

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, service pipelineService, cleanup sweeper, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:         e,
		config:       cfg,
		service:      service,
		cleanup:      cleanup,
		healthChecks: healthChecks,
		startTime:    time.Now(),
	}
	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

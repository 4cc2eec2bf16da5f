package httpserver

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JoseETeixeira/UniRig-Interface/internal/app"
	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	"github.com/JoseETeixeira/UniRig-Interface/internal/platform/config"
)

// --- Mock implementations ---

type mockService struct {
	submitArtifactFn func(ctx context.Context, sessionID uuid.UUID, filename string, declaredSize int64, r io.Reader) (*domain.Job, error)
	triggerStageFn   func(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, config domain.StageConfig) (*domain.Job, error)
	getJobFn         func(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error)
	listJobsFn       func(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error)
	cancelJobFn      func(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error)
	statsFn          func(ctx context.Context, sessionID uuid.UUID) (*app.SessionStats, error)
	deleteSessionFn  func(ctx context.Context, sessionID uuid.UUID) (int64, error)
	diskStateFn      func(ctx context.Context) (domain.DiskSnapshot, error)
}

func (m *mockService) SubmitArtifact(ctx context.Context, sessionID uuid.UUID, filename string, declaredSize int64, r io.Reader) (*domain.Job, error) {
	if m.submitArtifactFn != nil {
		return m.submitArtifactFn(ctx, sessionID, filename, declaredSize, r)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) TriggerStage(ctx context.Context, sessionID uuid.UUID, stage domain.Stage, config domain.StageConfig) (*domain.Job, error) {
	if m.triggerStageFn != nil {
		return m.triggerStageFn(ctx, sessionID, stage, config)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) GetJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, sessionID, jobID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) ListJobs(ctx context.Context, sessionID uuid.UUID, filter domain.JobFilter) ([]domain.Job, error) {
	if m.listJobsFn != nil {
		return m.listJobsFn(ctx, sessionID, filter)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) CancelJob(ctx context.Context, sessionID, jobID uuid.UUID) (*domain.Job, error) {
	if m.cancelJobFn != nil {
		return m.cancelJobFn(ctx, sessionID, jobID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) Stats(ctx context.Context, sessionID uuid.UUID) (*app.SessionStats, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, sessionID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockService) DeleteSession(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	if m.deleteSessionFn != nil {
		return m.deleteSessionFn(ctx, sessionID)
	}
	return 0, errors.New("not implemented")
}

func (m *mockService) DiskState(ctx context.Context) (domain.DiskSnapshot, error) {
	if m.diskStateFn != nil {
		return m.diskStateFn(ctx)
	}
	return domain.DiskSnapshot{}, errors.New("not implemented")
}

type mockSweeper struct {
	sweeps int
}

func (m *mockSweeper) Sweep(ctx context.Context) { m.sweeps++ }

// --- Helpers ---

func newTestServer(svc pipelineService, opts ...func(*Server)) *Server {
	srv := &Server{
		echo: echo.New(),
		config: &config.Config{
			Port:              "8080",
			MaxUploadBytes:    10 << 20,
			HTTPRatePerSecond: 1000,
			HTTPRateBurst:     1000,
		},
		service:   svc,
		cleanup:   &mockSweeper{},
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

func pendingJob(sessionID uuid.UUID, stage domain.Stage) *domain.Job {
	return &domain.Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Stage:     stage,
		Status:    domain.StatusPending,
		CreatedAt: time.Now(),
	}
}

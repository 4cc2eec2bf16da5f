package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/JoseETeixeira/UniRig-Interface/internal/domain"
	apperrors "github.com/JoseETeixeira/UniRig-Interface/internal/platform/errors"
)

const defaultJobListLimit = 50

type triggerStageRequest struct {
	Seed       int `json:"seed"`
	Iterations int `json:"iterations"`
}

func (s *Server) handleTriggerStage(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}

	stage := domain.Stage(c.Param("stage"))

	var req triggerStageRequest
	// An empty body means defaults; anything else must parse.
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("malformed stage configuration").
			WithHint("Send a JSON body like {\"seed\": 42} or an empty body for defaults.")
	}

	job, err := s.service.TriggerStage(c.Request().Context(), sessionID, stage, domain.StageConfig{
		Seed:       req.Seed,
		Iterations: req.Iterations,
	})
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusAccepted, toJobResponse(job)); err != nil {
		return fmt.Errorf("failed to write trigger response: %w", err)
	}
	return nil
}

func (s *Server) handleGetJob(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}
	jobID, err := pathUUID(c, "job_id")
	if err != nil {
		return err
	}

	job, err := s.service.GetJob(c.Request().Context(), sessionID, jobID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, toJobResponse(job)); err != nil {
		return fmt.Errorf("failed to write job response: %w", err)
	}
	return nil
}

func (s *Server) handleListJobs(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}

	filter, err := jobFilterFromQuery(c)
	if err != nil {
		return err
	}

	jobs, err := s.service.ListJobs(c.Request().Context(), sessionID, filter)
	if err != nil {
		return err
	}

	resp := jobListResponse{Jobs: toJobResponses(jobs), Count: len(jobs)}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write job list response: %w", err)
	}
	return nil
}

func (s *Server) handleCancelJob(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}
	jobID, err := pathUUID(c, "job_id")
	if err != nil {
		return err
	}

	job, err := s.service.CancelJob(c.Request().Context(), sessionID, jobID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, toJobResponse(job)); err != nil {
		return fmt.Errorf("failed to write cancel response: %w", err)
	}
	return nil
}

func jobFilterFromQuery(c echo.Context) (domain.JobFilter, error) {
	filter := domain.JobFilter{Limit: defaultJobListLimit}

	if raw := c.QueryParam("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			return domain.JobFilter{}, apperrors.ValidationError("unknown job status").
				WithField("status", raw)
		}
		filter.Status = &status
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return domain.JobFilter{}, apperrors.ValidationError("limit must be a positive integer").
				WithField("limit", raw)
		}
		filter.Limit = limit
	}
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return domain.JobFilter{}, apperrors.ValidationError("offset must be a non-negative integer").
				WithField("offset", raw)
		}
		filter.Offset = offset
	}
	return filter, nil
}

// pathUUID parses a path parameter as a UUID, mapping garbage to a
// validation error instead of a routing 404.
func pathUUID(c echo.Context, param string) (uuid.UUID, error) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError(fmt.Sprintf("invalid %s", param)).
			WithField(param, raw)
	}
	return id, nil
}

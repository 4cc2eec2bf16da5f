package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleSessionStats(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}

	stats, err := s.service.Stats(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, toSessionStatsResponse(stats)); err != nil {
		return fmt.Errorf("failed to write stats response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	sessionID, err := pathUUID(c, "session_id")
	if err != nil {
		return err
	}

	reclaimed, err := s.service.DeleteSession(c.Request().Context(), sessionID)
	if err != nil {
		return err
	}

	resp := deleteSessionResponse{SessionID: sessionID, ReclaimedBytes: reclaimed}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write delete response: %w", err)
	}
	return nil
}

func (s *Server) handleDiskSpace(c echo.Context) error {
	snapshot, err := s.service.DiskState(c.Request().Context())
	if err != nil {
		return err
	}

	resp := diskSpaceResponse{
		TotalBytes: snapshot.TotalBytes,
		UsedBytes:  snapshot.UsedBytes,
		FreeBytes:  snapshot.FreeBytes,
		Tier:       snapshot.Tier,
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write disk space response: %w", err)
	}
	return nil
}

// handleCleanupAll runs one cleanup sweep on demand. The sweep itself
// decides what is reclaimable; sessions with running jobs stay.
func (s *Server) handleCleanupAll(c echo.Context) error {
	s.cleanup.Sweep(c.Request().Context())

	if err := c.JSON(http.StatusOK, map[string]string{"status": "sweep completed"}); err != nil {
		return fmt.Errorf("failed to write cleanup response: %w", err)
	}
	return nil
}

package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apperrors "github.com/JoseETeixeira/UniRig-Interface/internal/platform/errors"
)

// handleUpload ingests one model file. The session id comes from the
// session_id form field; a fresh session is minted when the client has
// none yet, and its id comes back on the job response.
func (s *Server) handleUpload(c echo.Context) error {
	sessionID := uuid.New()
	if raw := c.FormValue("session_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return apperrors.ValidationError("invalid session_id").WithField("session_id", raw)
		}
		sessionID = parsed
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperrors.ValidationError("missing file field").
			WithHint("Send the model as multipart/form-data under the field name 'file'.")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return apperrors.InternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	job, err := s.service.SubmitArtifact(c.Request().Context(), sessionID, fileHeader.Filename, fileHeader.Size, src)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, toJobResponse(job)); err != nil {
		return fmt.Errorf("failed to write upload response: %w", err)
	}
	return nil
}

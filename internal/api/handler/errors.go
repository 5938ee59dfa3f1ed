package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/soundcron/internal/api/dto"
	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/gin-gonic/gin"
)

var reasonStatus = map[domain.Reason]int{
	domain.ReasonInvalidCron:   http.StatusBadRequest,
	domain.ReasonNotFound:      http.StatusNotFound,
	domain.ReasonDuplicateName: http.StatusConflict,
	domain.ReasonStorage:       http.StatusInternalServerError,
	domain.ReasonQueue:         http.StatusServiceUnavailable,
	domain.ReasonAsset:         http.StatusBadGateway,
}

var reasonMessage = map[domain.Reason]string{
	domain.ReasonInvalidCron:   "Invalid cron expression or timezone",
	domain.ReasonNotFound:      "SoundCron not found",
	domain.ReasonDuplicateName: "SoundCron name already exists for server",
	domain.ReasonStorage:       "Storage unavailable",
	domain.ReasonQueue:         "Scheduling queue unavailable",
	domain.ReasonAsset:         "Asset warehouse unavailable",
}

// writeError maps an orchestration failure onto a status code. The raw cause
// is logged and never sent to the caller.
func (h *SoundCronHandler) writeError(c *gin.Context, err error) {
	reason := domain.ReasonOf(err)

	status, ok := reasonStatus[reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	message, ok := reasonMessage[reason]
	if !ok {
		message = "Internal error"
	}

	h.logger.Error("Request failed",
		slog.String("path", c.Request.URL.Path),
		slog.String("reason", string(reason)),
		slog.String("error", err.Error()),
	)
	c.JSON(status, dto.ErrorResponse{Error: message, Reason: string(reason)})
}

package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/cuongbtq/soundcron/internal/api/dto"
	"github.com/cuongbtq/soundcron/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateSoundCron handles POST /api/v1/servers/:server_id/soundcrons
func (h *SoundCronHandler) CreateSoundCron(c *gin.Context) {
	serverID := c.Param("server_id")

	var req dto.CreateSoundCronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	cron := req.ToDomain(serverID)
	if err := h.orchestrator.AddCron(c.Request.Context(), serverID, cron); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromDomain(cron.Normalize()))
}

// GetSoundCron handles GET /api/v1/servers/:server_id/soundcrons/:name
func (h *SoundCronHandler) GetSoundCron(c *gin.Context) {
	cron, err := h.orchestrator.GetCron(c.Request.Context(), c.Param("server_id"), c.Param("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromDomain(*cron))
}

// ListServerSoundCrons handles GET /api/v1/servers/:server_id/soundcrons
func (h *SoundCronHandler) ListServerSoundCrons(c *gin.Context) {
	crons, err := h.orchestrator.ListCrons(c.Request.Context(), c.Param("server_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := dto.ListSoundCronsResponse{SoundCrons: make([]dto.SoundCronDTO, 0, len(crons))}
	for _, cron := range crons {
		resp.SoundCrons = append(resp.SoundCrons, dto.FromDomain(cron))
	}
	c.JSON(http.StatusOK, resp)
}

// ListSoundCrons handles GET /api/v1/soundcrons
// Lists every soundcron ordered by job key, one page at a time
func (h *SoundCronHandler) ListSoundCrons(c *gin.Context) {
	var req dto.ListSoundCronsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	after, err := DecodeKeyCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	all, err := h.orchestrator.ListAllCrons(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	var crons []domain.SoundCron
	for _, serverCrons := range all {
		for _, cron := range serverCrons {
			if cron.Key() > after {
				crons = append(crons, cron)
			}
		}
	}
	sort.Slice(crons, func(i, j int) bool { return crons[i].Key() < crons[j].Key() })

	hasMore := len(crons) > req.PageSize
	if hasMore {
		crons = crons[:req.PageSize]
	}

	resp := dto.ListSoundCronsResponse{SoundCrons: make([]dto.SoundCronDTO, 0, len(crons))}
	for _, cron := range crons {
		resp.SoundCrons = append(resp.SoundCrons, dto.FromDomain(cron))
	}
	if hasMore {
		resp.NextCursor = EncodeKeyCursor(crons[len(crons)-1].Key())
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteSoundCron handles DELETE /api/v1/servers/:server_id/soundcrons/:name
func (h *SoundCronHandler) DeleteSoundCron(c *gin.Context) {
	if err := h.orchestrator.RemoveCron(c.Request.Context(), c.Param("server_id"), c.Param("name")); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetStatus handles GET /api/v1/servers/:server_id/soundcrons/:name/status
func (h *SoundCronHandler) GetStatus(c *gin.Context) {
	key := domain.JobKey(c.Param("server_id"), c.Param("name"))

	owner, status, err := h.orchestrator.Status(c.Request.Context(), key)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewStatusResponse(key, owner, status))
}

// ListUnassigned handles GET /api/v1/soundcrons/unassigned
func (h *SoundCronHandler) ListUnassigned(c *gin.Context) {
	keys, err := h.orchestrator.Unassigned(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}

	c.JSON(http.StatusOK, dto.UnassignedResponse{Keys: keys})
}

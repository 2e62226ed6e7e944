package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"bonfire/backend/internal/service"
	"bonfire/backend/pkg/response"
)

// IgniteHandler 点火模块 HTTP 处理器
type IgniteHandler struct {
	igniteSvc service.IgniteService
}

// NewIgniteHandler 创建 IgniteHandler
func NewIgniteHandler(igniteSvc service.IgniteService) *IgniteHandler {
	return &IgniteHandler{igniteSvc: igniteSvc}
}

// Ignite 今日点火
// POST /api/v1/ignite?child_id=xxx
func (h *IgniteHandler) Ignite(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	resp, err := h.igniteSvc.Ignite(c.Request.Context(), callerID, childID)
	if err != nil {
		h.handleIgniteError(c, err)
		return
	}

	response.OK(c, resp)
}

func (h *IgniteHandler) handleIgniteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotOwner):
		response.Forbidden(c, 14003, "无权操作该孩子的日程")
	case errors.Is(err, service.ErrChildNotFound):
		response.NotFound(c, 14101, "孩子不存在")
	case errors.Is(err, service.ErrAlreadyIgnited):
		response.Conflict(c, 14203, "今日已点火")
	case errors.Is(err, service.ErrIgniteBusy):
		response.TooManyRequests(c, 14301, "点火正在进行中，请稍后重试", 1)
	default:
		response.InternalError(c)
	}
}

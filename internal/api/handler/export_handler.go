package handler

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"bonfire/backend/internal/service"
	"bonfire/backend/pkg/response"
)

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportPlans 导出区间内的日程记录（xlsx）
// GET /api/v1/plans/export?child_id=xxx&from=2006-01-02&to=2006-01-02
func (h *ExportHandler) ExportPlans(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	from, err := time.Parse("2006-01-02", c.Query("from"))
	if err != nil {
		response.BadRequest(c, 14001, "from日期格式无效")
		return
	}
	to, err := time.Parse("2006-01-02", c.Query("to"))
	if err != nil {
		response.BadRequest(c, 14001, "to日期格式无效")
		return
	}

	f, err := h.exportSvc.ExportInstancesXLSX(c.Request.Context(), callerID, childID, from, to)
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		response.InternalError(c)
		return
	}

	// 设置下载响应头
	filename := "日程记录_" + from.Format("20060102") + "-" + to.Format("20060102") + ".xlsx"
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ExportFeed 周期日程的 iCalendar 订阅源
// GET /api/v1/plans/feed.ics?child_id=xxx
func (h *ExportHandler) ExportFeed(c *gin.Context) {
	childID, ok := resolveChildID(c)
	if !ok {
		return
	}
	callerID, ok := MustGetSubjectID(c)
	if !ok {
		return
	}

	feed, err := h.exportSvc.ExportICSFeed(c.Request.Context(), callerID, childID)
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(feed))
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRangeInvalid):
		response.BadRequest(c, 14002, err.Error())
	case errors.Is(err, service.ErrChildNotFound):
		response.NotFound(c, 14101, "孩子不存在")
	case errors.Is(err, service.ErrNotOwner):
		response.Forbidden(c, 14003, "无权导出该孩子的日程")
	default:
		response.InternalError(c)
	}
}

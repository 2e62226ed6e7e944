package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
)

// ExportService 日程导出业务接口
type ExportService interface {
	// ExportInstancesXLSX 导出区间内的日程实例为 xlsx，按 ISO 周分表
	ExportInstancesXLSX(ctx context.Context, callerID, childID string, from, to time.Time) (*excelize.File, error)
	// ExportICSFeed 导出日程模板的 iCalendar 订阅源（周期模板为 RRULE，单次模板为普通事件）
	ExportICSFeed(ctx context.Context, callerID, childID string) (string, error)
}

type exportService struct {
	repo   *repository.Repository
	loc    *time.Location
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, loc *time.Location, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, loc: loc, logger: logger}
}

var instanceSheetHeader = []string{"日期", "日程名称", "开始", "结束", "状态", "成果标签"}

var statusLabels = map[model.PlanStatus]string{
	model.StatusPending:   "待完成",
	model.StatusVerified:  "待确认",
	model.StatusCompleted: "已完成",
	model.StatusFailed:    "未完成",
	model.StatusSkipped:   "已跳过",
}

func (s *exportService) ExportInstancesXLSX(ctx context.Context, callerID, childID string, from, to time.Time) (*excelize.File, error) {
	if err := s.authorize(ctx, callerID, childID); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, ErrRangeInvalid
	}

	insts, err := s.repo.PlanInstance.ListByChildAndRange(ctx, childID, from, to)
	if err != nil {
		s.logger.Error("查询日程实例失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}

	f := excelize.NewFile()
	defaultSheet := f.GetSheetName(0)
	rowBySheet := make(map[string]int)

	for i := range insts {
		inst := &insts[i]
		year, week := inst.PlanDate.ISOWeek()
		sheet := fmt.Sprintf("%d-W%02d", year, week)

		row, ok := rowBySheet[sheet]
		if !ok {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheet, "A1", &instanceSheetHeader); err != nil {
				return nil, err
			}
			row = 2
		}

		name, start, end := "", "", ""
		if inst.Template != nil {
			name = inst.Template.Name
			start = inst.Template.StartTime
			end = inst.Template.EndTime
		}
		tag := ""
		if inst.RewardTag != nil {
			tag = string(*inst.RewardTag)
		}
		cell := fmt.Sprintf("A%d", row)
		values := []interface{}{
			inst.PlanDate.Format("2006-01-02"),
			name,
			start,
			end,
			statusLabels[inst.Status],
			tag,
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return nil, err
		}
		rowBySheet[sheet] = row + 1
	}

	if len(rowBySheet) > 0 {
		if err := f.DeleteSheet(defaultSheet); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// icsWeekdays time.Weekday 到 RRULE BYDAY 记号
var icsWeekdays = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (s *exportService) ExportICSFeed(ctx context.Context, callerID, childID string) (string, error) {
	if err := s.authorize(ctx, callerID, childID); err != nil {
		return "", err
	}

	tmpls, err := s.repo.PlanTemplate.ListByChild(ctx, childID)
	if err != nil {
		s.logger.Error("查询日程模板失败", zap.String("child_id", childID), zap.Error(err))
		return "", err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//bonfire//plans//CN")

	for i := range tmpls {
		tmpl := &tmpls[i]

		// 单次模板导出为普通事件
		if !tmpl.Recurring {
			if tmpl.PlanDate == nil {
				continue
			}
			start, end, err := tmpl.WindowOn(*tmpl.PlanDate, s.loc)
			if err != nil {
				s.logger.Warn("模板时间窗非法，跳过导出",
					zap.String("template_id", tmpl.TemplateID),
					zap.Error(err),
				)
				continue
			}
			ev := cal.AddEvent(tmpl.TemplateID)
			ev.SetCreatedTime(tmpl.CreatedAt)
			ev.SetDtStampTime(tmpl.CreatedAt)
			ev.SetStartAt(start)
			ev.SetEndAt(end)
			ev.SetSummary(tmpl.Name)
			continue
		}

		if len(tmpl.Weekdays) == 0 {
			continue
		}

		// DTSTART 取创建日之后第一个命中星期的窗口起点
		anchor := tmpl.CreatedAt.In(s.loc)
		for !tmpl.RunsOn(anchor.Weekday()) {
			anchor = anchor.AddDate(0, 0, 1)
		}
		start, end, err := tmpl.WindowOn(anchor, s.loc)
		if err != nil {
			s.logger.Warn("模板时间窗非法，跳过导出",
				zap.String("template_id", tmpl.TemplateID),
				zap.Error(err),
			)
			continue
		}

		byday := ""
		for j, wd := range tmpl.Weekdays {
			if j > 0 {
				byday += ","
			}
			byday += icsWeekdays[wd.Weekday]
		}

		ev := cal.AddEvent(tmpl.TemplateID)
		ev.SetCreatedTime(tmpl.CreatedAt)
		ev.SetDtStampTime(tmpl.CreatedAt)
		ev.SetStartAt(start)
		ev.SetEndAt(end)
		ev.SetSummary(tmpl.Name)
		ev.AddRrule("FREQ=WEEKLY;BYDAY=" + byday)
	}

	return cal.Serialize(), nil
}

func (s *exportService) authorize(ctx context.Context, callerID, childID string) error {
	child, err := s.repo.Child.GetByID(ctx, childID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChildNotFound
		}
		s.logger.Error("查询孩子失败", zap.String("child_id", childID), zap.Error(err))
		return err
	}
	if !child.OwnedBy(callerID) {
		return ErrNotOwner
	}
	return nil
}

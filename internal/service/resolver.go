package service

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
	pkgerrors "bonfire/backend/pkg/errors"
)

// todayState 某孩子"今天"的完整解析结果
// 生成、时间驱动迁移均已落库，eligible 反映落库后的状态
type todayState struct {
	now      time.Time
	day      time.Time // 当日零点（业务时区）
	insts    []model.PlanInstance
	igniteAt *time.Time
	eligible []resolvedInstance
}

// resolveToday 解析某孩子的今日日程
//
// 顺序固定：惰性生成 → 读取 → 合格集筛选 → 时间驱动迁移落库。
// 聚合必须在迁移落库之后计算，并发的点火调用才不会看到
// 本应 FAILED 的陈旧 PENDING。
func resolveToday(
	ctx context.Context,
	repo *repository.Repository,
	clock clockwork.Clock,
	loc *time.Location,
	logger *zap.Logger,
	childID string,
) (*todayState, error) {
	now := clock.Now().In(loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	// 1. 惰性生成：午夜后新建的模板由此补上
	generateForChild(ctx, repo, logger, childID, day)

	// 2. 按窗口起点稳定排序读取当日实例
	insts, err := repo.PlanInstance.ListByChildAndDate(ctx, childID, day)
	if err != nil {
		logger.Error("查询当日日程实例失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}

	// 3. 合格集：排除窗口已过或点火之后才创建的当天模板
	igniteAt := earliestIgniteAt(insts)
	var kept []*model.PlanInstance
	for i := range insts {
		if isEligible(&insts[i], loc, igniteAt, logger) {
			kept = append(kept, &insts[i])
		}
	}
	eligible := resolveWindows(kept, loc, logger)

	// 4. 时间驱动迁移：窗口结束的实例先落库再参与聚合
	for i := range eligible {
		ri := &eligible[i]
		if now.Before(ri.end) {
			continue
		}
		to, ok := ri.inst.Status.AtWindowEnd()
		if !ok {
			continue
		}
		err := repo.PlanInstance.TransitionStatus(ctx, ri.inst.InstanceID, ri.inst.Status, to)
		switch {
		case err == nil:
			ri.inst.Status = to
		case errors.Is(err, pkgerrors.ErrStateConflict):
			// 命中 0 行说明并发方抢先改写了该行——可能是相同的窗口结束
			// 迁移，也可能是一次跳过。回读一次，聚合以库内状态为准。
			fresh, rerr := repo.PlanInstance.GetByID(ctx, ri.inst.InstanceID)
			if rerr != nil {
				logger.Error("迁移冲突后回读实例失败",
					zap.String("instance_id", ri.inst.InstanceID),
					zap.Error(rerr),
				)
				return nil, rerr
			}
			ri.inst.Status = fresh.Status
		default:
			logger.Error("窗口结束迁移失败",
				zap.String("instance_id", ri.inst.InstanceID),
				zap.Error(err),
			)
			return nil, err
		}
	}

	return &todayState{
		now:      now,
		day:      day,
		insts:    insts,
		igniteAt: igniteAt,
		eligible: eligible,
	}, nil
}

// generateForChild 为单个孩子物化今天的周期实例
// 单模板失败只记日志不中断，下次调用自愈
func generateForChild(
	ctx context.Context,
	repo *repository.Repository,
	logger *zap.Logger,
	childID string,
	day time.Time,
) {
	tmpls, err := repo.PlanTemplate.ListRecurringByChildAndWeekday(ctx, childID, day.Weekday())
	if err != nil {
		logger.Error("查询周期模板失败", zap.String("child_id", childID), zap.Error(err))
		return
	}

	for i := range tmpls {
		if _, err := materialize(ctx, repo, &tmpls[i], day); err != nil {
			logger.Error("生成日程实例失败",
				zap.String("template_id", tmpls[i].TemplateID),
				zap.Error(err),
			)
		}
	}
}

// materialize 幂等生成单个模板的当日实例，返回是否新建
// 先查存在再插入；插入撞唯一键视为无害竞争
func materialize(ctx context.Context, repo *repository.Repository, tmpl *model.PlanTemplate, day time.Time) (bool, error) {
	exists, err := repo.PlanInstance.ExistsForDate(ctx, tmpl.TemplateID, day)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	inst := &model.PlanInstance{
		TemplateID: tmpl.TemplateID,
		ChildID:    tmpl.ChildID,
		PlanDate:   day,
		Status:     model.StatusPending,
	}
	if err := repo.PlanInstance.Create(ctx, inst); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

package service

import (
	"time"

	"go.uber.org/zap"

	"bonfire/backend/internal/model"
)

// 当日生命周期的纯函数部分：合格集筛选、聚合计算、粗粒度分类。
// 全部只依赖入参，不触碰存储，便于用假时钟穷举分支。

// resolvedInstance 实例加上按当日展开的具体窗口
type resolvedInstance struct {
	inst  *model.PlanInstance
	start time.Time
	end   time.Time
}

// overview 当日聚合结果
type overview struct {
	todo        *resolvedInstance // 当前待办；nil 表示无
	order       int               // 待办在合格集中的 1-based 位次（含 SKIPPED），无待办为 0
	total       int               // 合格集中非 SKIPPED 的数量
	earned      int               // 合格集中 VERIFIED / COMPLETED 的数量
	isSkippable bool              // 待办之后是否还存在可操作实例
}

// earliestIgniteAt 当日全部实例中最早的点火时刻
// 合格集筛选以此为"当日已封账"的判定基准
func earliestIgniteAt(insts []model.PlanInstance) *time.Time {
	var earliest *time.Time
	for i := range insts {
		at := insts[i].IgniteClaimedAt
		if at == nil {
			continue
		}
		if earliest == nil || at.Before(*earliest) {
			earliest = at
		}
	}
	return earliest
}

// isEligible 实例是否计入当日
//
// 排除两类"迟到"的模板（仅针对当天创建的模板）：
//  1. 模板创建时其当日窗口已经开始 —— 该档期实际上在模板存在前就过去了；
//  2. 模板创建时当日已点火 —— 当日总账已锁定，后来者不计入。
func isEligible(inst *model.PlanInstance, loc *time.Location, igniteAt *time.Time, logger *zap.Logger) bool {
	tmpl := inst.Template
	if tmpl == nil {
		logger.Warn("实例缺少模板关联，剔除出合格集",
			zap.String("instance_id", inst.InstanceID),
			zap.String("template_id", inst.TemplateID),
		)
		return false
	}

	created := tmpl.CreatedAt.In(loc)
	planDay := inst.PlanDate.In(loc)
	if created.Year() != planDay.Year() || created.YearDay() != planDay.YearDay() {
		// 早于当天创建的模板始终合格
		return true
	}

	start, _, err := tmpl.WindowOn(inst.PlanDate, loc)
	if err != nil {
		logger.Warn("模板时间窗口无法解析，剔除出合格集",
			zap.String("template_id", tmpl.TemplateID),
			zap.Error(err),
		)
		return false
	}
	if created.After(start) {
		return false
	}
	if igniteAt != nil && created.After(*igniteAt) {
		return false
	}
	return true
}

// resolveWindows 为合格实例展开当日窗口，保持传入顺序
func resolveWindows(insts []*model.PlanInstance, loc *time.Location, logger *zap.Logger) []resolvedInstance {
	resolved := make([]resolvedInstance, 0, len(insts))
	for _, inst := range insts {
		start, end, err := inst.Template.WindowOn(inst.PlanDate, loc)
		if err != nil {
			logger.Warn("模板时间窗口无法解析，跳过该实例",
				zap.String("template_id", inst.TemplateID),
				zap.Error(err),
			)
			continue
		}
		resolved = append(resolved, resolvedInstance{inst: inst, start: start, end: end})
	}
	return resolved
}

// computeOverview 在已完成时间驱动迁移的合格集上计算当日聚合
func computeOverview(eligible []resolvedInstance) overview {
	var o overview

	for i := range eligible {
		ri := &eligible[i]
		status := ri.inst.Status

		if status != model.StatusSkipped {
			o.total++
		}
		if status == model.StatusVerified || status == model.StatusCompleted {
			o.earned++
		}

		if status.Actionable() {
			if o.todo == nil {
				o.todo = ri
				o.order = i + 1
			} else {
				o.isSkippable = true
			}
		}
	}

	return o
}

// classifyCoarse 粗粒度状态分类（按优先级顺序判定）
func classifyCoarse(o overview, igniteAt *time.Time, now time.Time) model.CoarseStatus {
	if o.total == 0 && o.todo == nil {
		return model.CoarseNoPlan
	}

	if o.todo != nil {
		switch {
		case o.order == 1:
			return model.CoarseFirstPlan
		case now.Before(o.todo.start) && o.todo.inst.Status == model.StatusPending:
			return model.CoarseNextPlan
		case !now.Before(o.todo.start) && now.Before(o.todo.end):
			return model.CoarseNowPlan
		}
		return model.CoarseNextPlan
	}

	// 无待办且 total > 0：当日全部尘埃落定
	if igniteAt != nil {
		return model.CoarseFireLit
	}
	return model.CoarseFireNotLit
}

// allSettled 非 SKIPPED 的合格实例是否全部拿到成果（点火奖励判定）
func allSettled(eligible []resolvedInstance) bool {
	for i := range eligible {
		switch eligible[i].inst.Status {
		case model.StatusSkipped, model.StatusVerified, model.StatusCompleted:
			continue
		default:
			return false
		}
	}
	return true
}

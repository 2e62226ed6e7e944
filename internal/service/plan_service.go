package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bonfire/backend/internal/dto"
	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
	pkgerrors "bonfire/backend/pkg/errors"
)

// ── 日程模块业务错误 ──

var (
	ErrChildNotFound      = errors.New("孩子不存在")
	ErrNotOwner           = errors.New("无权操作该孩子的日程")
	ErrInstanceNotFound   = errors.New("日程实例不存在")
	ErrWrongChild         = errors.New("日程实例不属于该孩子")
	ErrRecurrenceConflict = errors.New("周期标志与星期/日期字段不一致")
	ErrWeekdayInvalid     = errors.New("无法识别的星期")
	ErrWindowInvalid      = errors.New("无效的时间窗口")
	ErrDateInvalid        = errors.New("无效的日期")
	ErrRangeInvalid       = errors.New("无效的日期区间")
	ErrAlreadyCompleted   = errors.New("日程已结束，不可再操作")
	ErrNotSkippable       = errors.New("当前日程不可跳过")
)

// PlanService 日程业务接口
type PlanService interface {
	// 创建日程模板（周期 或 单次）
	CreatePlan(ctx context.Context, req *dto.CreatePlanRequest, callerID string) (*dto.CreatePlanResponse, error)
	// 获取日程列表（周期模板 + 区间内实例）
	GetPlans(ctx context.Context, callerID, childID string, from, to time.Time) (*dto.PlanListResponse, error)
	// 建议的下一个模板颜色（纯轮换，仅供前端参考）
	GetDefaultColor(ctx context.Context, callerID, childID string) (*dto.DefaultColorResponse, error)
	// 今日日程概览（读取会触发生成与窗口结束迁移）
	GetTodayPlan(ctx context.Context, callerID, childID string) (*dto.TodayPlanResponse, error)
	// 提交完成凭证
	VerifyNowPlan(ctx context.Context, callerID, childID, instanceID, proofURL string) error
	// 跳过当前日程
	SkipNowPlan(ctx context.Context, callerID, childID, instanceID string) error
	// 夜间批量生成今日实例，返回新建数量
	GenerateDailyInstances(ctx context.Context) (int, error)
}

type planService struct {
	repo   *repository.Repository
	guard  IgniteGuard
	clock  clockwork.Clock
	loc    *time.Location
	logger *zap.Logger
}

// NewPlanService 创建 PlanService 实例
func NewPlanService(repo *repository.Repository, guard IgniteGuard, clock clockwork.Clock, loc *time.Location, logger *zap.Logger) PlanService {
	return &planService{repo: repo, guard: guard, clock: clock, loc: loc, logger: logger}
}

// authorizeChild 归属校验：监护人或孩子本人
func (s *planService) authorizeChild(ctx context.Context, callerID, childID string) (*model.Child, error) {
	child, err := s.repo.Child.GetByID(ctx, childID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChildNotFound
		}
		s.logger.Error("查询孩子失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}
	if !child.OwnedBy(callerID) {
		return nil, ErrNotOwner
	}
	return child, nil
}

// ════════════════════════════════════════════════════════════
// CreatePlan — 创建日程模板
// ════════════════════════════════════════════════════════════

func (s *planService) CreatePlan(ctx context.Context, req *dto.CreatePlanRequest, callerID string) (*dto.CreatePlanResponse, error) {
	if _, err := s.authorizeChild(ctx, callerID, req.ChildID); err != nil {
		return nil, err
	}

	// ── 校验：全部通过前不落任何行 ──

	if _, err := time.Parse("15:04", req.StartTime); err != nil {
		return nil, ErrWindowInvalid
	}
	if _, err := time.Parse("15:04", req.EndTime); err != nil {
		return nil, ErrWindowInvalid
	}
	// "HH:MM" 零填充后字典序即时间序；不支持跨日窗口
	if req.StartTime >= req.EndTime {
		return nil, ErrWindowInvalid
	}

	var weekdays []model.PlanWeekday
	var planDate *time.Time

	if req.Recurring {
		if req.Weekdays == "" || req.PlanDate != "" {
			return nil, ErrRecurrenceConflict
		}
		parsed, err := parseWeekdays(req.Weekdays)
		if err != nil {
			return nil, err
		}
		weekdays = parsed
	} else {
		if req.PlanDate == "" || req.Weekdays != "" {
			return nil, ErrRecurrenceConflict
		}
		d, err := time.ParseInLocation("2006-01-02", req.PlanDate, s.loc)
		if err != nil {
			return nil, ErrDateInvalid
		}
		planDate = &d
	}

	// ── 持久化：模板与星期链接在关联写入中一并落库 ──

	tmpl := &model.PlanTemplate{
		GuardianID: callerID,
		ChildID:    req.ChildID,
		Name:       req.Name,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		ColorTag:   req.ColorTag,
		Recurring:  req.Recurring,
		PlanDate:   planDate,
		Weekdays:   weekdays,
	}
	if err := s.repo.PlanTemplate.Create(ctx, tmpl); err != nil {
		s.logger.Error("创建日程模板失败", zap.Error(err))
		return nil, err
	}

	// 单次模板不走夜间周期，创建时立即物化实例
	if planDate != nil {
		if _, err := materialize(ctx, s.repo, tmpl, *planDate); err != nil {
			s.logger.Error("物化单次日程实例失败",
				zap.String("template_id", tmpl.TemplateID),
				zap.Error(err),
			)
			return nil, err
		}
	}

	return &dto.CreatePlanResponse{TemplateID: tmpl.TemplateID}, nil
}

// parseWeekdays 解析逗号分隔的星期 token，任一无法识别则整体失败
func parseWeekdays(raw string) ([]model.PlanWeekday, error) {
	seen := make(map[time.Weekday]bool)
	var result []model.PlanWeekday
	for _, token := range strings.Split(raw, ",") {
		wd, err := model.ParseWeekdayToken(strings.TrimSpace(token))
		if err != nil {
			return nil, ErrWeekdayInvalid
		}
		if seen[wd] {
			continue
		}
		seen[wd] = true
		result = append(result, model.PlanWeekday{Weekday: int(wd)})
	}
	if len(result) == 0 {
		return nil, ErrWeekdayInvalid
	}
	return result, nil
}

// ════════════════════════════════════════════════════════════
// GetPlans — 日程列表
// ════════════════════════════════════════════════════════════

func (s *planService) GetPlans(ctx context.Context, callerID, childID string, from, to time.Time) (*dto.PlanListResponse, error) {
	if _, err := s.authorizeChild(ctx, callerID, childID); err != nil {
		return nil, err
	}

	now := s.clock.Now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	if from.IsZero() {
		from = today
	}
	if to.IsZero() {
		to = from
	}
	if to.Before(from) {
		return nil, ErrRangeInvalid
	}

	tmpls, err := s.repo.PlanTemplate.ListByChild(ctx, childID)
	if err != nil {
		s.logger.Error("查询日程模板失败", zap.Error(err))
		return nil, err
	}

	insts, err := s.repo.PlanInstance.ListByChildAndRange(ctx, childID, from, to)
	if err != nil {
		s.logger.Error("查询日程实例失败", zap.Error(err))
		return nil, err
	}

	resp := &dto.PlanListResponse{
		Recurring: make([]dto.PlanTemplateResponse, 0),
		Instances: make([]dto.PlanInstanceResponse, 0, len(insts)),
	}
	for i := range tmpls {
		if tmpls[i].Recurring {
			resp.Recurring = append(resp.Recurring, toTemplateResponse(&tmpls[i]))
		}
	}
	for i := range insts {
		resp.Instances = append(resp.Instances, toInstanceResponse(&insts[i]))
	}

	resp.TodayIgnited, err = s.todayIgnited(ctx, childID, today)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// todayIgnited 今日是否已点火：实例戳为准，空日程日回退到 Redis 日标记
func (s *planService) todayIgnited(ctx context.Context, childID string, today time.Time) (bool, error) {
	insts, err := s.repo.PlanInstance.ListByChildAndDate(ctx, childID, today)
	if err != nil {
		s.logger.Error("查询当日实例失败", zap.Error(err))
		return false, err
	}
	if earliestIgniteAt(insts) != nil {
		return true, nil
	}
	if s.guard == nil {
		return false, nil
	}
	ignited, err := s.guard.WasDayIgnited(ctx, childID, today.Format("2006-01-02"))
	if err != nil {
		// Redis 不可用时降级为未点火，不阻塞列表读取
		s.logger.Warn("查询点火日标记失败", zap.Error(err))
		return false, nil
	}
	return ignited, nil
}

// ════════════════════════════════════════════════════════════
// GetDefaultColor — 默认颜色轮换
// ════════════════════════════════════════════════════════════

func (s *planService) GetDefaultColor(ctx context.Context, callerID, childID string) (*dto.DefaultColorResponse, error) {
	if _, err := s.authorizeChild(ctx, callerID, childID); err != nil {
		return nil, err
	}

	latest, err := s.repo.PlanTemplate.LatestByChild(ctx, childID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &dto.DefaultColorResponse{ColorTag: model.ColorRotation[0]}, nil
		}
		s.logger.Error("查询最近模板失败", zap.Error(err))
		return nil, err
	}

	return &dto.DefaultColorResponse{ColorTag: model.NextColor(latest.ColorTag)}, nil
}

// ════════════════════════════════════════════════════════════
// GetTodayPlan — 今日日程概览
// ════════════════════════════════════════════════════════════

func (s *planService) GetTodayPlan(ctx context.Context, callerID, childID string) (*dto.TodayPlanResponse, error) {
	if _, err := s.authorizeChild(ctx, callerID, childID); err != nil {
		return nil, err
	}

	st, err := resolveToday(ctx, s.repo, s.clock, s.loc, s.logger, childID)
	if err != nil {
		return nil, err
	}

	o := computeOverview(st.eligible)

	// 待办首次露出时分配奖励标签，之后不再改写
	if o.todo != nil && o.todo.inst.RewardTag == nil {
		tag := model.RewardTagForOrder(o.order)
		if err := s.repo.PlanInstance.AssignRewardTag(ctx, o.todo.inst.InstanceID, tag); err != nil {
			s.logger.Error("分配奖励标签失败",
				zap.String("instance_id", o.todo.inst.InstanceID),
				zap.Error(err),
			)
			return nil, err
		}
		o.todo.inst.RewardTag = &tag
	}

	resp := &dto.TodayPlanResponse{
		Order:        o.order,
		Total:        o.total,
		Earned:       o.earned,
		CoarseStatus: string(classifyCoarse(o, st.igniteAt, st.now)),
		IsSkippable:  o.isSkippable,
	}
	if o.todo != nil {
		resp.InstanceID = o.todo.inst.InstanceID
		resp.IsAwaitingConfirm = o.todo.inst.Status == model.StatusVerified
		if o.todo.inst.RewardTag != nil {
			resp.RewardTag = string(*o.todo.inst.RewardTag)
		}
	}
	return resp, nil
}

// ════════════════════════════════════════════════════════════
// VerifyNowPlan — 提交完成凭证
// ════════════════════════════════════════════════════════════

func (s *planService) VerifyNowPlan(ctx context.Context, callerID, childID, instanceID, proofURL string) error {
	if _, err := s.authorizeChild(ctx, callerID, childID); err != nil {
		return err
	}

	inst, err := s.getInstance(ctx, childID, instanceID)
	if err != nil {
		return err
	}

	if inst.Status != model.StatusPending {
		// VERIFIED 重复提交与各终态统一视为冲突，幂等重试不破坏数据
		return ErrAlreadyCompleted
	}

	now := s.clock.Now().In(s.loc)
	_, end, err := inst.Template.WindowOn(inst.PlanDate, s.loc)
	if err != nil {
		s.logger.Error("解析日程窗口失败", zap.String("instance_id", instanceID), zap.Error(err))
		return err
	}

	// 窗口已结束：先落 FAILED 再报冲突，保证单调性
	if !now.Before(end) {
		err := s.repo.PlanInstance.TransitionStatus(ctx, instanceID, model.StatusPending, model.StatusFailed)
		if err != nil && !errors.Is(err, pkgerrors.ErrStateConflict) {
			s.logger.Error("窗口结束迁移失败", zap.String("instance_id", instanceID), zap.Error(err))
			return err
		}
		return ErrAlreadyCompleted
	}

	if err := s.repo.PlanInstance.MarkVerified(ctx, instanceID, proofURL); err != nil {
		if errors.Is(err, pkgerrors.ErrStateConflict) {
			return ErrAlreadyCompleted
		}
		s.logger.Error("提交凭证失败", zap.String("instance_id", instanceID), zap.Error(err))
		return err
	}
	return nil
}

// ════════════════════════════════════════════════════════════
// SkipNowPlan — 跳过当前日程
// ════════════════════════════════════════════════════════════
//
// 仅当该实例之后当天还有可操作实例时允许跳过。
// PENDING 被丢弃（SKIPPED），VERIFIED 被完结（COMPLETED）。

func (s *planService) SkipNowPlan(ctx context.Context, callerID, childID, instanceID string) error {
	if _, err := s.authorizeChild(ctx, callerID, childID); err != nil {
		return err
	}

	if _, err := s.getInstance(ctx, childID, instanceID); err != nil {
		return err
	}

	// 基于迁移后的今日合格集判定可跳过性
	st, err := resolveToday(ctx, s.repo, s.clock, s.loc, s.logger, childID)
	if err != nil {
		return err
	}

	idx := -1
	for i := range st.eligible {
		if st.eligible[i].inst.InstanceID == instanceID {
			idx = i
			break
		}
	}
	if idx == -1 {
		// 不在今日合格集内（非当日或已被排除）
		return ErrNotSkippable
	}

	target := st.eligible[idx].inst
	if !target.Status.Actionable() {
		return ErrAlreadyCompleted
	}

	laterActionable := false
	for i := idx + 1; i < len(st.eligible); i++ {
		if st.eligible[i].inst.Status.Actionable() {
			laterActionable = true
			break
		}
	}
	if !laterActionable {
		return ErrNotSkippable
	}

	to := model.StatusSkipped
	if target.Status == model.StatusVerified {
		to = model.StatusCompleted
	}
	if err := s.repo.PlanInstance.TransitionStatus(ctx, instanceID, target.Status, to); err != nil {
		if errors.Is(err, pkgerrors.ErrStateConflict) {
			return ErrAlreadyCompleted
		}
		s.logger.Error("跳过日程失败", zap.String("instance_id", instanceID), zap.Error(err))
		return err
	}
	return nil
}

// getInstance 读取实例并校验归属
func (s *planService) getInstance(ctx context.Context, childID, instanceID string) (*model.PlanInstance, error) {
	inst, err := s.repo.PlanInstance.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstanceNotFound
		}
		s.logger.Error("查询日程实例失败", zap.String("instance_id", instanceID), zap.Error(err))
		return nil, err
	}
	if inst.ChildID != childID {
		return nil, ErrWrongChild
	}
	return inst, nil
}

// ════════════════════════════════════════════════════════════
// GenerateDailyInstances — 夜间批量生成
// ════════════════════════════════════════════════════════════

func (s *planService) GenerateDailyInstances(ctx context.Context) (int, error) {
	now := s.clock.Now().In(s.loc)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	tmpls, err := s.repo.PlanTemplate.ListRecurringByWeekday(ctx, day.Weekday())
	if err != nil {
		s.logger.Error("查询当日周期模板失败", zap.Error(err))
		return 0, err
	}

	created := 0
	for i := range tmpls {
		ok, err := materialize(ctx, s.repo, &tmpls[i], day)
		if err != nil {
			// 单模板失败不拖垮整轮，下一轮自愈
			s.logger.Error("生成日程实例失败", zap.String("template_id", tmpls[i].TemplateID), zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}

	s.logger.Info("每日实例生成完成",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("templates", len(tmpls)),
		zap.Int("created", created),
	)
	return created, nil
}

// ── 响应构建 ──

var weekdayLabels = map[int]string{
	0: "SUN", 1: "MON", 2: "TUE", 3: "WED", 4: "THU", 5: "FRI", 6: "SAT",
}

func toTemplateResponse(tmpl *model.PlanTemplate) dto.PlanTemplateResponse {
	resp := dto.PlanTemplateResponse{
		TemplateID: tmpl.TemplateID,
		Name:       tmpl.Name,
		StartTime:  tmpl.StartTime,
		EndTime:    tmpl.EndTime,
		ColorTag:   tmpl.ColorTag,
		Recurring:  tmpl.Recurring,
		CreatedAt:  tmpl.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if tmpl.PlanDate != nil {
		resp.PlanDate = tmpl.PlanDate.Format("2006-01-02")
	}
	if len(tmpl.Weekdays) > 0 {
		days := make([]int, 0, len(tmpl.Weekdays))
		for _, w := range tmpl.Weekdays {
			days = append(days, w.Weekday)
		}
		sort.Ints(days)
		for _, d := range days {
			resp.Weekdays = append(resp.Weekdays, weekdayLabels[d])
		}
	}
	return resp
}

func toInstanceResponse(inst *model.PlanInstance) dto.PlanInstanceResponse {
	resp := dto.PlanInstanceResponse{
		InstanceID: inst.InstanceID,
		TemplateID: inst.TemplateID,
		PlanDate:   inst.PlanDate.Format("2006-01-02"),
		Status:     string(inst.Status),
	}
	if inst.Template != nil {
		resp.Name = inst.Template.Name
		resp.StartTime = inst.Template.StartTime
		resp.EndTime = inst.Template.EndTime
		resp.ColorTag = inst.Template.ColorTag
	}
	if inst.ProofURL != nil {
		resp.ProofURL = *inst.ProofURL
	}
	if inst.RewardTag != nil {
		resp.RewardTag = string(*inst.RewardTag)
	}
	return resp
}

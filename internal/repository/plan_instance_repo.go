package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bonfire/backend/internal/model"
	pkgerrors "bonfire/backend/pkg/errors"
)

// PlanInstanceRepository 日程实例数据访问接口
//
// 状态写入全部采用条件更新：WHERE 限定当前状态，命中 0 行返回
// pkgerrors.ErrStateConflict。状态机单向推进，因此并发下丢失的
// 更新等价于对方已完成同一迁移，无需重试。
type PlanInstanceRepository interface {
	// Create 插入实例；(template_id, plan_date) 唯一键冲突返回 gorm.ErrDuplicatedKey
	Create(ctx context.Context, inst *model.PlanInstance) error
	ExistsForDate(ctx context.Context, templateID string, date time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*model.PlanInstance, error)
	// ListByChildAndDate 按模板窗口起点稳定排序的当日实例
	ListByChildAndDate(ctx context.Context, childID string, date time.Time) ([]model.PlanInstance, error)
	ListByChildAndRange(ctx context.Context, childID string, from, to time.Time) ([]model.PlanInstance, error)
	// TransitionStatus 条件状态迁移 from → to
	TransitionStatus(ctx context.Context, id string, from, to model.PlanStatus) error
	// MarkVerified PENDING → VERIFIED 并记录凭证
	MarkVerified(ctx context.Context, id string, proofURL string) error
	// AssignRewardTag 一次性写入奖励标签；已有标签时静默跳过
	AssignRewardTag(ctx context.Context, id string, tag model.RewardTag) error
	// StampIgnite 为一组实例盖点火戳；已盖戳的行不会被覆盖
	StampIgnite(ctx context.Context, ids []string, at time.Time) error
}

type planInstanceRepo struct {
	db *gorm.DB
}

func NewPlanInstanceRepo(db *gorm.DB) PlanInstanceRepository {
	return &planInstanceRepo{db: db}
}

func (r *planInstanceRepo) Create(ctx context.Context, inst *model.PlanInstance) error {
	return r.db.WithContext(ctx).Create(inst).Error
}

func (r *planInstanceRepo) ExistsForDate(ctx context.Context, templateID string, date time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.PlanInstance{}).
		Where("template_id = ? AND plan_date = ?", templateID, date.Format("2006-01-02")).
		Count(&count).Error
	return count > 0, err
}

func (r *planInstanceRepo) GetByID(ctx context.Context, id string) (*model.PlanInstance, error) {
	var inst model.PlanInstance
	err := r.db.WithContext(ctx).
		Preload("Template").
		Preload("Template.Weekdays").
		Where("instance_id = ?", id).
		First(&inst).Error
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *planInstanceRepo) ListByChildAndDate(ctx context.Context, childID string, date time.Time) ([]model.PlanInstance, error) {
	var insts []model.PlanInstance
	err := r.db.WithContext(ctx).
		Preload("Template").
		Joins("JOIN plan_templates pt ON pt.template_id = plan_instances.template_id").
		Where("plan_instances.child_id = ? AND plan_instances.plan_date = ?", childID, date.Format("2006-01-02")).
		Order("pt.start_time ASC, pt.created_at ASC, plan_instances.instance_id ASC").
		Find(&insts).Error
	return insts, err
}

func (r *planInstanceRepo) ListByChildAndRange(ctx context.Context, childID string, from, to time.Time) ([]model.PlanInstance, error) {
	var insts []model.PlanInstance
	err := r.db.WithContext(ctx).
		Preload("Template").
		Joins("JOIN plan_templates pt ON pt.template_id = plan_instances.template_id").
		Where("plan_instances.child_id = ? AND plan_instances.plan_date BETWEEN ? AND ?",
			childID, from.Format("2006-01-02"), to.Format("2006-01-02")).
		Order("plan_instances.plan_date ASC, pt.start_time ASC, pt.created_at ASC").
		Find(&insts).Error
	return insts, err
}

func (r *planInstanceRepo) TransitionStatus(ctx context.Context, id string, from, to model.PlanStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.PlanInstance{}).
		Where("instance_id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrStateConflict
	}
	return nil
}

func (r *planInstanceRepo) MarkVerified(ctx context.Context, id string, proofURL string) error {
	result := r.db.WithContext(ctx).
		Model(&model.PlanInstance{}).
		Where("instance_id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]interface{}{
			"status":     model.StatusVerified,
			"proof_url":  proofURL,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrStateConflict
	}
	return nil
}

func (r *planInstanceRepo) AssignRewardTag(ctx context.Context, id string, tag model.RewardTag) error {
	// 已有标签时命中 0 行：标签只分配一次，竞争方先写入即生效
	return r.db.WithContext(ctx).
		Model(&model.PlanInstance{}).
		Where("instance_id = ? AND reward_tag IS NULL", id).
		Update("reward_tag", tag).Error
}

func (r *planInstanceRepo) StampIgnite(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.PlanInstance{}).
		Where("instance_id IN ? AND ignite_claimed_at IS NULL", ids).
		Updates(map[string]interface{}{
			"ignite_claimed_at": at,
			"updated_at":        at,
		}).Error
}

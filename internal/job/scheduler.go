package job

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"bonfire/backend/internal/service"
)

// Scheduler 夜间定时任务：每天零点后批量生成当日实例
// 读路径有惰性生成兜底，这里挂掉一轮不影响正确性
type Scheduler struct {
	cron   *cron.Cron
	plans  service.PlanService
	logger *zap.Logger
}

// NewScheduler 创建 Scheduler
func NewScheduler(plans service.PlanService, loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		plans:  plans,
		logger: logger,
	}
}

// Start 注册任务并启动调度器
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		created, err := s.plans.GenerateDailyInstances(ctx)
		if err != nil {
			s.logger.Error("夜间实例生成失败", zap.Error(err))
			return
		}
		s.logger.Info("夜间实例生成完成", zap.Int("created", created))
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("定时任务已启动", zap.String("spec", spec))
	return nil
}

// Stop 停止调度器并等待在跑的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

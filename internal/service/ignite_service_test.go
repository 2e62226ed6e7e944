package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
)

func newTestIgniteService(clock clockwork.Clock) (IgniteService, *repository.Repository, *mockIgniteGuard, *mockEventPublisher) {
	repo, children, _, _ := newMockRepository()
	guard := newMockIgniteGuard()
	publisher := &mockEventPublisher{}
	_ = children.Create(context.Background(), &model.Child{
		ChildID:    "child-1",
		GuardianID: "guardian-1",
		Name:       "小明",
	})
	wallet := NewWalletService(repo, zap.NewNop())
	svc := NewIgniteService(repo, guard, publisher, wallet, 100, 5*time.Second, clock, time.UTC, zap.NewNop())
	return svc, repo, guard, publisher
}

func setRewardTag(t *testing.T, repo *repository.Repository, instanceID string, tag model.RewardTag) {
	t.Helper()
	if err := repo.PlanInstance.AssignRewardTag(context.Background(), instanceID, tag); err != nil {
		t.Fatalf("分配奖励标签失败: %v", err)
	}
}

func TestIgniteAllSettledPaysBonus(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, _, publisher := newTestIgniteService(clock)
	ctx := context.Background()

	seedTemplate(t, repo, "tmpl-a", "07:00", "07:30", time.Monday)
	seedTemplate(t, repo, "tmpl-b", "08:30", "09:30", time.Monday)
	seedInstance(t, repo, "inst-a", "tmpl-a", model.StatusCompleted)
	seedInstance(t, repo, "inst-b", "tmpl-b", model.StatusVerified)
	setRewardTag(t, repo, "inst-a", model.RewardTwig)
	setRewardTag(t, repo, "inst-b", model.RewardBranch)

	resp, err := svc.Ignite(ctx, "child-1", "child-1")
	if err != nil {
		t.Fatalf("Ignite() error = %v", err)
	}

	if resp.Bonus != 100 {
		t.Errorf("Bonus = %d, want 100", resp.Bonus)
	}
	if len(resp.RewardTags) != 2 {
		t.Errorf("RewardTags 数量 = %d, want 2", len(resp.RewardTags))
	}

	child, _ := repo.Child.GetByID(ctx, "child-1")
	if child.Balance != 100 {
		t.Errorf("余额 = %d, want 100", child.Balance)
	}

	// 两个实例都被盖戳
	for _, id := range []string{"inst-a", "inst-b"} {
		inst, _ := repo.PlanInstance.GetByID(ctx, id)
		if inst.IgniteClaimedAt == nil {
			t.Errorf("%s 未盖点火戳", id)
		}
	}

	if len(publisher.events) != 1 {
		t.Fatalf("事件数量 = %d, want 1", len(publisher.events))
	}
	if publisher.events[0].ChildID != "child-1" || publisher.events[0].Bonus != 100 {
		t.Errorf("事件内容异常: %+v", publisher.events[0])
	}
}

func TestIgniteWithFailureGivesNoBonus(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, _, publisher := newTestIgniteService(clock)
	ctx := context.Background()

	// 窗口已过的 PENDING 会在点火内被推进到 FAILED
	seedTemplate(t, repo, "tmpl-a", "07:00", "07:30", time.Monday)
	seedInstance(t, repo, "inst-a", "tmpl-a", model.StatusPending)

	resp, err := svc.Ignite(ctx, "child-1", "child-1")
	if err != nil {
		t.Fatalf("Ignite() error = %v", err)
	}

	if resp.Bonus != 0 {
		t.Errorf("Bonus = %d, want 0", resp.Bonus)
	}
	child, _ := repo.Child.GetByID(ctx, "child-1")
	if child.Balance != 0 {
		t.Errorf("余额 = %d, want 0", child.Balance)
	}

	// 没拿到奖励也盖戳、也发事件：当日总账照样锁定
	inst, _ := repo.PlanInstance.GetByID(ctx, "inst-a")
	if inst.IgniteClaimedAt == nil {
		t.Error("未得奖的点火也必须盖戳")
	}
	if len(publisher.events) != 1 || publisher.events[0].Bonus != 0 {
		t.Errorf("事件数量/内容异常: %+v", publisher.events)
	}
}

func TestIgniteTwiceRejected(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, _, _ := newTestIgniteService(clock)
	ctx := context.Background()

	seedTemplate(t, repo, "tmpl-a", "07:00", "07:30", time.Monday)
	seedInstance(t, repo, "inst-a", "tmpl-a", model.StatusCompleted)

	if _, err := svc.Ignite(ctx, "child-1", "child-1"); err != nil {
		t.Fatalf("首次 Ignite() error = %v", err)
	}

	_, err := svc.Ignite(ctx, "child-1", "child-1")
	if !errors.Is(err, ErrAlreadyIgnited) {
		t.Errorf("二次点火 error = %v, want %v", err, ErrAlreadyIgnited)
	}
}

func TestIgniteEmptyDay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, guard, _ := newTestIgniteService(clock)
	ctx := context.Background()

	// 空日程日：合格集为空即全勤，照常得奖
	resp, err := svc.Ignite(ctx, "guardian-1", "child-1")
	if err != nil {
		t.Fatalf("Ignite() error = %v", err)
	}
	if resp.Bonus != 100 {
		t.Errorf("Bonus = %d, want 100", resp.Bonus)
	}
	if len(resp.RewardTags) != 0 {
		t.Errorf("RewardTags = %v, want 空", resp.RewardTags)
	}
	child, _ := repo.Child.GetByID(ctx, "child-1")
	if child.Balance != 100 {
		t.Errorf("余额 = %d, want 100", child.Balance)
	}

	// 没有实例可盖戳，重入只能靠日标记拦住
	if !guard.markers["child-1:2025-06-02"] {
		t.Error("空日程日点火后应写入日标记")
	}
	_, err = svc.Ignite(ctx, "guardian-1", "child-1")
	if !errors.Is(err, ErrAlreadyIgnited) {
		t.Errorf("空日程日二次点火 error = %v, want %v", err, ErrAlreadyIgnited)
	}
}

func TestIgniteLockContention(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, _, guard, publisher := newTestIgniteService(clock)
	ctx := context.Background()

	guard.busy = true
	_, err := svc.Ignite(ctx, "child-1", "child-1")
	if !errors.Is(err, ErrIgniteBusy) {
		t.Errorf("持锁冲突 error = %v, want %v", err, ErrIgniteBusy)
	}
	if len(publisher.events) != 0 {
		t.Error("拿不到锁不应发布事件")
	}
}

func TestIgniteAuthorization(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, _, _, _ := newTestIgniteService(clock)
	ctx := context.Background()

	if _, err := svc.Ignite(ctx, "stranger", "child-1"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("error = %v, want %v", err, ErrNotOwner)
	}
	if _, err := svc.Ignite(ctx, "guardian-1", "nobody"); !errors.Is(err, ErrChildNotFound) {
		t.Errorf("error = %v, want %v", err, ErrChildNotFound)
	}
}

// 点火之后才创建的当天模板不得加入已锁定的总账
func TestIgniteLocksOutLateTemplates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, _, _ := newTestIgniteService(clock)
	planSvc := NewPlanService(repo, nil, clock, time.UTC, zap.NewNop())
	ctx := context.Background()

	seedTemplate(t, repo, "tmpl-a", "07:00", "07:30", time.Monday)
	seedInstance(t, repo, "inst-a", "tmpl-a", model.StatusCompleted)

	if _, err := svc.Ignite(ctx, "child-1", "child-1"); err != nil {
		t.Fatalf("Ignite() error = %v", err)
	}

	// 点火后再建一个当天生效的周期模板
	late := &model.PlanTemplate{
		TemplateID: "tmpl-late",
		GuardianID: "guardian-1",
		ChildID:    "child-1",
		Name:       "事后补的日程",
		StartTime:  "20:00",
		EndTime:    "21:00",
		ColorTag:   "BLUE",
		Recurring:  true,
		Weekdays:   []model.PlanWeekday{{Weekday: int(time.Monday)}},
		CreatedAt:  testNow.Add(time.Minute),
	}
	if err := repo.PlanTemplate.Create(ctx, late); err != nil {
		t.Fatalf("创建模板失败: %v", err)
	}

	resp, err := planSvc.GetTodayPlan(ctx, "guardian-1", "child-1")
	if err != nil {
		t.Fatalf("GetTodayPlan() error = %v", err)
	}
	if resp.CoarseStatus != string(model.CoarseFireLit) {
		t.Errorf("CoarseStatus = %s, want %s", resp.CoarseStatus, model.CoarseFireLit)
	}
	if resp.InstanceID != "" {
		t.Error("点火后创建的模板不应产生新的待办")
	}
}

func TestIgniteConcurrentCallsSingleWinner(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	svc, repo, _, publisher := newTestIgniteService(clock)
	ctx := context.Background()

	seedTemplate(t, repo, "tmpl-a", "07:00", "07:30", time.Monday)
	seedInstance(t, repo, "inst-a", "tmpl-a", model.StatusCompleted)

	// 同一孩子同一天的并发点火：恰好一个成功，其余报忙或已点火
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Ignite(ctx, "child-1", "child-1")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrIgniteBusy), errors.Is(err, ErrAlreadyIgnited):
		default:
			t.Fatalf("意外错误: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("成功次数 = %d, want 1", succeeded)
	}

	child, _ := repo.Child.GetByID(ctx, "child-1")
	if child.Balance != 100 {
		t.Errorf("余额 = %d, want 100（奖励只入账一次）", child.Balance)
	}
	if len(publisher.events) != 1 {
		t.Errorf("事件数量 = %d, want 1", len(publisher.events))
	}
}

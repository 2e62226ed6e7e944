package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"bonfire/backend/internal/model"
	"bonfire/backend/internal/repository"
	pkgerrors "bonfire/backend/pkg/errors"
	"bonfire/backend/pkg/redis"
)

// ── Mock ChildRepository ──
// 各 mock 仓库持有互斥锁：并发点火用例会从多个 goroutine 同时读写

type mockChildRepo struct {
	mu       sync.Mutex
	children map[string]*model.Child
}

func newMockChildRepo() *mockChildRepo {
	return &mockChildRepo{children: make(map[string]*model.Child)}
}

func (m *mockChildRepo) Create(_ context.Context, child *model.Child) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if child.ChildID == "" {
		child.ChildID = "child-" + child.Name
	}
	m.children[child.ChildID] = child
	return nil
}

func (m *mockChildRepo) GetByID(_ context.Context, id string) (*model.Child, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.children[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockChildRepo) Credit(_ context.Context, id string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.children[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	c.Balance += amount
	return nil
}

// ── Mock PlanTemplateRepository ──

type mockPlanTemplateRepo struct {
	mu        sync.Mutex
	templates map[string]*model.PlanTemplate
	seq       int
}

func newMockPlanTemplateRepo() *mockPlanTemplateRepo {
	return &mockPlanTemplateRepo{templates: make(map[string]*model.PlanTemplate)}
}

func (m *mockPlanTemplateRepo) Create(_ context.Context, tmpl *model.PlanTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if tmpl.TemplateID == "" {
		tmpl.TemplateID = fmt.Sprintf("tmpl-%03d", m.seq)
	}
	for i := range tmpl.Weekdays {
		tmpl.Weekdays[i].TemplateID = tmpl.TemplateID
	}
	m.templates[tmpl.TemplateID] = tmpl
	return nil
}

func (m *mockPlanTemplateRepo) GetByID(_ context.Context, id string) (*model.PlanTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.templates[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockPlanTemplateRepo) ListByChild(_ context.Context, childID string) ([]model.PlanTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PlanTemplate
	for _, t := range m.templates {
		if t.ChildID == childID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime != result[j].StartTime {
			return result[i].StartTime < result[j].StartTime
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *mockPlanTemplateRepo) LatestByChild(_ context.Context, childID string) (*model.PlanTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.PlanTemplate
	for _, t := range m.templates {
		if t.ChildID != childID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return latest, nil
}

func (m *mockPlanTemplateRepo) ListRecurringByWeekday(_ context.Context, weekday time.Weekday) ([]model.PlanTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PlanTemplate
	for _, t := range m.templates {
		if t.Recurring && t.RunsOn(weekday) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *mockPlanTemplateRepo) ListRecurringByChildAndWeekday(_ context.Context, childID string, weekday time.Weekday) ([]model.PlanTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PlanTemplate
	for _, t := range m.templates {
		if t.ChildID == childID && t.Recurring && t.RunsOn(weekday) {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ── Mock PlanInstanceRepository ──

// mockPlanInstanceRepo 持有模板仓库引用，读取时像 Preload 一样挂上 Template
type mockPlanInstanceRepo struct {
	mu        sync.Mutex
	instances map[string]*model.PlanInstance
	tmpls     *mockPlanTemplateRepo
	seq       int

	// beforeTransition 在 TransitionStatus 检查状态之前调用，
	// 测试用它在"读取"与"落库"之间插入一次并发改写
	beforeTransition func(id string)
}

func newMockPlanInstanceRepo(tmpls *mockPlanTemplateRepo) *mockPlanInstanceRepo {
	return &mockPlanInstanceRepo{
		instances: make(map[string]*model.PlanInstance),
		tmpls:     tmpls,
	}
}

func (m *mockPlanInstanceRepo) Create(_ context.Context, inst *model.PlanInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.instances {
		if other.TemplateID == inst.TemplateID && sameDay(other.PlanDate, inst.PlanDate) {
			return gorm.ErrDuplicatedKey
		}
	}
	m.seq++
	if inst.InstanceID == "" {
		inst.InstanceID = fmt.Sprintf("inst-%03d", m.seq)
	}
	m.instances[inst.InstanceID] = inst
	return nil
}

func (m *mockPlanInstanceRepo) ExistsForDate(_ context.Context, templateID string, date time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.TemplateID == templateID && sameDay(inst.PlanDate, date) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockPlanInstanceRepo) GetByID(_ context.Context, id string) (*model.PlanInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *inst
	copied.Template = m.tmpls.templates[inst.TemplateID]
	return &copied, nil
}

func (m *mockPlanInstanceRepo) ListByChildAndDate(_ context.Context, childID string, date time.Time) ([]model.PlanInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PlanInstance
	for _, inst := range m.instances {
		if inst.ChildID == childID && sameDay(inst.PlanDate, date) {
			copied := *inst
			copied.Template = m.tmpls.templates[inst.TemplateID]
			result = append(result, copied)
		}
	}
	m.sortLikeQuery(result)
	return result, nil
}

func (m *mockPlanInstanceRepo) ListByChildAndRange(_ context.Context, childID string, from, to time.Time) ([]model.PlanInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.PlanInstance
	for _, inst := range m.instances {
		day := inst.PlanDate.Format("2006-01-02")
		if inst.ChildID == childID && day >= from.Format("2006-01-02") && day <= to.Format("2006-01-02") {
			copied := *inst
			copied.Template = m.tmpls.templates[inst.TemplateID]
			result = append(result, copied)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !sameDay(result[i].PlanDate, result[j].PlanDate) {
			return result[i].PlanDate.Before(result[j].PlanDate)
		}
		return lessByTemplate(&result[i], &result[j])
	})
	return result, nil
}

// sortLikeQuery 复刻真实查询的排序：模板窗口起点、模板创建时间、实例 ID
func (m *mockPlanInstanceRepo) sortLikeQuery(insts []model.PlanInstance) {
	sort.Slice(insts, func(i, j int) bool {
		return lessByTemplate(&insts[i], &insts[j])
	})
}

func lessByTemplate(a, b *model.PlanInstance) bool {
	at, bt := a.Template, b.Template
	if at != nil && bt != nil {
		if at.StartTime != bt.StartTime {
			return at.StartTime < bt.StartTime
		}
		if !at.CreatedAt.Equal(bt.CreatedAt) {
			return at.CreatedAt.Before(bt.CreatedAt)
		}
	}
	return a.InstanceID < b.InstanceID
}

func (m *mockPlanInstanceRepo) TransitionStatus(_ context.Context, id string, from, to model.PlanStatus) error {
	if m.beforeTransition != nil {
		m.beforeTransition(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != from {
		return pkgerrors.ErrStateConflict
	}
	inst.Status = to
	return nil
}

func (m *mockPlanInstanceRepo) MarkVerified(_ context.Context, id string, proofURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != model.StatusPending {
		return pkgerrors.ErrStateConflict
	}
	inst.Status = model.StatusVerified
	inst.ProofURL = &proofURL
	return nil
}

func (m *mockPlanInstanceRepo) AssignRewardTag(_ context.Context, id string, tag model.RewardTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil
	}
	if inst.RewardTag == nil {
		inst.RewardTag = &tag
	}
	return nil
}

func (m *mockPlanInstanceRepo) StampIgnite(_ context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		inst, ok := m.instances[id]
		if !ok || inst.IgniteClaimedAt != nil {
			continue
		}
		stamped := at
		inst.IgniteClaimedAt = &stamped
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	return a.Format("2006-01-02") == b.Format("2006-01-02")
}

// ── Mock IgniteGuard ──

type mockIgniteGuard struct {
	mu         sync.Mutex
	locks      map[string]string // key: child:day → owner
	markers    map[string]bool
	acquireErr error
	busy       bool // 模拟他人持锁
}

func newMockIgniteGuard() *mockIgniteGuard {
	return &mockIgniteGuard{
		locks:   make(map[string]string),
		markers: make(map[string]bool),
	}
}

func (m *mockIgniteGuard) AcquireIgniteLock(_ context.Context, childID, day, owner string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return false, m.acquireErr
	}
	if m.busy {
		return false, nil
	}
	key := childID + ":" + day
	if _, held := m.locks[key]; held {
		return false, nil
	}
	m.locks[key] = owner
	return true, nil
}

func (m *mockIgniteGuard) ReleaseIgniteLock(_ context.Context, childID, day, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := childID + ":" + day
	if m.locks[key] == owner {
		delete(m.locks, key)
	}
	return nil
}

func (m *mockIgniteGuard) MarkDayIgnited(_ context.Context, childID, day string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[childID+":"+day] = true
	return nil
}

func (m *mockIgniteGuard) WasDayIgnited(_ context.Context, childID, day string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[childID+":"+day], nil
}

// ── Mock EventPublisher ──

type mockEventPublisher struct {
	mu     sync.Mutex
	events []redis.IgniteEvent
}

func (m *mockEventPublisher) PublishIgniteEvent(_ context.Context, evt redis.IgniteEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// ── 组装 ──

func newMockRepository() (*repository.Repository, *mockChildRepo, *mockPlanTemplateRepo, *mockPlanInstanceRepo) {
	children := newMockChildRepo()
	tmpls := newMockPlanTemplateRepo()
	insts := newMockPlanInstanceRepo(tmpls)
	repo := &repository.Repository{
		Child:        children,
		PlanTemplate: tmpls,
		PlanInstance: insts,
	}
	return repo, children, tmpls, insts
}

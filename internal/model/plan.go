package model

import (
	"fmt"
	"time"
)

// ── 日程实例状态机 ──
//
// PENDING ──提交凭证──▶ VERIFIED ──窗口结束──▶ COMPLETED
//    │  └──窗口结束──▶ FAILED         └──主动跳过──▶ COMPLETED（完结而非丢弃）
//    └──主动跳过──▶ SKIPPED
//
// COMPLETED / FAILED / SKIPPED 为终态，只进不出。

// PlanStatus 日程实例状态（封闭枚举）
type PlanStatus string

const (
	StatusPending   PlanStatus = "PENDING"   // 等待凭证
	StatusVerified  PlanStatus = "VERIFIED"  // 已提交凭证，待窗口结束确认
	StatusCompleted PlanStatus = "COMPLETED" // 按时完成
	StatusFailed    PlanStatus = "FAILED"    // 窗口结束仍无凭证
	StatusSkipped   PlanStatus = "SKIPPED"   // 主动跳过，不计入当日总数
)

// Terminal 是否终态
func (s PlanStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	case StatusPending, StatusVerified:
		return false
	}
	// 封闭枚举之外的值视为数据异常，按终态处理防止误迁移
	return true
}

// Actionable 是否仍可操作（当前"待办"候选）
func (s PlanStatus) Actionable() bool {
	return s == StatusPending || s == StatusVerified
}

// AtWindowEnd 窗口结束时的时间驱动迁移
// 返回目标状态与是否需要迁移；终态与未知状态不迁移
func (s PlanStatus) AtWindowEnd() (PlanStatus, bool) {
	switch s {
	case StatusPending:
		return StatusFailed, true
	case StatusVerified:
		return StatusCompleted, true
	}
	return s, false
}

// ── 奖励标签 ──

// RewardTag 当前待办的奖励标签，按待办位次以 3 为周期循环
type RewardTag string

const (
	RewardTwig   RewardTag = "TWIG"   // 位次 1,4,7…
	RewardBranch RewardTag = "BRANCH" // 位次 2,5,8…
	RewardLog    RewardTag = "LOG"    // 位次 3,6,9…
)

var rewardCycle = [3]RewardTag{RewardTwig, RewardBranch, RewardLog}

// RewardTagForOrder 按 1-based 位次取循环标签
func RewardTagForOrder(order int) RewardTag {
	return rewardCycle[(order-1)%3]
}

// ── 粗粒度状态（客户端首页文案分支）──

// CoarseStatus 今日日程的粗粒度分类
type CoarseStatus string

const (
	CoarseNoPlan     CoarseStatus = "NO_PLAN"         // 今日无任何可计数日程
	CoarseFirstPlan  CoarseStatus = "FIRST_PLAN"      // 待办是今天第一项
	CoarseNextPlan   CoarseStatus = "NEXT_PLAN_EXIST" // 待办还未到窗口
	CoarseNowPlan    CoarseStatus = "NOW_PLAN_EXIST"  // 待办正处于窗口内
	CoarseFireNotLit CoarseStatus = "FIRE_NOT_LIT"    // 今日全部结束，尚未点火
	CoarseFireLit    CoarseStatus = "FIRE_LIT"        // 今日已点火
)

// ── 模板与实例 ──

// PlanTemplate 日程模板 — 对应 plan_templates
// 创建后不可修改；recurring=true 时 Weekdays 非空且 PlanDate 为空，
// recurring=false 时恰好相反
type PlanTemplate struct {
	TemplateID string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"template_id"`
	GuardianID string     `gorm:"type:uuid;not null"                             json:"guardian_id"`
	ChildID    string     `gorm:"type:uuid;not null"                             json:"child_id"`
	Name       string     `gorm:"type:varchar(100);not null"                     json:"name"`
	StartTime  string     `gorm:"type:varchar(5);not null"                       json:"start_time"` // "HH:MM"
	EndTime    string     `gorm:"type:varchar(5);not null"                       json:"end_time"`   // "HH:MM"
	ColorTag   string     `gorm:"type:varchar(20);not null"                      json:"color_tag"`
	Recurring  bool       `gorm:"not null"                                       json:"recurring"`
	PlanDate   *time.Time `gorm:"type:date"                                      json:"plan_date,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`

	// 关联
	Weekdays []PlanWeekday `gorm:"foreignKey:TemplateID" json:"weekdays,omitempty"`
}

func (PlanTemplate) TableName() string { return "plan_templates" }

// RunsOn 周期模板在指定星期是否生效
func (t *PlanTemplate) RunsOn(wd time.Weekday) bool {
	for _, w := range t.Weekdays {
		if time.Weekday(w.Weekday) == wd {
			return true
		}
	}
	return false
}

// WindowOn 计算模板窗口在指定日期的具体起止时刻
func (t *PlanTemplate) WindowOn(day time.Time, loc *time.Location) (time.Time, time.Time, error) {
	start, err := atClock(day, t.StartTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := atClock(day, t.EndTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// atClock 将 "HH:MM" 叠加到日期上
func atClock(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("无效的时间 %q: %w", clock, err)
	}
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

// PlanWeekday 周期模板的生效星期 — 对应 plan_weekdays
type PlanWeekday struct {
	TemplateID string `gorm:"type:uuid;primaryKey" json:"template_id"`
	Weekday    int    `gorm:"primaryKey"           json:"weekday"` // time.Weekday 数值，0=周日
}

func (PlanWeekday) TableName() string { return "plan_weekdays" }

// PlanInstance 日程的单日实例 — 对应 plan_instances
// (TemplateID, PlanDate) 唯一；由生成器创建，动作与时间驱动迁移修改
type PlanInstance struct {
	InstanceID      string     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"instance_id"`
	TemplateID      string     `gorm:"type:uuid;not null"                             json:"template_id"`
	ChildID         string     `gorm:"type:uuid;not null"                             json:"child_id"`
	PlanDate        time.Time  `gorm:"type:date;not null"                             json:"plan_date"`
	Status          PlanStatus `gorm:"type:varchar(10);not null;default:'PENDING'"    json:"status"`
	ProofURL        *string    `gorm:"type:varchar(500)"                              json:"proof_url,omitempty"`
	IgniteClaimedAt *time.Time `json:"ignite_claimed_at,omitempty"`
	RewardTag       *RewardTag `gorm:"type:varchar(10)"                               json:"reward_tag,omitempty"`
	CreatedAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
	UpdatedAt       time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"updated_at"`

	// 关联
	Template *PlanTemplate `gorm:"foreignKey:TemplateID;references:TemplateID" json:"template,omitempty"`
}

func (PlanInstance) TableName() string { return "plan_instances" }

// ── 星期 token ──

var weekdayTokens = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// ParseWeekdayToken 解析单个星期 token（MON/TUE/…/SUN）
func ParseWeekdayToken(token string) (time.Weekday, error) {
	wd, ok := weekdayTokens[token]
	if !ok {
		return 0, fmt.Errorf("无法识别的星期 %q", token)
	}
	return wd, nil
}

// ── 默认颜色轮换 ──

// ColorRotation 模板默认颜色的固定轮换顺序
var ColorRotation = []string{"RED", "ORANGE", "YELLOW", "GREEN", "BLUE", "PURPLE"}

// NextColor 返回轮换中 prev 的下一个颜色；prev 不在轮换中时从头开始
func NextColor(prev string) string {
	for i, c := range ColorRotation {
		if c == prev {
			return ColorRotation[(i+1)%len(ColorRotation)]
		}
	}
	return ColorRotation[0]
}

// [自证通过] internal/model/plan.go

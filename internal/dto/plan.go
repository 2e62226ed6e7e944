package dto

// ── 日程模块 DTO ──

// CreatePlanRequest 创建日程模板请求
// recurring=true 时必须提供 weekdays（逗号分隔的 MON..SUN）且不得提供 plan_date；
// recurring=false 时恰好相反
type CreatePlanRequest struct {
	ChildID   string `json:"child_id"   binding:"required,uuid"`
	Name      string `json:"name"       binding:"required,min=1,max=100"`
	StartTime string `json:"start_time" binding:"required,len=5"`
	EndTime   string `json:"end_time"   binding:"required,len=5"`
	ColorTag  string `json:"color_tag"  binding:"required,max=20"`
	Recurring bool   `json:"recurring"`
	Weekdays  string `json:"weekdays,omitempty"`  // "MON,WED,FRI"
	PlanDate  string `json:"plan_date,omitempty"` // "2006-01-02"
}

// VerifyPlanRequest 提交完成凭证请求
type VerifyPlanRequest struct {
	ProofURL string `json:"proof_url" binding:"required,url,max=500"`
}

// ── 响应 ──

// CreatePlanResponse 创建日程模板响应
type CreatePlanResponse struct {
	TemplateID string `json:"template_id"`
}

// PlanTemplateResponse 周期日程视图
type PlanTemplateResponse struct {
	TemplateID string   `json:"template_id"`
	Name       string   `json:"name"`
	StartTime  string   `json:"start_time"`
	EndTime    string   `json:"end_time"`
	ColorTag   string   `json:"color_tag"`
	Recurring  bool     `json:"recurring"`
	Weekdays   []string `json:"weekdays,omitempty"`
	PlanDate   string   `json:"plan_date,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// PlanInstanceResponse 单日实例视图
type PlanInstanceResponse struct {
	InstanceID string `json:"instance_id"`
	TemplateID string `json:"template_id"`
	Name       string `json:"name"`
	PlanDate   string `json:"plan_date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	ColorTag   string `json:"color_tag"`
	Status     string `json:"status"`
	ProofURL   string `json:"proof_url,omitempty"`
	RewardTag  string `json:"reward_tag,omitempty"`
}

// PlanListResponse 日程列表响应（模板 + 区间内实例 + 今日点火标记）
type PlanListResponse struct {
	Recurring    []PlanTemplateResponse `json:"recurring"`
	Instances    []PlanInstanceResponse `json:"instances"`
	TodayIgnited bool                   `json:"today_ignited"`
}

// TodayPlanResponse 今日日程概览响应
// InstanceID 为空表示当前无待办
type TodayPlanResponse struct {
	InstanceID        string `json:"instance_id,omitempty"`
	Order             int    `json:"order"` // 待办在当日序列中的 1-based 位次，无待办为 0
	Total             int    `json:"total"`
	Earned            int    `json:"earned"`
	CoarseStatus      string `json:"coarse_status"`
	IsSkippable       bool   `json:"is_skippable"`
	IsAwaitingConfirm bool   `json:"is_awaiting_confirm"` // 待办已提交凭证、等待窗口结束
	RewardTag         string `json:"reward_tag,omitempty"`
}

// IgniteResponse 点火结果响应
type IgniteResponse struct {
	RewardTags []string `json:"reward_tags"`
	Bonus      int      `json:"bonus"`
}

// DefaultColorResponse 建议的下一个模板颜色
type DefaultColorResponse struct {
	ColorTag string `json:"color_tag"`
}

// BalanceResponse 孩子余额响应
type BalanceResponse struct {
	ChildID string `json:"child_id"`
	Balance int    `json:"balance"`
}

// [自证通过] internal/dto/plan.go

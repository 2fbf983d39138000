package domain

import (
	"time"
)

// 联系实例的状态常量
const (
	// StatusPending 待使用：链接已渲染，表单尚未成功转发
	StatusPending = "pending"
	// StatusConsumed 已使用：表单已成功转发，实例不可复用
	StatusConsumed = "consumed"
)

// BlockedNone 表示实例未被屏蔽，可以正常外发
const BlockedNone = "n"

// ContactInstance 表示一次联系意图的业务实体。
//
// 每个实例把一条可点击的联系链接绑定到一个收件人地址上，
// 收件人地址从不出现在任何对外输出中。
type ContactInstance struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Addressee string    `json:"addressee" gorm:"type:varchar(100);index:idx_contact_tuple"`
	Email     string    `json:"-" gorm:"type:varchar(254);index:idx_contact_tuple"`
	SourceURL string    `json:"sourceUrl" gorm:"type:varchar(255);index:idx_contact_tuple"`
	Nonce     string    `json:"-" gorm:"type:varchar(64)"`
	Status    string    `json:"status" gorm:"type:varchar(16);index"`
	Blocked   string    `json:"-" gorm:"type:char(1)"` // 屏蔽标记，预留给垃圾信息拦截
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

// IsBlocked 报告该实例是否被屏蔽外发。
// 被屏蔽时转发流程照常走完，但不真正发送邮件。
func (c *ContactInstance) IsBlocked() bool {
	return c.Blocked != "" && c.Blocked != BlockedNone
}

// Consumable 报告该实例是否仍可用于一次转发
func (c *ContactInstance) Consumable() bool {
	return c.Status == StatusPending
}

// Stale 报告该实例在 now 时刻是否已超过保留期限
func (c *ContactInstance) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(c.CreatedAt) > maxAge
}

package domain

import (
	"time"
)

// 投递日志的过滤常量
const (
	// LogFilterAll 返回全部记录
	LogFilterAll = "all"
	// LogFilterBlocked 仅返回被屏蔽的记录
	LogFilterBlocked = "blocked"
)

// 会员身份代码。表单上的会员声明是个三态字段，
// 记录时压缩为单字符以便审计检索。
const (
	MembershipYes    = "A" // 声明是会员
	MembershipNo     = "B" // 声明不是会员
	MembershipAbsent = "n" // 表单未携带该字段
	MembershipOther  = "C" // 携带了无法识别的值
)

// MaxLoggedSubjectLength 日志中主题字段的最大长度，超出部分截断
const MaxLoggedSubjectLength = 100

// DeliveryLogEntry 表示一次转发的审计记录。
//
// 记录只增不改，超过保留期后由定时清理删除。
type DeliveryLogEntry struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ToName     string    `json:"toName" gorm:"type:varchar(100)"`
	ToEmail    string    `json:"toEmail" gorm:"type:varchar(254);index"`
	ReplyName  string    `json:"replyName" gorm:"type:varchar(100)"`
	ReplyEmail string    `json:"replyEmail" gorm:"type:varchar(254)"`
	Subject    string    `json:"subject" gorm:"type:varchar(100)"`
	Blocked    string    `json:"blocked" gorm:"type:char(1)"`
	Membership string    `json:"membership" gorm:"type:char(1)"`
	CopyToUser string    `json:"copyToUser" gorm:"type:char(1)"`
	SentAt     time.Time `json:"sentAt" gorm:"index"`
}

// MembershipCode 把表单上的会员声明压缩为单字符代码
func MembershipCode(value string, present bool) string {
	if !present {
		return MembershipAbsent
	}
	switch value {
	case "yes":
		return MembershipYes
	case "no":
		return MembershipNo
	case "":
		return MembershipAbsent
	default:
		return MembershipOther
	}
}

// TruncateSubject 把主题截断到日志字段允许的长度
func TruncateSubject(subject string) string {
	if len(subject) > MaxLoggedSubjectLength {
		return subject[:MaxLoggedSubjectLength]
	}
	return subject
}

package storage

import (
	"errors"
	"time"

	"contactrelay/backend/internal/domain"
)

var (
	// ErrContactNotFound 联系实例未找到错误
	ErrContactNotFound = errors.New("contact instance not found")
	// ErrAlreadyConsumed 联系实例已被使用错误
	ErrAlreadyConsumed = errors.New("contact instance already consumed")
	// ErrNonceMismatch 提交携带的校验串与实例不符
	ErrNonceMismatch = errors.New("contact nonce mismatch")
)

// ContactRepository 定义联系实例数据存取操作。
type ContactRepository interface {
	SaveContact(contact *domain.ContactInstance) error
	// FindContactByFields 在待使用实例中按三元组精确查找
	FindContactByFields(addressee, email, sourceURL string) (*domain.ContactInstance, error)
	GetContact(id int64) (*domain.ContactInstance, error)
	DeleteContact(id int64) error
	// ConsumeContact 校验 nonce 并原子地把实例从待使用置为已使用，
	// 并发提交时恰好一个调用成功
	ConsumeContact(id int64, nonce string) (*domain.ContactInstance, error)
	// ReleaseContact 把已使用的实例退回待使用，供发送失败后重试
	ReleaseContact(id int64) error
	// PurgeContactsOlderThan 删除创建时间早于 cutoff 的实例，返回删除数量
	PurgeContactsOlderThan(cutoff time.Time) (int, error)
}

// DeliveryLogRepository 定义投递日志数据存取操作。
type DeliveryLogRepository interface {
	AppendDeliveryLog(entry *domain.DeliveryLogEntry) error
	// CountDeliveryLog 统计 since 之后的记录数，filter 见 domain.LogFilter*
	CountDeliveryLog(since time.Time, filter string) (int, error)
	// ListDeliveryLog 按时间倒序分页列出记录，
	// filter 取 all、blocked 或一个收件邮箱
	ListDeliveryLog(since time.Time, filter string, limit, offset int) ([]domain.DeliveryLogEntry, error)
	PurgeDeliveryLogOlderThan(cutoff time.Time) (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	ContactRepository
	DeliveryLogRepository

	// 工具方法
	Close() error
	Health() error
}

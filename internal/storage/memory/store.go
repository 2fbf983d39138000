package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
)

// Store 使用内存保存联系实例与投递日志，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	contacts  map[int64]*domain.ContactInstance
	nextID    int64
	logs      []*domain.DeliveryLogEntry
	nextLogID int64

	// now 可注入，便于在测试中模拟时钟推进
	now func() time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		contacts: make(map[int64]*domain.ContactInstance),
		logs:     make([]*domain.DeliveryLogEntry, 0),
		now:      time.Now,
	}
}

// SetNowFunc 替换时钟来源，仅测试使用。
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SaveContact 保存联系实例，ID 为零时分配自增主键并回填。
func (s *Store) SaveContact(contact *domain.ContactInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if contact.ID == 0 {
		s.nextID++
		contact.ID = s.nextID
		if contact.CreatedAt.IsZero() {
			contact.CreatedAt = s.now()
		}
	}

	stored := *contact
	s.contacts[contact.ID] = &stored
	return nil
}

// FindContactByFields 在待使用实例中按三元组精确查找。
func (s *Store) FindContactByFields(addressee, email, sourceURL string) (*domain.ContactInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.ContactInstance
	for _, c := range s.contacts {
		if c.Status != domain.StatusPending {
			continue
		}
		if c.Addressee != addressee || c.Email != email || c.SourceURL != sourceURL {
			continue
		}
		// 多条匹配时取最早创建的一条，保证结果稳定
		if found == nil || c.CreatedAt.Before(found.CreatedAt) || (c.CreatedAt.Equal(found.CreatedAt) && c.ID < found.ID) {
			found = c
		}
	}
	if found == nil {
		return nil, storage.ErrContactNotFound
	}
	copied := *found
	return &copied, nil
}

// GetContact 根据 ID 获取联系实例。
func (s *Store) GetContact(id int64) (*domain.ContactInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, storage.ErrContactNotFound
	}
	copied := *c
	return &copied, nil
}

// DeleteContact 删除联系实例，实例不存在时也返回成功。
func (s *Store) DeleteContact(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contacts, id)
	return nil
}

// ConsumeContact 校验 nonce 并原子地把实例置为已使用。
// 锁内完成检查与状态翻转，并发提交时恰好一个调用成功。
func (s *Store) ConsumeContact(id int64, nonce string) (*domain.ContactInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return nil, storage.ErrContactNotFound
	}
	if c.Nonce != nonce {
		return nil, storage.ErrNonceMismatch
	}
	if c.Status != domain.StatusPending {
		return nil, storage.ErrAlreadyConsumed
	}

	c.Status = domain.StatusConsumed
	copied := *c
	return &copied, nil
}

// ReleaseContact 把已使用的实例退回待使用。
func (s *Store) ReleaseContact(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok {
		return storage.ErrContactNotFound
	}
	c.Status = domain.StatusPending
	return nil
}

// PurgeContactsOlderThan 删除创建时间早于 cutoff 的实例。
func (s *Store) PurgeContactsOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, c := range s.contacts {
		if c.CreatedAt.Before(cutoff) {
			delete(s.contacts, id)
			count++
		}
	}
	return count, nil
}

// AppendDeliveryLog 追加一条投递日志。
func (s *Store) AppendDeliveryLog(entry *domain.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	entry.ID = s.nextLogID
	if entry.SentAt.IsZero() {
		entry.SentAt = s.now()
	}
	stored := *entry
	s.logs = append(s.logs, &stored)
	return nil
}

// CountDeliveryLog 统计 since 之后满足过滤条件的记录数。
func (s *Store) CountDeliveryLog(since time.Time, filter string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.logs {
		if matchLogEntry(e, since, filter) {
			count++
		}
	}
	return count, nil
}

// ListDeliveryLog 按发送时间倒序分页列出记录。
func (s *Store) ListDeliveryLog(since time.Time, filter string, limit, offset int) ([]domain.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.DeliveryLogEntry, 0)
	for _, e := range s.logs {
		if matchLogEntry(e, since, filter) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].SentAt.Equal(matched[j].SentAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].SentAt.After(matched[j].SentAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.DeliveryLogEntry{}, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]domain.DeliveryLogEntry, 0, end-offset)
	for _, e := range matched[offset:end] {
		result = append(result, *e)
	}
	return result, nil
}

// PurgeDeliveryLogOlderThan 删除发送时间早于 cutoff 的记录。
func (s *Store) PurgeDeliveryLogOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]*domain.DeliveryLogEntry, 0, len(s.logs))
	count := 0
	for _, e := range s.logs {
		if e.SentAt.Before(cutoff) {
			count++
			continue
		}
		kept = append(kept, e)
	}
	s.logs = kept
	return count, nil
}

// Close 关闭存储，内存实现无需清理。
func (s *Store) Close() error {
	return nil
}

// Health 检查存储健康状态。
func (s *Store) Health() error {
	return nil
}

func matchLogEntry(e *domain.DeliveryLogEntry, since time.Time, filter string) bool {
	if e.SentAt.Before(since) {
		return false
	}
	switch filter {
	case "", domain.LogFilterAll:
		return true
	case domain.LogFilterBlocked:
		return e.Blocked != domain.BlockedNone
	default:
		// 其余取值按收件邮箱过滤
		return strings.EqualFold(e.ToEmail, filter)
	}
}

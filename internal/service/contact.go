package service

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
)

var (
	ErrAddresseeRequired = errors.New("addressee is required")
	ErrEmailRequired     = errors.New("addressee email is required")
	ErrEmailInvalid      = errors.New("addressee email appears invalid")
)

// MaxAddresseeLength 收件人称呼的最大长度
const MaxAddresseeLength = 100

// ContactService 封装联系实例相关业务操作。
type ContactService struct {
	repo storage.ContactRepository
	cfg  *config.Config

	// now 可注入，便于在测试中模拟时钟推进
	now func() time.Time
}

// NewContactService 创建联系实例业务服务。
func NewContactService(repo storage.ContactRepository, cfg *config.Config) *ContactService {
	return &ContactService{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// SetNowFunc 替换时钟来源，仅测试使用。
func (s *ContactService) SetNowFunc(now func() time.Time) {
	s.now = now
}

// FindOrCreate 解析页面引用并返回可用的联系实例。
//
// 开启去重时，三元组完全一致的待使用实例被直接复用，
// 同一页面上的重复引用不会堆积新行。
func (s *ContactService) FindOrCreate(addressee, email, sourceURL string) (*domain.ContactInstance, error) {
	addressee, email, sourceURL, err := s.normalizeReference(addressee, email, sourceURL)
	if err != nil {
		return nil, err
	}

	if s.cfg.Contact.DedupReferences {
		existing, err := s.repo.FindContactByFields(addressee, email, sourceURL)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrContactNotFound) {
			return nil, fmt.Errorf("find contact instance: %w", err)
		}
	}

	return s.create(addressee, email, sourceURL)
}

// Create 无条件铸造一个新的联系实例，用于一次性链接。
func (s *ContactService) Create(addressee, email, sourceURL string) (*domain.ContactInstance, error) {
	addressee, email, sourceURL, err := s.normalizeReference(addressee, email, sourceURL)
	if err != nil {
		return nil, err
	}
	return s.create(addressee, email, sourceURL)
}

// Get 根据 ID 获取联系实例。
func (s *ContactService) Get(id int64) (*domain.ContactInstance, error) {
	return s.repo.GetContact(id)
}

// Delete 删除联系实例，实例不存在时也视为成功。
func (s *ContactService) Delete(id int64) error {
	return s.repo.DeleteContact(id)
}

// Consume 校验 nonce 并原子地占用实例，并发提交时恰好一个调用成功。
func (s *ContactService) Consume(id int64, nonce string) (*domain.ContactInstance, error) {
	return s.repo.ConsumeContact(id, nonce)
}

// Release 把已占用的实例退回待使用，供发送失败后重试。
func (s *ContactService) Release(id int64) error {
	return s.repo.ReleaseContact(id)
}

// PurgeStale 删除超过保留期的联系实例，返回删除数量。
func (s *ContactService) PurgeStale() (int, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.Contact.StaleAfterDays) * 24 * time.Hour)
	return s.repo.PurgeContactsOlderThan(cutoff)
}

// LinkFresh 报告实例是否仍在新鲜度窗口内。
func (s *ContactService) LinkFresh(contact *domain.ContactInstance) bool {
	return !contact.Stale(s.now(), s.cfg.Contact.LinkMaxAge)
}

// ContactURL 返回指向联系表单页的完整链接。
func (s *ContactService) ContactURL(id int64) string {
	return fmt.Sprintf("%s?contact_id=%d", s.cfg.FormPageURL(), id)
}

func (s *ContactService) normalizeReference(addressee, email, sourceURL string) (string, string, string, error) {
	addressee = strings.TrimSpace(addressee)
	if addressee == "" {
		return "", "", "", ErrAddresseeRequired
	}
	if len(addressee) > MaxAddresseeLength {
		addressee = addressee[:MaxAddresseeLength]
	}

	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", "", ErrEmailRequired
	}
	if err := domain.ValidateEmailAddress(email); err != nil {
		return "", "", "", ErrEmailInvalid
	}

	sourceURL = strings.TrimSpace(sourceURL)
	return addressee, email, sourceURL, nil
}

func (s *ContactService) create(addressee, email, sourceURL string) (*domain.ContactInstance, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	contact := &domain.ContactInstance{
		Addressee: addressee,
		Email:     email,
		SourceURL: sourceURL,
		Nonce:     nonce,
		Status:    domain.StatusPending,
		Blocked:   domain.BlockedNone,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SaveContact(contact); err != nil {
		return nil, fmt.Errorf("save contact instance: %w", err)
	}
	return contact, nil
}

// generateNonce 生成不可预测的提交校验串
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

package service

import (
	"fmt"
	"time"

	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
)

// LogSummary 审计汇总：窗口内的总量与被屏蔽数量
type LogSummary struct {
	Days       int `json:"days"`
	Total      int `json:"total"`
	NumBlocked int `json:"numBlocked"`
}

// DeliveryLogService 封装投递日志的读取与清理。
type DeliveryLogService struct {
	repo storage.DeliveryLogRepository
	cfg  *config.Config

	now func() time.Time
}

// NewDeliveryLogService 创建投递日志服务。
func NewDeliveryLogService(repo storage.DeliveryLogRepository, cfg *config.Config) *DeliveryLogService {
	return &DeliveryLogService{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// SetNowFunc 替换时钟来源，仅测试使用。
func (s *DeliveryLogService) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Summary 返回最近 days 天的投递汇总。
func (s *DeliveryLogService) Summary(days int) (*LogSummary, error) {
	if days <= 0 {
		days = s.cfg.Contact.LogRetainDays
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	total, err := s.repo.CountDeliveryLog(since, domain.LogFilterAll)
	if err != nil {
		return nil, fmt.Errorf("count delivery log: %w", err)
	}
	blocked, err := s.repo.CountDeliveryLog(since, domain.LogFilterBlocked)
	if err != nil {
		return nil, fmt.Errorf("count blocked delivery log: %w", err)
	}

	return &LogSummary{Days: days, Total: total, NumBlocked: blocked}, nil
}

// List 分页返回最近 days 天的投递记录，时间倒序。
// filter 取 all、blocked 或一个收件邮箱。
func (s *DeliveryLogService) List(days int, filter string, limit, offset int) ([]domain.DeliveryLogEntry, int, error) {
	if days <= 0 {
		days = s.cfg.Contact.LogRetainDays
	}
	if filter == "" {
		filter = domain.LogFilterAll
	}
	since := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	total, err := s.repo.CountDeliveryLog(since, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count delivery log: %w", err)
	}
	entries, err := s.repo.ListDeliveryLog(since, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list delivery log: %w", err)
	}
	return entries, total, nil
}

// PurgeExpired 删除超过保留期的日志记录，返回删除数量。
func (s *DeliveryLogService) PurgeExpired() (int, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.Contact.LogRetainDays) * 24 * time.Hour)
	return s.repo.PurgeDeliveryLogOlderThan(cutoff)
}

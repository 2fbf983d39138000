package sql

import (
	"fmt"
	"time"

	"contactrelay/backend/internal/domain"
)

// ========== Delivery Log Repository ==========

// AppendDeliveryLog 追加一条投递日志
func (s *Store) AppendDeliveryLog(entry *domain.DeliveryLogEntry) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	entry.Subject = domain.TruncateSubject(entry.Subject)

	if s.driverName == "postgres" {
		query := fmt.Sprintf(`
			INSERT INTO delivery_log (to_name, to_email, reply_name, reply_email, subject, blocked, membership, copy_to_user, sent_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)
			RETURNING id
		`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5),
			s.placeholder(6), s.placeholder(7), s.placeholder(8), s.placeholder(9))
		return s.db.QueryRow(query,
			entry.ToName,
			entry.ToEmail,
			entry.ReplyName,
			entry.ReplyEmail,
			entry.Subject,
			entry.Blocked,
			entry.Membership,
			entry.CopyToUser,
			entry.SentAt,
		).Scan(&entry.ID)
	}

	query := `
		INSERT INTO delivery_log (to_name, to_email, reply_name, reply_email, subject, blocked, membership, copy_to_user, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		entry.ToName,
		entry.ToEmail,
		entry.ReplyName,
		entry.ReplyEmail,
		entry.Subject,
		entry.Blocked,
		entry.Membership,
		entry.CopyToUser,
		entry.SentAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// CountDeliveryLog 统计 since 之后满足过滤条件的记录数
func (s *Store) CountDeliveryLog(since time.Time, filter string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM delivery_log WHERE sent_at >= %s`, s.placeholder(1))
	args := []interface{}{since}

	where, filterArgs := s.logFilterClause(filter, 2)
	query += where
	args = append(args, filterArgs...)

	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ListDeliveryLog 按发送时间倒序分页列出记录
func (s *Store) ListDeliveryLog(since time.Time, filter string, limit, offset int) ([]domain.DeliveryLogEntry, error) {
	query := fmt.Sprintf(`
		SELECT id, to_name, to_email, reply_name, reply_email, subject, blocked, membership, copy_to_user, sent_at
		FROM delivery_log
		WHERE sent_at >= %s
	`, s.placeholder(1))
	args := []interface{}{since}

	where, filterArgs := s.logFilterClause(filter, 2)
	query += where
	args = append(args, filterArgs...)

	n := len(args)
	query += fmt.Sprintf(" ORDER BY sent_at DESC, id DESC LIMIT %s OFFSET %s", s.placeholder(n+1), s.placeholder(n+2))
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DeliveryLogEntry, 0)
	for rows.Next() {
		var e domain.DeliveryLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.ToName,
			&e.ToEmail,
			&e.ReplyName,
			&e.ReplyEmail,
			&e.Subject,
			&e.Blocked,
			&e.Membership,
			&e.CopyToUser,
			&e.SentAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PurgeDeliveryLogOlderThan 删除发送时间早于 cutoff 的记录
func (s *Store) PurgeDeliveryLogOlderThan(cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM delivery_log WHERE sent_at < %s`, s.placeholder(1))

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// logFilterClause 把过滤条件转成 WHERE 片段，n 是下一个占位符序号
func (s *Store) logFilterClause(filter string, n int) (string, []interface{}) {
	switch filter {
	case "", domain.LogFilterAll:
		return "", nil
	case domain.LogFilterBlocked:
		return fmt.Sprintf(" AND blocked != %s", s.placeholder(n)), []interface{}{domain.BlockedNone}
	default:
		return fmt.Sprintf(" AND lower(to_email) = lower(%s)", s.placeholder(n)), []interface{}{filter}
	}
}

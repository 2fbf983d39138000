package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
)

// ========== Contact Repository ==========

// SaveContact 保存联系实例，ID 为零时插入新行并回填自增主键
func (s *Store) SaveContact(contact *domain.ContactInstance) error {
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	if contact.Blocked == "" {
		contact.Blocked = domain.BlockedNone
	}

	if contact.ID != 0 {
		query := fmt.Sprintf(`
			UPDATE contact_instances
			SET addressee = %s, email = %s, source_url = %s, nonce = %s, status = %s, blocked = %s
			WHERE id = %s
		`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7))
		_, err := s.db.Exec(query,
			contact.Addressee,
			contact.Email,
			contact.SourceURL,
			contact.Nonce,
			contact.Status,
			contact.Blocked,
			contact.ID,
		)
		return err
	}

	if s.driverName == "postgres" {
		query := fmt.Sprintf(`
			INSERT INTO contact_instances (addressee, email, source_url, nonce, status, blocked, created_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s)
			RETURNING id
		`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4), s.placeholder(5), s.placeholder(6), s.placeholder(7))
		return s.db.QueryRow(query,
			contact.Addressee,
			contact.Email,
			contact.SourceURL,
			contact.Nonce,
			contact.Status,
			contact.Blocked,
			contact.CreatedAt,
		).Scan(&contact.ID)
	}

	query := `
		INSERT INTO contact_instances (addressee, email, source_url, nonce, status, blocked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.Exec(query,
		contact.Addressee,
		contact.Email,
		contact.SourceURL,
		contact.Nonce,
		contact.Status,
		contact.Blocked,
		contact.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	contact.ID = id
	return nil
}

// FindContactByFields 在待使用实例中按三元组精确查找，多条命中取最早创建的一条
func (s *Store) FindContactByFields(addressee, email, sourceURL string) (*domain.ContactInstance, error) {
	query := fmt.Sprintf(`
		SELECT id, addressee, email, source_url, nonce, status, blocked, created_at
		FROM contact_instances
		WHERE addressee = %s AND email = %s AND source_url = %s AND status = %s
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	contact, err := s.scanContact(s.db.QueryRow(query, addressee, email, sourceURL, domain.StatusPending))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrContactNotFound
	}
	return contact, err
}

// GetContact 根据 ID 获取联系实例
func (s *Store) GetContact(id int64) (*domain.ContactInstance, error) {
	query := fmt.Sprintf(`
		SELECT id, addressee, email, source_url, nonce, status, blocked, created_at
		FROM contact_instances
		WHERE id = %s
	`, s.placeholder(1))

	contact, err := s.scanContact(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrContactNotFound
	}
	return contact, err
}

// DeleteContact 删除联系实例，行不存在时也返回成功
func (s *Store) DeleteContact(id int64) error {
	query := fmt.Sprintf(`DELETE FROM contact_instances WHERE id = %s`, s.placeholder(1))
	_, err := s.db.Exec(query, id)
	return err
}

// ConsumeContact 校验 nonce 并原子地把实例置为已使用。
// 条件更新保证并发提交时恰好一个调用成功。
func (s *Store) ConsumeContact(id int64, nonce string) (*domain.ContactInstance, error) {
	contact, err := s.GetContact(id)
	if err != nil {
		return nil, err
	}
	if contact.Nonce != nonce {
		return nil, storage.ErrNonceMismatch
	}

	query := fmt.Sprintf(`
		UPDATE contact_instances
		SET status = %s
		WHERE id = %s AND nonce = %s AND status = %s
	`, s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4))

	result, err := s.db.Exec(query, domain.StatusConsumed, id, nonce, domain.StatusPending)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, storage.ErrAlreadyConsumed
	}

	contact.Status = domain.StatusConsumed
	return contact, nil
}

// ReleaseContact 把已使用的实例退回待使用
func (s *Store) ReleaseContact(id int64) error {
	query := fmt.Sprintf(`
		UPDATE contact_instances
		SET status = %s
		WHERE id = %s
	`, s.placeholder(1), s.placeholder(2))

	result, err := s.db.Exec(query, domain.StatusPending, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrContactNotFound
	}
	return nil
}

// PurgeContactsOlderThan 删除创建时间早于 cutoff 的实例
func (s *Store) PurgeContactsOlderThan(cutoff time.Time) (int, error) {
	query := fmt.Sprintf(`DELETE FROM contact_instances WHERE created_at < %s`, s.placeholder(1))

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

func (s *Store) scanContact(row *sql.Row) (*domain.ContactInstance, error) {
	var contact domain.ContactInstance
	var blocked sql.NullString

	err := row.Scan(
		&contact.ID,
		&contact.Addressee,
		&contact.Email,
		&contact.SourceURL,
		&contact.Nonce,
		&contact.Status,
		&blocked,
		&contact.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if blocked.Valid {
		contact.Blocked = blocked.String
	} else {
		contact.Blocked = domain.BlockedNone
	}
	return &contact, nil
}

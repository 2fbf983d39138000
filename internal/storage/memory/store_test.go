package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
)

func newPendingContact(addressee, email, sourceURL, nonce string) *domain.ContactInstance {
	return &domain.ContactInstance{
		Addressee: addressee,
		Email:     email,
		SourceURL: sourceURL,
		Nonce:     nonce,
		Status:    domain.StatusPending,
		Blocked:   domain.BlockedNone,
	}
}

func TestStore_SaveAndGetContact(t *testing.T) {
	store := NewStore()

	t.Run("保存后可按ID读取", func(t *testing.T) {
		c := newPendingContact("Freda Smith", "freda@example.com", "https://example.org/groups/walking", "n1")
		require.NoError(t, store.SaveContact(c))
		require.NotZero(t, c.ID)

		got, err := store.GetContact(c.ID)
		require.NoError(t, err)
		assert.Equal(t, "Freda Smith", got.Addressee)
		assert.Equal(t, "freda@example.com", got.Email)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("不存在的ID返回未找到", func(t *testing.T) {
		_, err := store.GetContact(99999)
		assert.ErrorIs(t, err, storage.ErrContactNotFound)
	})

	t.Run("返回的是副本，外部修改不影响存储", func(t *testing.T) {
		c := newPendingContact("A", "a@example.com", "https://example.org/a", "n2")
		require.NoError(t, store.SaveContact(c))

		got, err := store.GetContact(c.ID)
		require.NoError(t, err)
		got.Addressee = "mutated"

		again, err := store.GetContact(c.ID)
		require.NoError(t, err)
		assert.Equal(t, "A", again.Addressee)
	})
}

func TestStore_FindContactByFields(t *testing.T) {
	store := NewStore()

	first := newPendingContact("Freda Smith", "freda@example.com", "https://example.org/p", "n1")
	require.NoError(t, store.SaveContact(first))

	t.Run("三元组完全一致才命中", func(t *testing.T) {
		got, err := store.FindContactByFields("Freda Smith", "freda@example.com", "https://example.org/p")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = store.FindContactByFields("Freda Smith", "freda@example.com", "https://example.org/other")
		assert.ErrorIs(t, err, storage.ErrContactNotFound)
	})

	t.Run("已使用的实例不参与查找", func(t *testing.T) {
		_, err := store.ConsumeContact(first.ID, "n1")
		require.NoError(t, err)

		_, err = store.FindContactByFields("Freda Smith", "freda@example.com", "https://example.org/p")
		assert.ErrorIs(t, err, storage.ErrContactNotFound)
	})
}

func TestStore_ConsumeContact(t *testing.T) {
	t.Run("nonce不符时拒绝", func(t *testing.T) {
		store := NewStore()
		c := newPendingContact("A", "a@example.com", "https://example.org/a", "right")
		require.NoError(t, store.SaveContact(c))

		_, err := store.ConsumeContact(c.ID, "wrong")
		assert.ErrorIs(t, err, storage.ErrNonceMismatch)

		got, err := store.GetContact(c.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
	})

	t.Run("重复使用返回已使用错误", func(t *testing.T) {
		store := NewStore()
		c := newPendingContact("A", "a@example.com", "https://example.org/a", "n1")
		require.NoError(t, store.SaveContact(c))

		_, err := store.ConsumeContact(c.ID, "n1")
		require.NoError(t, err)
		_, err = store.ConsumeContact(c.ID, "n1")
		assert.ErrorIs(t, err, storage.ErrAlreadyConsumed)
	})

	t.Run("并发使用恰好一个成功", func(t *testing.T) {
		store := NewStore()
		c := newPendingContact("A", "a@example.com", "https://example.org/a", "n1")
		require.NoError(t, store.SaveContact(c))

		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.ConsumeContact(c.ID, "n1")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, storage.ErrAlreadyConsumed)
			}
		}
		assert.Equal(t, 1, succeeded)
	})

	t.Run("释放后可再次使用", func(t *testing.T) {
		store := NewStore()
		c := newPendingContact("A", "a@example.com", "https://example.org/a", "n1")
		require.NoError(t, store.SaveContact(c))

		_, err := store.ConsumeContact(c.ID, "n1")
		require.NoError(t, err)
		require.NoError(t, store.ReleaseContact(c.ID))

		_, err = store.ConsumeContact(c.ID, "n1")
		assert.NoError(t, err)
	})
}

func TestStore_PurgeContactsOlderThan(t *testing.T) {
	store := NewStore()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	store.SetNowFunc(func() time.Time { return clock })

	old := newPendingContact("Old", "old@example.com", "https://example.org/old", "n1")
	require.NoError(t, store.SaveContact(old))

	// 推进模拟时钟，第二条实例晚一天创建
	clock = base.Add(24 * time.Hour)
	fresh := newPendingContact("Fresh", "fresh@example.com", "https://example.org/fresh", "n2")
	require.NoError(t, store.SaveContact(fresh))

	count, err := store.PurgeContactsOlderThan(base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.GetContact(old.ID)
	assert.ErrorIs(t, err, storage.ErrContactNotFound)
	_, err = store.GetContact(fresh.ID)
	assert.NoError(t, err)

	t.Run("边界上的实例不被删除", func(t *testing.T) {
		count, err := store.PurgeContactsOlderThan(fresh.CreatedAt)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestStore_DeliveryLog(t *testing.T) {
	store := NewStore()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := base
	store.SetNowFunc(func() time.Time { return clock })

	entries := []*domain.DeliveryLogEntry{
		{ToName: "Freda Smith", ToEmail: "freda@example.com", ReplyName: "Alan", ReplyEmail: "alan@example.com", Subject: "one", Blocked: domain.BlockedNone, Membership: domain.MembershipAbsent, CopyToUser: "n"},
		{ToName: "Spam Target", ToEmail: "target@example.com", ReplyName: "Bot", ReplyEmail: "bot@example.com", Subject: "two", Blocked: "Y", Membership: domain.MembershipAbsent, CopyToUser: "n"},
		{ToName: "Freda Smith", ToEmail: "freda@example.com", ReplyName: "Beth", ReplyEmail: "beth@example.com", Subject: "three", Blocked: domain.BlockedNone, Membership: domain.MembershipYes, CopyToUser: "y"},
	}
	for _, e := range entries {
		clock = clock.Add(time.Hour)
		require.NoError(t, store.AppendDeliveryLog(e))
	}

	t.Run("计数支持过滤", func(t *testing.T) {
		all, err := store.CountDeliveryLog(time.Time{}, domain.LogFilterAll)
		require.NoError(t, err)
		assert.Equal(t, 3, all)

		blocked, err := store.CountDeliveryLog(time.Time{}, domain.LogFilterBlocked)
		require.NoError(t, err)
		assert.Equal(t, 1, blocked)
	})

	t.Run("按收件邮箱过滤且时间倒序", func(t *testing.T) {
		list, err := store.ListDeliveryLog(time.Time{}, "FREDA@example.com", 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "three", list[0].Subject)
		assert.Equal(t, "one", list[1].Subject)
	})

	t.Run("分页生效", func(t *testing.T) {
		list, err := store.ListDeliveryLog(time.Time{}, domain.LogFilterAll, 2, 0)
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = store.ListDeliveryLog(time.Time{}, domain.LogFilterAll, 2, 2)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("清理早于截止时间的记录", func(t *testing.T) {
		count, err := store.PurgeDeliveryLogOlderThan(base.Add(90 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		remaining, err := store.CountDeliveryLog(time.Time{}, domain.LogFilterAll)
		require.NoError(t, err)
		assert.Equal(t, 2, remaining)
	})
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/storage"
	"contactrelay/backend/internal/storage/memory"
)

func testConfig() *config.Config {
	return &config.Config{
		Contact: config.ContactConfig{
			SiteName:        "Example Community",
			BaseURL:         "https://example.org",
			PageSlug:        "contact",
			LinkMaxAge:      90 * time.Minute,
			StaleAfterDays:  1,
			LogRetainDays:   90,
			SweepInterval:   24 * time.Hour,
			DedupReferences: true,
		},
	}
}

func TestContactService_FindOrCreate(t *testing.T) {
	store := memory.NewStore()
	svc := NewContactService(store, testConfig())

	t.Run("相同三元组复用同一实例", func(t *testing.T) {
		first, err := svc.FindOrCreate("Freda Smith", "freda@example.com", "https://example.org/groups/walking")
		require.NoError(t, err)
		require.NotZero(t, first.ID)
		assert.NotEmpty(t, first.Nonce)
		assert.Equal(t, domain.StatusPending, first.Status)

		second, err := svc.FindOrCreate("Freda Smith", "freda@example.com", "https://example.org/groups/walking")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
	})

	t.Run("三元组任一字段不同则铸造新实例", func(t *testing.T) {
		base, err := svc.FindOrCreate("Freda Smith", "freda@example.com", "https://example.org/a")
		require.NoError(t, err)
		other, err := svc.FindOrCreate("Freda Smith", "freda@example.com", "https://example.org/b")
		require.NoError(t, err)
		assert.NotEqual(t, base.ID, other.ID)
	})

	t.Run("关闭去重后每次都是新实例", func(t *testing.T) {
		cfg := testConfig()
		cfg.Contact.DedupReferences = false
		oneShot := NewContactService(memory.NewStore(), cfg)

		first, err := oneShot.FindOrCreate("A", "a@example.com", "https://example.org/p")
		require.NoError(t, err)
		second, err := oneShot.FindOrCreate("A", "a@example.com", "https://example.org/p")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.NotEqual(t, first.Nonce, second.Nonce)
	})

	t.Run("非法引用被拒绝", func(t *testing.T) {
		_, err := svc.FindOrCreate("", "a@example.com", "https://example.org/p")
		assert.ErrorIs(t, err, ErrAddresseeRequired)

		_, err = svc.FindOrCreate("A", "", "https://example.org/p")
		assert.ErrorIs(t, err, ErrEmailRequired)

		_, err = svc.FindOrCreate("A", "not-an-address", "https://example.org/p")
		assert.ErrorIs(t, err, ErrEmailInvalid)
	})
}

func TestContactService_Create(t *testing.T) {
	store := memory.NewStore()
	svc := NewContactService(store, testConfig())

	first, err := svc.Create("Freda Smith", "freda@example.com", "https://example.org/p")
	require.NoError(t, err)
	second, err := svc.Create("Freda Smith", "freda@example.com", "https://example.org/p")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID, "无条件铸造不做去重")
}

func TestContactService_PurgeStale(t *testing.T) {
	store := memory.NewStore()
	svc := NewContactService(store, testConfig())

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	clock := base
	store.SetNowFunc(func() time.Time { return clock })
	svc.SetNowFunc(func() time.Time { return clock })

	old, err := svc.Create("Old", "old@example.com", "https://example.org/old")
	require.NoError(t, err)

	// 推进到次日，新实例不应被清理
	clock = base.Add(25 * time.Hour)
	fresh, err := svc.Create("Fresh", "fresh@example.com", "https://example.org/fresh")
	require.NoError(t, err)

	count, err := svc.PurgeStale()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.Get(old.ID)
	assert.ErrorIs(t, err, storage.ErrContactNotFound)
	_, err = svc.Get(fresh.ID)
	assert.NoError(t, err)
}

func TestContactService_LinkFresh(t *testing.T) {
	store := memory.NewStore()
	svc := NewContactService(store, testConfig())

	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	clock := base
	store.SetNowFunc(func() time.Time { return clock })
	svc.SetNowFunc(func() time.Time { return clock })

	contact, err := svc.Create("A", "a@example.com", "https://example.org/p")
	require.NoError(t, err)

	assert.True(t, svc.LinkFresh(contact))

	clock = base.Add(90 * time.Minute)
	assert.True(t, svc.LinkFresh(contact), "恰好在窗口边界上仍然有效")

	clock = base.Add(91 * time.Minute)
	assert.False(t, svc.LinkFresh(contact))
}

func TestContactService_ContactURL(t *testing.T) {
	svc := NewContactService(memory.NewStore(), testConfig())
	assert.Equal(t, "https://example.org/contact?contact_id=42", svc.ContactURL(42))
}

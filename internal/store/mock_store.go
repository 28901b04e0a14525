// ABOUTME: Mock ShopStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory ShopStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	shops map[string]*Shop  // keyed by internal ID
	index map[string]string // keyed by "appKey:shopID" -> internal ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		shops: make(map[string]*Shop),
		index: make(map[string]string),
	}
}

func shopKey(appKey, shopID string) string {
	return appKey + ":" + shopID
}

// CreateShop stores a new shop.
func (m *MockStore) CreateShop(ctx context.Context, shop *Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := shopKey(shop.AppKey, shop.ShopID)
	if _, exists := m.index[key]; exists {
		return ErrDuplicateShop
	}

	// Make a copy to avoid external modification
	s := copyShop(shop)
	m.shops[s.ID] = s
	m.index[key] = s.ID
	return nil
}

// UpdateShop replaces an existing shop.
func (m *MockStore) UpdateShop(ctx context.Context, shop *Shop) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.shops[shop.ID]
	if !ok {
		return ErrNotFound
	}

	s := copyShop(shop)
	s.AppKey = existing.AppKey
	s.ShopID = existing.ShopID
	s.CreatedAt = existing.CreatedAt
	m.shops[s.ID] = s
	return nil
}

// GetShop retrieves a shop by app key and shop id.
func (m *MockStore) GetShop(ctx context.Context, appKey, shopID string) (*Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.index[shopKey(appKey, shopID)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyShop(m.shops[id]), nil
}

// GetShopByID retrieves a shop by internal id.
func (m *MockStore) GetShopByID(ctx context.Context, id string) (*Shop, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.shops[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyShop(s), nil
}

// ListShopsByHost returns copies of the app's shops with the given host.
func (m *MockStore) ListShopsByHost(ctx context.Context, appKey, shopHost string) ([]*Shop, error) {
	return m.filter(func(s *Shop) bool {
		return s.AppKey == appKey && s.ShopHost == shopHost
	}), nil
}

// ListShops returns copies of the app's shops, or all shops when appKey is empty.
func (m *MockStore) ListShops(ctx context.Context, appKey string) ([]*Shop, error) {
	return m.filter(func(s *Shop) bool {
		return appKey == "" || s.AppKey == appKey
	}), nil
}

func (m *MockStore) filter(keep func(*Shop) bool) []*Shop {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Shop
	for _, s := range m.shops {
		if keep(s) {
			result = append(result, copyShop(s))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AppKey != result[j].AppKey {
			return result[i].AppKey < result[j].AppKey
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func copyShop(s *Shop) *Shop {
	c := *s
	c.RegistrationConfirmedAt = copyTime(s.RegistrationConfirmedAt)
	c.AppVersionUpdatedAt = copyTime(s.AppVersionUpdatedAt)
	c.ShopwareVersionUpdatedAt = copyTime(s.ShopwareVersionUpdatedAt)
	c.DeletedAt = copyTime(s.DeletedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

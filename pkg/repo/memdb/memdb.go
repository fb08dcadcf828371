// Пакет memdb реализует контракт БД в памяти процесса,
// для тестов и локального запуска без mongo.
package memdb

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rtemka/foodoo/domain"
)

type item = domain.FoodItem

type MemDB struct {
	mu    sync.RWMutex
	items map[string]item
}

func New() *MemDB { return &MemDB{items: make(map[string]item)} }

// snapshot возвращает копию всех объектов.
func (m *MemDB) snapshot() []item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]item, 0, len(m.items))
	for _, it := range m.items {
		out = append(out, it)
	}
	return out
}

// Items возвращает все объекты, упорядоченные по имени.
func (m *MemDB) Items(context.Context) ([]item, error) {
	items := m.snapshot()
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Name == items[j].Name {
			return items[i].ID < items[j].ID
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

// TopStored возвращает limit объектов с наибольшим StoredCount.
func (m *MemDB) TopStored(_ context.Context, limit int) ([]item, error) {
	items := m.snapshot()
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].StoredCount == items[j].StoredCount {
			return items[i].ID < items[j].ID
		}
		return items[i].StoredCount > items[j].StoredCount
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Item находит объект по id.
func (m *MemDB) Item(_ context.Context, id string) (item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return item{}, domain.ErrNotFound
	}
	return it, nil
}

// AddItem добавляет объект, id генерируется хранилищем.
func (m *MemDB) AddItem(_ context.Context, it item) (string, error) {
	it.ID = uuid.NewString()
	m.mu.Lock()
	m.items[it.ID] = it
	m.mu.Unlock()
	return it.ID, nil
}

// UpdateItem обновляет описание объекта, StoredCount сохраняется.
func (m *MemDB) UpdateItem(_ context.Context, it item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[it.ID]
	if !ok {
		return domain.ErrNotFound
	}
	it.StoredCount = cur.StoredCount
	m.items[it.ID] = it
	return nil
}

// SetStoredCount обновляет только поле storedCount.
func (m *MemDB) SetStoredCount(_ context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	it.StoredCount = count
	m.items[id] = it
	return nil
}

// DeleteItem удаляет из БД объект по id.
func (m *MemDB) DeleteItem(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.items, id)
	m.mu.Unlock()
	return nil
}

// Close закрывает подключение к БД.
func (m *MemDB) Close() error { return nil }

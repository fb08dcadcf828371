// Пакет intake хранит последний загруженный список продуктов
// и счетчик дневного потребления (бейдж).
package intake

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rtemka/foodoo/domain"
)

type item = domain.FoodItem
type repo = domain.Repository

const (
	// IntakeLimit - сколько позиций показывает список потребления.
	IntakeLimit = 10

	NotificationTitle  = "Your current foods"
	EmptyIntakeMessage = "You haven't added any food to your diet yet!"

	refreshTimeout = 5 * time.Second
)

var ErrEmptyCatalog = errors.New("food catalog is empty after seeding")

// Notification - уведомление об изменении потребления.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// Notifier доставляет уведомления клиентам.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
	Cancel(ctx context.Context) error
}

// Seeder заполняет пустую коллекцию.
type Seeder interface {
	Seed(ctx context.Context, db domain.Repository) (int, error)
}

// ActionError - ошибка изменения продукта, текст
// предназначен для показа пользователю.
type ActionError struct {
	Item string
	Op   string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s cannot be %s", e.Item, e.Op)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Badge - состояние индикатора дневного потребления.
type Badge struct {
	Count   int    `json:"count"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

func NewBadge(count int) Badge {
	if count <= 0 {
		return Badge{Count: count}
	}
	return Badge{Count: count, Text: strconv.Itoa(count), Visible: true}
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, Notification) error { return nil }
func (nopNotifier) Cancel(context.Context) error { return nil }

// Tracker держит в памяти весь список продуктов и счетчик.
// После каждого изменения список перечитывается целиком,
// последнее завершившееся чтение перезаписывает состояние.
type Tracker struct {
	mu       sync.RWMutex
	data     []item
	count    int
	repo     repo
	seeder   Seeder
	notifier Notifier
	logger   *log.Logger
	wg       sync.WaitGroup // фоновые обновления
}

// New возвращает новый трекер. seeder и notifier могут быть nil.
func New(db repo, seeder Seeder, notifier Notifier, logger *log.Logger) *Tracker {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Tracker{
		repo:     db,
		seeder:   seeder,
		notifier: notifier,
		logger:   logger,
	}
}

// fetch читает весь список, пустую коллекцию один раз
// заполняет каталогом и читает повторно.
func (t *Tracker) fetch(ctx context.Context) ([]item, error) {
	items, err := t.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 || t.seeder == nil {
		return items, nil
	}

	n, err := t.seeder.Seed(ctx, t.repo)
	if err != nil {
		return nil, err
	}
	t.logger.Printf("collection was empty, seeded %d items", n)

	items, err = t.repo.Items(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}
	return items, nil
}

// update перечитывает список и пересчитывает счетчик.
func (t *Tracker) update(ctx context.Context) error {
	items, err := t.fetch(ctx)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.data = items
	t.count = domain.TotalStored(items)
	t.mu.Unlock()
	return nil
}

// refreshAsync запускает полное обновление в фоне, ошибка логируется.
func (t *Tracker) refreshAsync() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := t.update(ctx); err != nil {
			t.logger.Println(err)
		}
	}()
}

// all возвращает копию списка.
func (t *Tracker) all() []item {
	t.mu.RLock()
	out := make([]item, len(t.data))
	_ = copy(out, t.data)
	t.mu.RUnlock()
	return out
}

// lookup ищет продукт в загруженном списке, затем в БД.
func (t *Tracker) lookup(ctx context.Context, id string) (item, error) {
	t.mu.RLock()
	for i := range t.data {
		if t.data[i].ID == id {
			it := t.data[i]
			t.mu.RUnlock()
			return it, nil
		}
	}
	t.mu.RUnlock()
	return t.repo.Item(ctx, id)
}

// summary собирает текст уведомления "name x n, ..." по загруженному
// списку, для продукта bump учитывается только что записанная порция.
func (t *Tracker) summary(bump string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var parts []string
	for _, it := range t.data {
		n := it.StoredCount
		if it.ID == bump {
			n++
		}
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%s x %d", it.Name, n))
		}
	}
	return strings.Join(parts, ", ")
}

// Refresh перечитывает весь список, упорядоченный по имени,
// и пересчитывает счетчик.
func (t *Tracker) Refresh(ctx context.Context) ([]item, error) {
	if err := t.update(ctx); err != nil {
		return nil, err
	}
	return t.all(), nil
}

// Item возвращает продукт по id.
func (t *Tracker) Item(ctx context.Context, id string) (item, error) {
	return t.lookup(ctx, id)
}

// Badge возвращает текущее значение счетчика.
func (t *Tracker) Badge() Badge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return NewBadge(t.count)
}

// Consume отмечает одну порцию продукта как съеденную.
// Счетчик сразу увеличивается на единицу и не откатывается при ошибке
// записи, точное значение придет с фоновым обновлением.
func (t *Tracker) Consume(ctx context.Context, id string) (Badge, error) {
	it, err := t.lookup(ctx, id)
	if err != nil {
		return t.Badge(), err
	}

	t.mu.Lock()
	t.count++
	badge := NewBadge(t.count)
	t.mu.Unlock()

	var actErr error
	bump := it.ID
	if err := t.repo.SetStoredCount(ctx, it.ID, it.StoredCount+1); err != nil {
		t.logger.Printf("consume %s: %v", it.ID, err)
		actErr = &ActionError{Item: it.Name, Op: "changed", Err: err}
		bump = ""
	}

	n := Notification{Title: NotificationTitle, Message: t.summary(bump), Count: badge.Count}
	if err := t.notifier.Send(ctx, n); err != nil {
		t.logger.Printf("notify: %v", err)
	}

	t.refreshAsync()

	return badge, actErr
}

// Delete удаляет продукт. При успехе счетчик уменьшается на его
// StoredCount, одновременно запускается полное обновление.
func (t *Tracker) Delete(ctx context.Context, id string) (Badge, error) {
	it, err := t.lookup(ctx, id)
	if err != nil {
		return t.Badge(), err
	}

	err = t.repo.DeleteItem(ctx, it.ID)

	t.mu.Lock()
	if err == nil {
		t.count -= it.StoredCount
	}
	badge := NewBadge(t.count)
	t.mu.Unlock()

	t.refreshAsync()

	if cerr := t.notifier.Cancel(ctx); cerr != nil {
		t.logger.Printf("notify: %v", cerr)
	}

	if err != nil {
		t.logger.Printf("delete %s: %v", it.ID, err)
		return badge, &ActionError{Item: it.Name, Op: "deleted", Err: err}
	}
	return badge, nil
}

// IntakeList возвращает до IntakeLimit продуктов с ненулевым
// StoredCount, по убыванию StoredCount.
func (t *Tracker) IntakeList(ctx context.Context) ([]item, error) {
	items, err := t.repo.TopStored(ctx, IntakeLimit)
	if err != nil {
		return nil, err
	}
	out := make([]item, 0, len(items))
	for _, it := range items {
		if it.StoredCount > 0 {
			out = append(out, it)
		}
	}
	return out, nil
}

// DeleteStored удаляет продукт из списка потребления и возвращает
// обновленный список. Счетчик пересчитывается фоновым обновлением.
func (t *Tracker) DeleteStored(ctx context.Context, id string) ([]item, error) {
	it, err := t.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	var actErr error
	if err := t.repo.DeleteItem(ctx, it.ID); err != nil {
		t.logger.Printf("delete %s: %v", it.ID, err)
		actErr = &ActionError{Item: it.Name, Op: "deleted", Err: err}
	}

	t.refreshAsync()

	items, err := t.IntakeList(ctx)
	if err != nil {
		return nil, err
	}
	return items, actErr
}

// UpdateItem изменяет описание продукта. StoredCount меняется
// только через Consume и удаление.
func (t *Tracker) UpdateItem(ctx context.Context, it item) error {
	if err := t.repo.UpdateItem(ctx, it); err != nil {
		return err
	}
	t.refreshAsync()
	return nil
}

// Run обновляет список каждый раз через interval,
// первый раз сразу.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	upd := func() {
		uctx, cancel := context.WithTimeout(ctx, refreshTimeout)
		defer cancel()
		if err := t.update(uctx); err != nil {
			t.logger.Println(err)
		}
	}

	upd()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			upd()
		}
	}
}

// Wait ждет завершения фоновых обновлений.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rtemka/foodoo/domain"
	"github.com/rtemka/foodoo/pkg/catalog"
	"github.com/rtemka/foodoo/pkg/repo/memdb"
)

var discard = log.New(io.Discard, "", 0)

// recorder запоминает отправленные уведомления.
type recorder struct {
	mu      sync.Mutex
	sent    []Notification
	cancels int
}

func (r *recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) Cancel(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels++
	return nil
}

// failingRepo возвращает заданные ошибки на запись
// и считает обращения к БД.
type failingRepo struct {
	*memdb.MemDB
	setErr error
	delErr error

	reads   atomic.Int32 // Items
	deletes atomic.Int32 // DeleteItem
}

func (f *failingRepo) Items(ctx context.Context) ([]domain.FoodItem, error) {
	f.reads.Add(1)
	return f.MemDB.Items(ctx)
}

// resetCalls обнуляет счетчики обращений.
func (f *failingRepo) resetCalls() {
	f.reads.Store(0)
	f.deletes.Store(0)
}

// checkCalls проверяет, что после удаления был ровно один DeleteItem
// и ровно одно полное обновление.
func checkCalls(t *testing.T, f *failingRepo) {
	t.Helper()
	if got := f.deletes.Load(); got != 1 {
		t.Errorf("DeleteItem calls = %d, want 1", got)
	}
	if got := f.reads.Load(); got != 1 {
		t.Errorf("Items calls = %d, want 1", got)
	}
}

func (f *failingRepo) SetStoredCount(ctx context.Context, id string, n int) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemDB.SetStoredCount(ctx, id, n)
}

func (f *failingRepo) DeleteItem(ctx context.Context, id string) error {
	f.deletes.Add(1)
	if f.delErr != nil {
		return f.delErr
	}
	return f.MemDB.DeleteItem(ctx, id)
}

// setup заполняет БД: apple x2, bread x0, soup x3.
func setup(t *testing.T) (*failingRepo, map[string]string) {
	t.Helper()
	db := &failingRepo{MemDB: memdb.New()}
	ids := make(map[string]string)
	for _, it := range []domain.FoodItem{
		{Name: "apple", StoredCount: 2},
		{Name: "bread"},
		{Name: "soup", StoredCount: 3},
	} {
		id, err := db.AddItem(context.Background(), it)
		if err != nil {
			t.Fatal(err)
		}
		ids[it.Name] = id
	}
	return db, ids
}

func TestNewBadge(t *testing.T) {
	tests := []struct {
		count int
		want  Badge
	}{
		{count: 0, want: Badge{}},
		{count: -2, want: Badge{Count: -2}},
		{count: 3, want: Badge{Count: 3, Text: "3", Visible: true}},
	}
	for _, tt := range tests {
		if got := NewBadge(tt.count); got != tt.want {
			t.Errorf("NewBadge(%d) = %+v, want %+v", tt.count, got, tt.want)
		}
	}
}

func TestTracker_Refresh(t *testing.T) {
	ctx := context.Background()

	t.Run("sum", func(t *testing.T) {
		db, _ := setup(t)
		tr := New(db, nil, nil, discard)

		items, err := tr.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() = err %v", err)
		}
		if len(items) != 3 || items[0].Name != "apple" || items[2].Name != "soup" {
			t.Errorf("Refresh() = %v, want ordered by name", items)
		}
		if got, want := tr.Badge(), NewBadge(5); got != want {
			t.Errorf("Badge() = %+v, want %+v", got, want)
		}
	})

	t.Run("seed", func(t *testing.T) {
		db := memdb.New()
		c := catalog.Catalog{Items: []catalog.Entry{{Name: "tea"}, {Name: "coffee"}}}
		tr := New(db, c, nil, discard)

		items, err := tr.Refresh(ctx)
		if err != nil {
			t.Fatalf("Refresh() = err %v", err)
		}
		if len(items) != 2 {
			t.Errorf("Refresh() len = %d, want 2", len(items))
		}
		if tr.Badge().Visible {
			t.Errorf("Badge() visible after seeding, want hidden")
		}

		// второй раз каталог не добавляется
		items, _ = tr.Refresh(ctx)
		if len(items) != 2 {
			t.Errorf("Refresh() after seed len = %d, want 2", len(items))
		}
	})

	t.Run("empty catalog", func(t *testing.T) {
		tr := New(memdb.New(), catalog.Catalog{}, nil, discard)
		if _, err := tr.Refresh(ctx); !errors.Is(err, ErrEmptyCatalog) {
			t.Errorf("Refresh() = err %v, want %v", err, ErrEmptyCatalog)
		}
	})

	t.Run("no seeder", func(t *testing.T) {
		tr := New(memdb.New(), nil, nil, discard)
		items, err := tr.Refresh(ctx)
		if err != nil || len(items) != 0 {
			t.Errorf("Refresh() = %v, %v, want empty list", items, err)
		}
	})
}

func TestTracker_Consume(t *testing.T) {
	ctx := context.Background()

	t.Run("optimistic", func(t *testing.T) {
		db, ids := setup(t)
		rec := &recorder{}
		tr := New(db, nil, rec, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}

		// другой клиент меняет БД в обход трекера
		if err := db.MemDB.SetStoredCount(ctx, ids["bread"], 10); err != nil {
			t.Fatal(err)
		}

		badge, err := tr.Consume(ctx, ids["apple"])
		if err != nil {
			t.Fatalf("Consume() = err %v", err)
		}
		if badge.Count != 6 {
			t.Errorf("Consume() badge = %d, want optimistic 6", badge.Count)
		}

		tr.Wait()
		if got := tr.Badge().Count; got != 16 {
			t.Errorf("Badge() after refresh = %d, want 16", got)
		}

		got, _ := db.Item(ctx, ids["apple"])
		if got.StoredCount != 3 {
			t.Errorf("apple stored count = %d, want 3", got.StoredCount)
		}

		if len(rec.sent) != 1 {
			t.Fatalf("notifications = %d, want 1", len(rec.sent))
		}
		n := rec.sent[0]
		if n.Title != NotificationTitle || n.Message != "apple x 3, soup x 3" || n.Count != 6 {
			t.Errorf("notification = %+v", n)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		db, ids := setup(t)
		tr := New(db, nil, nil, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}

		wantErr := errors.New("permission denied")
		db.setErr = wantErr

		badge, err := tr.Consume(ctx, ids["apple"])
		var actErr *ActionError
		if !errors.As(err, &actErr) || !errors.Is(err, wantErr) {
			t.Fatalf("Consume() = err %v, want *ActionError wrapping %v", err, wantErr)
		}
		if err.Error() != "apple cannot be changed" {
			t.Errorf("Consume() err text = %q", err.Error())
		}
		if badge.Count != 6 {
			t.Errorf("Consume() badge = %d, want 6 (no rollback)", badge.Count)
		}

		tr.Wait()
		if got := tr.Badge().Count; got != 5 {
			t.Errorf("Badge() after refresh = %d, want 5", got)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		db, _ := setup(t)
		tr := New(db, nil, nil, discard)
		if _, err := tr.Consume(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Consume() = err %v, want %v", err, domain.ErrNotFound)
		}
	})

	t.Run("repeated", func(t *testing.T) {
		db, ids := setup(t)
		tr := New(db, nil, nil, discard)
		for i := 0; i < 3; i++ {
			if _, err := tr.Refresh(ctx); err != nil {
				t.Fatal(err)
			}
			if _, err := tr.Consume(ctx, ids["bread"]); err != nil {
				t.Fatal(err)
			}
			tr.Wait()
		}
		got, _ := db.Item(ctx, ids["bread"])
		if got.StoredCount != 3 {
			t.Errorf("bread stored count = %d, want 3", got.StoredCount)
		}
		if tr.Badge().Count != 8 {
			t.Errorf("Badge() = %d, want 8", tr.Badge().Count)
		}
	})
}

func TestTracker_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		db, ids := setup(t)
		rec := &recorder{}
		tr := New(db, nil, rec, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		db.resetCalls()

		badge, err := tr.Delete(ctx, ids["soup"])
		if err != nil {
			t.Fatalf("Delete() = err %v", err)
		}
		tr.Wait()
		checkCalls(t, db)

		// сумма после уменьшения и после обновления совпадает
		if badge.Count != 2 || tr.Badge().Count != 2 {
			t.Errorf("Delete() badge = %d, after refresh %d, want 2", badge.Count, tr.Badge().Count)
		}
		if _, err := db.Item(ctx, ids["soup"]); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Item() after delete = err %v", err)
		}
		if rec.cancels != 1 {
			t.Errorf("cancels = %d, want 1", rec.cancels)
		}
	})

	t.Run("failure", func(t *testing.T) {
		db, ids := setup(t)
		rec := &recorder{}
		tr := New(db, nil, rec, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		db.delErr = errors.New("unavailable")
		db.resetCalls()

		badge, err := tr.Delete(ctx, ids["soup"])
		if err == nil || err.Error() != "soup cannot be deleted" {
			t.Fatalf("Delete() = err %v, want soup cannot be deleted", err)
		}
		if badge.Count != 5 {
			t.Errorf("Delete() badge = %d, want 5", badge.Count)
		}
		tr.Wait()
		checkCalls(t, db)
		if rec.cancels != 1 {
			t.Errorf("cancels = %d, want 1", rec.cancels)
		}
	})
}

func TestTracker_IntakeList(t *testing.T) {
	ctx := context.Background()
	db := memdb.New()
	for i := 0; i < 12; i++ {
		_, err := db.AddItem(ctx, domain.FoodItem{Name: fmt.Sprintf("food %02d", i), StoredCount: i})
		if err != nil {
			t.Fatal(err)
		}
	}
	tr := New(db, nil, nil, discard)

	got, err := tr.IntakeList(ctx)
	if err != nil {
		t.Fatalf("IntakeList() = err %v", err)
	}
	if len(got) != IntakeLimit {
		t.Fatalf("IntakeList() len = %d, want %d", len(got), IntakeLimit)
	}
	for i := 1; i < len(got); i++ {
		if got[i].StoredCount > got[i-1].StoredCount {
			t.Errorf("IntakeList() not ordered desc at %d: %v", i, got)
		}
	}
	if got[0].StoredCount != 11 {
		t.Errorf("IntakeList()[0] = %d, want 11", got[0].StoredCount)
	}

	small, _ := setup(t)
	got, err = New(small, nil, nil, discard).IntakeList(ctx)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(got))
	for i := range got {
		names[i] = got[i].Name
	}
	if strings.Join(names, ",") != "soup,apple" {
		t.Errorf("IntakeList() = %v, want [soup apple]", names)
	}
}

func TestTracker_DeleteStored(t *testing.T) {
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		db, ids := setup(t)
		tr := New(db, nil, nil, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		db.resetCalls()

		got, err := tr.DeleteStored(ctx, ids["apple"])
		if err != nil {
			t.Fatalf("DeleteStored() = err %v", err)
		}
		if len(got) != 1 || got[0].Name != "soup" {
			t.Errorf("DeleteStored() = %v, want [soup]", got)
		}

		tr.Wait()
		checkCalls(t, db)
		if tr.Badge().Count != 3 {
			t.Errorf("Badge() = %d, want 3", tr.Badge().Count)
		}
	})

	t.Run("failure", func(t *testing.T) {
		db, ids := setup(t)
		tr := New(db, nil, nil, discard)
		if _, err := tr.Refresh(ctx); err != nil {
			t.Fatal(err)
		}
		db.delErr = errors.New("unavailable")
		db.resetCalls()

		got, err := tr.DeleteStored(ctx, ids["apple"])
		var aerr *ActionError
		if !errors.As(err, &aerr) || aerr.Op != "deleted" {
			t.Fatalf("DeleteStored() = err %v, want ActionError", err)
		}
		if len(got) != 2 {
			t.Errorf("DeleteStored() = %v, want apple and soup", got)
		}

		tr.Wait()
		checkCalls(t, db)
		if tr.Badge().Count != 5 {
			t.Errorf("Badge() = %d, want 5", tr.Badge().Count)
		}
	})
}

func TestTracker_UpdateItem(t *testing.T) {
	ctx := context.Background()
	db, ids := setup(t)
	tr := New(db, nil, nil, discard)

	// StoredCount в описании игнорируется
	err := tr.UpdateItem(ctx, domain.FoodItem{ID: ids["bread"], Name: "rye bread", StoredCount: 50})
	if err != nil {
		t.Fatalf("UpdateItem() = err %v", err)
	}
	tr.Wait()

	it, err := tr.Item(ctx, ids["bread"])
	if err != nil || it.Name != "rye bread" || it.StoredCount != 0 {
		t.Errorf("Item() = %+v, %v, want rye bread x 0", it, err)
	}
	if tr.Badge().Count != 5 {
		t.Errorf("Badge() = %d, want 5", tr.Badge().Count)
	}

	if err := tr.UpdateItem(ctx, domain.FoodItem{ID: "missing", Name: "x"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateItem(missing) = err %v, want %v", err, domain.ErrNotFound)
	}
}

func TestTracker_Run(t *testing.T) {
	db, _ := setup(t)
	tr := New(db, nil, nil, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx, time.Hour)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.Badge().Count != 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if tr.Badge().Count != 5 {
		t.Errorf("Badge() after Run = %d, want 5", tr.Badge().Count)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/xferkarma/internal/domain/model"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, "sqlite://:memory:", WithMetricsUpdateInterval(0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func record(author string, amount int) model.TransferRecord {
	return model.TransferRecord{
		TransferredAt: time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC),
		Author:        author,
		Amount:        amount,
		SourceURL:     "https://www.reddit.com/r/GameSale/comments/abc/_/def/",
	}
}

func TestGormStore_RecordAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Lookup(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.RecordTransfer(ctx, record("Alice", 23)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Lookup(ctx, "ALICE")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Author != "Alice" {
		t.Errorf("expected display name Alice, got %s", got.Author)
	}
	if got.Amount != 23 {
		t.Errorf("expected amount 23, got %d", got.Amount)
	}
	if !got.TransferredAt.Equal(record("Alice", 23).TransferredAt) {
		t.Errorf("unexpected timestamp %v", got.TransferredAt)
	}

	if n, err := store.Count(ctx); err != nil || n != 1 {
		t.Errorf("expected count 1, got %d (%v)", n, err)
	}
}

func TestGormStore_RecordTransferConflict(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.RecordTransfer(ctx, record("bob", 10)); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := store.RecordTransfer(ctx, record("BOB", 99))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := store.Lookup(ctx, "bob")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Amount != 10 {
		t.Errorf("conflicting insert overwrote amount: %d", got.Amount)
	}
}

func TestGormStore_ConcurrentRecordTransfer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(amount int) {
			defer wg.Done()
			switch err := store.RecordTransfer(ctx, record("carol", amount)); {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
	if conflicts.Load() != 15 {
		t.Errorf("expected 15 conflicts, got %d", conflicts.Load())
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("expected a single record, got %d", n)
	}
}

func TestGormStore_ReplaceTransfer(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.ReplaceTransfer(ctx, record("dave", 5)); err != nil {
		t.Fatalf("insert via replace: %v", err)
	}
	updated := record("Dave", 60)
	updated.SourceURL = "https://www.reddit.com/r/GameSwap/comments/xyz/_/admin/"
	if err := store.ReplaceTransfer(ctx, updated); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := store.Lookup(ctx, "dave")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Amount != 60 || got.SourceURL != updated.SourceURL || got.Author != "Dave" {
		t.Errorf("replace did not overwrite: %+v", got)
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("expected a single record, got %d", n)
	}
}

func TestGormStore_FileDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	store, err := Open(ctx, "sqlite="+path, WithMetricsUpdateInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.RecordTransfer(ctx, record("erin", 1)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, "sqlite://"+path, WithMetricsUpdateInterval(0))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Lookup(ctx, "Erin"); err != nil {
		t.Errorf("record did not survive restart: %v", err)
	}
}

func TestOpen_UnsupportedDSN(t *testing.T) {
	for _, dsn := range []string{"", "mysql://root@localhost/db", "ledger.db"} {
		if _, err := Open(context.Background(), dsn); !errors.Is(err, ErrUnsupportedDSN) {
			t.Errorf("%q: expected ErrUnsupportedDSN, got %v", dsn, err)
		}
	}
}

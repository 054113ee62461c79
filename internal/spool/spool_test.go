package spool

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/exertus/exmebus-gateway/internal/infrastructure/database"
	"github.com/exertus/exmebus-gateway/migrations"
)

func newTestSpool(t *testing.T, maxFrames int) *Spool {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "spool.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db, maxFrames)
}

func collect(t *testing.T, s *Spool) [][]byte {
	t.Helper()
	var got [][]byte
	if _, err := s.Drain(context.Background(), func(frame []byte) error {
		got = append(got, frame)
		return nil
	}); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	return got
}

func TestPushDrainOrder(t *testing.T) {
	s := newTestSpool(t, 0)
	ctx := context.Background()

	for _, f := range [][]byte{{1}, {2, 2}, {3, 3, 3}} {
		if err := s.Push(ctx, f); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if n, _ := s.Len(ctx); n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	got := collect(t, s)
	if len(got) != 3 || !bytes.Equal(got[0], []byte{1}) || !bytes.Equal(got[2], []byte{3, 3, 3}) {
		t.Errorf("Drain() order = %v", got)
	}
	if n, _ := s.Len(ctx); n != 0 {
		t.Errorf("Len() after drain = %d, want 0", n)
	}
}

func TestPushEmpty(t *testing.T) {
	s := newTestSpool(t, 0)

	if err := s.Push(context.Background(), nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("Push(nil) error = %v, want ErrEmptyFrame", err)
	}
}

func TestPushTrimsOldest(t *testing.T) {
	s := newTestSpool(t, 2)
	ctx := context.Background()

	for i := byte(1); i <= 4; i++ {
		if err := s.Push(ctx, []byte{i}); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}

	if s.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", s.Dropped())
	}
	got := collect(t, s)
	if len(got) != 2 || got[0][0] != 3 || got[1][0] != 4 {
		t.Errorf("kept frames = %v, want [[3] [4]]", got)
	}
}

func TestDrainStopsOnError(t *testing.T) {
	s := newTestSpool(t, 0)
	ctx := context.Background()

	for i := byte(1); i <= 3; i++ {
		if err := s.Push(ctx, []byte{i}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	writeErr := errors.New("collector down")
	calls := 0
	n, err := s.Drain(ctx, func(frame []byte) error {
		calls++
		if frame[0] == 2 {
			return writeErr
		}
		return nil
	})

	if !errors.Is(err, writeErr) {
		t.Fatalf("Drain() error = %v, want writeErr", err)
	}
	if n != 1 || calls != 2 {
		t.Errorf("delivered = %d, calls = %d; want 1, 2", n, calls)
	}
	if left, _ := s.Len(ctx); left != 2 {
		t.Errorf("Len() = %d, want 2 (failed frame kept)", left)
	}

	got := collect(t, s)
	if len(got) != 2 || got[0][0] != 2 {
		t.Errorf("remaining = %v, want failed frame first", got)
	}
}

func TestDrainManyBatches(t *testing.T) {
	s := newTestSpool(t, 0)
	ctx := context.Background()

	total := drainBatch*2 + 7
	for i := 0; i < total; i++ {
		if err := s.Push(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}

	if got := collect(t, s); len(got) != total {
		t.Errorf("Drain() delivered %d, want %d", len(got), total)
	}
}

func TestDrainCancelled(t *testing.T) {
	s := newTestSpool(t, 0)
	if err := s.Push(context.Background(), []byte{1}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Drain(ctx, func([]byte) error { return nil }); err == nil {
		t.Error("Drain() with cancelled context should fail")
	}
}

// Package spool keeps exmebus frames whose write to the collector failed,
// so they can be replayed once the stream is back.
//
// Frames are stored as opaque blobs in the frame_spool table and replayed
// oldest first. When the table grows past the configured maximum the oldest
// rows are discarded.
package spool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/exertus/exmebus-gateway/internal/infrastructure/database"
)

// ErrEmptyFrame is returned by Push for a zero-length frame.
var ErrEmptyFrame = errors.New("spool: empty frame")

// drainBatch bounds how many rows Drain reads per query.
const drainBatch = 100

// Spool is a bounded FIFO of frames in SQLite. It is safe for use by one
// writer goroutine, with Len callable from any goroutine.
type Spool struct {
	db        *database.DB
	maxFrames int
	now       func() time.Time

	dropped atomic.Uint64
}

// New returns a spool on db, which must already carry the frame_spool
// migration. maxFrames <= 0 means unbounded.
func New(db *database.DB, maxFrames int) *Spool {
	return &Spool{db: db, maxFrames: maxFrames, now: time.Now}
}

// Push appends a copy of frame and trims the oldest rows beyond the limit.
func (s *Spool) Push(ctx context.Context, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO frame_spool (frame, created_at) VALUES (?, ?)",
			frame, s.now().UnixMilli()); err != nil {
			return fmt.Errorf("spool push: %w", err)
		}
		if s.maxFrames <= 0 {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM frame_spool WHERE id IN (
				SELECT id FROM frame_spool ORDER BY id DESC LIMIT -1 OFFSET ?
			)`, s.maxFrames)
		if err != nil {
			return fmt.Errorf("spool trim: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			s.dropped.Add(uint64(n))
		}
		return nil
	})
}

// Drain passes spooled frames to fn oldest first, deleting each one fn
// accepts. It stops at the first error from fn, leaving that frame and all
// later ones in place, and returns how many frames were delivered.
func (s *Spool) Drain(ctx context.Context, fn func(frame []byte) error) (int, error) {
	delivered := 0
	for {
		batch, err := s.peek(ctx)
		if err != nil {
			return delivered, err
		}
		if len(batch) == 0 {
			return delivered, nil
		}

		for _, row := range batch {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}
			if err := fn(row.frame); err != nil {
				return delivered, err
			}
			if _, err := s.db.ExecContext(ctx, "DELETE FROM frame_spool WHERE id = ?", row.id); err != nil {
				return delivered, fmt.Errorf("spool delete: %w", err)
			}
			delivered++
		}
	}
}

// Len returns the number of spooled frames.
func (s *Spool) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM frame_spool").Scan(&n); err != nil {
		return 0, fmt.Errorf("spool count: %w", err)
	}
	return n, nil
}

// Dropped returns how many frames were discarded by the size limit.
func (s *Spool) Dropped() uint64 {
	return s.dropped.Load()
}

type spooledFrame struct {
	id    int64
	frame []byte
}

func (s *Spool) peek(ctx context.Context) ([]spooledFrame, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, frame FROM frame_spool ORDER BY id LIMIT ?", drainBatch)
	if err != nil {
		return nil, fmt.Errorf("spool read: %w", err)
	}
	defer rows.Close()

	var batch []spooledFrame
	for rows.Next() {
		var f spooledFrame
		if err := rows.Scan(&f.id, &f.frame); err != nil {
			return nil, fmt.Errorf("spool scan: %w", err)
		}
		batch = append(batch, f)
	}
	return batch, rows.Err()
}

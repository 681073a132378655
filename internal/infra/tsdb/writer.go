// Package tsdb implements the batched, non-blocking time-series writer
// (C1). The bounded-queue-with-drop-oldest back-pressure policy is
// adapted from the reference scheduler's tiered back-pressure: where that
// scheduler rejects incoming tasks at staged queue depths, this writer has
// exactly one depth and one policy — drop the oldest buffered point and
// warn, because a stale sensor reading is worse than a gap in one. Backed
// by modernc.org/sqlite, since no dedicated time-series client exists
// anywhere in the reference corpus.
package tsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hydroloop/gateway/internal/domain"
)

// DefaultQueueDepth bounds the in-memory point queue before drop-oldest
// kicks in.
const DefaultQueueDepth = 4096

// DefaultBatchSize is how many points are flushed per transaction.
const DefaultBatchSize = 200

// DefaultFlushInterval is the maximum time a point waits before a flush
// is forced even if the batch isn't full.
const DefaultFlushInterval = 2 * time.Second

// Writer buffers domain.TSPoint values and flushes them in batches to
// SQLite on a background goroutine. Write never blocks: a full queue
// drops its oldest point and logs a warning.
type Writer struct {
	db     *sql.DB
	logger *log.Logger

	mu       sync.Mutex
	queue    []domain.TSPoint
	maxDepth int
	dropped  int

	flushCh  chan struct{}
	closeCh  chan struct{}
	doneCh   chan struct{}
	interval time.Duration
	batch    int

	closeOnce sync.Once
	closeErr  error
}

// Open creates or opens the time-series database at dir/timeseries.db
// and starts the background flush loop.
func Open(dir string, logger *log.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dir, "timeseries.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS points (
		measurement TEXT NOT NULL,
		tags        TEXT NOT NULL DEFAULT '',
		field       TEXT NOT NULL,
		value       REAL NOT NULL,
		at          INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_points_lookup ON points(measurement, at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}

	w := &Writer{
		db:       db,
		logger:   logger,
		maxDepth: DefaultQueueDepth,
		flushCh:  make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		interval: DefaultFlushInterval,
		batch:    DefaultBatchSize,
	}
	go w.loop()
	return w, nil
}

// Write enqueues a point. Never blocks; drops the oldest queued point
// with a log warning if the queue is already at capacity.
func (w *Writer) Write(p domain.TSPoint) {
	w.mu.Lock()
	if len(w.queue) >= w.maxDepth {
		w.queue = w.queue[1:]
		w.dropped++
		if w.dropped%100 == 1 {
			w.logger.Printf("tsdb: queue saturated, dropped %d points so far", w.dropped)
		}
	}
	w.queue = append(w.queue, p)
	w.mu.Unlock()

	select {
	case w.flushCh <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			w.drain()
			return
		case <-ticker.C:
			w.flushBatch()
		case <-w.flushCh:
			w.flushBatch()
		}
	}
}

func (w *Writer) drain() {
	for {
		n := w.flushBatch()
		if n == 0 {
			return
		}
	}
}

func (w *Writer) flushBatch() int {
	w.mu.Lock()
	if len(w.queue) == 0 {
		w.mu.Unlock()
		return 0
	}
	n := w.batch
	if n > len(w.queue) {
		n = len(w.queue)
	}
	batch := w.queue[:n]
	w.queue = w.queue[n:]
	w.mu.Unlock()

	if err := w.writeBatch(batch); err != nil {
		w.logger.Printf("tsdb: flush failed: %v", err)
	}
	return n
}

func (w *Writer) writeBatch(points []domain.TSPoint) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO points (measurement, tags, field, value, at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		tags := encodeTags(p.Tags)
		for field, value := range p.Fields {
			if _, err := stmt.Exec(p.Measurement, tags, field, value, p.At.Unix()); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

// Flush forces an immediate synchronous flush of everything queued,
// bounded by ctx's deadline.
func (w *Writer) Flush(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if w.flushBatch() == 0 {
			return nil
		}
	}
}

// Close stops the background loop, draining any remaining queued points
// first. Safe to call more than once — Serve's shutdown goroutine closes
// the writer before returning, and a caller's deferred Close runs again
// after Serve returns, so a second call must be a no-op rather than a
// panic on an already-closed channel.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		close(w.closeCh)
		<-w.doneCh
		w.closeErr = w.db.Close()
	})
	return w.closeErr
}

func encodeTags(tags map[string]string) string {
	out := ""
	for k, v := range tags {
		if out != "" {
			out += ","
		}
		out += k + "=" + v
	}
	return out
}

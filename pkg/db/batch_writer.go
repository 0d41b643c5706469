package db

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 500 * time.Millisecond
)

type statusUpdate struct {
	orderID int64
	status  string
	at      time.Time
}

// BatchStats reports how the writer has been flushing.
type BatchStats struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// BatchWriter buffers order status updates and writes them in one
// transaction, either when maxSize updates are queued or every interval.
// Updates for the same order are applied in the order they were queued.
type BatchWriter struct {
	db       *Database
	log      *zap.Logger
	maxSize  int
	interval time.Duration

	mu        sync.Mutex
	buffer    []statusUpdate
	lastSize  int
	lastFlush time.Time

	writes  atomic.Uint64
	batches atomic.Uint64
	errs    atomic.Uint64

	flushMu   sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBatchWriter starts the background flusher. Non-positive sizes fall back
// to 50 updates and 500ms.
func NewBatchWriter(d *Database, maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	w := &BatchWriter{
		db:       d,
		log:      log,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]statusUpdate, 0, maxSize),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Enqueue queues a status update. It never touches the database on the
// caller's goroutine unless the buffer is full.
func (w *BatchWriter) Enqueue(orderID int64, status string) {
	w.mu.Lock()
	w.buffer = append(w.buffer, statusUpdate{orderID: orderID, status: status, at: time.Now().UTC()})
	full := len(w.buffer) >= w.maxSize
	w.mu.Unlock()

	if full {
		if err := w.Flush(context.Background()); err != nil {
			w.log.Warn("batch_flush_failed", zap.Error(err))
		}
	}
}

// Flush writes everything queued so far.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	ops := w.buffer
	w.buffer = make([]statusUpdate, 0, w.maxSize)
	w.mu.Unlock()

	err := w.write(ctx, ops)

	w.mu.Lock()
	w.lastSize = len(ops)
	w.lastFlush = time.Now()
	w.mu.Unlock()
	w.batches.Add(1)
	if err != nil {
		w.errs.Add(1)
		return err
	}
	w.writes.Add(uint64(len(ops)))
	w.log.Debug("batch_flushed", zap.Int("updates", len(ops)))
	return nil
}

func (w *BatchWriter) write(ctx context.Context, ops []statusUpdate) error {
	tx, err := w.db.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare status batch: %w", err)
	}
	defer stmt.Close()
	for _, op := range ops {
		if _, err := stmt.ExecContext(ctx, op.status, op.at, op.orderID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update order %d: %w", op.orderID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status batch: %w", err)
	}
	return nil
}

func (w *BatchWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil {
				w.log.Warn("batch_flush_failed", zap.Error(err))
			}
		case <-w.done:
			return
		}
	}
}

// Pending is the number of queued updates.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

func (w *BatchWriter) Stats() BatchStats {
	w.mu.Lock()
	size, at := w.lastSize, w.lastFlush
	w.mu.Unlock()
	return BatchStats{
		TotalWrites:   w.writes.Load(),
		TotalBatches:  w.batches.Load(),
		TotalErrors:   w.errs.Load(),
		LastBatchSize: size,
		LastFlushTime: at,
	}
}

// Close stops the flusher and writes what is left. Safe to call twice.
func (w *BatchWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.Flush(context.Background())
	})
	return err
}

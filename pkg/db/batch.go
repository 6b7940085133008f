package db

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// WriteOp is one buffered database write.
type WriteOp struct {
	Query string
	Args  []any
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites  uint64    `json:"total_writes"`
	TotalBatches uint64    `json:"total_batches"`
	TotalErrors  uint64    `json:"total_errors"`
	LastFlush    time.Time `json:"last_flush"`
}

// BatchWriter batches writes into transactions so high-frequency fill and
// order journaling does not hammer SQLite with per-row commits. Failed
// batches are logged and dropped; journaling is best-effort by contract.
type BatchWriter struct {
	d           *Database
	log         *zap.SugaredLogger
	mu          sync.Mutex
	buffer      []WriteOp
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup
	metrics     BatchWriterMetrics
}

// NewBatchWriter starts a background flusher. maxSize triggers size-based
// flushes; interval triggers time-based ones.
func NewBatchWriter(d *Database, maxSize int, interval time.Duration, log *zap.SugaredLogger) *BatchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	bw := &BatchWriter{
		d:           d,
		log:         log,
		buffer:      make([]WriteOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers one operation, flushing when the buffer is full.
func (bw *BatchWriter) Write(query string, args ...any) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, WriteOp{Query: query, Args: args})
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		bw.Flush()
	}
}

// Flush writes all buffered operations in one transaction.
func (bw *BatchWriter) Flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	ops := bw.buffer
	bw.buffer = make([]WriteOp, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.executeBatch(ops)
}

func (bw *BatchWriter) executeBatch(ops []WriteOp) {
	atomic.AddUint64(&bw.metrics.TotalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.metrics.TotalBatches, 1)
	bw.metrics.LastFlush = time.Now()

	tx, err := bw.d.DB.Begin()
	if err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.log.Warnw("batch writer: begin transaction failed", "error", err)
		return
	}
	for _, op := range ops {
		if _, err := tx.Exec(op.Query, op.Args...); err != nil {
			atomic.AddUint64(&bw.metrics.TotalErrors, 1)
			bw.log.Warnw("batch writer: exec failed, batch rolled back", "error", err)
			_ = tx.Rollback()
			return
		}
	}
	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.metrics.TotalErrors, 1)
		bw.log.Warnw("batch writer: commit failed", "error", err)
	}
}

func (bw *BatchWriter) backgroundFlush() {
	defer bw.wg.Done()
	t := time.NewTicker(bw.flushIntval)
	defer t.Stop()
	for {
		select {
		case <-bw.done:
			bw.Flush()
			return
		case <-t.C:
			bw.Flush()
		}
	}
}

// Close flushes remaining writes and stops the background flusher.
func (bw *BatchWriter) Close() {
	close(bw.done)
	bw.wg.Wait()
}

// Metrics returns a copy of the writer's counters.
func (bw *BatchWriter) Metrics() BatchWriterMetrics {
	return BatchWriterMetrics{
		TotalWrites:  atomic.LoadUint64(&bw.metrics.TotalWrites),
		TotalBatches: atomic.LoadUint64(&bw.metrics.TotalBatches),
		TotalErrors:  atomic.LoadUint64(&bw.metrics.TotalErrors),
		LastFlush:    bw.metrics.LastFlush,
	}
}

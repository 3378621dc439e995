// Package persist decouples latency-sensitive ingestion from storage I/O.
// A bounded queue feeds a dedicated writer goroutine that batches records and
// commits them transactionally. The producer never blocks: when the queue is
// full the record is dropped and counted.
package persist

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netlens/netlens/internal/metrics"
	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/store"
)

// Config holds configuration for the batch writer.
type Config struct {
	// QueueSize bounds the hand-off queue. Defaults to 1000.
	QueueSize int
	// BatchSize triggers a flush when the pending batch reaches it.
	// Defaults to 100.
	BatchSize int
	// FlushInterval triggers a flush when this much time has passed since
	// the last one, bounding write latency. Defaults to 1s.
	FlushInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
}

// Writer owns the queue and the single writer goroutine.
type Writer struct {
	store store.BatchStore
	cfg   Config
	log   *slog.Logger
	met   *metrics.Metrics

	queue chan model.PacketRecord
	stats chan model.StatRecord
	done  chan struct{}

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	doneOnce  sync.Once

	enqueued    atomic.Int64
	persisted   atomic.Int64
	dropped     atomic.Int64
	lostBatches atomic.Int64
	lostRecords atomic.Int64
}

// NewWriter creates a writer. Start must be called before records flow.
func NewWriter(st store.BatchStore, cfg Config, log *slog.Logger, met *metrics.Metrics) *Writer {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Writer{
		store: st,
		cfg:   cfg,
		log:   log,
		met:   met,
		queue: make(chan model.PacketRecord, cfg.QueueSize),
		stats: make(chan model.StatRecord, 16),
		done:  make(chan struct{}),
	}
}

// Start launches the writer goroutine. Starting twice, or after Close, is a
// no-op.
func (w *Writer) Start() {
	if w.closed.Load() || w.started.Swap(true) {
		return
	}
	go w.loop()
}

// Enqueue hands a record to the writer without blocking. It reports whether
// the record was accepted; a full queue drops the record and counts it, and so
// does a writer that has already been closed.
func (w *Writer) Enqueue(rec model.PacketRecord) (accepted bool) {
	if w.closed.Load() {
		w.dropped.Add(1)
		w.met.QueueDrops.Inc()
		return false
	}
	// A Close racing past the check above closes the queue under us; treat
	// the send panic as one more drop.
	defer func() {
		if recover() != nil {
			w.dropped.Add(1)
			w.met.QueueDrops.Inc()
			accepted = false
		}
	}()
	select {
	case w.queue <- rec:
		w.enqueued.Add(1)
		w.met.QueueDepth.Set(float64(len(w.queue)))
		return true
	default:
		w.dropped.Add(1)
		w.met.QueueDrops.Inc()
		return false
	}
}

// EnqueueStatistic hands a precomputed aggregate to the writer. Statistics are
// best-effort: a full side channel drops the row silently since the next flush
// will carry a fresher snapshot.
func (w *Writer) EnqueueStatistic(stat model.StatRecord) bool {
	if w.closed.Load() {
		return false
	}
	select {
	case w.stats <- stat:
		return true
	default:
		return false
	}
}

// Close flushes everything already enqueued and stops the writer goroutine.
// It blocks until the goroutine has exited, so records accepted by Enqueue
// before Close are guaranteed to reach a flush attempt. Closing a writer that
// was never started returns immediately.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.queue)
		if !w.started.Load() {
			w.doneOnce.Do(func() { close(w.done) })
		}
	})
	<-w.done
	return nil
}

// Stats returns a point-in-time view of the queue counters.
func (w *Writer) Stats() model.QueueStats {
	return model.QueueStats{
		Depth:       len(w.queue),
		Capacity:    w.cfg.QueueSize,
		Enqueued:    w.enqueued.Load(),
		Persisted:   w.persisted.Load(),
		Dropped:     w.dropped.Load(),
		LostBatches: w.lostBatches.Load(),
		LostRecords: w.lostRecords.Load(),
	}
}

func (w *Writer) loop() {
	defer w.doneOnce.Do(func() { close(w.done) })

	batch := make([]model.PacketRecord, 0, w.cfg.BatchSize)
	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	flush := func() {
		w.flush(batch)
		batch = batch[:0]
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.cfg.FlushInterval)
	}

	for {
		select {
		case rec, ok := <-w.queue:
			if !ok {
				w.flush(batch)
				return
			}
			batch = append(batch, rec)
			w.met.QueueDepth.Set(float64(len(w.queue)))
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-timer.C:
			w.flush(batch)
			batch = batch[:0]
			timer.Reset(w.cfg.FlushInterval)
		}
	}
}

// flush writes one batch in a single transaction. A failed batch is discarded
// whole, logged, and counted; the writer continues with the next batch. No
// partial retry: retrying rows out of a half-applied transaction risks
// duplicate inserts.
func (w *Writer) flush(batch []model.PacketRecord) {
	stats := w.drainStatistics()
	if len(batch) == 0 && len(stats) == 0 {
		return
	}

	if err := w.store.BeginBatch(); err != nil {
		w.discard(batch, err)
		return
	}
	for i := range batch {
		if err := w.store.InsertRecord(&batch[i]); err != nil {
			w.store.RollbackBatch()
			w.discard(batch, err)
			return
		}
	}
	for i := range stats {
		if err := w.store.InsertStatistic(&stats[i]); err != nil {
			w.store.RollbackBatch()
			w.discard(batch, err)
			return
		}
	}
	if err := w.store.CommitBatch(); err != nil {
		w.discard(batch, err)
		return
	}

	w.persisted.Add(int64(len(batch)))
	w.met.RecordsPersisted.Add(float64(len(batch)))
	w.met.BatchesCommitted.Inc()
}

func (w *Writer) drainStatistics() []model.StatRecord {
	var stats []model.StatRecord
	for {
		select {
		case s := <-w.stats:
			stats = append(stats, s)
		default:
			return stats
		}
	}
}

func (w *Writer) discard(batch []model.PacketRecord, err error) {
	w.lostBatches.Add(1)
	w.lostRecords.Add(int64(len(batch)))
	w.met.BatchFailures.Inc()
	w.met.RecordsLost.Add(float64(len(batch)))
	w.log.Error("batch write failed, discarding batch",
		"records", len(batch), "error", err)
}

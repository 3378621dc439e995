package persist

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/store"
)

// memStore is an in-memory BatchStore that can be told to fail.
type memStore struct {
	mu        sync.Mutex
	open      bool
	pending   []model.PacketRecord
	committed []model.PacketRecord
	stats     []model.StatRecord
	batches   int

	failCommit bool
	failInsert bool
}

var _ store.BatchStore = (*memStore)(nil)

func (m *memStore) BeginBatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return store.ErrBatchOpen
	}
	m.open = true
	m.pending = nil
	return nil
}

func (m *memStore) InsertRecord(rec *model.PacketRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return store.ErrNoBatch
	}
	if m.failInsert {
		return errors.New("insert failed")
	}
	m.pending = append(m.pending, *rec)
	return nil
}

func (m *memStore) InsertStatistic(stat *model.StatRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return store.ErrNoBatch
	}
	m.stats = append(m.stats, *stat)
	return nil
}

func (m *memStore) CommitBatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return store.ErrNoBatch
	}
	m.open = false
	if m.failCommit {
		return errors.New("commit failed")
	}
	m.committed = append(m.committed, m.pending...)
	m.pending = nil
	m.batches++
	return nil
}

func (m *memStore) RollbackBatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.pending = nil
	return nil
}

func (m *memStore) committedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

func (m *memStore) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches
}

func testRecord(i int) model.PacketRecord {
	return model.PacketRecord{
		Timestamp: float64(1000 + i),
		Length:    64,
		Protocol:  "TCP",
		SessionID: 1,
	}
}

func TestWriterPersistsEverythingAccepted(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 10, FlushInterval: time.Hour}, nil, nil)
	w.Start()

	for i := 0; i < 35; i++ {
		require.True(t, w.Enqueue(testRecord(i)))
	}
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(35), stats.Enqueued)
	assert.Equal(t, int64(35), stats.Persisted)
	assert.Zero(t, stats.Dropped)
	assert.Equal(t, 35, st.committedCount())
	// 3 full batches plus the final flush on close.
	assert.Equal(t, 4, st.batchCount())
}

func TestWriterSizeTrigger(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 5, FlushInterval: time.Hour}, nil, nil)
	w.Start()

	for i := 0; i < 5; i++ {
		w.Enqueue(testRecord(i))
	}

	require.Eventually(t, func() bool {
		return st.committedCount() == 5
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
}

func TestWriterTimeTrigger(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 1000, FlushInterval: 50 * time.Millisecond}, nil, nil)
	w.Start()

	w.Enqueue(testRecord(0))
	w.Enqueue(testRecord(1))

	// Far below the batch size, so only the interval can flush these.
	require.Eventually(t, func() bool {
		return st.committedCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{QueueSize: 10, BatchSize: 100, FlushInterval: time.Hour}, nil, nil)
	// Not started: the queue can only fill.

	accepted, dropped := 0, 0
	for i := 0; i < 25; i++ {
		if w.Enqueue(testRecord(i)) {
			accepted++
		} else {
			dropped++
		}
	}

	assert.Equal(t, 10, accepted)
	assert.Equal(t, 15, dropped)
	stats := w.Stats()
	assert.Equal(t, int64(10), stats.Enqueued)
	assert.Equal(t, int64(15), stats.Dropped)

	w.Start()
	require.NoError(t, w.Close())
	assert.Equal(t, 10, st.committedCount())
}

func TestWriterDiscardsFailedBatch(t *testing.T) {
	st := &memStore{failCommit: true}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 10, FlushInterval: time.Hour}, nil, nil)
	w.Start()

	for i := 0; i < 10; i++ {
		w.Enqueue(testRecord(i))
	}

	require.Eventually(t, func() bool {
		return w.Stats().LostBatches == 1
	}, 2*time.Second, 10*time.Millisecond)

	st.mu.Lock()
	st.failCommit = false
	st.mu.Unlock()

	// The writer keeps going after a failed batch.
	for i := 0; i < 10; i++ {
		w.Enqueue(testRecord(i))
	}
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(10), stats.LostRecords)
	assert.Equal(t, int64(10), stats.Persisted)
	assert.Equal(t, 10, st.committedCount())
}

func TestWriterInsertErrorRollsBack(t *testing.T) {
	st := &memStore{failInsert: true}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 5, FlushInterval: time.Hour}, nil, nil)
	w.Start()

	for i := 0; i < 5; i++ {
		w.Enqueue(testRecord(i))
	}
	require.NoError(t, w.Close())

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.LostBatches)
	assert.Equal(t, int64(5), stats.LostRecords)
	assert.Zero(t, st.committedCount())
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.False(t, st.open)
}

func TestWriterFlushesStatisticsWithBatch(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{QueueSize: 100, BatchSize: 10, FlushInterval: time.Hour}, nil, nil)
	w.Start()

	w.Enqueue(testRecord(0))
	require.True(t, w.EnqueueStatistic(model.StatRecord{
		SessionID: 1, Timestamp: 1000, Type: "snapshot", Data: []byte(`{}`),
	}))
	require.NoError(t, w.Close())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Len(t, st.committed, 1)
	require.Len(t, st.stats, 1)
	assert.Equal(t, "snapshot", st.stats[0].Type)
}

func TestWriterCloseIsIdempotent(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{}, nil, nil)
	w.Start()

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWriterEnqueueAfterCloseIsRejected(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{}, nil, nil)
	w.Start()
	require.NoError(t, w.Close())

	require.NotPanics(t, func() {
		assert.False(t, w.Enqueue(testRecord(0)))
		assert.False(t, w.EnqueueStatistic(model.StatRecord{SessionID: 1}))
	})
	assert.Equal(t, int64(1), w.Stats().Dropped)
	assert.Zero(t, st.committedCount())
}

func TestWriterCloseWithoutStart(t *testing.T) {
	st := &memStore{}
	w := NewWriter(st, Config{}, nil, nil)
	w.Enqueue(testRecord(0))

	done := make(chan error, 1)
	go func() { done <- w.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return for a writer that was never started")
	}

	// Start after Close must not resurrect the goroutine.
	w.Start()
	assert.False(t, w.Enqueue(testRecord(1)))
}

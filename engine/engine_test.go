package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/rules"
)

// fakeSink records everything enqueued and can simulate a full queue.
type fakeSink struct {
	records []model.PacketRecord
	stats   []model.StatRecord
	full    bool
	closed  bool
}

func (s *fakeSink) Enqueue(rec model.PacketRecord) bool {
	if s.full {
		return false
	}
	s.records = append(s.records, rec)
	return true
}

func (s *fakeSink) EnqueueStatistic(stat model.StatRecord) bool {
	s.stats = append(s.stats, stat)
	return true
}

func (s *fakeSink) Stats() model.QueueStats {
	return model.QueueStats{Enqueued: int64(len(s.records))}
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	return New(sink, cfg, nil, nil), sink
}

func rec(ts float64, length int, proto, src string, sport int, dst string, dport int) model.PacketRecord {
	return model.PacketRecord{
		Timestamp: ts,
		Length:    length,
		Protocol:  proto,
		SrcIP:     src,
		SrcPort:   sport,
		DstIP:     dst,
		DstPort:   dport,
	}
}

func TestEngineAggregates(t *testing.T) {
	e, sink := newTestEngine(t, Config{})
	e.Reset(7)

	e.ProcessRecord(rec(100.0, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	e.ProcessRecord(rec(100.5, 256, "UDP", "10.0.0.1", 2222, "10.0.0.3", 53))
	e.ProcessRecord(rec(101.0, 1024, "TCP", "10.0.0.2", 80, "10.0.0.1", 1111))

	snap := e.CurrentStats()
	assert.Equal(t, int64(7), snap.SessionID)
	assert.Equal(t, int64(3), snap.TotalPackets)
	assert.Equal(t, int64(1792), snap.TotalBytes)
	assert.Equal(t, int64(2), snap.ProtoPackets["TCP"])
	assert.Equal(t, int64(1), snap.ProtoPackets["UDP"])
	assert.Equal(t, int64(1536), snap.ProtoBytes["TCP"])
	assert.Equal(t, int64(3), snap.IPPackets["10.0.0.1"])
	assert.Equal(t, int64(2), snap.IPPackets["10.0.0.2"])
	assert.Equal(t, int64(2), snap.PortPackets[80])
	assert.Equal(t, 100.0, snap.StartTime)
	assert.Equal(t, 101.0, snap.LastUpdate)

	// Every record reached the sink with the session attached.
	require.Len(t, sink.records, 3)
	for _, r := range sink.records {
		assert.Equal(t, int64(7), r.SessionID)
	}
}

func TestEngineCountsRecordEvenWhenSinkFull(t *testing.T) {
	e, sink := newTestEngine(t, Config{})
	sink.full = true

	e.ProcessRecord(rec(100.0, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))

	snap := e.CurrentStats()
	assert.Equal(t, int64(1), snap.TotalPackets)
	assert.Empty(t, sink.records)
}

func TestEngineConnectionSymmetry(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	now := float64(time.Now().Unix())

	e.ProcessRecord(rec(now, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	e.ProcessRecord(rec(now+1, 1024, "TCP", "10.0.0.2", 80, "10.0.0.1", 1111))

	conns := e.ActiveConnections(0)
	require.Len(t, conns, 1)
	assert.Equal(t, int64(2), conns[0].Packets)
	assert.Equal(t, int64(1536), conns[0].Bytes)
	assert.Equal(t, now, conns[0].FirstSeen)
	assert.Equal(t, now+1, conns[0].LastSeen)
	// Display keeps the first-seen direction.
	assert.Equal(t, "10.0.0.1", conns[0].SrcIP)
}

func TestEngineEvictsIdleConnections(t *testing.T) {
	e, _ := newTestEngine(t, Config{ConnectionTimeout: time.Minute})
	now := float64(time.Now().Unix())

	e.ProcessRecord(rec(now-3600, 100, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	e.ProcessRecord(rec(now, 100, "TCP", "10.0.0.3", 2222, "10.0.0.4", 443))

	conns := e.ActiveConnections(0)
	require.Len(t, conns, 1)
	assert.Equal(t, "10.0.0.3", conns[0].SrcIP)
}

func TestEngineTopTalkers(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	for i := 0; i < 5; i++ {
		e.ProcessRecord(rec(float64(100+i), 100, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	}
	e.ProcessRecord(rec(110, 100, "UDP", "10.0.0.3", 53, "10.0.0.1", 2222))

	talkers := e.TopTalkers(2)
	require.Len(t, talkers, 2)
	assert.Equal(t, "10.0.0.1", talkers[0].Addr)
	assert.Equal(t, int64(6), talkers[0].Packets)
	// Bytes count the packet once per endpoint, same as packets.
	assert.Equal(t, int64(600), talkers[0].Bytes)
	assert.Equal(t, "10.0.0.2", talkers[1].Addr)
	assert.Equal(t, int64(500), talkers[1].Bytes)
}

func TestEngineTrafficHistory(t *testing.T) {
	e, _ := newTestEngine(t, Config{WindowSeconds: 60})

	e.ProcessRecord(rec(100.2, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	e.ProcessRecord(rec(100.7, 256, "UDP", "10.0.0.1", 2222, "10.0.0.3", 53))
	e.ProcessRecord(rec(101.1, 1024, "TCP", "10.0.0.2", 80, "10.0.0.1", 1111))

	h := e.TrafficHistory(60)
	require.Len(t, h, 2)
	assert.Equal(t, int64(768), h[0].Bytes)
	assert.Equal(t, int64(1024), h[1].Bytes)

	var total int64
	for _, s := range h {
		total += s.Bytes
	}
	assert.Equal(t, int64(1792), total)
}

func TestEngineAnomalyRules(t *testing.T) {
	compiled, err := rules.CompileAll([]string{`length > 1000`})
	require.NoError(t, err)

	sink := &fakeSink{}
	e := New(sink, Config{Rules: compiled}, nil, nil)

	e.ProcessRecord(rec(100, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))
	e.ProcessRecord(rec(101, 1500, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))

	snap := e.CurrentStats()
	assert.Equal(t, int64(1), snap.Anomalies)
	// Flagged records are persisted like any other.
	assert.Len(t, sink.records, 2)
}

func TestEngineReset(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	e.Reset(1)
	e.ProcessRecord(rec(100, 512, "TCP", "10.0.0.1", 1111, "10.0.0.2", 80))

	e.Reset(2)

	snap := e.CurrentStats()
	assert.Equal(t, int64(2), snap.SessionID)
	assert.Zero(t, snap.TotalPackets)
	assert.Empty(t, snap.ProtoPackets)
	assert.Empty(t, e.TrafficHistory(60))
	assert.Empty(t, e.ActiveConnections(0))
}

func TestEngineShutdownClosesSink(t *testing.T) {
	e, sink := newTestEngine(t, Config{})
	require.NoError(t, e.Shutdown())
	assert.True(t, sink.closed)
}

func TestEngineConcurrentReads(t *testing.T) {
	e, _ := newTestEngine(t, Config{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			e.ProcessRecord(rec(float64(100+i%10), 100, "TCP",
				fmt.Sprintf("10.0.0.%d", i%5), 1111, "10.0.0.200", 80))
		}
	}()
	for i := 0; i < 100; i++ {
		_ = e.CurrentStats()
		_ = e.TopTalkers(3)
		_ = e.TrafficHistory(10)
	}
	<-done

	assert.Equal(t, int64(1000), e.CurrentStats().TotalPackets)
}

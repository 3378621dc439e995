// Package engine maintains real-time traffic statistics. All aggregate state
// lives behind one mutex; every mutation from the capture path and every
// snapshot read goes through it, so readers always observe a consistent view.
package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/netlens/netlens/internal/metrics"
	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/rules"
)

// Sink receives records accepted by the engine for persistence. Enqueue must
// never block; it reports whether the record was accepted.
type Sink interface {
	Enqueue(rec model.PacketRecord) bool
	EnqueueStatistic(stat model.StatRecord) bool
	Stats() model.QueueStats
	Close() error
}

// Config holds engine tuning knobs.
type Config struct {
	// WindowSeconds sets the sliding traffic window span. Defaults to 60.
	WindowSeconds int
	// ConnectionTimeout evicts connections idle longer than this from the
	// active set. Defaults to 5 minutes.
	ConnectionTimeout time.Duration
	// Rules holds compiled anomaly rules. May be empty.
	Rules []*rules.Rule
}

func (c *Config) applyDefaults() {
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 5 * time.Minute
	}
}

// Engine aggregates per-record statistics and forwards records to the sink.
type Engine struct {
	cfg  Config
	sink Sink
	log  *slog.Logger
	met  *metrics.Metrics

	mu           sync.Mutex
	sessionID    int64
	totalPackets int64
	totalBytes   int64
	protoPackets map[string]int64
	protoBytes   map[string]int64
	ipPackets    map[string]int64
	ipBytes      map[string]int64
	portPackets  map[int]int64
	startTime    float64
	lastUpdate   float64
	window       *trafficWindow
	conns        map[model.ConnKey]*model.ConnState
	anomalies    int64
}

// New creates an engine bound to a sink.
func New(sink Sink, cfg Config, log *slog.Logger, met *metrics.Metrics) *Engine {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Engine{
		cfg:          cfg,
		sink:         sink,
		log:          log,
		met:          met,
		protoPackets: make(map[string]int64),
		protoBytes:   make(map[string]int64),
		ipPackets:    make(map[string]int64),
		ipBytes:      make(map[string]int64),
		portPackets:  make(map[int]int64),
		window:       newTrafficWindow(cfg.WindowSeconds),
		conns:        make(map[model.ConnKey]*model.ConnState),
	}
}

// ProcessRecord folds one record into every aggregate and hands it to the
// sink. The order is fixed: totals, window, connections, enqueue, rules.
// A full sink drops the record from persistence only; statistics still count
// it.
func (e *Engine) ProcessRecord(rec model.PacketRecord) {
	e.mu.Lock()
	rec.SessionID = e.sessionID

	e.totalPackets++
	e.totalBytes += int64(rec.Length)
	e.protoPackets[rec.Protocol]++
	e.protoBytes[rec.Protocol] += int64(rec.Length)
	if rec.SrcIP != "" {
		e.ipPackets[rec.SrcIP]++
		e.ipBytes[rec.SrcIP] += int64(rec.Length)
	}
	if rec.DstIP != "" {
		e.ipPackets[rec.DstIP]++
		e.ipBytes[rec.DstIP] += int64(rec.Length)
	}
	if rec.SrcPort > 0 {
		e.portPackets[rec.SrcPort]++
	}
	if rec.DstPort > 0 {
		e.portPackets[rec.DstPort]++
	}
	if e.startTime == 0 || rec.Timestamp < e.startTime {
		e.startTime = rec.Timestamp
	}
	if rec.Timestamp > e.lastUpdate {
		e.lastUpdate = rec.Timestamp
	}

	e.window.add(rec.Second(), rec.Length)
	e.touchConnection(&rec)
	e.mu.Unlock()

	e.met.PacketsTotal.Inc()
	e.met.BytesTotal.Add(float64(rec.Length))

	e.sink.Enqueue(rec)

	for _, r := range e.cfg.Rules {
		if r.Match(&rec) {
			e.mu.Lock()
			e.anomalies++
			e.mu.Unlock()
			e.met.Anomalies.Inc()
			e.log.Warn("anomaly rule matched",
				"rule", r.Source,
				"protocol", rec.Protocol,
				"src", model.Endpoint(rec.SrcIP, rec.SrcPort),
				"dst", model.Endpoint(rec.DstIP, rec.DstPort),
				"length", rec.Length)
		}
	}
}

// touchConnection upserts the record's normalized connection. Caller holds mu.
func (e *Engine) touchConnection(rec *model.PacketRecord) {
	if rec.SrcIP == "" || rec.DstIP == "" {
		return
	}
	key := model.NewConnKey(rec.Protocol, rec.SrcIP, rec.SrcPort, rec.DstIP, rec.DstPort)
	conn, ok := e.conns[key]
	if !ok {
		conn = &model.ConnState{
			Key:       key,
			Protocol:  rec.Protocol,
			SrcIP:     rec.SrcIP,
			DstIP:     rec.DstIP,
			SrcPort:   rec.SrcPort,
			DstPort:   rec.DstPort,
			FirstSeen: rec.Timestamp,
		}
		e.conns[key] = conn
	}
	conn.Packets++
	conn.Bytes += int64(rec.Length)
	if rec.Timestamp > conn.LastSeen {
		conn.LastSeen = rec.Timestamp
	}
}

// CurrentStats returns a deep-copied snapshot of all aggregates.
func (e *Engine) CurrentStats() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := model.Snapshot{
		SessionID:    e.sessionID,
		TotalPackets: e.totalPackets,
		TotalBytes:   e.totalBytes,
		ProtoPackets: copyStrMap(e.protoPackets),
		ProtoBytes:   copyStrMap(e.protoBytes),
		IPPackets:    copyStrMap(e.ipPackets),
		PortPackets:  copyIntMap(e.portPackets),
		StartTime:    e.startTime,
		LastUpdate:   e.lastUpdate,
		Anomalies:    e.anomalies,
	}
	if elapsed := e.lastUpdate - e.startTime; elapsed > 0 {
		snap.PacketRate = float64(e.totalPackets) / elapsed
	}
	snap.ByteRate = e.window.rate()
	if e.sink != nil {
		snap.Queue = e.sink.Stats()
	}
	return snap
}

// TrafficHistory returns per-second samples for the last `seconds` of the
// sliding window, capped at the window span.
func (e *Engine) TrafficHistory(seconds int) []model.TrafficSample {
	if seconds <= 0 || seconds > e.cfg.WindowSeconds {
		seconds = e.cfg.WindowSeconds
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.history(seconds)
}

// TopTalkers returns the n addresses with the most packets, descending.
func (e *Engine) TopTalkers(n int) []model.TopTalker {
	e.mu.Lock()
	talkers := make([]model.TopTalker, 0, len(e.ipPackets))
	for addr, pkts := range e.ipPackets {
		talkers = append(talkers, model.TopTalker{
			Addr:    addr,
			Packets: pkts,
			Bytes:   e.ipBytes[addr],
		})
	}
	e.mu.Unlock()

	sort.Slice(talkers, func(i, j int) bool {
		if talkers[i].Packets != talkers[j].Packets {
			return talkers[i].Packets > talkers[j].Packets
		}
		return talkers[i].Addr < talkers[j].Addr
	})
	if n > 0 && n < len(talkers) {
		talkers = talkers[:n]
	}
	return talkers
}

// ActiveConnections returns connections seen within the timeout, most recent
// first, and evicts the rest. A non-positive timeout uses the configured one.
func (e *Engine) ActiveConnections(timeout time.Duration) []model.ConnState {
	if timeout <= 0 {
		timeout = e.cfg.ConnectionTimeout
	}
	cutoff := float64(time.Now().Add(-timeout).UnixNano()) / 1e9

	e.mu.Lock()
	out := make([]model.ConnState, 0, len(e.conns))
	for key, conn := range e.conns {
		if conn.LastSeen < cutoff {
			delete(e.conns, key)
			continue
		}
		out = append(out, *conn)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen > out[j].LastSeen
	})
	return out
}

// Reset clears all aggregates and binds subsequent records to a new session.
func (e *Engine) Reset(sessionID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = sessionID
	e.totalPackets = 0
	e.totalBytes = 0
	e.protoPackets = make(map[string]int64)
	e.protoBytes = make(map[string]int64)
	e.ipPackets = make(map[string]int64)
	e.ipBytes = make(map[string]int64)
	e.portPackets = make(map[int]int64)
	e.startTime = 0
	e.lastUpdate = 0
	e.anomalies = 0
	e.window.reset()
	e.conns = make(map[model.ConnKey]*model.ConnState)
}

// Shutdown closes the sink, flushing everything it already accepted.
func (e *Engine) Shutdown() error {
	if e.sink == nil {
		return nil
	}
	return e.sink.Close()
}

func copyStrMap(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyIntMap(src map[int]int64) map[int]int64 {
	dst := make(map[int]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Package app wires the capture source, stats engine, batch writer, and store
// into one analyzer with a session lifecycle.
package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netlens/netlens/capture"
	"github.com/netlens/netlens/engine"
	"github.com/netlens/netlens/internal/config"
	"github.com/netlens/netlens/internal/metrics"
	"github.com/netlens/netlens/persist"
	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/query"
	"github.com/netlens/netlens/pkg/store/sqlite"
	"github.com/netlens/netlens/rules"
)

var (
	// ErrCaptureRunning is returned when a capture is already in progress.
	ErrCaptureRunning = errors.New("capture already running")
	// ErrNoCapture is returned when no capture is in progress.
	ErrNoCapture = errors.New("no capture running")
)

// snapshotInterval is how often a statistics snapshot row is handed to the
// writer during a running capture.
const snapshotInterval = 10 * time.Second

// Analyzer owns the full pipeline.
type Analyzer struct {
	cfg *config.Config
	log *slog.Logger
	met *metrics.Metrics

	store  *sqlite.Store
	writer *persist.Writer
	engine *engine.Engine
	query  *query.SQLiteEngine

	mu       sync.Mutex
	source   *capture.Source
	session  *model.Session
	snapStop chan struct{}
}

// New builds the pipeline from configuration. The writer goroutine starts
// immediately; capture starts on demand.
func New(cfg *config.Config, log *slog.Logger) (*Analyzer, error) {
	if log == nil {
		log = slog.Default()
	}

	st, err := sqlite.New(sqlite.Config{Path: cfg.Storage.Path, WAL: true})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Storage.AutoCleanup && cfg.Storage.RetentionDays > 0 {
		n, err := st.CleanupOlderThan(cfg.Storage.RetentionDays)
		if err != nil {
			log.Warn("startup cleanup failed", "error", err)
		} else if n > 0 {
			log.Info("startup cleanup removed old rows", "rows", n, "retention_days", cfg.Storage.RetentionDays)
		}
	}

	compiled, err := rules.CompileAll(cfg.Engine.AnomalyRules)
	if err != nil {
		st.Close()
		return nil, err
	}

	met := metrics.New()
	writer := persist.NewWriter(st, persist.Config{
		QueueSize:     cfg.Engine.QueueSize,
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval.Std(),
	}, log, met)
	writer.Start()

	eng := engine.New(writer, engine.Config{
		WindowSeconds:     cfg.Engine.WindowSeconds,
		ConnectionTimeout: cfg.Engine.ConnectionTimeout.Std(),
		Rules:             compiled,
	}, log, met)

	return &Analyzer{
		cfg:    cfg,
		log:    log,
		met:    met,
		store:  st,
		writer: writer,
		engine: eng,
		query:  query.NewSQLiteEngine(st),
	}, nil
}

// Engine exposes the stats engine for snapshot reads.
func (a *Analyzer) Engine() *engine.Engine { return a.engine }

// Query exposes the read-side query engine.
func (a *Analyzer) Query() *query.SQLiteEngine { return a.query }

// Store exposes the session store.
func (a *Analyzer) Store() *sqlite.Store { return a.store }

// Metrics exposes the Prometheus registry handler.
func (a *Analyzer) Metrics() *metrics.Metrics { return a.met }

// StartCapture opens the interface and begins a new capture session. The
// interface and filter default to the configured ones when empty.
func (a *Analyzer) StartCapture(name, iface, bpf string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source != nil {
		return nil, ErrCaptureRunning
	}
	if iface == "" {
		iface = a.cfg.Capture.Interface
	}
	if iface == "" {
		return nil, errors.New("no capture interface configured")
	}
	if bpf == "" {
		bpf = a.cfg.Capture.BPF
	}
	if name == "" {
		name = fmt.Sprintf("capture-%s", time.Now().Format("20060102-150405"))
	}

	src, err := capture.OpenLive(iface, bpf, capture.Config{
		SnapLen:      a.cfg.Capture.SnapLen,
		Promiscuous:  a.cfg.Capture.Promiscuous,
		PollInterval: a.cfg.Capture.PollInterval.Std(),
	}, a.log)
	if err != nil {
		return nil, err
	}

	sid, err := a.store.CreateSession(name, map[string]string{
		"interface": iface,
		"bpf":       bpf,
	})
	if err != nil {
		src.Stop()
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.engine.Reset(sid)
	src.Start(a.engine.ProcessRecord)
	a.source = src
	a.session = &model.Session{ID: sid, Name: name, StartTime: nowSeconds()}
	a.snapStop = make(chan struct{})
	go a.snapshotLoop(a.snapStop)

	a.log.Info("capture started", "session", sid, "name", name, "interface", iface, "bpf", bpf)
	return a.session, nil
}

// ReplayFile ingests a pcap file as one complete session and returns the
// finished session. It blocks until the whole file is read and flushed.
func (a *Analyzer) ReplayFile(name, path, bpf string) (*model.Session, error) {
	a.mu.Lock()
	if a.source != nil {
		a.mu.Unlock()
		return nil, ErrCaptureRunning
	}
	if name == "" {
		name = fmt.Sprintf("replay-%s", time.Now().Format("20060102-150405"))
	}

	src, err := capture.OpenFile(path, bpf, capture.Config{
		SnapLen: a.cfg.Capture.SnapLen,
	}, a.log)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}

	sid, err := a.store.CreateSession(name, map[string]string{"file": path, "bpf": bpf})
	if err != nil {
		src.Stop()
		a.mu.Unlock()
		return nil, fmt.Errorf("create session: %w", err)
	}

	a.engine.Reset(sid)
	src.Start(a.engine.ProcessRecord)
	a.source = src
	a.session = &model.Session{ID: sid, Name: name, StartTime: nowSeconds()}
	a.mu.Unlock()

	src.Wait()
	return a.StopCapture()
}

// StopCapture ends the running session: the source stops, the engine snapshot
// is recorded, and the session row gets its final aggregates.
func (a *Analyzer) StopCapture() (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.source == nil {
		return nil, ErrNoCapture
	}
	a.source.Stop()
	if a.snapStop != nil {
		close(a.snapStop)
		a.snapStop = nil
	}

	snap := a.engine.CurrentStats()
	a.enqueueSnapshot(&snap)

	sess := a.session
	sess.EndTime = nowSeconds()
	sess.PacketCount = snap.TotalPackets
	sess.TotalBytes = snap.TotalBytes
	if err := a.store.EndSession(sess.ID, snap.TotalPackets, snap.TotalBytes, sess.EndTime); err != nil {
		a.log.Error("ending session failed", "session", sess.ID, "error", err)
	}

	a.log.Info("capture stopped",
		"session", sess.ID,
		"packets", snap.TotalPackets,
		"bytes", snap.TotalBytes,
		"dropped", snap.Queue.Dropped)

	a.source = nil
	a.session = nil
	return sess, nil
}

// Capturing reports whether a session is in progress.
func (a *Analyzer) Capturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source != nil
}

// Session returns the running session, or nil.
func (a *Analyzer) Session() *model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	sess := *a.session
	return &sess
}

// Close stops any running capture, flushes the writer, and closes the store.
func (a *Analyzer) Close() error {
	if _, err := a.StopCapture(); err != nil && !errors.Is(err, ErrNoCapture) {
		a.log.Error("stopping capture on close failed", "error", err)
	}
	if err := a.engine.Shutdown(); err != nil {
		a.log.Error("writer shutdown failed", "error", err)
	}
	return a.store.Close()
}

// snapshotLoop periodically hands an engine snapshot to the writer so the
// statistics table tracks a running capture, not only its end.
func (a *Analyzer) snapshotLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := a.engine.CurrentStats()
			a.enqueueSnapshot(&snap)
		}
	}
}

func (a *Analyzer) enqueueSnapshot(snap *model.Snapshot) {
	if snap.SessionID == 0 || snap.TotalPackets == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	a.writer.EnqueueStatistic(model.StatRecord{
		SessionID: snap.SessionID,
		Timestamp: nowSeconds(),
		Type:      "snapshot",
		Data:      data,
	})
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

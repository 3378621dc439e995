// Package capture reads frames from a network interface or pcap file and
// turns them into packet records.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/netlens/netlens/pkg/model"
)

// Handler receives each decoded record. It is called from the capture
// goroutine and must not block for long.
type Handler func(rec model.PacketRecord)

// Config holds capture options.
type Config struct {
	// SnapLen caps how many bytes of each frame are read. Defaults to 65536.
	SnapLen int32
	// Promiscuous enables promiscuous mode on live captures.
	Promiscuous bool
	// PollInterval bounds how long a read blocks, so a stop request is
	// noticed even on a quiet interface. Defaults to 100ms.
	PollInterval time.Duration
	// KeepRaw copies raw frame bytes into each record.
	KeepRaw bool
}

func (c *Config) applyDefaults() {
	if c.SnapLen <= 0 {
		c.SnapLen = 65536
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// Source owns a pcap handle and the goroutine draining it.
type Source struct {
	handle *pcap.Handle
	dec    *Decoder
	log    *slog.Logger
	live   bool

	stopped  atomic.Bool
	finished chan struct{}

	captured     atomic.Int64
	decodeErrors atomic.Int64
}

// ListInterfaces returns the capturable network interfaces.
func ListInterfaces() ([]pcap.Interface, error) {
	return pcap.FindAllDevs()
}

// OpenLive opens a live capture on iface with an optional BPF filter.
func OpenLive(iface, bpf string, cfg Config, log *slog.Logger) (*Source, error) {
	cfg.applyDefaults()
	handle, err := pcap.OpenLive(iface, cfg.SnapLen, cfg.Promiscuous, cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("open interface %s: %w", iface, err)
	}
	return newSource(handle, bpf, cfg, log, true)
}

// OpenFile opens a pcap file for replay with an optional BPF filter.
func OpenFile(path, bpf string, cfg Config, log *slog.Logger) (*Source, error) {
	cfg.applyDefaults()
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file %s: %w", path, err)
	}
	return newSource(handle, bpf, cfg, log, false)
}

func newSource(handle *pcap.Handle, bpf string, cfg Config, log *slog.Logger, live bool) (*Source, error) {
	if bpf != "" {
		if err := handle.SetBPFFilter(bpf); err != nil {
			handle.Close()
			return nil, fmt.Errorf("set bpf filter %q: %w", bpf, err)
		}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		handle:   handle,
		dec:      NewDecoder(cfg.KeepRaw),
		log:      log,
		live:     live,
		finished: make(chan struct{}),
	}, nil
}

// Start launches the capture loop. Each decoded record is passed to handler;
// frames that fail to decode are skipped and counted.
func (s *Source) Start(handler Handler) {
	go s.loop(handler)
}

func (s *Source) loop(handler Handler) {
	defer close(s.finished)

	for !s.stopped.Load() {
		data, ci, err := s.handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, pcap.NextErrorTimeoutExpired) {
				continue
			}
			// io.EOF ends file replay; anything else ends the loop too,
			// pcap read errors are not recoverable.
			if !errors.Is(err, io.EOF) && !errors.Is(err, pcap.NextErrorNoMorePackets) {
				s.log.Error("capture read failed", "error", err)
			}
			return
		}

		rec, err := s.dec.Decode(data, ci)
		if err != nil {
			s.decodeErrors.Add(1)
			s.log.Debug("skipping undecodable frame", "error", err)
			continue
		}
		s.captured.Add(1)
		handler(rec)
	}
}

// Stop signals the capture loop and waits briefly for it to exit. A loop that
// does not come back within the grace period is abandoned with a warning;
// records it had not handed off yet are lost.
func (s *Source) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	select {
	case <-s.finished:
	case <-time.After(2 * time.Second):
		s.log.Warn("capture loop did not stop in time, possible data loss")
	}
	s.handle.Close()
}

// Wait blocks until the capture loop exits, which for file replay means the
// whole file has been read.
func (s *Source) Wait() {
	<-s.finished
}

// Captured returns how many records the source has decoded and handed off.
func (s *Source) Captured() int64 { return s.captured.Load() }

// DecodeErrors returns how many frames were skipped as undecodable.
func (s *Source) DecodeErrors() int64 { return s.decodeErrors.Load() }

// Live reports whether this source reads from a live interface.
func (s *Source) Live() bool { return s.live }

// Package model defines the core data types shared by the capture,
// statistics, and persistence layers. Records are storage-friendly and
// immutable once handed to the pipeline.
package model

import (
	"fmt"
	"time"
)

// PacketRecord is the normalized form of one captured frame.
// Timestamp is fractional seconds since the Unix epoch, which is also the
// storage representation. A record is associated with exactly one session
// once enqueued for persistence and is never mutated afterwards.
type PacketRecord struct {
	Timestamp float64 `json:"timestamp"`
	Length    int     `json:"length"`
	Protocol  string  `json:"protocol"`
	SrcIP     string  `json:"src_ip,omitempty"`
	DstIP     string  `json:"dst_ip,omitempty"`
	SrcPort   int     `json:"src_port,omitempty"`
	DstPort   int     `json:"dst_port,omitempty"`
	Summary   string  `json:"summary,omitempty"`
	Raw       []byte  `json:"-"`

	// SessionID is attached by the stats engine before the record is
	// enqueued for persistence.
	SessionID int64 `json:"session_id,omitempty"`
}

// Time returns the record timestamp as time.Time.
func (r *PacketRecord) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Second returns the wall-clock second bucket the record falls into.
func (r *PacketRecord) Second() int64 {
	return int64(r.Timestamp)
}

// Session is one bounded capture run. It is created at capture start and
// finalized exactly once at capture stop, when the end time and the final
// aggregate totals are written.
type Session struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	StartTime   float64           `json:"start_time"`
	EndTime     float64           `json:"end_time,omitempty"`
	PacketCount int64             `json:"packet_count"`
	TotalBytes  int64             `json:"total_bytes"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Active reports whether the session has not been finalized yet.
func (s *Session) Active() bool { return s.EndTime == 0 }

// ConnKey identifies a bidirectional connection. Endpoints are ordered by a
// canonical comparator so that both directions of a flow map to one key.
type ConnKey struct {
	Protocol string
	AddrA    string // AddrA <= AddrB
	AddrB    string
}

// NewConnKey builds the normalized key for a record's 4-tuple.
func NewConnKey(protocol, srcIP string, srcPort int, dstIP string, dstPort int) ConnKey {
	a := Endpoint(srcIP, srcPort)
	b := Endpoint(dstIP, dstPort)
	if a > b {
		a, b = b, a
	}
	return ConnKey{Protocol: protocol, AddrA: a, AddrB: b}
}

// Endpoint formats an ip:port pair the way connection keys store it.
func Endpoint(ip string, port int) string {
	if port == 0 {
		return ip
	}
	return fmt.Sprintf("%s:%d", ip, port)
}

// ConnState is the aggregate for one tracked connection. SrcIP/DstIP keep the
// first-seen direction for display; counters cover both directions.
type ConnState struct {
	Key       ConnKey `json:"-"`
	Protocol  string  `json:"protocol"`
	SrcIP     string  `json:"src_ip"`
	DstIP     string  `json:"dst_ip"`
	SrcPort   int     `json:"src_port,omitempty"`
	DstPort   int     `json:"dst_port,omitempty"`
	Packets   int64   `json:"packets"`
	Bytes     int64   `json:"bytes"`
	FirstSeen float64 `json:"first_seen"`
	LastSeen  float64 `json:"last_seen"`
}

// TrafficSample is one fixed-width (1s) bucket of the sliding traffic window.
type TrafficSample struct {
	Second  int64 `json:"second"`
	Packets int64 `json:"packets"`
	Bytes   int64 `json:"bytes"`
}

// TopTalker is one entry of the per-IP ranking.
type TopTalker struct {
	Addr    string `json:"addr"`
	Packets int64  `json:"packets"`
	Bytes   int64  `json:"bytes"`
}

// QueueStats describes the persistence hand-off queue. Dropped counts records
// rejected because the queue was full; Lost* count records discarded because a
// whole batch failed to commit. Together they make data loss auditable.
type QueueStats struct {
	Depth       int   `json:"depth"`
	Capacity    int   `json:"capacity"`
	Enqueued    int64 `json:"enqueued"`
	Persisted   int64 `json:"persisted"`
	Dropped     int64 `json:"dropped"`
	LostBatches int64 `json:"lost_batches"`
	LostRecords int64 `json:"lost_records"`
}

// Snapshot is an immutable point-in-time copy of the engine's aggregates.
// Maps are deep-copied; readers never see live state.
type Snapshot struct {
	SessionID    int64            `json:"session_id"`
	TotalPackets int64            `json:"total_packets"`
	TotalBytes   int64            `json:"total_bytes"`
	ProtoPackets map[string]int64 `json:"protocol_counts"`
	ProtoBytes   map[string]int64 `json:"protocol_bytes"`
	IPPackets    map[string]int64 `json:"ip_counts"`
	PortPackets  map[int]int64    `json:"port_counts"`
	StartTime    float64          `json:"start_time,omitempty"`
	LastUpdate   float64          `json:"last_update,omitempty"`
	PacketRate   float64          `json:"packet_rate"`
	ByteRate     float64          `json:"byte_rate"`
	Anomalies    int64            `json:"anomalies"`
	Queue        QueueStats       `json:"queue"`
}

// StatRecord is one precomputed aggregate persisted to the statistics table.
// Data is an opaque JSON document of the given type.
type StatRecord struct {
	SessionID int64
	Timestamp float64
	Type      string
	Data      []byte
}

// Package query provides the read side of the store for the CLI and HTTP API.
package query

import (
	"context"

	"github.com/netlens/netlens/pkg/model"
)

// PacketFilter narrows packet queries. Zero values mean "no constraint".
type PacketFilter struct {
	SessionID int64
	Protocol  string
	SrcIP     string
	DstIP     string
	IP        string // matches either endpoint
	StartTime float64
	EndTime   float64

	SortBy    string // "timestamp", "length", "protocol"; default id order
	SortOrder string // "asc" or "desc"
	Limit     int
	Offset    int
}

// ProtocolStat is one row of a protocol distribution.
type ProtocolStat struct {
	Protocol string  `json:"protocol"`
	Packets  int64   `json:"packets"`
	Bytes    int64   `json:"bytes"`
	Percent  float64 `json:"percent"`
}

// TrendPoint is one interval of a traffic trend. Intervals with no packets
// are present with zero counts.
type TrendPoint struct {
	Start   float64 `json:"start"`
	Packets int64   `json:"packets"`
	Bytes   int64   `json:"bytes"`
}

// Engine is the read-side query surface.
type Engine interface {
	GetPackets(ctx context.Context, filter PacketFilter) ([]*model.PacketRecord, error)
	PacketCount(ctx context.Context, sessionID int64) (int64, error)
	ProtocolStats(ctx context.Context, sessionID int64, startTime, endTime float64) ([]*ProtocolStat, error)
	TrafficTrend(ctx context.Context, sessionID int64, unitSeconds int) ([]TrendPoint, error)
	TopTalkers(ctx context.Context, sessionID int64, limit int) ([]*model.TopTalker, error)
	Close() error
}

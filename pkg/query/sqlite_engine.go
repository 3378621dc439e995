package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/netlens/netlens/pkg/model"
	"github.com/netlens/netlens/pkg/store/sqlite"
)

// SQLiteEngine implements Engine over the SQLite store.
type SQLiteEngine struct {
	store *sqlite.Store
	owned bool
}

var _ Engine = (*SQLiteEngine)(nil)

// NewSQLiteEngine wraps an already open store. Close is a no-op for the
// wrapped store; the owner closes it.
func NewSQLiteEngine(store *sqlite.Store) *SQLiteEngine {
	return &SQLiteEngine{store: store}
}

// Open opens the database read-only for standalone query commands.
func Open(path string) (*SQLiteEngine, error) {
	st, err := sqlite.New(sqlite.Config{Path: path, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &SQLiteEngine{store: st, owned: true}, nil
}

// Close closes the store if this engine opened it.
func (e *SQLiteEngine) Close() error {
	if e.owned {
		return e.store.Close()
	}
	return nil
}

// GetPackets retrieves packet records matching the filter.
func (e *SQLiteEngine) GetPackets(ctx context.Context, filter PacketFilter) ([]*model.PacketRecord, error) {
	query := `SELECT id, session_id, timestamp, length, protocol,
	                 src_ip, dst_ip, src_port, dst_port, summary
	          FROM packets WHERE 1=1`

	args := []any{}

	if filter.SessionID > 0 {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Protocol != "" {
		query += " AND protocol = ?"
		args = append(args, filter.Protocol)
	}
	if filter.SrcIP != "" {
		query += " AND src_ip = ?"
		args = append(args, filter.SrcIP)
	}
	if filter.DstIP != "" {
		query += " AND dst_ip = ?"
		args = append(args, filter.DstIP)
	}
	if filter.IP != "" {
		query += " AND (src_ip = ? OR dst_ip = ?)"
		args = append(args, filter.IP, filter.IP)
	}
	if filter.StartTime > 0 {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartTime)
	}
	if filter.EndTime > 0 {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndTime)
	}

	sortCol := "id"
	switch filter.SortBy {
	case "timestamp":
		sortCol = "timestamp"
	case "length":
		sortCol = "length"
	case "protocol":
		sortCol = "protocol"
	}
	sortOrder := "ASC"
	if filter.SortOrder == "desc" {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortCol, sortOrder)

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query packets: %w", err)
	}
	defer rows.Close()

	var packets []*model.PacketRecord
	for rows.Next() {
		rec, err := scanPacket(rows)
		if err != nil {
			return nil, err
		}
		packets = append(packets, rec)
	}
	return packets, rows.Err()
}

// PacketCount returns the stored packet count, optionally scoped to a session.
func (e *SQLiteEngine) PacketCount(ctx context.Context, sessionID int64) (int64, error) {
	query := "SELECT COUNT(*) FROM packets"
	args := []any{}
	if sessionID > 0 {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	var count int64
	err := e.store.DB().QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// ProtocolStats returns the stored protocol distribution with percentages of
// the total packet count, largest share first. A non-zero startTime or endTime
// restricts the distribution to that timestamp range; percentages are of the
// packets within the range.
func (e *SQLiteEngine) ProtocolStats(ctx context.Context, sessionID int64, startTime, endTime float64) ([]*ProtocolStat, error) {
	query := `SELECT protocol, COUNT(*) AS cnt, COALESCE(SUM(length), 0) AS total_bytes
	          FROM packets WHERE 1=1`
	args := []any{}
	if sessionID > 0 {
		query += " AND session_id = ?"
		args = append(args, sessionID)
	}
	if startTime > 0 {
		query += " AND timestamp >= ?"
		args = append(args, startTime)
	}
	if endTime > 0 {
		query += " AND timestamp <= ?"
		args = append(args, endTime)
	}
	query += " GROUP BY protocol ORDER BY cnt DESC"

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query protocol stats: %w", err)
	}
	defer rows.Close()

	var stats []*ProtocolStat
	var total int64
	for rows.Next() {
		var stat ProtocolStat
		if err := rows.Scan(&stat.Protocol, &stat.Packets, &stat.Bytes); err != nil {
			return nil, err
		}
		total += stat.Packets
		stats = append(stats, &stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, stat := range stats {
		if total > 0 {
			stat.Percent = float64(stat.Packets) / float64(total) * 100
		}
	}
	return stats, nil
}

// TrafficTrend buckets stored packets into fixed intervals of unitSeconds.
// Gaps between the first and last interval are filled with zero points so a
// plot of the result shows quiet periods.
func (e *SQLiteEngine) TrafficTrend(ctx context.Context, sessionID int64, unitSeconds int) ([]TrendPoint, error) {
	if unitSeconds <= 0 {
		unitSeconds = 1
	}

	query := `SELECT CAST(timestamp / ? AS INTEGER) AS bucket,
	                 COUNT(*), COALESCE(SUM(length), 0)
	          FROM packets`
	args := []any{unitSeconds}
	if sessionID > 0 {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " GROUP BY bucket ORDER BY bucket ASC"

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query traffic trend: %w", err)
	}
	defer rows.Close()

	type bucketRow struct {
		bucket  int64
		packets int64
		bytes   int64
	}
	var buckets []bucketRow
	for rows.Next() {
		var b bucketRow
		if err := rows.Scan(&b.bucket, &b.packets, &b.bytes); err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(buckets) == 0 {
		return nil, nil
	}

	unit := int64(unitSeconds)
	first, last := buckets[0].bucket, buckets[len(buckets)-1].bucket
	trend := make([]TrendPoint, 0, last-first+1)
	i := 0
	for b := first; b <= last; b++ {
		point := TrendPoint{Start: float64(b * unit)}
		if i < len(buckets) && buckets[i].bucket == b {
			point.Packets = buckets[i].packets
			point.Bytes = buckets[i].bytes
			i++
		}
		trend = append(trend, point)
	}
	return trend, nil
}

// TopTalkers returns the addresses with the most stored traffic, counting a
// packet once per endpoint.
func (e *SQLiteEngine) TopTalkers(ctx context.Context, sessionID int64, limit int) ([]*model.TopTalker, error) {
	if limit <= 0 {
		limit = 10
	}

	sub := `SELECT src_ip AS ip, length FROM packets WHERE src_ip IS NOT NULL AND src_ip != ''`
	sub2 := `SELECT dst_ip AS ip, length FROM packets WHERE dst_ip IS NOT NULL AND dst_ip != ''`
	args := []any{}
	if sessionID > 0 {
		sub += " AND session_id = ?"
		sub2 += " AND session_id = ?"
		args = append(args, sessionID, sessionID)
	}
	query := fmt.Sprintf(`SELECT ip, COUNT(*) AS pkts, SUM(length) AS total_bytes
	          FROM (%s UNION ALL %s)
	          GROUP BY ip
	          ORDER BY pkts DESC, ip ASC
	          LIMIT %d`, sub, sub2, limit)

	rows, err := e.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query top talkers: %w", err)
	}
	defer rows.Close()

	var talkers []*model.TopTalker
	for rows.Next() {
		var t model.TopTalker
		if err := rows.Scan(&t.Addr, &t.Packets, &t.Bytes); err != nil {
			return nil, err
		}
		talkers = append(talkers, &t)
	}
	return talkers, rows.Err()
}

func scanPacket(rows *sql.Rows) (*model.PacketRecord, error) {
	var (
		rec     model.PacketRecord
		id      int64
		srcIP   sql.NullString
		dstIP   sql.NullString
		srcPort sql.NullInt64
		dstPort sql.NullInt64
		summary sql.NullString
	)
	err := rows.Scan(&id, &rec.SessionID, &rec.Timestamp, &rec.Length, &rec.Protocol,
		&srcIP, &dstIP, &srcPort, &dstPort, &summary)
	if err != nil {
		return nil, err
	}
	rec.SrcIP = srcIP.String
	rec.DstIP = dstIP.String
	rec.SrcPort = int(srcPort.Int64)
	rec.DstPort = int(dstPort.Int64)
	rec.Summary = summary.String
	return &rec, nil
}

// Package store persists change events, diagnostics and per-device statistics
// to SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	_ "modernc.org/sqlite"
)

// DefaultHistoryLimit 最多保留的事件条数，超出后删除最旧的
const DefaultHistoryLimit = 1000

var ErrNotFound = errors.New("device not found")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	identity TEXT NOT NULL,
	kind TEXT NOT NULL,
	vid TEXT,
	pid TEXT,
	name TEXT,
	serial TEXT,
	port TEXT,
	reason TEXT,
	severity TEXT,
	ts TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS diagnostics (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	level TEXT NOT NULL,
	code TEXT NOT NULL,
	message TEXT,
	identity TEXT,
	ts TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS device_stats (
	identity TEXT PRIMARY KEY,
	vid TEXT,
	pid TEXT,
	name TEXT,
	connections INTEGER NOT NULL DEFAULT 0,
	disconnections INTEGER NOT NULL DEFAULT 0,
	suspicious INTEGER NOT NULL DEFAULT 0,
	first_seen TEXT NOT NULL,
	last_seen TEXT NOT NULL
);
`

type Store struct {
	db           *sql.DB
	historyLimit int
}

// Open 打开 (或创建) 数据库并初始化表结构。historyLimit <= 0 时使用默认值。
func Open(path string, historyLimit int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{db: db, historyLimit: historyLimit}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EventRecord 数据库中保存的一条事件
type EventRecord struct {
	ID        string
	Identity  string
	Kind      string
	VendorID  string
	ProductID string
	Name      string
	Serial    string
	Port      string
	Reason    string
	Severity  string
	Timestamp time.Time
}

// DeviceStats 单个设备身份的累计统计
type DeviceStats struct {
	Identity       string
	VendorID       string
	ProductID      string
	Name           string
	Connections    int
	Disconnections int
	Suspicious     int
	FirstSeen      time.Time
	LastSeen       time.Time
}

func (s *Store) OnEvent(ctx context.Context, ev model.ChangeEvent) error {
	var reason, severity string
	suspicious := 0
	if ev.Suspicion != nil {
		reason = ev.Suspicion.Reason.String()
		severity = ev.Suspicion.Severity.String()
		suspicious = 1
	}
	connected, disconnected := 0, 0
	if ev.Kind == model.Connected {
		connected = 1
	} else {
		disconnected = 1
	}
	d := ev.Descriptor
	ts := formatTime(ev.Timestamp)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (id, identity, kind, vid, pid, name, serial, port, reason, severity, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID.String(), ev.Identity.String(), ev.Kind.String(),
		d.VendorID.String(), d.ProductID.String(), d.DisplayName(), d.Serial, d.Port,
		reason, severity, ts,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO device_stats (identity, vid, pid, name, connections, disconnections, suspicious, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			name = excluded.name,
			connections = connections + excluded.connections,
			disconnections = disconnections + excluded.disconnections,
			suspicious = suspicious + excluded.suspicious,
			last_seen = excluded.last_seen`,
		ev.Identity.String(), d.VendorID.String(), d.ProductID.String(), d.DisplayName(),
		connected, disconnected, suspicious, ts, ts,
	); err != nil {
		return fmt.Errorf("update device stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE seq <= (SELECT seq FROM events ORDER BY seq DESC LIMIT 1 OFFSET ?)`,
		s.historyLimit,
	); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	return tx.Commit()
}

func (s *Store) OnDiagnostic(ctx context.Context, d model.Diagnostic) error {
	var identity sql.NullString
	if d.Identity != nil {
		identity = sql.NullString{String: d.Identity.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO diagnostics (level, code, message, identity, ts) VALUES (?, ?, ?, ?, ?)`,
		d.Level.String(), string(d.Code), d.Message, identity, formatTime(d.Time),
	)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}
	return nil
}

// Recent 最近的 limit 条事件，从新到旧
func (s *Store) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, kind, vid, pid, name, serial, port, reason, severity, ts
		FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var r EventRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.Identity, &r.Kind, &r.VendorID, &r.ProductID,
			&r.Name, &r.Serial, &r.Port, &r.Reason, &r.Severity, &ts); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeviceStats 查询单个设备的统计，identity 为 DeviceIdentity.String()
func (s *Store) DeviceStats(ctx context.Context, identity string) (DeviceStats, error) {
	var st DeviceStats
	var first, last string
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, vid, pid, name, connections, disconnections, suspicious, first_seen, last_seen
		FROM device_stats WHERE identity = ?`, identity,
	).Scan(&st.Identity, &st.VendorID, &st.ProductID, &st.Name,
		&st.Connections, &st.Disconnections, &st.Suspicious, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	if err != nil {
		return st, err
	}
	if st.FirstSeen, err = parseTime(first); err != nil {
		return st, err
	}
	if st.LastSeen, err = parseTime(last); err != nil {
		return st, err
	}
	return st, nil
}

// DiagnosticCount 按 code 统计诊断信息条数
func (s *Store) DiagnosticCount(ctx context.Context, code model.DiagnosticCode) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diagnostics WHERE code = ?`, string(code)).Scan(&n)
	return n, err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

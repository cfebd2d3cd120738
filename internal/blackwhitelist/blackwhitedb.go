// Package blackwhitelist keeps device allow/deny rules in SQLite and enforces
// them on newly connected devices.
package blackwhitelist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	_ "modernc.org/sqlite"
)

var ErrRuleNotFound = errors.New("rule not found")

type ListKind string

const (
	Blacklist ListKind = "black"
	Whitelist ListKind = "white"
)

// Rule 为 nil / 空字符串的字段表示 "任意"。
// 厂商、产品名、序列号按不区分大小写的子串匹配。
type Rule struct {
	ID           int64
	List         ListKind
	VendorID     *model.ID
	ProductID    *model.ID
	Class        *model.ClassCode
	Manufacturer string
	Product      string
	Serial       string
	Reason       string
	Enabled      bool
	CreatedAt    time.Time
}

func (r Rule) Matches(d model.DeviceDescriptor) bool {
	if r.VendorID != nil && *r.VendorID != d.VendorID {
		return false
	}
	if r.ProductID != nil && *r.ProductID != d.ProductID {
		return false
	}
	if r.Class != nil && *r.Class != d.Class {
		return false
	}
	return containsFold(d.Manufacturer, r.Manufacturer) &&
		containsFold(d.Product, r.Product) &&
		containsFold(d.Serial, r.Serial)
}

// containsFold 规则为空时总是匹配；设备没有上报该字段时不匹配
func containsFold(value, want string) bool {
	if want == "" {
		return true
	}
	if value == "" {
		return false
	}
	return strings.Contains(strings.ToLower(value), strings.ToLower(want))
}

const schema = `
CREATE TABLE IF NOT EXISTS rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	list TEXT NOT NULL,
	vid INTEGER,
	pid INTEGER,
	class INTEGER,
	manufacturer TEXT NOT NULL DEFAULT '',
	product TEXT NOT NULL DEFAULT '',
	serial TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// List 规则保存在 sqlite 中，内存里缓存一份供每个事件查询
type List struct {
	db *sql.DB

	mu    sync.RWMutex
	rules []Rule
}

// Open 初始化数据库表结构并加载规则
func Open(dbPath string) (*List, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	l := &List{db: db}
	if err := l.reload(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *List) Close() error {
	return l.db.Close()
}

// Add 添加一条规则，返回规则 id
func (l *List) Add(ctx context.Context, r Rule) (int64, error) {
	if r.List != Blacklist && r.List != Whitelist {
		return 0, fmt.Errorf("unknown list %q", r.List)
	}
	res, err := l.db.ExecContext(ctx,
		"INSERT INTO rules (list, vid, pid, class, manufacturer, product, serial, reason, enabled) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		string(r.List), nullID(r.VendorID), nullID(r.ProductID), nullClass(r.Class),
		r.Manufacturer, r.Product, r.Serial, r.Reason, r.Enabled,
	)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, l.reload(ctx)
}

func (l *List) Remove(ctx context.Context, id int64) error {
	return l.update(ctx, "DELETE FROM rules WHERE id = ?", id)
}

func (l *List) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	return l.update(ctx, "UPDATE rules SET enabled = ? WHERE id = ?", enabled, id)
}

func (l *List) update(ctx context.Context, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRuleNotFound
	}
	return l.reload(ctx)
}

// Rules 当前所有规则的拷贝
func (l *List) Rules() []Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Rule(nil), l.rules...)
}

func (l *List) reload(ctx context.Context) error {
	rows, err := l.db.QueryContext(ctx,
		"SELECT id, list, vid, pid, class, manufacturer, product, serial, reason, enabled, created_at FROM rules ORDER BY id")
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		var list string
		var vid, pid, class sql.NullInt64
		var created sql.NullString
		if err := rows.Scan(&r.ID, &list, &vid, &pid, &class,
			&r.Manufacturer, &r.Product, &r.Serial, &r.Reason, &r.Enabled, &created); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		r.List = ListKind(list)
		if vid.Valid {
			v := model.ID(vid.Int64)
			r.VendorID = &v
		}
		if pid.Valid {
			p := model.ID(pid.Int64)
			r.ProductID = &p
		}
		if class.Valid {
			c := model.ClassCode(class.Int64)
			r.Class = &c
		}
		r.CreatedAt = parseCreated(created.String)
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	l.rules = rules
	l.mu.Unlock()
	return nil
}

// Policy 检查时使用的开关
type Policy struct {
	WhitelistMode      bool // 只放行白名单中的设备
	BlockMissingSerial bool // 无序列号直接阻断
}

type Verdict struct {
	Blocked bool
	Reason  string
	RuleID  int64
}

// Check 判断设备是否应被阻断：白名单模式 → 黑名单 → 序列号规则
func (l *List) Check(d model.DeviceDescriptor, p Policy) Verdict {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if p.WhitelistMode {
		allowed := false
		for _, r := range l.rules {
			if r.List == Whitelist && r.Enabled && r.Matches(d) {
				allowed = true
				break
			}
		}
		if !allowed {
			return Verdict{Blocked: true, Reason: "Device not in whitelist"}
		}
	}

	for _, r := range l.rules {
		if r.List == Blacklist && r.Enabled && r.Matches(d) {
			reason := r.Reason
			if reason == "" {
				reason = "Device is in blacklist"
			}
			return Verdict{Blocked: true, Reason: reason, RuleID: r.ID}
		}
	}

	if p.BlockMissingSerial {
		if s := strings.TrimSpace(d.Serial); s == "" || strings.Trim(s, "0") == "" {
			return Verdict{Blocked: true, Reason: "Unknown or empty serial number"}
		}
	}
	return Verdict{}
}

// parseCreated CURRENT_TIMESTAMP 的格式，驱动也可能已经转换成 RFC3339
func parseCreated(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullID(id *model.ID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullClass(c *model.ClassCode) sql.NullInt64 {
	if c == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*c), Valid: true}
}

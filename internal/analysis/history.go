package analysis

import (
	"time"

	"github.com/Hara602/usbwatch/internal/model"
)

// ring 固定容量的环形缓冲，满了覆盖最旧的一条
type ring struct {
	entries []model.HistoryEntry
	next    int
	full    bool
}

func newRing(size int) *ring {
	return &ring{entries: make([]model.HistoryEntry, size)}
}

func (r *ring) push(e model.HistoryEntry) {
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// items 从旧到新
func (r *ring) items() []model.HistoryEntry {
	if !r.full {
		return append([]model.HistoryEntry(nil), r.entries[:r.next]...)
	}
	out := make([]model.HistoryEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}

func (r *ring) last() (model.HistoryEntry, bool) {
	if !r.full && r.next == 0 {
		return model.HistoryEntry{}, false
	}
	i := r.next - 1
	if i < 0 {
		i = len(r.entries) - 1
	}
	return r.entries[i], true
}

func (r *ring) lastSeen() time.Time {
	e, _ := r.last()
	return e.Timestamp
}

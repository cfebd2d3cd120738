package analysis

import (
	"fmt"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
)

const (
	DefaultRapidReconnectWindow = 2 * time.Second
	DefaultBurstThreshold       = 5
	DefaultFlapWindow           = 10 * time.Second
	DefaultFlapThreshold        = 4
	DefaultHistorySize          = 8
	DefaultMaxTracked           = 1024
)

// DefaultKnownGoodClasses 设备级 class 的常见取值：
// 按接口定义、CDC、Hub、无线控制器、Misc(IAD)、厂商自定义
var DefaultKnownGoodClasses = []model.ClassCode{0x00, 0x02, 0x09, 0xe0, 0xef, 0xff}

type Thresholds struct {
	Enabled              bool
	RapidReconnectWindow time.Duration
	BurstThreshold       int
	KnownGoodClasses     []model.ClassCode
	FlapWindow           time.Duration
	FlapThreshold        int
	HistorySize          int
	MaxTrackedIdentities int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Enabled:              true,
		RapidReconnectWindow: DefaultRapidReconnectWindow,
		BurstThreshold:       DefaultBurstThreshold,
		KnownGoodClasses:     append([]model.ClassCode(nil), DefaultKnownGoodClasses...),
		FlapWindow:           DefaultFlapWindow,
		FlapThreshold:        DefaultFlapThreshold,
		HistorySize:          DefaultHistorySize,
		MaxTrackedIdentities: DefaultMaxTracked,
	}
}

// Detector 给变化事件打可疑分。
// 状态 (每个设备的历史、会话内见过的厂商) 都有上限，长时间运行不会无限增长。
// 只允许扫描循环单线程调用。
type Detector struct {
	th        Thresholds
	knownGood map[model.ClassCode]struct{}
	history   map[model.DeviceIdentity]*ring
	vendors   map[model.ID]map[model.ClassCode]struct{} // vendor -> 见过的 class
}

func NewDetector(th Thresholds) *Detector {
	if th.HistorySize <= 0 {
		th.HistorySize = DefaultHistorySize
	}
	if th.MaxTrackedIdentities <= 0 {
		th.MaxTrackedIdentities = DefaultMaxTracked
	}
	d := &Detector{
		th:        th,
		knownGood: make(map[model.ClassCode]struct{}, len(th.KnownGoodClasses)),
		history:   make(map[model.DeviceIdentity]*ring),
		vendors:   make(map[model.ID]map[model.ClassCode]struct{}),
	}
	for _, c := range th.KnownGoodClasses {
		d.knownGood[c] = struct{}{}
	}
	return d
}

// History 返回某个设备的历史，从旧到新
func (d *Detector) History(id model.DeviceIdentity) []model.HistoryEntry {
	if r, ok := d.history[id]; ok {
		return r.items()
	}
	return nil
}

// Observe 给一次轮询产生的事件打分并记录历史。
// baseline 为 true 表示第一次成功扫描：只记录，不打分，冷启动不会被当成突发接入。
func (d *Detector) Observe(events []model.ChangeEvent, baseline bool) []model.ChangeEvent {
	if !d.th.Enabled {
		return events
	}
	out := make([]model.ChangeEvent, len(events))
	copy(out, events)

	var burst []model.DeviceIdentity
	if !baseline {
		burst = d.unknownVendorBurst(out)
	}

	for i := range out {
		ev := &out[i]
		if !baseline {
			ev.Suspicion = d.score(*ev, d.History(ev.Identity), burst)
		}
		d.record(*ev)
	}
	return out
}

// Score 单个事件的打分，history 为该设备之前的事件 (从旧到新)。
// 多条规则同时命中时按严重程度取第一条：
// RateExceeded > RapidReconnect > UnknownVendorBurst > ClassMismatch > HIDStorageComposite
func (d *Detector) Score(ev model.ChangeEvent, history []model.HistoryEntry) *model.SuspicionReport {
	return d.score(ev, history, nil)
}

func (d *Detector) score(ev model.ChangeEvent, history []model.HistoryEntry, burst []model.DeviceIdentity) *model.SuspicionReport {
	if r := d.rateExceeded(ev, history); r != nil {
		return r
	}
	if r := d.rapidReconnect(ev, history); r != nil {
		return r
	}
	if ev.Kind == model.Connected && containsIdentity(burst, ev.Identity) {
		return &model.SuspicionReport{
			Reason:     model.UnknownVendorBurst,
			Severity:   model.SeverityMedium,
			Identities: append([]model.DeviceIdentity(nil), burst...),
			Detail:     fmt.Sprintf("%d devices from unseen vendors attached in one poll", len(burst)),
		}
	}
	if r := d.classMismatch(ev); r != nil {
		return r
	}
	if ev.Kind == model.Connected {
		if bad, _ := CheckBadUSB(ev.Descriptor); bad {
			return &model.SuspicionReport{
				Reason:     model.HIDStorageComposite,
				Severity:   model.SeverityLow,
				Identities: []model.DeviceIdentity{ev.Identity},
				Detail:     "device exposes both HID and mass storage interfaces",
			}
		}
	}
	return nil
}

func (d *Detector) rateExceeded(ev model.ChangeEvent, history []model.HistoryEntry) *model.SuspicionReport {
	if d.th.FlapThreshold <= 0 {
		return nil
	}
	count := 1
	for _, h := range history {
		if age := ev.Timestamp.Sub(h.Timestamp); age >= 0 && age <= d.th.FlapWindow {
			count++
		}
	}
	if count < d.th.FlapThreshold {
		return nil
	}
	return &model.SuspicionReport{
		Reason:     model.RateExceeded,
		Severity:   model.SeverityCritical,
		Identities: []model.DeviceIdentity{ev.Identity},
		Detail:     fmt.Sprintf("%d transitions within %s", count, d.th.FlapWindow),
	}
}

func (d *Detector) rapidReconnect(ev model.ChangeEvent, history []model.HistoryEntry) *model.SuspicionReport {
	if ev.Kind != model.Connected || len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	if last.Kind != model.Disconnected {
		return nil
	}
	gap := ev.Timestamp.Sub(last.Timestamp)
	if gap < 0 || gap > d.th.RapidReconnectWindow {
		return nil
	}
	return &model.SuspicionReport{
		Reason:     model.RapidReconnect,
		Severity:   model.SeverityHigh,
		Identities: []model.DeviceIdentity{ev.Identity},
		Detail:     fmt.Sprintf("reconnected %s after disconnect", gap),
	}
}

// unknownVendorBurst 一次轮询内超过阈值个来自未见过厂商的新设备
func (d *Detector) unknownVendorBurst(events []model.ChangeEvent) []model.DeviceIdentity {
	if d.th.BurstThreshold <= 0 {
		return nil
	}
	var ids []model.DeviceIdentity
	for _, ev := range events {
		if ev.Kind != model.Connected {
			continue
		}
		if _, seen := d.vendors[ev.Descriptor.VendorID]; seen {
			continue
		}
		if !containsIdentity(ids, ev.Identity) {
			ids = append(ids, ev.Identity)
		}
	}
	if len(ids) <= d.th.BurstThreshold {
		return nil
	}
	return ids
}

func (d *Detector) classMismatch(ev model.ChangeEvent) *model.SuspicionReport {
	if ev.Kind != model.Connected {
		return nil
	}
	class := ev.Descriptor.Class
	if _, ok := d.knownGood[class]; ok {
		return nil
	}
	seen, ok := d.vendors[ev.Descriptor.VendorID]
	if !ok || len(seen) == 0 {
		return nil
	}
	if _, same := seen[class]; same {
		return nil
	}
	return &model.SuspicionReport{
		Reason:     model.ClassMismatch,
		Severity:   model.SeverityLow,
		Identities: []model.DeviceIdentity{ev.Identity},
		Detail:     fmt.Sprintf("vendor %s previously seen with a different class, now %s", ev.Descriptor.VendorID, class),
	}
}

func (d *Detector) record(ev model.ChangeEvent) {
	r, ok := d.history[ev.Identity]
	if !ok {
		if len(d.history) >= d.th.MaxTrackedIdentities {
			d.evictOldest()
		}
		r = newRing(d.th.HistorySize)
		d.history[ev.Identity] = r
	}
	r.push(model.HistoryEntry{Kind: ev.Kind, Timestamp: ev.Timestamp})

	if ev.Kind == model.Connected {
		classes, ok := d.vendors[ev.Descriptor.VendorID]
		if !ok {
			classes = make(map[model.ClassCode]struct{}, 1)
			d.vendors[ev.Descriptor.VendorID] = classes
		}
		classes[ev.Descriptor.Class] = struct{}{}
	}
}

// evictOldest 淘汰最久没有活动的设备
func (d *Detector) evictOldest() {
	var (
		oldest   model.DeviceIdentity
		oldestAt time.Time
		found    bool
	)
	for id, r := range d.history {
		if at := r.lastSeen(); !found || at.Before(oldestAt) {
			oldest, oldestAt, found = id, at, true
		}
	}
	if found {
		delete(d.history, oldest)
	}
}

// Tracked 当前保留历史的设备数量
func (d *Detector) Tracked() int { return len(d.history) }

func containsIdentity(ids []model.DeviceIdentity, id model.DeviceIdentity) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

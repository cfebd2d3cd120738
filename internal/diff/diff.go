// Package diff builds snapshots from enumeration results and compares two
// generations of them.
package diff

import (
	"sort"
	"time"

	"github.com/Hara602/usbwatch/internal/identity"
	"github.com/Hara602/usbwatch/internal/model"
)

// Collision 同一次快照里两个描述符解析出相同身份，后出现的被丢弃
type Collision struct {
	Identity model.DeviceIdentity
	Kept     model.DeviceDescriptor
	Dropped  model.DeviceDescriptor
}

// BuildSnapshot 以身份为 key 建立快照
func BuildSnapshot(descs []model.DeviceDescriptor, taken time.Time) (model.Snapshot, []Collision) {
	snap := model.Snapshot{
		Taken:   taken,
		Devices: make(map[model.DeviceIdentity]model.DeviceDescriptor, len(descs)),
	}
	var collisions []Collision
	for _, d := range descs {
		id := identity.Resolve(d)
		if kept, ok := snap.Devices[id]; ok {
			collisions = append(collisions, Collision{Identity: id, Kept: kept, Dropped: d})
			continue
		}
		snap.Devices[id] = d
	}
	return snap, collisions
}

// Diff 比较前后两次快照。prev 为 nil 时 (第一次轮询) 当前所有设备都报 Connected。
// 两边都存在的身份不产生事件，即使描述符的其它字段变了。
// 结果按身份排序，保证输出确定。
func Diff(prev *model.Snapshot, cur model.Snapshot) []model.ChangeEvent {
	var events []model.ChangeEvent

	for id, d := range cur.Devices {
		if prev != nil {
			if _, ok := prev.Devices[id]; ok {
				continue
			}
		}
		events = append(events, model.NewChangeEvent(id, d, model.Connected, cur.Taken))
	}

	if prev != nil {
		for id, d := range prev.Devices {
			if _, ok := cur.Devices[id]; ok {
				continue
			}
			events = append(events, model.NewChangeEvent(id, d, model.Disconnected, cur.Taken))
		}
	}

	sort.Slice(events, func(i, j int) bool {
		ki, kj := events[i].Identity.String(), events[j].Identity.String()
		if ki != kj {
			return ki < kj
		}
		return events[i].Kind < events[j].Kind
	})
	return events
}

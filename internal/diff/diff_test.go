package diff

import (
	"testing"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	keyboard = model.DeviceDescriptor{Bus: 1, Address: 3, VendorID: 0x046d, ProductID: 0xc31c, Product: "USB Keyboard"}
	stick    = model.DeviceDescriptor{Bus: 1, Address: 5, VendorID: 0x0781, ProductID: 0x5567, Serial: "4C530001", Product: "Cruzer Blade"}
	camera   = model.DeviceDescriptor{Bus: 2, Address: 2, VendorID: 0x04f2, ProductID: 0xb6dd, Serial: "0001", Product: "Integrated Camera"}
)

func snapshot(t *testing.T, at time.Time, descs ...model.DeviceDescriptor) model.Snapshot {
	t.Helper()
	s, collisions := BuildSnapshot(descs, at)
	require.Empty(t, collisions)
	return s
}

type partition struct {
	connected    []string
	disconnected []string
}

func split(events []model.ChangeEvent) partition {
	var p partition
	for _, ev := range events {
		switch ev.Kind {
		case model.Connected:
			p.connected = append(p.connected, ev.Identity.String())
		case model.Disconnected:
			p.disconnected = append(p.disconnected, ev.Identity.String())
		}
	}
	return p
}

func TestBuildSnapshotDropsLaterDuplicate(t *testing.T) {
	clone := stick
	clone.Bus, clone.Address = 3, 9
	clone.Product = "Cruzer Clone"

	snap, collisions := BuildSnapshot([]model.DeviceDescriptor{stick, keyboard, clone}, t0)

	require.Len(t, collisions, 1)
	assert.Equal(t, "Cruzer Blade", collisions[0].Kept.Product)
	assert.Equal(t, "Cruzer Clone", collisions[0].Dropped.Product)
	assert.Equal(t, 2, snap.Len())
}

func TestDiffColdStart(t *testing.T) {
	cur := snapshot(t, t0, keyboard, stick, camera)

	events := Diff(nil, cur)

	p := split(events)
	assert.Len(t, p.connected, 3)
	assert.Empty(t, p.disconnected)
	for _, ev := range events {
		assert.Equal(t, t0, ev.Timestamp)
		assert.NotEqual(t, uuid.Nil, ev.ID)
	}
}

func TestDiffIdempotent(t *testing.T) {
	s := snapshot(t, t0, keyboard, stick)
	assert.Empty(t, Diff(&s, s))
}

func TestDiffSymmetry(t *testing.T) {
	s1 := snapshot(t, t0, keyboard, stick)
	s2 := snapshot(t, t0.Add(time.Second), stick, camera)

	forward := split(Diff(&s1, s2))
	backward := split(Diff(&s2, s1))

	assert.Equal(t, forward.connected, backward.disconnected)
	assert.Equal(t, forward.disconnected, backward.connected)
}

func TestDiffDisconnectCarriesLastKnownDescriptor(t *testing.T) {
	s1 := snapshot(t, t0, stick)
	s2 := snapshot(t, t0.Add(time.Second))

	events := Diff(&s1, s2)

	require.Len(t, events, 1)
	assert.Equal(t, model.Disconnected, events[0].Kind)
	assert.Equal(t, stick, events[0].Descriptor)
	assert.Equal(t, t0.Add(time.Second), events[0].Timestamp)
}

func TestDiffIgnoresNonIdentityChanges(t *testing.T) {
	renamed := stick
	renamed.Product = "Cruzer Blade (renamed)"
	renamed.Bus, renamed.Address = 4, 12

	s1 := snapshot(t, t0, stick)
	s2 := snapshot(t, t0.Add(time.Second), renamed)

	assert.Empty(t, Diff(&s1, s2))
}

func TestDiffSortedByIdentity(t *testing.T) {
	s1 := snapshot(t, t0, camera)
	s2 := snapshot(t, t0.Add(time.Second), stick, keyboard)

	events := Diff(&s1, s2)

	require.Len(t, events, 3)
	for i := 1; i < len(events); i++ {
		assert.LessOrEqual(t, events[i-1].Identity.String(), events[i].Identity.String())
	}
}

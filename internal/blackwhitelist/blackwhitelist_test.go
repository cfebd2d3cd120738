package blackwhitelist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	sandisk = model.DeviceDescriptor{
		VendorID: 0x0781, ProductID: 0x5581, Manufacturer: "SanDisk", Product: "Ultra",
		Serial: "4C53000", Class: 0x00, Port: "1-1",
	}
	noSerial = model.DeviceDescriptor{VendorID: 0x1234, ProductID: 0x0001, Product: "Rubber Ducky", Port: "1-2"}
)

func ptr[T any](v T) *T { return &v }

func openTemp(t *testing.T) *List {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "policy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRuleMatches(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{name: "empty rule matches anything", rule: Rule{}, want: true},
		{name: "vendor", rule: Rule{VendorID: ptr(model.ID(0x0781))}, want: true},
		{name: "wrong product", rule: Rule{VendorID: ptr(model.ID(0x0781)), ProductID: ptr(model.ID(0x0001))}},
		{name: "class", rule: Rule{Class: ptr(model.ClassCode(0x08))}},
		{name: "manufacturer substring", rule: Rule{Manufacturer: "disk"}, want: true},
		{name: "product case insensitive", rule: Rule{Product: "ULTRA"}, want: true},
		{name: "serial mismatch", rule: Rule{Serial: "FFFF"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(sandisk))
		})
	}

	assert.False(t, Rule{Serial: "0"}.Matches(noSerial), "absent field never matches a constraint")
}

func TestListPersistsRules(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.db")

	l, err := Open(path)
	require.NoError(t, err)
	id, err := l.Add(ctx, Rule{List: Blacklist, VendorID: ptr(model.ID(0x1234)), Reason: "known attack tool", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, l.Close())

	l, err = Open(path)
	require.NoError(t, err)
	defer l.Close()

	rules := l.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
	assert.Equal(t, Blacklist, rules[0].List)
	require.NotNil(t, rules[0].VendorID)
	assert.Equal(t, model.ID(0x1234), *rules[0].VendorID)
	assert.Nil(t, rules[0].ProductID)
	assert.True(t, rules[0].Enabled)

	require.NoError(t, l.Remove(ctx, id))
	assert.Empty(t, l.Rules())
	assert.ErrorIs(t, l.Remove(ctx, id), ErrRuleNotFound)

	_, err = l.Add(ctx, Rule{List: "grey"})
	assert.Error(t, err)
}

func TestListCheck(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)

	blockID, err := l.Add(ctx, Rule{List: Blacklist, Product: "ducky", Reason: "keystroke injector", Enabled: true})
	require.NoError(t, err)
	_, err = l.Add(ctx, Rule{List: Whitelist, VendorID: ptr(model.ID(0x0781)), Enabled: true})
	require.NoError(t, err)

	v := l.Check(noSerial, Policy{})
	assert.True(t, v.Blocked)
	assert.Equal(t, "keystroke injector", v.Reason)
	assert.Equal(t, blockID, v.RuleID)

	assert.False(t, l.Check(sandisk, Policy{}).Blocked)
	assert.False(t, l.Check(sandisk, Policy{WhitelistMode: true}).Blocked)

	other := model.DeviceDescriptor{VendorID: 0x046d, ProductID: 0xc52b, Serial: "X1"}
	assert.False(t, l.Check(other, Policy{}).Blocked)
	assert.Equal(t, "Device not in whitelist", l.Check(other, Policy{WhitelistMode: true}).Reason)

	// 禁用规则后不再生效
	require.NoError(t, l.SetEnabled(ctx, blockID, false))
	assert.False(t, l.Check(noSerial, Policy{}).Blocked)
	assert.True(t, l.Check(noSerial, Policy{BlockMissingSerial: true}).Blocked)

	zeros := other
	zeros.Serial = "000000000000"
	assert.True(t, l.Check(zeros, Policy{BlockMissingSerial: true}).Blocked)
}

func TestEnforcerBlocksThroughSysfs(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	_, err := l.Add(ctx, Rule{List: Blacklist, VendorID: ptr(model.ID(0x1234)), Enabled: true})
	require.NoError(t, err)

	root := t.TempDir()
	for _, port := range []string{"1-1", "1-2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, port), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, port, "authorized"), []byte("1"), 0o644))
	}

	e := NewEnforcer(l, Policy{}, true, root, zap.NewNop())
	connect := func(d model.DeviceDescriptor) model.ChangeEvent {
		return model.ChangeEvent{Descriptor: d, Kind: model.Connected}
	}

	require.NoError(t, e.OnEvent(ctx, connect(sandisk)))
	require.NoError(t, e.OnEvent(ctx, connect(noSerial)))

	b, err := os.ReadFile(filepath.Join(root, "1-2", "authorized"))
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))
	b, err = os.ReadFile(filepath.Join(root, "1-1", "authorized"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(b))

	// 断开事件不处理
	require.NoError(t, e.OnEvent(ctx, model.ChangeEvent{Descriptor: model.DeviceDescriptor{VendorID: 0x1234}, Kind: model.Disconnected}))
}

func TestEnforcerAuditOnly(t *testing.T) {
	ctx := context.Background()
	l := openTemp(t)
	e := NewEnforcer(l, Policy{BlockMissingSerial: true}, false, filepath.Join(t.TempDir(), "missing"), zap.NewNop())

	assert.NoError(t, e.OnEvent(ctx, model.ChangeEvent{Descriptor: noSerial, Kind: model.Connected}))
}

package filter

import (
	"testing"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	camera     = model.DeviceDescriptor{Bus: 1, Address: 2, VendorID: 0x04f2, ProductID: 0xb6dd, Product: "Integrated Camera", Class: 0xef}
	controller = model.DeviceDescriptor{Bus: 1, Address: 3, VendorID: 0x8086, ProductID: 0x9a13, Product: "USB Controller", Class: 0x09}
	stick      = model.DeviceDescriptor{Bus: 2, Address: 4, VendorID: 0x0781, ProductID: 0x5567, Manufacturer: "SanDisk", Product: "Cruzer Blade"}
	anonymous  = model.DeviceDescriptor{Bus: 2, Address: 5, VendorID: 0x1a86, ProductID: 0x7523}
)

func products(descs []model.DeviceDescriptor) []string {
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.DisplayName())
	}
	return out
}

func TestApplyNamePattern(t *testing.T) {
	got, err := Apply([]model.DeviceDescriptor{camera, controller}, Rules{NamePatterns: []string{"camera"}})
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceDescriptor{camera}, got)
}

func TestApply(t *testing.T) {
	all := []model.DeviceDescriptor{camera, controller, stick, anonymous}

	tests := []struct {
		name  string
		rules Rules
		want  []string
	}{
		{
			name:  "no rules keeps everything in order",
			rules: Rules{},
			want:  []string{"Integrated Camera", "USB Controller", "SanDisk Cruzer Blade", "1a86:7523"},
		},
		{
			name:  "ignored vendor",
			rules: Rules{IgnoredVendors: []model.ID{0x8086}},
			want:  []string{"Integrated Camera", "SanDisk Cruzer Blade", "1a86:7523"},
		},
		{
			name:  "ignored product",
			rules: Rules{IgnoredProducts: []model.ID{0x5567, 0x7523}},
			want:  []string{"Integrated Camera", "USB Controller"},
		},
		{
			name:  "allowed classes",
			rules: Rules{AllowedClasses: []model.ClassCode{0x09}},
			want:  []string{"USB Controller"},
		},
		{
			name:  "empty allow list allows nothing",
			rules: Rules{AllowedClasses: []model.ClassCode{}},
			want:  []string{},
		},
		{
			name:  "pattern matches manufacturer case-insensitively",
			rules: Rules{NamePatterns: []string{"SANDISK"}},
			want:  []string{"SanDisk Cruzer Blade"},
		},
		{
			name:  "glob must match whole name",
			rules: Rules{NamePatterns: []string{"usb *"}},
			want:  []string{"USB Controller"},
		},
		{
			name:  "glob alternatives",
			rules: Rules{NamePatterns: []string{"{integrated,cruzer} *"}},
			want:  []string{"Integrated Camera", "SanDisk Cruzer Blade"},
		},
		{
			name:  "device without names never matches a pattern",
			rules: Rules{NamePatterns: []string{"*"}},
			want:  []string{"Integrated Camera", "USB Controller", "SanDisk Cruzer Blade"},
		},
		{
			name:  "all conditions combined",
			rules: Rules{NamePatterns: []string{"camera", "controller"}, IgnoredVendors: []model.ID{0x8086}},
			want:  []string{"Integrated Camera"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(all, tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, products(got))
		})
	}
}

func TestApplyIsPure(t *testing.T) {
	input := []model.DeviceDescriptor{anonymous, stick, controller, camera}
	orig := append([]model.DeviceDescriptor(nil), input...)
	rules := Rules{NamePatterns: []string{"c*"}, IgnoredProducts: []model.ID{0x9a13}}

	p, err := New(rules)
	require.NoError(t, err)

	first := p.Apply(input)
	_ = p.Apply([]model.DeviceDescriptor{controller})
	second := p.Apply(input)

	assert.Equal(t, first, second)
	assert.Equal(t, orig, input)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Rules{NamePatterns: []string{"[camera"}})
	var perr *PatternError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "[camera", perr.Pattern)

	_, err = New(Rules{NamePatterns: []string{"  "}})
	assert.ErrorAs(t, err, &perr)
}

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{name: "decimal number", input: `4130`, want: 0x1022},
		{name: "hex with prefix", input: `"0x1022"`, want: 0x1022},
		{name: "bare hex", input: `"15BA"`, want: 0x15ba},
		{name: "out of range", input: `70000`, wantErr: true},
		{name: "garbage", input: `"zz"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ID
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIDMarshalJSON(t *testing.T) {
	b, err := json.Marshal([]ID{0x1022, 0x0001})
	require.NoError(t, err)
	assert.JSONEq(t, `["1022","0001"]`, string(b))
}

func TestDeviceIdentityString(t *testing.T) {
	serial := DeviceIdentity{Kind: IdentitySerial, VendorID: 0x1022, ProductID: 0x15ba, Serial: "ABC"}
	port := DeviceIdentity{Kind: IdentityPort, Bus: 2, Address: 7}

	assert.Equal(t, "serial:1022:15ba:ABC", serial.String())
	assert.Equal(t, "port:002-007", port.String())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Lenovo Integrated Camera",
		DeviceDescriptor{Manufacturer: "Lenovo", Product: "Integrated Camera"}.DisplayName())
	assert.Equal(t, "Hub", DeviceDescriptor{Product: "Hub"}.DisplayName())
	assert.Equal(t, "1022:15ba", DeviceDescriptor{VendorID: 0x1022, ProductID: 0x15ba}.DisplayName())
}

// Package identity 把原始描述符映射成跨轮询稳定的设备身份
package identity

import (
	"strings"

	"github.com/Hara602/usbwatch/internal/model"
)

// Resolve 优先使用 (vid, pid, serial)；没有序列号时退化为 (bus, address)，
// 后者只在设备不换口重插的情况下稳定。空白序列号视为没有。
func Resolve(d model.DeviceDescriptor) model.DeviceIdentity {
	if serial := strings.TrimSpace(d.Serial); serial != "" {
		return model.DeviceIdentity{
			Kind:      model.IdentitySerial,
			VendorID:  d.VendorID,
			ProductID: d.ProductID,
			Serial:    serial,
		}
	}
	return model.DeviceIdentity{
		Kind:    model.IdentityPort,
		Bus:     d.Bus,
		Address: d.Address,
	}
}

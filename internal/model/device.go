package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID USB vendor / product id
type ID uint16

func (id ID) String() string {
	return fmt.Sprintf("%04x", uint16(id))
}

// MarshalJSON 输出四位十六进制字符串，例如 "1022"
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

// UnmarshalJSON 同时接受十进制数字 (4130) 和十六进制字符串 ("0x1022" / "1022")
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		return id.parseHex(s)
	}
	v, err := strconv.ParseUint(string(b), 10, 16)
	if err != nil {
		return fmt.Errorf("usb id %s: %w", b, err)
	}
	*id = ID(v)
	return nil
}

func (id *ID) parseHex(s string) error {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return fmt.Errorf("usb id %q: %w", s, err)
	}
	*id = ID(v)
	return nil
}

// ParseID 解析十六进制 id，sysfs 中的 idVendor / idProduct 就是这种格式
func ParseID(s string) (ID, error) {
	var id ID
	err := id.parseHex(s)
	return id, err
}

// ClassCode USB class 代码 (bDeviceClass / bInterfaceClass)
type ClassCode uint8

func (c ClassCode) String() string {
	return fmt.Sprintf("%02x", uint8(c))
}

// MarshalJSON 输出数字，避免 []ClassCode 被编码成 base64
func (c ClassCode) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(c), 10), nil
}

// DeviceDescriptor 一次枚举得到的设备原始信息。
// Manufacturer / Product / Serial 为空字符串表示设备没有上报。
type DeviceDescriptor struct {
	Bus          uint8     `json:"bus"`
	Address      uint8     `json:"address"`
	VendorID     ID        `json:"vendor_id"`
	ProductID    ID        `json:"product_id"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Product      string    `json:"product,omitempty"`
	Serial       string    `json:"serial,omitempty"`
	Class        ClassCode `json:"class"`

	// 以下字段不参与身份识别和 diff
	Port             string      `json:"port,omitempty"` // sysfs 设备名, e.g. 1-1.2
	InterfaceClasses []ClassCode `json:"interface_classes,omitempty"`
}

// DisplayName 人类可读的名称
func (d DeviceDescriptor) DisplayName() string {
	switch {
	case d.Product != "" && d.Manufacturer != "":
		return d.Manufacturer + " " + d.Product
	case d.Product != "":
		return d.Product
	case d.Manufacturer != "":
		return d.Manufacturer
	}
	return fmt.Sprintf("%s:%s", d.VendorID, d.ProductID)
}

// HasInterfaceClass reports whether any interface of the device has class c.
func (d DeviceDescriptor) HasInterfaceClass(c ClassCode) bool {
	for _, ic := range d.InterfaceClasses {
		if ic == c {
			return true
		}
	}
	return false
}

type IdentityKind uint8

const (
	// IdentitySerial (vid, pid, serial)，跨端口稳定
	IdentitySerial IdentityKind = iota + 1
	// IdentityPort (bus, address)，重新插拔后可能变化
	IdentityPort
)

func (k IdentityKind) String() string {
	switch k {
	case IdentitySerial:
		return "serial"
	case IdentityPort:
		return "port"
	}
	return "unknown"
}

// DeviceIdentity 跨轮询关联同一物理设备的稳定 key，可直接作为 map key
type DeviceIdentity struct {
	Kind      IdentityKind
	VendorID  ID
	ProductID ID
	Serial    string
	Bus       uint8
	Address   uint8
}

func (i DeviceIdentity) String() string {
	if i.Kind == IdentitySerial {
		return fmt.Sprintf("serial:%s:%s:%s", i.VendorID, i.ProductID, i.Serial)
	}
	return fmt.Sprintf("port:%03d-%03d", i.Bus, i.Address)
}

func (i DeviceIdentity) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// Snapshot 单次枚举的结果
type Snapshot struct {
	Taken   time.Time
	Devices map[DeviceIdentity]DeviceDescriptor
}

func (s Snapshot) Len() int { return len(s.Devices) }

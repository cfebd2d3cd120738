package analysis

import "github.com/Hara602/usbwatch/internal/model"

const (
	classHID     model.ClassCode = 0x03
	classStorage model.ClassCode = 0x08
)

const (
	TypeBadUSBSuspect = "BADUSB_SUSPECT"
	TypeUDisk         = "udisk"
	TypeOther         = "other"
)

// CheckBadUSB 如果一个 USB 设备同时拥有 08(存储) 和 03(HID) 接口，则判定为 BadUSB
func CheckBadUSB(d model.DeviceDescriptor) (bool, string) {
	hasHID := d.Class == classHID || d.HasInterfaceClass(classHID)
	hasStorage := d.Class == classStorage || d.HasInterfaceClass(classStorage)
	if hasStorage && hasHID {
		return true, TypeBadUSBSuspect
	} else if hasStorage {
		return false, TypeUDisk
	}
	return false, TypeOther
}

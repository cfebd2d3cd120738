// Package enumerate provides the device enumeration primitive: a list of the
// USB devices attached right now.
package enumerate

import (
	"context"
	"errors"

	"github.com/Hara602/usbwatch/internal/model"
)

var (
	// ErrEnumeration 枚举失败 (硬件 / 系统的暂时性问题)，等下一次轮询重试
	ErrEnumeration = errors.New("usb enumeration failed")
	// ErrPermission 没有读取 USB 设备信息的权限
	ErrPermission = errors.New("insufficient permission to enumerate usb devices")
)

// Provider 返回当前连接的所有设备描述符。超时策略由实现自己负责。
type Provider interface {
	Enumerate(ctx context.Context) ([]model.DeviceDescriptor, error)
}

// ProviderFunc 让普通函数实现 Provider
type ProviderFunc func(ctx context.Context) ([]model.DeviceDescriptor, error)

func (f ProviderFunc) Enumerate(ctx context.Context) ([]model.DeviceDescriptor, error) {
	return f(ctx)
}

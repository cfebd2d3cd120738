// Package watcher turns kernel hotplug notifications into wake-up signals for
// the polling loop, so a plug is picked up without waiting a full interval.
package watcher

import "errors"

var ErrUnsupported = errors.New("hotplug notifications are not supported on this platform")

// DeviceWatcher 只负责 "有设备变化" 的信号，设备信息由下一次枚举读取。
// 信号会合并：调度器来不及处理时多个热插拔事件只产生一个信号。
type DeviceWatcher interface {
	Start() (<-chan struct{}, error)
	Stop()
}

func New() DeviceWatcher {
	return newWatcher()
}

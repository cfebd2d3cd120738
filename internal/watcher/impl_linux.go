//go:build linux

package watcher

import (
	"sync"

	"github.com/Hara602/usbwatch/internal/sysutil"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

type linuxWatcher struct {
	signals  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newWatcher() DeviceWatcher {
	return &linuxWatcher{
		signals: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (w *linuxWatcher) Start() (<-chan struct{}, error) {
	// 监听 UDEV 事件,连接 NETLINK_KOBJECT_UEVENT
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)

	quit := conn.Monitor(queue, errChan, nil)

	go func() {
		defer conn.Close()
		// 调度器看到通道关闭后退回纯轮询
		defer close(w.signals)

		for {
			select {
			case <-w.stop:
				close(quit)
				return

			case err := <-errChan:
				// 忽略底层网络错误，继续监听
				sysutil.Log.Debug("udev monitor error", zap.Error(err))

			case uevent := <-queue:
				if !isDeviceHotplug(uevent) {
					continue
				}
				sysutil.Log.Debug("🔌 usb hotplug",
					zap.String("action", string(uevent.Action)),
					zap.String("devpath", uevent.Env["DEVPATH"]))
				w.notify()
			}
		}
	}()
	return w.signals, nil
}

func (w *linuxWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *linuxWatcher) notify() {
	select {
	case w.signals <- struct{}{}:
	default:
		// 已经有一个未处理的信号
	}
}

// isDeviceHotplug 只关心整个 USB 设备的插入和拔出，接口级别的事件忽略
func isDeviceHotplug(ev netlink.UEvent) bool {
	if ev.Action != netlink.ADD && ev.Action != netlink.REMOVE {
		return false
	}
	return ev.Env["SUBSYSTEM"] == "usb" && ev.Env["DEVTYPE"] == "usb_device"
}

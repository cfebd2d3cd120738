package enumerate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/Hara602/usbwatch/internal/sysutil"
	"go.uber.org/zap"
)

const DefaultSysfsRoot = "/sys/bus/usb/devices"

// SysfsProvider 读取 /sys/bus/usb/devices 枚举设备
type SysfsProvider struct {
	Root    string
	Timeout time.Duration // 0 表示不限制
}

func NewSysfsProvider(root string, timeout time.Duration) *SysfsProvider {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &SysfsProvider{Root: root, Timeout: timeout}
}

func (p *SysfsProvider) Enumerate(ctx context.Context) ([]model.DeviceDescriptor, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	type result struct {
		descs []model.DeviceDescriptor
		err   error
	}
	// sysfs 读取偶尔会卡住 (设备正在拔出)，放到 goroutine 里以便超时返回
	done := make(chan result, 1)
	go func() {
		descs, err := p.scan(ctx)
		done <- result{descs, err}
	}()

	select {
	case r := <-done:
		return r.descs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrEnumeration, ctx.Err())
	}
}

func (p *SysfsProvider) scan(ctx context.Context) ([]model.DeviceDescriptor, error) {
	entries, err := os.ReadDir(p.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrEnumeration, p.Root, err)
	}

	var descs []model.DeviceDescriptor
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrEnumeration, err)
		}
		name := entry.Name()
		// 接口目录形如 1-1:1.0，跳过
		if strings.Contains(name, ":") {
			continue
		}
		d, err := readDevice(filepath.Join(p.Root, name))
		if err != nil {
			// 设备可能刚好被拔掉
			sysutil.Log.Debug("skip unreadable usb device", zap.String("dev", name), zap.Error(err))
			continue
		}
		d.Port = name
		descs = append(descs, d)
	}
	return descs, nil
}

// readDevice 读取单个设备目录下的属性文件
func readDevice(dir string) (model.DeviceDescriptor, error) {
	var d model.DeviceDescriptor

	bus, err := readUint8(filepath.Join(dir, "busnum"), 10)
	if err != nil {
		return d, err
	}
	addr, err := readUint8(filepath.Join(dir, "devnum"), 10)
	if err != nil {
		return d, err
	}
	vid, err := model.ParseID(readFile(filepath.Join(dir, "idVendor")))
	if err != nil {
		return d, err
	}
	pid, err := model.ParseID(readFile(filepath.Join(dir, "idProduct")))
	if err != nil {
		return d, err
	}
	class, err := readUint8(filepath.Join(dir, "bDeviceClass"), 16)
	if err != nil {
		return d, err
	}

	d.Bus = bus
	d.Address = addr
	d.VendorID = vid
	d.ProductID = pid
	d.Class = model.ClassCode(class)
	d.Manufacturer = readFile(filepath.Join(dir, "manufacturer"))
	d.Product = readFile(filepath.Join(dir, "product"))
	d.Serial = readFile(filepath.Join(dir, "serial"))
	d.InterfaceClasses = interfaceClasses(dir)
	return d, nil
}

// interfaceClasses 遍历接口目录，例如 1-1:1.0，读取 bInterfaceClass
func interfaceClasses(dir string) []model.ClassCode {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	prefix := filepath.Base(dir) + ":"
	seen := make(map[model.ClassCode]bool)
	var classes []model.ClassCode
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		c, err := readUint8(filepath.Join(dir, e.Name(), "bInterfaceClass"), 16)
		if err != nil || seen[model.ClassCode(c)] {
			continue
		}
		seen[model.ClassCode(c)] = true
		classes = append(classes, model.ClassCode(c))
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

// readFile 文件不存在时返回空字符串 (可选属性，例如 serial)
func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readUint8(path string, base int) (uint8, error) {
	s := readFile(path)
	if s == "" {
		return 0, fmt.Errorf("missing attribute %s", filepath.Base(path))
	}
	v, err := strconv.ParseUint(s, base, 8)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", filepath.Base(path), err)
	}
	return uint8(v), nil
}

//go:build linux

package enumerate

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CheckAccess 确认可以读取 sysfs 设备目录，字符串描述符需要读取权限
func CheckAccess(root string) error {
	if err := unix.Access(root, unix.R_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPermission, root, err)
	}
	return nil
}

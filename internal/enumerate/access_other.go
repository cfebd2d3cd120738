//go:build !linux

package enumerate

import (
	"fmt"
	"os"
)

func CheckAccess(root string) error {
	if _, err := os.Stat(root); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPermission, root, err)
	}
	return nil
}

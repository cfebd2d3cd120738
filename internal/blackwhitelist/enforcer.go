package blackwhitelist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Hara602/usbwatch/internal/model"
	"go.uber.org/zap"
)

// Enforcer 对新接入的设备执行黑白名单策略。
// Enforce 为 false 时只记录，不真正禁用设备。
type Enforcer struct {
	list      *List
	policy    Policy
	enforce   bool
	sysfsRoot string
	log       *zap.Logger
}

func NewEnforcer(list *List, policy Policy, enforce bool, sysfsRoot string, log *zap.Logger) *Enforcer {
	return &Enforcer{
		list:      list,
		policy:    policy,
		enforce:   enforce,
		sysfsRoot: sysfsRoot,
		log:       log.Named("policy"),
	}
}

func (e *Enforcer) OnEvent(_ context.Context, ev model.ChangeEvent) error {
	if ev.Kind != model.Connected {
		return nil
	}
	v := e.list.Check(ev.Descriptor, e.policy)
	if !v.Blocked {
		return nil
	}

	e.log.Warn("🚫 device violates policy",
		zap.Stringer("identity", ev.Identity),
		zap.String("name", ev.Descriptor.DisplayName()),
		zap.String("port", ev.Descriptor.Port),
		zap.String("reason", v.Reason),
		zap.Int64("rule", v.RuleID),
		zap.Bool("enforce", e.enforce))

	if !e.enforce {
		return nil
	}
	if ev.Descriptor.Port == "" {
		return fmt.Errorf("block %s: unknown sysfs port", ev.Identity)
	}
	return BlockDevice(e.sysfsRoot, ev.Descriptor.Port)
}

func (e *Enforcer) OnDiagnostic(context.Context, model.Diagnostic) error {
	return nil
}

// BlockDevice 通过 Sysfs 禁用设备
// port 类似于 "1-1.2"
func BlockDevice(sysfsRoot, port string) error {
	// 路径: /sys/bus/usb/devices/1-1.2/authorized
	path := filepath.Join(sysfsRoot, port, "authorized")
	// 写入 "0" 代表物理层级禁用
	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		return fmt.Errorf("block failed: %w", err)
	}
	return nil
}

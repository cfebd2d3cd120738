package model

import (
	"time"

	"github.com/google/uuid"
)

// EventKind 插拔事件类型
type EventKind uint8

const (
	Connected EventKind = iota + 1
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ChangeEvent 一次检测到的状态变化，发出后不再修改
type ChangeEvent struct {
	ID         uuid.UUID        `json:"id"`
	Identity   DeviceIdentity   `json:"identity"`
	Descriptor DeviceDescriptor `json:"descriptor"` // Disconnected 时为最后一次看到的描述符
	Kind       EventKind        `json:"kind"`
	Timestamp  time.Time        `json:"timestamp"`
	Suspicion  *SuspicionReport `json:"suspicion,omitempty"`
}

func NewChangeEvent(id DeviceIdentity, d DeviceDescriptor, kind EventKind, ts time.Time) ChangeEvent {
	return ChangeEvent{
		ID:         uuid.New(),
		Identity:   id,
		Descriptor: d,
		Kind:       kind,
		Timestamp:  ts,
	}
}

// SuspicionReason 可疑活动类型
type SuspicionReason uint8

const (
	RateExceeded SuspicionReason = iota + 1
	RapidReconnect
	UnknownVendorBurst
	ClassMismatch
	HIDStorageComposite // 同时带 HID 和存储接口 (BadUSB)
)

func (r SuspicionReason) String() string {
	switch r {
	case RateExceeded:
		return "rate_exceeded"
	case RapidReconnect:
		return "rapid_reconnect"
	case UnknownVendorBurst:
		return "unknown_vendor_burst"
	case ClassMismatch:
		return "class_mismatch"
	case HIDStorageComposite:
		return "hid_storage_composite"
	}
	return "unknown"
}

func (r SuspicionReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Severity 可疑程度，数值越大越严重
type Severity uint8

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	}
	return "none"
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type SuspicionReport struct {
	Reason     SuspicionReason  `json:"reason"`
	Severity   Severity         `json:"severity"`
	Identities []DeviceIdentity `json:"identities"`
	Detail     string           `json:"detail,omitempty"`
}

// HistoryEntry 检测器为每个设备保留的一条历史
type HistoryEntry struct {
	Kind      EventKind
	Timestamp time.Time
}

// DiagnosticLevel 诊断信息等级，方便下游过滤噪音
type DiagnosticLevel uint8

const (
	DiagnosticInfo DiagnosticLevel = iota + 1
	DiagnosticWarning
	DiagnosticError
)

func (l DiagnosticLevel) String() string {
	switch l {
	case DiagnosticInfo:
		return "info"
	case DiagnosticWarning:
		return "warning"
	case DiagnosticError:
		return "error"
	}
	return "unknown"
}

func (l DiagnosticLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

type DiagnosticCode string

const (
	CodeEnumerationFailed DiagnosticCode = "enumeration_failed"
	CodeIdentityCollision DiagnosticCode = "identity_collision"
	CodeEventSuppressed   DiagnosticCode = "event_suppressed"
	CodeSinkBackpressure  DiagnosticCode = "sink_backpressure"
)

// Diagnostic 非致命的问题，通过和事件相同的 sink 通道上报
type Diagnostic struct {
	Time     time.Time       `json:"time"`
	Level    DiagnosticLevel `json:"level"`
	Code     DiagnosticCode  `json:"code"`
	Message  string          `json:"message"`
	Identity *DeviceIdentity `json:"identity,omitempty"`
}

package sink

import (
	"context"
	"testing"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSinkEvents(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(zap.New(core))

	d := model.DeviceDescriptor{
		VendorID: 0x0781, ProductID: 0x5581, Serial: "4C53000",
		Manufacturer: "SanDisk", Product: "Ultra",
		InterfaceClasses: []model.ClassCode{0x03, 0x08},
	}
	id := model.DeviceIdentity{Kind: model.IdentitySerial, VendorID: 0x0781, ProductID: 0x5581, Serial: "4C53000"}
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.OnEvent(context.Background(), model.ChangeEvent{
		ID: uuid.New(), Identity: id, Descriptor: d, Kind: model.Connected, Timestamp: ts,
	}))
	require.NoError(t, s.OnEvent(context.Background(), model.ChangeEvent{
		ID: uuid.New(), Identity: id, Descriptor: d, Kind: model.Disconnected, Timestamp: ts,
		Suspicion: &model.SuspicionReport{Reason: model.RapidReconnect, Severity: model.SeverityHigh},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "SanDisk Ultra", ctx["name"])
	assert.Equal(t, "0781", ctx["vid"])
	assert.Equal(t, "BADUSB_SUSPECT", ctx["type"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Contains(t, entries[1].Message, "disconnected")
	assert.Equal(t, "rapid_reconnect", entries[1].ContextMap()["reason"])
}

func TestLogSinkDiagnostics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewLogSink(zap.New(core))

	id := model.DeviceIdentity{Kind: model.IdentityPort, Bus: 1, Address: 3}
	require.NoError(t, s.OnDiagnostic(context.Background(), model.Diagnostic{
		Level: model.DiagnosticWarning, Code: model.CodeIdentityCollision, Message: "collision", Identity: &id,
	}))
	require.NoError(t, s.OnDiagnostic(context.Background(), model.Diagnostic{
		Level: model.DiagnosticInfo, Code: model.CodeEventSuppressed, Message: "quiet",
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "port:001-003", entries[0].ContextMap()["identity"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
}

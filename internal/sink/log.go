// Package sink holds the structured-log event sink.
package sink

import (
	"context"

	"github.com/Hara602/usbwatch/internal/analysis"
	"github.com/Hara602/usbwatch/internal/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogSink 把事件写成结构化日志
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

func (s *LogSink) OnEvent(_ context.Context, ev model.ChangeEvent) error {
	_, devType := analysis.CheckBadUSB(ev.Descriptor)
	fields := []zap.Field{
		zap.String("id", ev.ID.String()),
		zap.Stringer("identity", ev.Identity),
		zap.String("name", ev.Descriptor.DisplayName()),
		zap.Stringer("vid", ev.Descriptor.VendorID),
		zap.Stringer("pid", ev.Descriptor.ProductID),
		zap.String("serial", ev.Descriptor.Serial),
		zap.String("port", ev.Descriptor.Port),
		zap.Stringer("class", ev.Descriptor.Class),
		zap.String("type", devType),
		zap.Time("at", ev.Timestamp),
	}

	msg := "🔌 USB device connected"
	if ev.Kind == model.Disconnected {
		msg = "⏏️ USB device disconnected"
	}

	if r := ev.Suspicion; r != nil {
		fields = append(fields,
			zap.Stringer("reason", r.Reason),
			zap.Stringer("severity", r.Severity),
			zap.String("detail", r.Detail),
			zap.Int("related", len(r.Identities)))
		s.log.Warn("🚨 "+msg+" (suspicious)", fields...)
		return nil
	}
	s.log.Info(msg, fields...)
	return nil
}

func (s *LogSink) OnDiagnostic(_ context.Context, d model.Diagnostic) error {
	fields := []zap.Field{
		zap.String("code", string(d.Code)),
		zap.Time("at", d.Time),
	}
	if d.Identity != nil {
		fields = append(fields, zap.Stringer("identity", *d.Identity))
	}
	s.log.Log(diagnosticLevel(d.Level), d.Message, fields...)
	return nil
}

func diagnosticLevel(l model.DiagnosticLevel) zapcore.Level {
	switch l {
	case model.DiagnosticError:
		return zapcore.ErrorLevel
	case model.DiagnosticWarning:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

// Package metrics exports device events and scheduler counters to Prometheus.
package metrics

import (
	"context"

	"github.com/Hara602/usbwatch/internal/model"
	"github.com/Hara602/usbwatch/internal/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "usbwatch"

// Sink 按事件类型、可疑原因、诊断代码计数
type Sink struct {
	events      *prometheus.CounterVec
	suspicious  *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
}

func NewSink(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "device_events_total", Help: "Device change events by kind."},
			[]string{"kind"},
		),
		suspicious: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "suspicious_events_total", Help: "Suspicious events by reason and severity."},
			[]string{"reason", "severity"},
		),
		diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "diagnostics_total", Help: "Diagnostics by code and level."},
			[]string{"code", "level"},
		),
	}
	for _, c := range []prometheus.Collector{s.events, s.suspicious, s.diagnostics} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Sink) OnEvent(_ context.Context, ev model.ChangeEvent) error {
	s.events.WithLabelValues(ev.Kind.String()).Inc()
	if r := ev.Suspicion; r != nil {
		s.suspicious.WithLabelValues(r.Reason.String(), r.Severity.String()).Inc()
	}
	return nil
}

func (s *Sink) OnDiagnostic(_ context.Context, d model.Diagnostic) error {
	s.diagnostics.WithLabelValues(string(d.Code), d.Level.String()).Inc()
	return nil
}

// RegisterStats 把调度器的计数器暴露为 CounterFunc / GaugeFunc，抓取时读取
func RegisterStats(reg prometheus.Registerer, stats func() monitor.Stats) error {
	counter := func(name, help string, get func(monitor.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "scheduler", Name: name, Help: help},
			func() float64 { return float64(get(stats())) },
		)
	}

	collectors := []prometheus.Collector{
		counter("scans_total", "Enumeration passes.", func(s monitor.Stats) uint64 { return s.Scans }),
		counter("scan_failures_total", "Failed enumeration passes.", func(s monitor.Stats) uint64 { return s.ScanFailures }),
		counter("events_emitted_total", "Events handed to sinks.", func(s monitor.Stats) uint64 { return s.EventsEmitted }),
		counter("events_suppressed_total", "Events dropped by the rate limiter.", func(s monitor.Stats) uint64 { return s.EventsSuppressed }),
		counter("sink_dropped_total", "Items dropped because a sink queue was full.", func(s monitor.Stats) uint64 { return s.SinkDropped }),
		counter("sink_errors_total", "Errors returned by sinks.", func(s monitor.Stats) uint64 { return s.SinkErrors }),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "scheduler", Name: "devices", Help: "Devices in the latest snapshot."},
			func() float64 { return float64(stats().Devices) },
		),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Package monitor runs the polling session: enumerate, filter, diff, score,
// rate-limit and hand events to the registered sinks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Hara602/usbwatch/internal/analysis"
	"github.com/Hara602/usbwatch/internal/config"
	"github.com/Hara602/usbwatch/internal/diff"
	"github.com/Hara602/usbwatch/internal/enumerate"
	"github.com/Hara602/usbwatch/internal/filter"
	"github.com/Hara602/usbwatch/internal/model"
	"github.com/Hara602/usbwatch/internal/ratelimit"
	"github.com/Hara602/usbwatch/internal/sysutil"
	"go.uber.org/zap"
)

var ErrAlreadyRunning = errors.New("monitor is already running")

// Sink 事件的下游 (日志、数据库、metrics、redis ...)。
// 每个 sink 在自己的 goroutine 中被调用，返回的错误只记录不中断监控。
type Sink interface {
	OnEvent(ctx context.Context, ev model.ChangeEvent) error
	OnDiagnostic(ctx context.Context, diag model.Diagnostic) error
}

type State int32

const (
	StateIdle State = iota
	StateScanning
	StateEmitting
	StateWaiting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateEmitting:
		return "emitting"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Stats 运行计数，任意 goroutine 都可以读取
type Stats struct {
	Scans            uint64
	ScanFailures     uint64
	EventsEmitted    uint64
	EventsSuppressed uint64
	Diagnostics      uint64
	SinkDropped      uint64
	SinkErrors       uint64
	Devices          int64
}

type counters struct {
	scans            atomic.Uint64
	scanFailures     atomic.Uint64
	eventsEmitted    atomic.Uint64
	eventsSuppressed atomic.Uint64
	diagnostics      atomic.Uint64
	sinkDropped      atomic.Uint64
	sinkErrors       atomic.Uint64
	devices          atomic.Int64
}

type namedSink struct {
	name string
	sink Sink
}

type Option func(*Scheduler)

// WithSink 注册一个 sink，name 用于日志
func WithSink(name string, sink Sink) Option {
	return func(s *Scheduler) {
		s.sinks = append(s.sinks, namedSink{name: name, sink: sink})
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.log = l.Named("monitor")
	}
}

// WithClock 替换快照时间来源，测试用
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithTrigger 收到信号时提前结束等待，立即扫描 (例如 udev 热插拔事件)
func WithTrigger(ch <-chan struct{}) Option {
	return func(s *Scheduler) {
		s.trigger = ch
	}
}

// Scheduler 一个监控会话。prev / detector / limiter / suppressing 只在 Run 的
// goroutine 中读写。
type Scheduler struct {
	cfg      config.Config
	provider enumerate.Provider
	pipeline *filter.Pipeline
	detector *analysis.Detector
	limiter  *ratelimit.Limiter
	sinks    []namedSink
	trigger  <-chan struct{}
	now      func() time.Time
	log      *zap.Logger

	prev        *model.Snapshot
	suppressing map[model.DeviceIdentity]bool

	running atomic.Bool
	state   atomic.Int32
	stats   counters
}

func New(cfg config.Config, provider enumerate.Provider, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, &config.ValidationError{Field: "provider", Reason: "must not be nil"}
	}
	pipeline, err := filter.New(cfg.Filters)
	if err != nil {
		return nil, &config.ValidationError{Field: "filters.name_patterns", Reason: "does not compile", Err: err}
	}

	s := &Scheduler{
		cfg:         cfg,
		provider:    provider,
		pipeline:    pipeline,
		detector:    analysis.NewDetector(cfg.Suspicion.Thresholds()),
		limiter:     ratelimit.New(cfg.RateLimit),
		now:         time.Now,
		log:         sysutil.Log.Named("monitor"),
		suppressing: make(map[model.DeviceIdentity]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

func (s *Scheduler) Stats() Stats {
	return Stats{
		Scans:            s.stats.scans.Load(),
		ScanFailures:     s.stats.scanFailures.Load(),
		EventsEmitted:    s.stats.eventsEmitted.Load(),
		EventsSuppressed: s.stats.eventsSuppressed.Load(),
		Diagnostics:      s.stats.diagnostics.Load(),
		SinkDropped:      s.stats.sinkDropped.Load(),
		SinkErrors:       s.stats.sinkErrors.Load(),
		Devices:          s.stats.devices.Load(),
	}
}

// Run 阻塞直到 ctx 取消 (continuous) 或完成一次扫描 (once)。
// 枚举失败只产生诊断信息，不会让 Run 返回错误。
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	d := newDispatcher(s.sinks, s.cfg.Sinks.Buffer, s.log, &s.stats)
	d.start()
	defer func() {
		s.setState(StateStopped)
		d.stop(s.cfg.Sinks.DrainTimeout.Std())
		s.log.Info("🛑 monitor stopped", zap.Uint64("scans", s.stats.scans.Load()))
	}()

	s.log.Info("🚀 monitor started",
		zap.String("mode", string(s.cfg.Mode)),
		zap.Duration("interval", s.cfg.PollInterval.Std()),
		zap.Int("sinks", len(s.sinks)))

	trigger := s.trigger
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.setState(StateScanning)
		descs, err := s.provider.Enumerate(ctx)
		s.stats.scans.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.stats.scanFailures.Add(1)
			s.log.Warn("⚠️ enumeration failed, keeping previous snapshot", zap.Error(err))
			s.diagnose(d, model.DiagnosticWarning, model.CodeEnumerationFailed, err.Error(), nil)
		} else {
			s.setState(StateEmitting)
			s.emit(d, descs)
		}

		if s.cfg.Mode == config.ModeOnce {
			s.setState(StateIdle)
			return nil
		}

		s.setState(StateWaiting)
		var ok bool
		if ok, trigger = s.wait(ctx, trigger); !ok {
			return nil
		}
	}
}

// wait 唯一的挂起点。trigger 被关闭后不再监听它。
func (s *Scheduler) wait(ctx context.Context, trigger <-chan struct{}) (bool, <-chan struct{}) {
	timer := time.NewTimer(s.cfg.PollInterval.Std())
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, trigger
	case <-timer.C:
		return true, trigger
	case _, ok := <-trigger:
		if !ok {
			s.log.Debug("wake trigger closed, falling back to interval polling")
			return true, nil
		}
		return true, trigger
	}
}

// emit 过滤 → 快照 → diff → 打分 → 限流 → 分发，最后保存快照
func (s *Scheduler) emit(d *dispatcher, descs []model.DeviceDescriptor) {
	taken := s.now()
	retained := s.pipeline.Apply(descs)

	snap, collisions := diff.BuildSnapshot(retained, taken)
	for _, c := range collisions {
		id := c.Identity
		s.diagnose(d, model.DiagnosticWarning, model.CodeIdentityCollision,
			fmt.Sprintf("identity %s reported by %s and %s, keeping the first", id, describe(c.Kept), describe(c.Dropped)), &id)
	}

	baseline := s.prev == nil
	events := s.detector.Observe(diff.Diff(s.prev, snap), baseline)

	for _, ev := range events {
		if !s.limiter.Admit(ev.Identity, ev.Timestamp) {
			s.stats.eventsSuppressed.Add(1)
			if !s.suppressing[ev.Identity] {
				s.suppressing[ev.Identity] = true
				id := ev.Identity
				s.diagnose(d, model.DiagnosticWarning, model.CodeEventSuppressed,
					fmt.Sprintf("rate limit reached for %s, dropping %s events until it recovers", id, ev.Kind), &id)
			}
			continue
		}
		delete(s.suppressing, ev.Identity)
		s.stats.eventsEmitted.Add(1)
		d.event(ev)
	}

	s.prev = &snap
	s.stats.devices.Store(int64(snap.Len()))
	s.log.Debug("scan complete",
		zap.Int("devices", snap.Len()),
		zap.Int("filtered", len(descs)-len(retained)),
		zap.Int("events", len(events)),
		zap.Bool("baseline", baseline))
}

func (s *Scheduler) diagnose(d *dispatcher, level model.DiagnosticLevel, code model.DiagnosticCode, msg string, id *model.DeviceIdentity) {
	s.stats.diagnostics.Add(1)
	d.diagnostic(model.Diagnostic{
		Time:     s.now(),
		Level:    level,
		Code:     code,
		Message:  msg,
		Identity: id,
	})
}

func describe(d model.DeviceDescriptor) string {
	if d.Port != "" {
		return d.Port
	}
	return fmt.Sprintf("%03d-%03d", d.Bus, d.Address)
}

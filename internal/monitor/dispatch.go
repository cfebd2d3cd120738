package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"go.uber.org/zap"
)

type item struct {
	event *model.ChangeEvent
	diag  *model.Diagnostic
}

type worker struct {
	name  string
	sink  Sink
	queue chan item
	// 只由扫描循环读写
	congested bool
}

// dispatcher 每个 sink 一个 goroutine 和一个有界队列，慢 sink 不会拖住扫描循环
type dispatcher struct {
	workers []*worker
	stats   *counters
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDispatcher(sinks []namedSink, buffer int, log *zap.Logger, stats *counters) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{stats: stats, log: log, ctx: ctx, cancel: cancel}
	for _, s := range sinks {
		d.workers = append(d.workers, &worker{
			name:  s.name,
			sink:  s.sink,
			queue: make(chan item, buffer),
		})
	}
	return d
}

func (d *dispatcher) start() {
	for _, w := range d.workers {
		d.wg.Add(1)
		go func(w *worker) {
			defer d.wg.Done()
			for it := range w.queue {
				d.deliver(w, it)
			}
		}(w)
	}
}

func (d *dispatcher) deliver(w *worker, it item) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
		if err != nil {
			d.stats.sinkErrors.Add(1)
			d.log.Warn("❌ sink failed", zap.String("sink", w.name), zap.Error(err))
		}
	}()

	if it.event != nil {
		err = w.sink.OnEvent(d.ctx, *it.event)
	} else {
		err = w.sink.OnDiagnostic(d.ctx, *it.diag)
	}
}

func (d *dispatcher) event(ev model.ChangeEvent) {
	for _, w := range d.workers {
		d.offer(w, item{event: &ev})
	}
}

func (d *dispatcher) diagnostic(diag model.Diagnostic) {
	for _, w := range d.workers {
		d.offer(w, item{diag: &diag})
	}
}

// offer 队列满时丢弃，每次拥塞只告警一次
func (d *dispatcher) offer(w *worker, it item) {
	select {
	case w.queue <- it:
		if w.congested && len(w.queue) < cap(w.queue)/2 {
			w.congested = false
			d.log.Info("sink queue recovered", zap.String("sink", w.name))
		}
		return
	default:
	}

	d.stats.sinkDropped.Add(1)
	if w.congested {
		return
	}
	w.congested = true
	d.log.Warn("⚠️ sink queue full, dropping",
		zap.String("sink", w.name),
		zap.String("code", string(model.CodeSinkBackpressure)),
		zap.Int("capacity", cap(w.queue)))

	// 通知其它 sink，它们的队列满了就算了
	diag := model.Diagnostic{
		Time:    time.Now(),
		Level:   model.DiagnosticWarning,
		Code:    model.CodeSinkBackpressure,
		Message: fmt.Sprintf("sink %q queue is full, items are being dropped", w.name),
	}
	for _, other := range d.workers {
		if other == w {
			continue
		}
		select {
		case other.queue <- item{diag: &diag}:
			d.stats.diagnostics.Add(1)
		default:
		}
	}
}

// stop 关闭队列并等待 sink 处理完剩余的内容，超时后取消 sink 的 context
func (d *dispatcher) stop(timeout time.Duration) {
	for _, w := range d.workers {
		close(w.queue)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		pending := 0
		for _, w := range d.workers {
			pending += len(w.queue)
		}
		d.log.Warn("sink drain timed out", zap.Duration("timeout", timeout), zap.Int("pending", pending))
		d.cancel()
		// sink 收到取消后应尽快返回
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	d.cancel()
}

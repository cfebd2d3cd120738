// Package ratelimit suppresses flapping devices with a token bucket per
// identity.
package ratelimit

import (
	"time"

	"github.com/Hara602/usbwatch/internal/model"
	"golang.org/x/time/rate"
)

const (
	DefaultRate       = 1.0
	DefaultBurst      = 3
	DefaultMaxBuckets = 4096
)

type Params struct {
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
	MaxBuckets    int     `json:"max_buckets"`
}

func DefaultParams() Params {
	return Params{RatePerSecond: DefaultRate, Burst: DefaultBurst, MaxBuckets: DefaultMaxBuckets}
}

// Limiter 按设备身份的令牌桶。被拒绝的事件直接丢弃，不排队不重试。
// 只允许扫描循环单线程调用。
type Limiter struct {
	params     Params
	buckets    map[model.DeviceIdentity]*rate.Limiter
	suppressed uint64
}

func New(p Params) *Limiter {
	if p.MaxBuckets <= 0 {
		p.MaxBuckets = DefaultMaxBuckets
	}
	return &Limiter{
		params:  p,
		buckets: make(map[model.DeviceIdentity]*rate.Limiter),
	}
}

// Admit 在事件时间戳上消耗一个令牌，桶空时返回 false
func (l *Limiter) Admit(id model.DeviceIdentity, ts time.Time) bool {
	b, ok := l.buckets[id]
	if !ok {
		if len(l.buckets) >= l.params.MaxBuckets {
			l.prune(ts)
		}
		b = rate.NewLimiter(rate.Limit(l.params.RatePerSecond), l.params.Burst)
		l.buckets[id] = b
	}
	if b.AllowN(ts, 1) {
		return true
	}
	l.suppressed++
	return false
}

// prune 删除已经回满的桶，回满的桶和新建的桶没有区别
func (l *Limiter) prune(ts time.Time) {
	full := float64(l.params.Burst)
	for id, b := range l.buckets {
		if b.TokensAt(ts) >= full {
			delete(l.buckets, id)
		}
	}
}

// Suppressed 累计被丢弃的事件数
func (l *Limiter) Suppressed() uint64 { return l.suppressed }

// Tracked 当前保留的桶数量
func (l *Limiter) Tracked() int { return len(l.buckets) }

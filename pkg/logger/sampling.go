package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// SamplingConfig configures log sampling behavior.
type SamplingConfig struct {
	// Enabled turns sampling on. Off by default so tests and development
	// see every line.
	Enabled bool

	// Tick is the interval after which per-message counters reset.
	Tick time.Duration

	// Threshold is how many identical logs pass per tick before sampling
	// applies.
	Threshold uint64

	// Rate is the sampling rate after the threshold [0.0, 1.0].
	Rate float64

	// ErrorRate is the rate for warn and error records. Defaults to keeping
	// all of them.
	ErrorRate float64

	// MaxCounterSize caps the number of distinct message keys tracked.
	MaxCounterSize int
}

const (
	defaultSamplingTick           = time.Second
	defaultSamplingThreshold      = 100
	defaultSamplingMaxCounterSize = 10000
)

// samplingHandler wraps another handler with threshold-based sampling. The
// first Threshold records per (level, message) pair in each tick pass
// through untouched; beyond that, one in 1/Rate is kept.
type samplingHandler struct {
	handler     slog.Handler
	config      SamplingConfig
	counters    sync.Map // map[string]*counter
	counterSize atomic.Int64
	lastReset   atomic.Int64
}

type counter struct {
	count atomic.Uint64
}

// NewSamplingHandler wraps h with sampling when cfg.Enabled is set, and
// returns h unchanged otherwise.
func NewSamplingHandler(h slog.Handler, cfg SamplingConfig) slog.Handler {
	if !cfg.Enabled {
		return h
	}

	if cfg.Tick == 0 {
		cfg.Tick = defaultSamplingTick
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultSamplingThreshold
	}
	if cfg.MaxCounterSize == 0 {
		cfg.MaxCounterSize = defaultSamplingMaxCounterSize
	}

	sh := &samplingHandler{
		handler: h,
		config:  cfg,
	}
	sh.lastReset.Store(time.Now().UnixNano())

	return sh
}

func (h *samplingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *samplingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.maybeResetCounters()

	key := r.Level.String() + ":" + r.Message

	// Too many distinct messages: stop counting, log everything.
	if h.counterSize.Load() >= int64(h.config.MaxCounterSize) {
		return h.handler.Handle(ctx, r)
	}

	val, loaded := h.counters.LoadOrStore(key, &counter{})
	if !loaded {
		h.counterSize.Add(1)
	}
	cnt := val.(*counter)
	count := cnt.count.Add(1)

	if count <= h.config.Threshold {
		return h.handler.Handle(ctx, r)
	}

	rate := h.config.Rate
	if r.Level >= slog.LevelWarn {
		rate = h.config.ErrorRate
	}

	if h.shouldSample(count, rate) {
		return h.handler.Handle(ctx, r)
	}

	return nil
}

func (h *samplingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &samplingHandler{
		handler: h.handler.WithAttrs(attrs),
		config:  h.config,
	}
}

func (h *samplingHandler) WithGroup(name string) slog.Handler {
	return &samplingHandler{
		handler: h.handler.WithGroup(name),
		config:  h.config,
	}
}

// shouldSample is deterministic: every 1/rate-th record passes. Consistent
// behavior across worker restarts beats randomness here.
func (h *samplingHandler) shouldSample(count uint64, rate float64) bool {
	if rate >= 1.0 {
		return true
	}
	if rate <= 0.0 {
		return false
	}
	interval := uint64(1.0 / rate)
	return count%interval == 0
}

func (h *samplingHandler) maybeResetCounters() {
	now := time.Now().UnixNano()
	last := h.lastReset.Load()

	if now-last >= h.config.Tick.Nanoseconds() {
		if h.lastReset.CompareAndSwap(last, now) {
			h.counters.Range(func(key, _ any) bool {
				h.counters.Delete(key)
				return true
			})
			h.counterSize.Store(0)
		}
	}
}

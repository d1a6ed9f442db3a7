package watcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"trade-notifier/internal/model"
	"trade-notifier/internal/notifier"

	"github.com/jpillora/backoff"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// slot 记录某个来源当前运行的 watcher 以及失败历史
type slot struct {
	source   model.Source
	current  *SourceWatcher
	restarts int
	lastErr  error
}

// Supervisor 为每个来源启动一个独立的 SourceWatcher，
// watcher 失败后按退避时间重启，不影响其他来源。
type Supervisor struct {
	notifier notifier.Notifier
	logger   *zap.Logger
	options  []Option

	minBackoff time.Duration
	maxBackoff time.Duration

	mu    sync.RWMutex
	slots []*slot
}

// SupervisorOption 用于配置 Supervisor
type SupervisorOption func(s *Supervisor)

// WithWatcherOptions 传递给每个 SourceWatcher 的选项
func WithWatcherOptions(options ...Option) SupervisorOption {
	return func(s *Supervisor) {
		s.options = append(s.options, options...)
	}
}

// WithRestartBackoff 设置重启退避区间
func WithRestartBackoff(minDelay, maxDelay time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.minBackoff = minDelay
		s.maxBackoff = maxDelay
	}
}

// NewSupervisor 创建监管者
func NewSupervisor(sources []model.Source, sink notifier.Notifier, logger *zap.Logger, options ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		notifier:   sink,
		logger:     logger,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
	for _, src := range sources {
		s.slots = append(s.slots, &slot{source: src})
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Run 并发运行所有 watcher，直到 ctx 取消且全部退出
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.slots) == 0 {
		return errors.New("no sources configured")
	}

	p := pool.New().WithContext(ctx)
	for _, sl := range s.slots {
		sl := sl
		p.Go(func(ctx context.Context) error {
			s.supervise(ctx, sl)
			return nil
		})
	}
	return p.Wait()
}

// supervise 持续运行一个来源的 watcher，失败后退避重启
func (s *Supervisor) supervise(ctx context.Context, sl *slot) {
	logger := s.logger.With(zap.String("Source", sl.source.Name))
	b := &backoff.Backoff{
		Min:    s.minBackoff,
		Max:    s.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for {
		started := time.Now()
		err := s.runOnce(ctx, sl, logger)
		if ctx.Err() != nil {
			return
		}

		// 稳定运行过一段时间后重新计算退避
		if time.Since(started) > s.maxBackoff {
			b.Reset()
		}
		delay := b.Duration()
		s.recordFailure(sl, err)
		logger.Error("Watcher failed, restarting",
			zap.Error(err),
			zap.Duration("Backoff", delay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, sl *slot, logger *zap.Logger) error {
	options := append([]Option{WithLogger(logger)}, s.options...)
	w, err := NewSourceWatcher(sl.source, s.notifier, options...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sl.current = w
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		sl.current = nil
		s.mu.Unlock()
	}()

	// watcher 内部 panic 视为一次失败，交给重启逻辑处理
	var pc panics.Catcher
	pc.Try(func() { err = w.Run(ctx) })
	if r := pc.Recovered(); r != nil {
		return r.AsError()
	}
	if err == nil && ctx.Err() == nil {
		return errors.New("watcher exited unexpectedly")
	}
	return err
}

func (s *Supervisor) recordFailure(sl *slot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.restarts++
	sl.lastErr = err
}

// Snapshot 返回所有来源的状态 (实现 notifier.StatusSource)
func (s *Supervisor) Snapshot() []model.SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SourceStatus, 0, len(s.slots))
	for _, sl := range s.slots {
		st := model.SourceStatus{
			Name:     sl.source.Name,
			Path:     sl.source.TradesPath,
			Restarts: sl.restarts,
		}
		if sl.lastErr != nil {
			st.LastError = sl.lastErr.Error()
		}
		if sl.current != nil {
			st.Running = true
			st.Offset = sl.current.Offset()
			st.Stats = sl.current.Stats()
		}
		out = append(out, st)
	}
	return out
}

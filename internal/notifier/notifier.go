// Package notifier 定义成交通知的投递接口 (Dispatch Sink) 及其实现：
// Telegram 聊天频道、NATS 消息总线、WebSocket 转发以及 zap 日志。
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"trade-notifier/internal/model"

	"go.uber.org/zap"
)

// ErrDelivery 表示通知未能送达
var ErrDelivery = errors.New("delivery failure")

// Notifier 是通知投递的通用接口。
// 多个 SourceWatcher 会并发调用 Notify，实现必须是并发安全的。
type Notifier interface {
	// Notify 针对一条成功解析的交易记录投递一次通知
	Notify(ctx context.Context, source string, trade model.TradeRecord) error
}

// Multi 将一条记录扇出到所有已注册的 Notifier
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMulti 创建扇出通知器
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Add 注册一个新的 Notifier
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Len 返回已注册的 Notifier 数量
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}

// Notify 依次投递给每个 Notifier，单个失败不影响其余投递，最终合并所有错误
func (m *Multi) Notify(ctx context.Context, source string, trade model.TradeRecord) error {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, source, trade); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if errors.Is(err, ErrDelivery) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDelivery, err)
}

// Log 把每条成交写入 zap 日志，始终启用
type Log struct {
	logger *zap.Logger
}

// NewLog 创建日志通知器
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.With(zap.String("notifier", "log"))}
}

func (l *Log) Notify(_ context.Context, source string, trade model.TradeRecord) error {
	l.logger.Info("New trade",
		zap.String("Source", source),
		zap.String("Side", trade.Side.String()),
		zap.String("Pair", trade.Pair()),
		zap.String("Price", trade.Price.String()),
		zap.String("Amount", trade.Amount.String()))
	return nil
}

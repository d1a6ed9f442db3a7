package watcher

import (
	"context"
	"time"
)

// DefaultDebounce 默认静默窗口
const DefaultDebounce = time.Second

// Debouncer 将一串原始文件变更事件合并为一次信号：
// 最后一个事件之后静默 quiet 时长才向下游发出一次通知。
type Debouncer struct {
	quiet time.Duration
	in    chan struct{} // 容量为 1，满了即合并
	out   chan struct{}
}

// NewDebouncer 创建去抖器，quiet <= 0 时使用 DefaultDebounce
func NewDebouncer(quiet time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = DefaultDebounce
	}
	return &Debouncer{
		quiet: quiet,
		in:    make(chan struct{}, 1),
		out:   make(chan struct{}),
	}
}

// Trigger 记录一次原始事件，永不阻塞 (fsnotify 读取循环调用)
func (d *Debouncer) Trigger() {
	select {
	case d.in <- struct{}{}:
	default:
		// 已有未处理事件，合并
	}
}

// C 返回去抖后的信号通道
func (d *Debouncer) C() <-chan struct{} {
	return d.out
}

// Run 驱动去抖逻辑直到 ctx 结束
func (d *Debouncer) Run(ctx context.Context) {
	// Go 1.23 起 Stop/Reset 不会留下过期的触发值，无需手动排空 timer.C
	timer := time.NewTimer(d.quiet)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case <-d.in:
			// 每个新事件都重置静默窗口
			timer.Reset(d.quiet)

		case <-timer.C:
			// 下游正忙时在这里等待，期间的新事件在 in 中合并
			select {
			case d.out <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}
}

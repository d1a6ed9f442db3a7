// Package watcher 实现交易日志的增量读取管线：
// fsnotify 事件 → Debouncer 去抖 → 按游标增量读取 → 解析 → 通知。
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"trade-notifier/internal/decoder"
	"trade-notifier/internal/model"
	"trade-notifier/internal/notifier"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrFileAccess 表示打开/定位/读取交易日志失败
var ErrFileAccess = errors.New("file access failure")

type stats struct {
	cycles, records, malformed, deliveryFailures, fileErrors atomic.Uint64
}

// SourceWatcher 监听一个来源文件，持有自己的游标，来源之间不共享任何状态
type SourceWatcher struct {
	source     model.Source
	notifier   notifier.Notifier
	logger     *zap.Logger
	debounce   time.Duration
	splitLines bool

	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	cursor    *Cursor
	stats     stats

	open func(name string) (*os.File, error)
	file os.FileInfo // 上一次读取的文件身份，只在 Run 所在 goroutine 中访问
}

// Option 用于配置 SourceWatcher
type Option func(w *SourceWatcher)

// WithDebounce 设置去抖静默窗口
func WithDebounce(d time.Duration) Option {
	return func(w *SourceWatcher) {
		w.debounce = d
	}
}

// WithSplitLines 开启后一次读取的数据按行拆分、逐条解析；
// 默认关闭，整块数据视为一行 (与日志生产方"一次写入一笔成交"的约定一致)
func WithSplitLines(enabled bool) Option {
	return func(w *SourceWatcher) {
		w.splitLines = enabled
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(w *SourceWatcher) {
		w.logger = logger
	}
}

// NewSourceWatcher 订阅来源文件的变更，并把游标设为当前文件长度 (启动前的历史不回放)
func NewSourceWatcher(source model.Source, sink notifier.Notifier, options ...Option) (*SourceWatcher, error) {
	w := &SourceWatcher{
		source:   source,
		notifier: sink,
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		open:     os.Open,
	}
	for _, option := range options {
		option(w)
	}
	w.logger = w.logger.With(zap.String("Source", source.Name))

	info, err := os.Stat(source.TradesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(source.TradesPath); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("%w: watch %s: %w", ErrFileAccess, source.TradesPath, err)
	}

	w.fsWatcher = fsWatcher
	w.debouncer = NewDebouncer(w.debounce)
	w.cursor = NewCursor(info.Size())
	w.file = info

	w.logger.Debug("Set up watcher",
		zap.String("Path", source.TradesPath),
		zap.Int64("Offset", info.Size()))
	return w, nil
}

// Source 返回监听的来源
func (w *SourceWatcher) Source() model.Source {
	return w.source
}

// Offset 返回当前游标
func (w *SourceWatcher) Offset() int64 {
	return w.cursor.Offset()
}

// Stats 返回运行计数快照
func (w *SourceWatcher) Stats() model.WatcherStats {
	return model.WatcherStats{
		Cycles:           w.stats.cycles.Load(),
		Records:          w.stats.records.Load(),
		Malformed:        w.stats.malformed.Load(),
		DeliveryFailures: w.stats.deliveryFailures.Load(),
		FileErrors:       w.stats.fileErrors.Load(),
	}
}

// Run 是 watcher 的主循环，直到 ctx 取消 (返回 nil) 或订阅无法恢复 (返回错误)。
// 同一来源的读取/解析/投递严格串行。
func (w *SourceWatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer w.fsWatcher.Close()

	go w.debouncer.Run(ctx)

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- w.pumpEvents(ctx)
	}()

	w.logger.Info("Watching trade log", zap.String("Path", w.source.TradesPath))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-pumpErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case <-w.debouncer.C():
			w.runCycle(ctx)
		}
	}
}

// pumpEvents 把 fsnotify 事件转成去抖器的触发信号，不做任何阻塞操作
func (w *SourceWatcher) pumpEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			if err := w.handleEvent(event); err != nil {
				return err
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (w *SourceWatcher) handleEvent(event fsnotify.Event) error {
	switch {
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		w.debouncer.Trigger()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// 文件被替换 (轮转)，需要重新订阅路径；游标在下一次读取时按文件身份重置
		w.logger.Warn("Trade log replaced, re-arming watch", zap.String("Op", event.Op.String()))
		_ = w.fsWatcher.Remove(w.source.TradesPath)
		if err := w.fsWatcher.Add(w.source.TradesPath); err != nil {
			return fmt.Errorf("%w: re-arm watch %s: %w", ErrFileAccess, w.source.TradesPath, err)
		}
		// 新文件可能已有内容
		w.debouncer.Trigger()
	}
	return nil
}

// runCycle 执行一次 读取 → 解析 → 投递
func (w *SourceWatcher) runCycle(ctx context.Context) {
	w.stats.cycles.Add(1)

	data, err := w.readDelta()
	if err != nil {
		w.stats.fileErrors.Add(1)
		w.logger.Error("Failed to read trade log, skipping cycle", zap.Error(err))
		return
	}
	if len(data) == 0 {
		return
	}

	chunks := [][]byte{data}
	if w.splitLines {
		chunks = decoder.SplitLines(data)
	}

	for _, chunk := range chunks {
		trade, err := decoder.Decode(chunk)
		if err != nil {
			w.stats.malformed.Add(1)
			w.logger.Warn("Malformed trade record, skipping", zap.Int("Bytes", len(chunk)), zap.Error(err))
			continue
		}
		w.stats.records.Add(1)

		if err := w.notifier.Notify(ctx, w.source.Name, trade); err != nil {
			w.stats.deliveryFailures.Add(1)
			w.logger.Error("Failed to deliver trade notification",
				zap.String("Trade", trade.String()), zap.Error(err))
		}
	}
}

// readDelta 读取游标之后新追加的字节，并推进游标。
// 文件每次重新打开，不跨周期持有句柄。
func (w *SourceWatcher) readDelta() ([]byte, error) {
	file, err := w.open(w.source.TradesPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	if w.file != nil && !os.SameFile(w.file, info) {
		// 路径指向了新文件，旧游标在新文件里没有意义
		w.logger.Warn("Trade log replaced by a new file, reading from start",
			zap.Int64("Offset", w.cursor.Offset()), zap.Int64("Size", info.Size()))
		w.cursor.Reset()
	}
	w.file = info

	size, offset := info.Size(), w.cursor.Offset()
	if size < offset {
		// 文件被截断或轮转，从头开始读
		w.logger.Warn("Trade log shrank below cursor, rewinding",
			zap.Int64("Offset", offset), zap.Int64("Size", size))
		w.cursor.Reset()
		offset = 0
	}

	delta := size - offset
	if delta == 0 {
		return nil, nil
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}
	buf := make([]byte, delta)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileAccess, err)
	}

	// 无论后续解析成功与否，这些字节都已被消费
	w.cursor.Advance(offset + delta)
	return buf, nil
}

package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trade-notifier/internal/model"
	"trade-notifier/internal/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testQuiet = 100 * time.Millisecond

	lineA = "1700000000,1,2,3,4,BTC,USDT,7,8,BUY,10,100.5,0.002\n"
	lineB = "1700000001,1,2,3,4,ETH,USDT,7,8,SELL,10,2000,0.5\n"
	lineC = "1700000002,1,2,3,4,SOL,USDT,7,8,BUY,10,25.25,10\n"
)

type notification struct {
	source string
	trade  model.TradeRecord
}

// failingSink 模拟一直失败的通知渠道
type failingSink struct {
	calls atomic.Int32
}

func (f *failingSink) Notify(context.Context, string, model.TradeRecord) error {
	f.calls.Add(1)
	return fmt.Errorf("%w: relay unavailable", notifier.ErrDelivery)
}

type recordingSink struct {
	mu    sync.Mutex
	calls []notification
}

func (r *recordingSink) Notify(_ context.Context, source string, trade model.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notification{source: source, trade: trade})
	return nil
}

func (r *recordingSink) Calls() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification, len(r.calls))
	copy(out, r.calls)
	return out
}

func newTradeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func appendTo(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func newWatcher(t *testing.T, path string, sink notifier.Notifier, options ...Option) *SourceWatcher {
	t.Helper()
	options = append([]Option{WithDebounce(testQuiet), WithLogger(zaptest.NewLogger(t))}, options...)
	w, err := NewSourceWatcher(model.Source{Name: "bot-1", TradesPath: path}, sink, options...)
	require.NoError(t, err)
	return w
}

func startWatcher(t *testing.T, path string, sink notifier.Notifier, options ...Option) *SourceWatcher {
	t.Helper()
	return runWatcher(t, newWatcher(t, path, sink, options...))
}

// runWatcher 在后台运行 w，测试结束时取消并确认 Run 正常退出
func runWatcher(t *testing.T, w *SourceWatcher) *SourceWatcher {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func TestSourceWatcher_EndToEnd(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &recordingSink{}
	w := startWatcher(t, path, sink)
	require.Equal(t, int64(0), w.Offset())

	appendTo(t, path, lineA)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(3 * testQuiet)

	calls := sink.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "bot-1", calls[0].source)
	assert.Equal(t, "BTC", calls[0].trade.BaseAsset)
	assert.Equal(t, "USDT", calls[0].trade.QuoteAsset)
	assert.Equal(t, model.SideBuy, calls[0].trade.Side)
	assert.Equal(t, model.Number("100.5"), calls[0].trade.Price)
	assert.Equal(t, model.Number("0.002"), calls[0].trade.Amount)
	assert.Equal(t, int64(len(lineA)), w.Offset())

	// B 和 C 在同一个静默窗口内写入，作为一个数据块读取
	appendTo(t, path, lineB)
	appendTo(t, path, lineC)

	total := int64(len(lineA) + len(lineB) + len(lineC))
	require.Eventually(t, func() bool { return len(sink.Calls()) == 2 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, total, w.Offset())

	// 整块数据被当作一行：取 B 的前 12 个字段，数量字段带上了 C 的时间戳
	blob := sink.Calls()[1].trade
	assert.Equal(t, "ETH", blob.BaseAsset)
	assert.Equal(t, model.SideSell, blob.Side)
	assert.Equal(t, model.Number("2000"), blob.Price)
	assert.Equal(t, model.Number("0.5\n1700000002"), blob.Amount)

	stats := w.Stats()
	assert.Equal(t, uint64(2), stats.Cycles)
	assert.Equal(t, uint64(2), stats.Records)
	assert.Zero(t, stats.Malformed)
}

func TestSourceWatcher_SplitLines(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &recordingSink{}
	w := startWatcher(t, path, sink, WithSplitLines(true))

	appendTo(t, path, lineB)
	appendTo(t, path, lineC)

	require.Eventually(t, func() bool { return len(sink.Calls()) == 2 }, 3*time.Second, 10*time.Millisecond)
	calls := sink.Calls()
	assert.Equal(t, "ETH", calls[0].trade.BaseAsset)
	assert.Equal(t, model.SideSell, calls[0].trade.Side)
	assert.Equal(t, "SOL", calls[1].trade.BaseAsset)
	assert.Equal(t, int64(len(lineB)+len(lineC)), w.Offset())
	assert.Equal(t, uint64(1), w.Stats().Cycles)
}

func TestSourceWatcher_MalformedAdvancesCursor(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &recordingSink{}
	w := startWatcher(t, path, sink)

	bad := "1700000000,BTC,USDT,BUY\n"
	appendTo(t, path, bad)

	require.Eventually(t, func() bool { return w.Stats().Malformed == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(len(bad)), w.Offset())
	assert.Empty(t, sink.Calls())

	// 下一行正常处理，不会重读坏数据
	appendTo(t, path, lineA)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(len(bad)+len(lineA)), w.Offset())
}

func TestSourceWatcher_SkipsExistingContent(t *testing.T) {
	path := newTradeLog(t, lineA+lineB)
	sink := &recordingSink{}
	w := startWatcher(t, path, sink)

	assert.Equal(t, int64(len(lineA+lineB)), w.Offset())

	appendTo(t, path, lineC)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "SOL", sink.Calls()[0].trade.BaseAsset)
}

func TestSourceWatcher_BurstOfWritesIsOneCycle(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &recordingSink{}
	w := startWatcher(t, path, sink)

	// 逐字节写入，产生几十个文件事件
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	for i := 0; i < len(lineA); i++ {
		_, err := f.WriteString(lineA[i : i+1])
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(3 * testQuiet)
	assert.Len(t, sink.Calls(), 1)
	assert.Equal(t, uint64(1), w.Stats().Cycles)
}

func TestSourceWatcher_TruncationRewinds(t *testing.T) {
	path := newTradeLog(t, lineA+lineB+lineC)
	sink := &recordingSink{}
	w := startWatcher(t, path, sink)

	require.NoError(t, os.WriteFile(path, []byte(lineA), 0o644))

	require.Eventually(t, func() bool { return len(sink.Calls()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "BTC", sink.Calls()[0].trade.BaseAsset)
	assert.Equal(t, int64(len(lineA)), w.Offset())
}

func TestNewSourceWatcher_MissingFile(t *testing.T) {
	_, err := NewSourceWatcher(model.Source{Name: "bot-1", TradesPath: filepath.Join(t.TempDir(), "missing.csv")}, &recordingSink{})
	assert.ErrorIs(t, err, ErrFileAccess)
}

func TestSourceWatcher_ReplacedFileReadFromStart(t *testing.T) {
	path := newTradeLog(t, lineA)
	sink := &recordingSink{}
	w := startWatcher(t, path, sink, WithSplitLines(true))
	require.Equal(t, int64(len(lineA)), w.Offset())

	// 轮转：一个更长的新文件被 rename 到原路径
	next := path + ".new"
	require.NoError(t, os.WriteFile(next, []byte(lineB+lineC), 0o644))
	require.NoError(t, os.Rename(next, path))

	require.Eventually(t, func() bool { return len(sink.Calls()) == 2 }, 3*time.Second, 10*time.Millisecond)
	calls := sink.Calls()
	assert.Equal(t, "ETH", calls[0].trade.BaseAsset)
	assert.Equal(t, "SOL", calls[1].trade.BaseAsset)
	assert.Equal(t, int64(len(lineB+lineC)), w.Offset())

	// 重新订阅后继续跟踪新文件
	appendTo(t, path, lineA)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 3 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "BTC", sink.Calls()[2].trade.BaseAsset)
	assert.Equal(t, int64(len(lineB+lineC+lineA)), w.Offset())
}

func TestSourceWatcher_DeliveryFailureKeepsRunning(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &failingSink{}
	w := startWatcher(t, path, sink)

	appendTo(t, path, lineA)
	require.Eventually(t, func() bool { return w.Stats().DeliveryFailures == 1 }, 3*time.Second, 10*time.Millisecond)
	appendTo(t, path, lineB)
	require.Eventually(t, func() bool { return w.Stats().DeliveryFailures == 2 }, 3*time.Second, 10*time.Millisecond)

	// 投递失败不回退游标，也不重试
	assert.Equal(t, int64(len(lineA+lineB)), w.Offset())
	assert.Equal(t, int32(2), sink.calls.Load())
	stats := w.Stats()
	assert.Equal(t, uint64(2), stats.Records)
	assert.Zero(t, stats.FileErrors)
}

func TestSourceWatcher_FileAccessFailureRetriedOnNextSignal(t *testing.T) {
	path := newTradeLog(t, "")
	sink := &recordingSink{}
	w := newWatcher(t, path, sink, WithSplitLines(true))

	var unreadable atomic.Bool
	unreadable.Store(true)
	w.open = func(name string) (*os.File, error) {
		if unreadable.Load() {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
		}
		return os.Open(name)
	}
	runWatcher(t, w)

	appendTo(t, path, lineA)
	require.Eventually(t, func() bool { return w.Stats().FileErrors == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Empty(t, sink.Calls())
	assert.Zero(t, w.Offset())

	// 恢复可读后，下一次变更把之前跳过的字节一并读出
	unreadable.Store(false)
	appendTo(t, path, lineB)
	require.Eventually(t, func() bool { return len(sink.Calls()) == 2 }, 3*time.Second, 10*time.Millisecond)
	calls := sink.Calls()
	assert.Equal(t, "BTC", calls[0].trade.BaseAsset)
	assert.Equal(t, "ETH", calls[1].trade.BaseAsset)
	assert.Equal(t, int64(len(lineA+lineB)), w.Offset())
	assert.Equal(t, uint64(1), w.Stats().FileErrors)
}

func TestSourceWatcher_RemovedFileEndsRun(t *testing.T) {
	path := newTradeLog(t, lineA)
	w := newWatcher(t, path, &recordingSink{})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, os.Remove(path))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrFileAccess))
	case <-time.After(3 * time.Second):
		t.Fatal("watcher kept running after its file was removed")
	}
}

package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trade-notifier/internal/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocket 把成交以 JSON 推送到一个转发服务 (relay)。
// 连接按需建立，写失败后断开，下一次 Notify 时重新拨号。
type WebSocket struct {
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	logger       *zap.Logger

	mu   sync.Mutex // 保护 conn，gorilla 连接不支持并发写
	conn *websocket.Conn
}

// NewWebSocket 创建 WebSocket 通知器，不会立即拨号
func NewWebSocket(url string, logger *zap.Logger) *WebSocket {
	return &WebSocket{
		url:          url,
		dialer:       websocket.DefaultDialer,
		writeTimeout: 5 * time.Second,
		logger:       logger.With(zap.String("notifier", "websocket")),
	}
}

// Notify 推送一条成交消息
func (w *WebSocket) Notify(ctx context.Context, source string, trade model.TradeRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			return fmt.Errorf("%w: websocket: dial %s: %w", ErrDelivery, w.url, err)
		}
		w.logger.Info("Connected to relay", zap.String("URL", w.url))
		w.conn = conn
	}

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		w.drop(err)
		return fmt.Errorf("%w: websocket: set deadline: %w", ErrDelivery, err)
	}
	if err := w.conn.WriteJSON(NewTradeMessage(source, trade, time.Now())); err != nil {
		w.drop(err)
		return fmt.Errorf("%w: websocket: write: %w", ErrDelivery, err)
	}
	return nil
}

// drop 关闭出错的连接，下一次 Notify 会重新拨号。调用方需持有 mu
func (w *WebSocket) drop(cause error) {
	w.logger.Warn("Dropping relay connection", zap.Error(cause))
	_ = w.conn.Close()
	w.conn = nil
}

// Close 发送关闭帧并断开连接
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return nil
	}
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.conn.Close()
	w.conn = nil
	return err
}

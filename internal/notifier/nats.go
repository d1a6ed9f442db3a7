package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"trade-notifier/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig 定义 NATS 通知器的连接参数
type NATSConfig struct {
	URL        string
	Subject    string // 主题前缀，实际主题为 <Subject>.<source>
	ClientName string
}

// publisher 是 *nats.Conn 发布能力的最小子集
type publisher interface {
	Publish(subj string, data []byte) error
}

// NATS 将成交以 JSON 发布到 NATS Core (fire-and-forget)
type NATS struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	logger  *zap.Logger
	now     func() time.Time
}

// NewNATS 连接 NATS 服务器
func NewNATS(cfg NATSConfig, logger *zap.Logger) (*NATS, error) {
	logger = logger.With(zap.String("notifier", "nats"))

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(5 * time.Second),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected, attempting reconnect", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("URL", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}
	logger.Info("NATS publisher ready", zap.String("URL", cfg.URL), zap.String("Subject", cfg.Subject))

	return &NATS{
		conn:    nc,
		pub:     nc,
		subject: cfg.Subject,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Notify 发布一条成交消息
func (n *NATS) Notify(ctx context.Context, source string, trade model.TradeRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: nats: %w", ErrDelivery, err)
	}

	data, err := json.Marshal(NewTradeMessage(source, trade, n.now()))
	if err != nil {
		return fmt.Errorf("%w: nats: marshal: %w", ErrDelivery, err)
	}

	subject := Subject(n.subject, source)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("%w: nats: publish %s: %w", ErrDelivery, subject, err)
	}
	return nil
}

// Close 排空并关闭连接
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Subject 生成 "<prefix>.<source>" 主题；来源名中的 NATS 保留字符替换为 '_'
func Subject(prefix, source string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, source)
	if token == "" {
		token = "_"
	}
	if prefix == "" {
		return token
	}
	return prefix + "." + token
}

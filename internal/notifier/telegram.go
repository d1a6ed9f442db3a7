package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trade-notifier/internal/model"

	"go.uber.org/zap"
	tb "gopkg.in/tucnak/telebot.v2"
)

// StatusSource 提供 /status 命令所需的状态快照 (由 watcher.Supervisor 实现)
type StatusSource interface {
	Snapshot() []model.SourceStatus
}

// sender 是 *tb.Bot 发送消息能力的最小子集，便于测试替换
type sender interface {
	Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error)
}

// TelegramConfig 定义 Telegram 通知器所需的配置
type TelegramConfig struct {
	Token       string
	ChatID      int64 // 成交通知发送到的聊天/频道
	PollTimeout time.Duration
}

// Telegram 将成交通知发送到指定聊天，并响应 /status、/sources 命令
type Telegram struct {
	bot    *tb.Bot
	client sender
	chat   *tb.Chat
	logger *zap.Logger

	status  StatusSource
	sources []model.Source
}

// TelegramOption 用于配置 Telegram 实例
type TelegramOption func(t *Telegram)

// WithStatusSource 设置 /status 命令的数据来源
func WithStatusSource(s StatusSource) TelegramOption {
	return func(t *Telegram) {
		t.status = s
	}
}

// WithSources 设置 /sources 命令列出的来源
func WithSources(sources []model.Source) TelegramOption {
	return func(t *Telegram) {
		t.sources = sources
	}
}

// NewTelegram 初始化 Telegram 机器人并注册命令
func NewTelegram(cfg TelegramConfig, logger *zap.Logger, options ...TelegramOption) (*Telegram, error) {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	bot, err := tb.NewBot(tb.Settings{
		Token:     cfg.Token,
		ParseMode: tb.ModeMarkdown,
		Poller:    &tb.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	t := &Telegram{
		bot:    bot,
		client: bot,
		chat:   &tb.Chat{ID: cfg.ChatID},
		logger: logger.With(zap.String("notifier", "telegram")),
	}
	for _, option := range options {
		option(t)
	}

	if err := bot.SetCommands([]tb.Command{
		{Text: "/status", Description: "Watcher status and read offsets"},
		{Text: "/sources", Description: "Configured trade logs"},
	}); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}
	bot.Handle("/status", t.onStatus)
	bot.Handle("/sources", t.onSources)

	return t, nil
}

// Start 在后台启动长轮询
func (t *Telegram) Start() {
	go t.bot.Start()
	t.logger.Info("Telegram bot started", zap.Int64("ChatID", t.chat.ID))
}

// Stop 停止长轮询
func (t *Telegram) Stop() {
	t.bot.Stop()
}

// Notify 将成交发送到配置的聊天
func (t *Telegram) Notify(ctx context.Context, source string, trade model.TradeRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: telegram: %w", ErrDelivery, err)
	}
	if _, err := t.client.Send(t.chat, FormatTrade(source, trade)); err != nil {
		return fmt.Errorf("%w: telegram: %w", ErrDelivery, err)
	}
	return nil
}

func (t *Telegram) onStatus(m *tb.Message) {
	t.reply(m, t.statusText())
}

func (t *Telegram) onSources(m *tb.Message) {
	t.reply(m, t.sourcesText())
}

// reply 只回复配置的聊天，忽略其他来源的命令
func (t *Telegram) reply(m *tb.Message, text string) {
	if m.Chat == nil || m.Chat.ID != t.chat.ID {
		t.logger.Warn("Ignoring command from unauthorized chat")
		return
	}
	if _, err := t.client.Send(m.Chat, text); err != nil {
		t.logger.Error("Failed to reply to command", zap.Error(err))
	}
}

func (t *Telegram) statusText() string {
	if t.status == nil {
		return "Status unavailable"
	}
	return FormatStatus(t.status.Snapshot())
}

func (t *Telegram) sourcesText() string {
	if len(t.sources) == 0 {
		return "No trade logs configured"
	}
	lines := make([]string, 0, len(t.sources)+1)
	lines = append(lines, "*SOURCES*")
	for _, src := range t.sources {
		lines = append(lines, fmt.Sprintf("%s: `%s`", src.Name, src.TradesPath))
	}
	return strings.Join(lines, "\n")
}

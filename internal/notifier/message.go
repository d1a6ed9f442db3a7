package notifier

import (
	"fmt"
	"strings"
	"time"

	"trade-notifier/internal/model"

	"github.com/shopspring/decimal"
)

// TradeMessage 是发往 NATS / WebSocket 的 JSON 结构
type TradeMessage struct {
	Source     string           `json:"source"`
	BaseAsset  string           `json:"base_asset"`
	QuoteAsset string           `json:"quote_asset"`
	Side       string           `json:"side"`
	Price      string           `json:"price"`              // 日志原文
	Amount     string           `json:"amount"`             // 日志原文
	Notional   *decimal.Decimal `json:"notional,omitempty"` // 价格与数量都是合法小数时才有
	Timestamp  int64            `json:"ts"`                 // 毫秒时间戳 (通知生成时间)
}

// NewTradeMessage 从交易记录构造消息
func NewTradeMessage(source string, trade model.TradeRecord, now time.Time) TradeMessage {
	msg := TradeMessage{
		Source:     source,
		BaseAsset:  trade.BaseAsset,
		QuoteAsset: trade.QuoteAsset,
		Side:       trade.Side.String(),
		Price:      trade.Price.String(),
		Amount:     trade.Amount.String(),
		Timestamp:  now.UnixMilli(),
	}
	if notional, ok := trade.Notional(); ok {
		msg.Notional = &notional
	}
	return msg
}

// FormatTrade 渲染一条人类可读的成交通知 (Telegram Markdown)。
// 颜色用 🟢/🔴 区分买卖。
func FormatTrade(source string, trade model.TradeRecord) string {
	marker := "🔴"
	if trade.Side == model.SideBuy {
		marker = "🟢"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *New trade*\n", marker)
	fmt.Fprintf(&sb, "%s %s\n", trade.Side, trade.Pair())
	fmt.Fprintf(&sb, "Bot: `%s`\n", source)
	fmt.Fprintf(&sb, "Amount: `%s`\n", trade.Amount)
	fmt.Fprintf(&sb, "Price: `%s %s`", trade.Price, trade.QuoteAsset)
	return sb.String()
}

// FormatStatus 渲染 /status 命令的回复
func FormatStatus(statuses []model.SourceStatus) string {
	lines := []string{"*STATUS*"}
	for _, st := range statuses {
		state := "stopped"
		if st.Running {
			state = "running"
		} else if st.Restarts > 0 {
			state = "restarting"
		}
		line := fmt.Sprintf("%s: %s | offset `%d` | trades `%d` | restarts `%d`",
			st.Name, state, st.Offset, st.Stats.Records, st.Restarts)
		if st.LastError != "" {
			line += fmt.Sprintf("\n  last error: `%s`", st.LastError)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

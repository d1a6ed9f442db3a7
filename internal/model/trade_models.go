package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradeSide 定义了成交方向
type TradeSide int

const (
	SideSell TradeSide = iota // 卖出 (非 "BUY" 的所有取值都归为卖出)
	SideBuy                   // 买入
)

func (s TradeSide) String() string {
	if s == SideBuy {
		return "Buy"
	}
	return "Sell"
}

// Number 是日志中价格/数量字段的原始文本，原样转发，不做校验。
// 需要计算时用 Decimal 解析为精确小数。
type Number string

func (n Number) String() string {
	return string(n)
}

// Decimal 将文本解析为精确小数，两侧空白会被忽略
func (n Number) Decimal() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(string(n)))
}

// TradeRecord 由交易日志中的一行解析而来，构造后不可变
type TradeRecord struct {
	BaseAsset  string    // 基础币种，例如 BTC
	QuoteAsset string    // 计价币种，例如 USDT
	Amount     Number    // 成交数量
	Price      Number    // 成交价格
	Side       TradeSide // 买/卖
}

// Pair 返回 "BASE/QUOTE" 形式的交易对
func (t TradeRecord) Pair() string {
	return t.BaseAsset + "/" + t.QuoteAsset
}

// Notional 返回成交额 (价格 × 数量)，任一字段不是合法小数时 ok 为 false
func (t TradeRecord) Notional() (decimal.Decimal, bool) {
	price, err := t.Price.Decimal()
	if err != nil {
		return decimal.Decimal{}, false
	}
	amount, err := t.Amount.Decimal()
	if err != nil {
		return decimal.Decimal{}, false
	}
	return price.Mul(amount), true
}

func (t TradeRecord) String() string {
	return fmt.Sprintf("TRADE [%s %s] @ %s %s | Amount: %s",
		t.Side, t.Pair(), t.Price, t.QuoteAsset, t.Amount)
}

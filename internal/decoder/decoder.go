// Package decoder 将交易日志中的一行文本解析为 model.TradeRecord。
//
// 日志行为逗号分隔的定长字段，各字段的位置固定：
//
//	idx  5: 基础币种   idx  6: 计价币种   idx 9: 方向 (BUY/其他)
//	idx 11: 价格       idx 12: 数量
package decoder

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"trade-notifier/internal/model"
)

const (
	Delimiter = ","

	fieldBase   = 5
	fieldQuote  = 6
	fieldSide   = 9
	fieldPrice  = 11
	fieldAmount = 12

	// MinFields 解析一行所需的最少字段数
	MinFields = fieldAmount + 1

	buyToken = "BUY"
)

// ErrMalformedRecord 表示一行无法解析为交易记录
var ErrMalformedRecord = errors.New("malformed record")

// DecodeError 携带解析失败的原因
type DecodeError struct {
	Reason string
	Fields int // 实际拆分得到的字段数
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s (fields=%d)", ErrMalformedRecord, e.Reason, e.Fields)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is 使 errors.Is(err, ErrMalformedRecord) 成立
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformedRecord
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode 将新追加的字节 (视为一行) 解析为交易记录。
// 非法 UTF-8 会被替换为 U+FFFD；只去掉末尾的换行符。
// 唯一的失败情形是字段数不足 MinFields。
func Decode(raw []byte) (model.TradeRecord, error) {
	line := strings.ToValidUTF8(string(raw), "�")
	line = strings.TrimRight(line, "\r\n")

	fields := strings.Split(line, Delimiter)
	if len(fields) < MinFields {
		return model.TradeRecord{}, &DecodeError{Reason: "insufficient fields", Fields: len(fields)}
	}

	// 价格/数量按原文转发，不校验格式
	return model.TradeRecord{
		BaseAsset:  fields[fieldBase],
		QuoteAsset: fields[fieldQuote],
		Amount:     model.Number(fields[fieldAmount]),
		Price:      model.Number(fields[fieldPrice]),
		Side:       ParseSide(fields[fieldSide]),
	}, nil
}

// ParseSide 只有字面量 "BUY" (区分大小写) 映射为买入，其余一律为卖出。
// 与日志生产方保持兼容，不要改成穷举匹配。
func ParseSide(token string) model.TradeSide {
	if token == buyToken {
		return model.SideBuy
	}
	return model.SideSell
}

// SplitLines 按行拆分一次读取到的数据块，丢弃空行。每一行保留其换行符。
func SplitLines(raw []byte) [][]byte {
	var lines [][]byte
	for len(raw) > 0 {
		idx := bytes.IndexByte(raw, '\n')
		var line []byte
		if idx < 0 {
			line, raw = raw, nil
		} else {
			line, raw = raw[:idx+1], raw[idx+1:]
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

package watcher

import "sync/atomic"

// Cursor 记录某个来源文件已消费的字节偏移量。
// 只有所属的 SourceWatcher 会修改它，其他 goroutine 只读 (状态查询)。
type Cursor struct {
	offset atomic.Int64
}

// NewCursor 以给定偏移量初始化
func NewCursor(offset int64) *Cursor {
	c := &Cursor{}
	c.offset.Store(offset)
	return c
}

// Offset 返回当前偏移量
func (c *Cursor) Offset() int64 {
	return c.offset.Load()
}

// Advance 将偏移量设置为 newLength。偏移量只增不减，newLength 小于当前值时拒绝并返回 false。
func (c *Cursor) Advance(newLength int64) bool {
	if newLength < c.offset.Load() {
		return false
	}
	c.offset.Store(newLength)
	return true
}

// Reset 显式地将偏移量归零 (文件被截断或轮转时由 watcher 调用)
func (c *Cursor) Reset() {
	c.offset.Store(0)
}

package model

// Source 代表一个被监听的交易日志文件 (来自配置，运行期间不变)
type Source struct {
	Name       string // 机器人/来源名称，例如 "bot-1"
	TradesPath string // 交易日志文件路径
}

// WatcherStats 是单个 watcher 的运行计数
type WatcherStats struct {
	Cycles           uint64 // 完成的读取周期
	Records          uint64 // 成功解析的记录
	Malformed        uint64 // 解析失败的数据块
	DeliveryFailures uint64 // 推送失败次数
	FileErrors       uint64 // 打开/读取文件失败次数
}

// SourceStatus 是某个来源 watcher 的状态快照，供 /status 等命令展示
type SourceStatus struct {
	Name      string
	Path      string
	Running   bool
	Offset    int64
	Restarts  int
	LastError string
	Stats     WatcherStats
}

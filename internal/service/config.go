// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trade-notifier/internal/model"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ErrConfigMissing 配置文件不存在 (已在原路径生成默认配置)
var ErrConfigMissing = errors.New("configuration missing")

// EnvPrefix 环境变量前缀，例如 TRADENOTIFIER_NOTIFIER_TELEGRAM_TOKEN
const EnvPrefix = "TRADENOTIFIER"

type Config struct {
	Log      LogConfig      `mapstructure:"Log"`
	Watcher  WatcherConfig  `mapstructure:"Watcher"`
	Notifier NotifierConfig `mapstructure:"Notifier"`
	Sources  []SourceConfig `mapstructure:"Sources"`
}

type LogConfig struct {
	Level string
}

// WatcherConfig 定义了增量读取的参数
type WatcherConfig struct {
	Debounce   time.Duration // 去抖静默窗口
	SplitLines bool          // 一次读取的数据是否按行拆分
}

// NotifierConfig 定义了所有通知渠道
type NotifierConfig struct {
	Telegram  TelegramConfig
	NATS      NATSConfig
	WebSocket WebSocketConfig
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64 // 成交通知发送到的聊天/频道
}

type NATSConfig struct {
	Enabled bool
	URL     string
	Subject string // 主题前缀
}

type WebSocketConfig struct {
	Enabled bool
	URL     string // relay 地址 ws:// 或 wss://
}

// SourceConfig 定义了一个被监听的交易日志
type SourceConfig struct {
	Name       string
	TradesPath string
}

// setDefaults 注册默认值，同时让 AutomaticEnv 能识别这些键
func setDefaults(v *viper.Viper) {
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Watcher.Debounce", "1s")
	v.SetDefault("Watcher.SplitLines", false)
	v.SetDefault("Notifier.Telegram.Enabled", true)
	v.SetDefault("Notifier.Telegram.Token", "")
	v.SetDefault("Notifier.Telegram.ChatID", 0)
	v.SetDefault("Notifier.NATS.Enabled", false)
	v.SetDefault("Notifier.NATS.URL", "nats://127.0.0.1:4222")
	v.SetDefault("Notifier.NATS.Subject", "trades")
	v.SetDefault("Notifier.WebSocket.Enabled", false)
	v.SetDefault("Notifier.WebSocket.URL", "")
}

// defaultSources 写入默认配置文件时的示例来源
func defaultSources() []map[string]any {
	return []map[string]any{
		{"Name": "bot-1", "TradesPath": "./trades.csv"},
	}
}

// LoadConfig 读取并解析配置文件。
// 文件不存在时在该路径写入默认配置，并返回 ErrConfigMissing。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(v, configPath); err != nil {
			return nil, fmt.Errorf("%w: failed to create default config at %s: %w", ErrConfigMissing, configPath, err)
		}
		return nil, fmt.Errorf("%w: default config created at %s", ErrConfigMissing, configPath)
	}

	// 查找并读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// 将配置绑定到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func writeDefaultConfig(v *viper.Viper, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return err
	}
	v.Set("Sources", defaultSources())
	return v.SafeWriteConfigAs(configPath)
}

// Validate 检查配置的完整性
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	if c.Watcher.Debounce <= 0 {
		return fmt.Errorf("watcher debounce must be positive, got %s", c.Watcher.Debounce)
	}

	if len(c.Sources) == 0 {
		return errors.New("at least one source must be configured")
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" {
			return fmt.Errorf("source %d: name cannot be empty", i)
		}
		if src.TradesPath == "" {
			return fmt.Errorf("source '%s': trades path cannot be empty", src.Name)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("source '%s': duplicate name", src.Name)
		}
		seen[src.Name] = struct{}{}
	}

	n := c.Notifier
	if n.Telegram.Enabled {
		if n.Telegram.Token == "" {
			return errors.New("telegram token cannot be empty")
		}
		if n.Telegram.ChatID == 0 {
			return errors.New("telegram chat id cannot be empty")
		}
	}
	if n.NATS.Enabled && n.NATS.URL == "" {
		return errors.New("nats url cannot be empty")
	}
	if n.WebSocket.Enabled && n.WebSocket.URL == "" {
		return errors.New("websocket url cannot be empty")
	}
	return nil
}

// SourceList 转换为领域模型
func (c *Config) SourceList() []model.Source {
	sources := make([]model.Source, 0, len(c.Sources))
	for _, src := range c.Sources {
		sources = append(sources, model.Source{Name: src.Name, TradesPath: src.TradesPath})
	}
	return sources
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"trade-notifier/internal/notifier"
	"trade-notifier/internal/service"
	"trade-notifier/internal/watcher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:          "trade-notifier",
		Short:        "Watch trade logs and send every new trade to chat",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath, logLevel)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override Log.Level from the config")
	return cmd
}

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, service.ErrConfigMissing) {
			fmt.Fprintf(os.Stderr, "No config file found, default file created at %s. Edit it and restart.\n", configPath)
		}
		return err
	}

	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := service.InitLogger(cfg.Log.Level); err != nil {
		return err
	}
	defer service.Logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources := cfg.SourceList()

	// 1. 组装通知渠道 (日志始终启用)
	sink := notifier.NewMulti(notifier.NewLog(service.Logger))

	// 2. 每个来源一个 watcher，由 Supervisor 统一监管
	supervisor := watcher.NewSupervisor(sources, sink, service.Logger,
		watcher.WithWatcherOptions(
			watcher.WithDebounce(cfg.Watcher.Debounce),
			watcher.WithSplitLines(cfg.Watcher.SplitLines),
		))

	if cfg.Notifier.NATS.Enabled {
		nc, err := notifier.NewNATS(notifier.NATSConfig{
			URL:        cfg.Notifier.NATS.URL,
			Subject:    cfg.Notifier.NATS.Subject,
			ClientName: "trade-notifier",
		}, service.Logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		sink.Add(nc)
	}

	if cfg.Notifier.WebSocket.Enabled {
		ws := notifier.NewWebSocket(cfg.Notifier.WebSocket.URL, service.Logger)
		defer ws.Close()
		sink.Add(ws)
	}

	if cfg.Notifier.Telegram.Enabled {
		tg, err := notifier.NewTelegram(notifier.TelegramConfig{
			Token:  cfg.Notifier.Telegram.Token,
			ChatID: cfg.Notifier.Telegram.ChatID,
		}, service.Logger,
			notifier.WithStatusSource(supervisor),
			notifier.WithSources(sources))
		if err != nil {
			return err
		}
		tg.Start()
		defer tg.Stop()
		sink.Add(tg)
	}

	service.Logger.Info("Trade notifier started",
		zap.Int("Sources", len(sources)),
		zap.Int("Notifiers", sink.Len()),
		zap.Duration("Debounce", cfg.Watcher.Debounce))

	// 3. 阻塞直到收到退出信号
	err = supervisor.Run(ctx)
	service.Logger.Info("Trade notifier stopped")
	return err
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"cycletrader/internal/app"
	"cycletrader/internal/config"
	"cycletrader/internal/log"
	"cycletrader/internal/store"
)

var configPath = flag.String("c", "", "配置文件路径（留空时按默认搜索路径查找 config.yaml）")

func main() {
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "cycletrader: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	db, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("打开数据库: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("数据库关闭出错", zap.Error(closeErr))
		}
	}()

	// SIGINT/SIGTERM 触发优雅停机：当前周期跑完、记录落库后再退出。
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, db).Run(ctx); err != nil {
		logger.Error("运行中止", zap.Error(err))
		return err
	}

	logger.Info("已停机")
	return nil
}

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/KafetzisThomas/Chatterbox/internal/bootstrap"

	"github.com/sirupsen/logrus"
)

func main() {
	app, err := bootstrap.NewApp()
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}

	// 启动 HTTP 服务、Hub 事件循环和通知 worker
	app.Start()

	// 等待 SIGINT/SIGTERM 后优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logrus.WithField("signal", sig.String()).Info("Shutdown signal received, stopping...")

	app.Shutdown()
}

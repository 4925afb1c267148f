package main

import (
	"Courier/internal/api/config"
	"Courier/internal/pkg/credential"
	"Courier/internal/pkg/logger"
	"Courier/internal/wire"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// 加载配置
	if err := config.LoadConfig(); err != nil {
		log.Error("Fatal error: failed to load configuration", "err", err)
		panic(err)
	}
	cfg := config.Cfg

	// 初始化日志
	logger.InitLogger(cfg.Log, cfg.Logstash)

	// 读取凭据
	creds := credential.NewStore(cfg.Client.Token, cfg.Client.TokenFile)
	token, err := creds.Load()
	if err != nil {
		log.Error("Fatal error: failed to read credential", "err", err)
		panic(err)
	}
	if token == "" {
		log.Error("No credential found, please sign in and provide a token", "token_file", cfg.Client.TokenFile)
		os.Exit(1)
	}

	// 依赖注入
	app := wire.BuildApplication(cfg, creds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// 同步会话，结束后整个进程退出
	g.Go(func() error {
		log.Info("Sync session starting...", "audience", cfg.Client.Audience)
		err := app.Sync.Run(ctx)
		cancel()
		return err
	})

	// 本地视图网关
	srv := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info("View gateway starting...", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 优雅退出
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case <-ctx.Done():
		case sig := <-quit:
			log.Info("Received signal, shutting down...", "signal", sig)
			cancel()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("View gateway shutdown failed", "err", err)
		}
		return nil
	})

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("App exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("App exited successfully.")
}

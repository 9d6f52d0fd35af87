package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hnsync/internal/api/handlers/user"
	"hnsync/internal/api/routers"
	"hnsync/internal/bootstrap"
	"hnsync/pkg/config"
	"hnsync/pkg/lmstfy"
	"hnsync/pkg/lmstfyx"
	"hnsync/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/worker.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	if cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLoggerWithFile(cfg.App.LogLevel, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 初始化同步引擎
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := bootstrap.NewEngine(cfg, zapLogger, bootstrap.Options{Registerer: registry})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer engine.Close()

	// 4. 组装 Handler（凭据存储与异步队列均可选）
	var creds user.CredentialStore
	if engine.Credentials != nil {
		creds = engine.Credentials
	}
	var queue lmstfyx.Publisher
	if cfg.Lmstfy.Host != "" {
		client, err := lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token)
		if err != nil {
			log.Fatalf("Failed to create lmstfy client: %v", err)
		}
		queue = client
	}
	userHandler := user.NewUserHandler(engine.Service, creds, queue, cfg.Lmstfy.Queue, zapLogger)
	router := routers.SetupRoutes(userHandler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), zapLogger)

	// 5. 启动 HTTP Server（后台 goroutine）
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	// 6. 优雅停机处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("Received shutdown signal, gracefully shutting down...")
	case err := <-serverErrChan:
		log.Printf("HTTP server error: %v", err)
	}

	// 等待进行中的同步请求结束
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Application stopped")
}

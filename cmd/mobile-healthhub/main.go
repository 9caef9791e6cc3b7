package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tblanchard-tessan/mobile-healthhub/internal/config"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/database"
	httpapi "github.com/Tblanchard-tessan/mobile-healthhub/internal/http"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/logger"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/repository"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/service"
	"github.com/Tblanchard-tessan/mobile-healthhub/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg := config.Load()

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "mobile-healthhub")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 连接数据库（存储句柄显式构造、显式注入，便于测试替身）
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)
	log.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database),
	)

	// 4. 同步状态缓存（可选，Redis 不可用不阻塞启动）
	var statusCache *store.SyncStatusCache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("Redis unavailable, sync status cache disabled", zap.Error(err))
		} else {
			statusCache = store.NewSyncStatusCache(store.NewRedisKV(redisClient), cfg.Sync.StatusCacheTTL, log)
			log.Info("Sync status cache enabled", zap.String("redis_addr", cfg.Redis.Addr))
		}
	}

	// 5. 组装处理链：repository → service → handler → router
	repo := repository.NewPostgresHealthRecordsRepository(db, log)
	syncService := service.NewSyncService(repo, statusCache, log)
	handler := httpapi.NewHealthSyncHandler(syncService, log)

	router := httpapi.NewRouter(log)
	router.RegisterHealthSyncRoutes(handler)

	server := service.NewServer(cfg.HTTP.Addr, router, log)

	// 6. 启动服务（在 goroutine 中）
	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErrChan:
		log.Fatal("Server error", zap.Error(err))
	}

	// 进行中的批次在超时窗口内要么提交要么回滚，不留下部分可见状态
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	log.Info("mobile-healthhub stopped")
}

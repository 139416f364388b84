package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"revledger/internal/config"
	"revledger/internal/event"
	"revledger/internal/handler"
	"revledger/internal/infrastructure/cache"
	"revledger/internal/infrastructure/database"
	"revledger/internal/infrastructure/lock"
	"revledger/internal/infrastructure/logger"
	"revledger/internal/infrastructure/mq"
	"revledger/internal/job"
	"revledger/internal/service"
	"revledger/pkg/idgen"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Init(&cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	// 初始化数据库（自动迁移 + 主账户）
	db, err := database.Open(&cfg.Database, cfg.Ledger.MainAccountName)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// 账户锁与汇总缓存：启用 redis 时跨实例生效
	var (
		locker  lock.Locker
		summary cache.SummaryCache
	)
	if cfg.Redis.Enabled {
		rdb, err := cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Ledger.LockTTL, cfg.Ledger.LockWait)
		summary = cache.NewRedisSummaryCache(rdb, cfg.Ledger.SummaryCacheTTL)
	} else {
		log.Warn("未启用 Redis，账户锁只在本进程内有效，不要部署多个实例")
		locker = lock.NewLocalLocker()
		summary = cache.NewMemorySummaryCache(cfg.Ledger.SummaryCacheTTL)
	}

	// 变更事件投递目标：进程内 Hub 总是开启
	hub := event.NewHub(64)
	publishers := mq.Fanout{hub}
	if cfg.Events.Kafka {
		kafka, err := mq.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return err
		}
		publishers = append(publishers, kafka)
	}
	if cfg.Events.AMQP {
		amqp, err := mq.NewAMQPPublisher(&cfg.AMQP)
		if err != nil {
			return err
		}
		publishers = append(publishers, amqp)
	}
	defer func() {
		if err := publishers.Close(); err != nil {
			log.Warn("关闭消息发布者失败", "error", err)
		}
	}()

	ledger := service.NewLedgerService(db, locker, summary, cfg)
	revenue := service.NewRevenueService(db, summary, cfg)

	// 设置路由
	gin.SetMode(gin.ReleaseMode)
	router := handler.SetupRouter(handler.NewHandler(db, ledger, revenue, hub, cfg), log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 收到 SIGINT/SIGTERM 时取消上下文，后台任务与 HTTP 服务一起退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publishers, &cfg.Jobs)
	g.Go(func() error {
		outboxSender.Start(gctx)
		return nil
	})
	reconciler := job.NewReconcileJob(db, cfg.Jobs.ReconcileInterval)
	g.Go(func() error {
		reconciler.Start(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务启动失败: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在关闭服务...")

		// 先结束 SSE 长连接，否则 Shutdown 会一直等待它们
		_ = hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("服务已关闭")
	return err
}

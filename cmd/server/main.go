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

	"consumeledger/internal/config"
	"consumeledger/internal/handler"
	"consumeledger/internal/infrastructure/cache"
	"consumeledger/internal/infrastructure/database"
	"consumeledger/internal/infrastructure/lock"
	"consumeledger/internal/infrastructure/mq"
	"consumeledger/internal/job"
	"consumeledger/internal/logger"
	"consumeledger/internal/pricing"
	"consumeledger/internal/service"
	"consumeledger/pkg/idgen"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	zlog, err := logger.Init(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Error("服务异常退出", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.NodeID); err != nil {
		return err
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, zlog)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	locker, err := newLocker(cfg, zlog)
	if err != nil {
		return err
	}
	locks := lock.NewAccountLockManager(locker, cfg.Lock.WaitTimeout)

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			zlog.Warn("关闭消息通道失败", zap.Error(err))
		}
	}()

	policy, err := pricing.NewFromConfig(&cfg.Pricing)
	if err != nil {
		return err
	}

	h := handler.NewHandler(
		service.NewConsumeService(db, locks, policy, cfg, zlog),
		service.NewRefundService(db, locks, cfg, zlog),
		service.NewAccountService(db, locks, cfg, zlog),
		service.NewQueryService(db, cfg),
		handler.AllowAll{},
		zlog,
	)

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.SetupRouter(h, zlog),
	}

	// 创建上下文（用于优雅关闭）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, publisher, cfg, zlog)
	g.Go(func() error {
		outboxSender.Start(gctx)
		return nil
	})

	recoveryJob := job.NewClaimRecoveryJob(db, cfg, zlog)
	g.Go(func() error {
		recoveryJob.Start(gctx)
		return nil
	})

	g.Go(func() error {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("服务启动失败: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zlog.Info("正在关闭服务...")

		// 关闭 HTTP 服务（等待最多5秒）
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	zlog.Info("服务已关闭")
	return err
}

func newLocker(cfg *config.Config, zlog *zap.Logger) (lock.Locker, error) {
	if cfg.Lock.Provider == "local" {
		zlog.Warn("使用进程内账户锁，只适用于单实例部署")
		return lock.NewLocalLocker(), nil
	}

	rdb, err := cache.InitRedis(&cfg.Redis, zlog)
	if err != nil {
		return nil, err
	}
	lockLog := zlog.Named("RedisLocker")
	return lock.NewRedisLocker(rdb, "", cfg.Lock.LeaseTTL, cfg.Lock.RetryInterval,
		lock.WithUnlockErrorHandler(func(key string, err error) {
			lockLog.Error("释放账户锁失败", zap.String("key", key), zap.Error(err))
		}),
	), nil
}

func newPublisher(cfg *config.Config) (mq.Publisher, error) {
	if cfg.MQ.Provider == "nats" {
		p, err := mq.InitNats(&cfg.Nats)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	p, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		return nil, err
	}
	return p, nil
}

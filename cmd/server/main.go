package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"walletauth/internal/config"
	"walletauth/internal/handler"
	"walletauth/internal/infrastructure/cache"
	"walletauth/internal/infrastructure/database"
	"walletauth/internal/infrastructure/logger"
	"walletauth/internal/infrastructure/mq"
	"walletauth/internal/job"
	"walletauth/internal/notify"
	"walletauth/internal/payment"
	"walletauth/internal/repository"
	"walletauth/internal/service"
	"walletauth/pkg/idgen"
	"walletauth/pkg/token"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}

	log := logger.New(&cfg.Logger)

	// 初始化 ID 生成器
	ids, err := idgen.NewSnowflake(cfg.Payment.WorkerID)
	if err != nil {
		log.WithError(err).Fatal("初始化 ID 生成器失败")
	}

	// 初始化 MySQL
	db, err := database.InitMySQL(&cfg.MySQL, log)
	if err != nil {
		log.WithError(err).Fatal("连接 MySQL 失败")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("数据库迁移失败")
	}

	// 初始化 Redis
	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Fatal("连接 Redis 失败")
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.InitKafka(&cfg.Kafka, log)
	if err != nil {
		log.WithError(err).Fatal("连接 Kafka 失败")
	}
	defer producer.Close()

	store := repository.NewStore(db)
	uow := repository.NewUnitOfWork(db)
	codes := cache.NewCodeCache(redisClient)

	mailer, sms := newDispatchers(cfg, producer, log)
	verification := service.NewVerificationService(codes, mailer, sms, cfg.Verification, log)

	tokens := token.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Expiration())
	identity := service.NewIdentityService(store.Users, codes, tokens, log)
	account := service.NewAccountService(store.Users, store.Transactions)

	gateways := payment.NewRegistry(
		payment.NewAlipayGateway(cfg.Payment.AppURL),
		payment.NewWechatGateway(cfg.Payment.AppURL),
	)
	pay := service.NewPaymentService(store, uow, redisClient, gateways, ids, cfg.Kafka.Topic.PayResult, log)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(store.Outbox, producer, cfg.Business.MaxRetryCount, log)
	go outboxSender.Start(ctx)

	audit := job.NewPendingOrderAudit(store.Orders, time.Duration(cfg.Payment.PendingAuditMinutes)*time.Minute, log)
	go audit.Start(ctx)

	// 设置路由
	h := handler.NewHandler(verification, identity, account, pay)
	router := handler.SetupRouter(h, identity, cfg.Server.Mode, log)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("服务关闭异常")
	}

	log.Info("服务已关闭")
}

// newDispatchers dispatcher=log 时验证码只写日志，用于本地联调
func newDispatchers(cfg *config.Config, producer *mq.Producer, log logrus.FieldLogger) (notify.Dispatcher, notify.Dispatcher) {
	if cfg.Verification.Dispatcher == "log" {
		log.Warn("验证码投递使用日志模式，不会真正发送")
		return notify.NewLogDispatcher(log, notify.ChannelEmail), notify.NewLogDispatcher(log, notify.ChannelSMS)
	}
	topic := cfg.Kafka.Topic.VerifyCode
	ttl := cfg.Verification.CodeTTL()
	return notify.NewKafkaDispatcher(producer, topic, notify.ChannelEmail, ttl),
		notify.NewKafkaDispatcher(producer, topic, notify.ChannelSMS, ttl)
}

// cmd/order-materializer/main.go
package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"

	"flashbuy/internal/pkg/bootstrap"
	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/application"
	"flashbuy/internal/service/seckill/domain/port"
	"flashbuy/internal/service/seckill/infrastructure"
	"flashbuy/internal/service/seckill/infrastructure/adapter"
	"flashbuy/internal/service/seckill/interfaces"
	"flashbuy/internal/zookeeper"
)

const serviceName = "order-materializer"

func main() {
	cfg := bootstrap.Init(serviceName)
	log := logger.L()
	kafkaCfg := cfg.Infra.Kafka

	ctx, cancel := context.WithCancel(context.Background())

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	ledger, err := adapter.NewLedgerRedisAdapter(redisClient, cfg.Seckill.MarkTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock ledger")
	}
	results := adapter.NewResultRedisAdapter(redisClient, cfg.Seckill.ResultTTL)

	db, err := infrastructure.NewMySQL(cfg.Infra.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	items := infrastructure.NewGormFlashItemRepository(db)
	orders := infrastructure.NewGormOrderRepository(db)
	letters := infrastructure.NewGormDeadLetterRepository(db)

	idNode, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		log.Fatal().Err(err).Int64("node_id", cfg.App.NodeID).Msg("invalid snowflake node id")
	}

	metrics := application.DefaultMetrics()
	materializer := application.NewMaterializer(items, orders, ledger, results, idNode, otel.Tracer(serviceName), metrics)

	// 转交用的 Writer 不绑定 Topic，由 FailureHandler 为每条消息指定重试或死信主题
	forwardWriter := mq.NewKafkaWriter(kafkaCfg.Brokers, "")
	failureHandler := mq.NewFailureHandler(forwardWriter, kafkaCfg.RetryTopic, kafkaCfg.DeadLetterTopic, kafkaCfg.MaxAttempts, application.IsPermanent)

	intentConsumer := interfaces.NewIntentConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.IntentTopic, kafkaCfg.ConsumerGroup),
		kafkaCfg.IntentTopic, materializer, failureHandler, kafkaCfg.ProcessTimeout)
	retryConsumer := interfaces.NewIntentConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.RetryTopic, kafkaCfg.ConsumerGroup+"-retry"),
		kafkaCfg.RetryTopic, materializer, failureHandler, kafkaCfg.ProcessTimeout)
	retryConsumer.SetDelay(kafkaCfg.RetryDelay)
	dltConsumer := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.DeadLetterTopic, kafkaCfg.ConsumerGroup+"-dlt"),
		kafkaCfg.DeadLetterTopic, letters)

	intentConsumer.Start(ctx)
	retryConsumer.Start(ctx)
	dltConsumer.Start(ctx)

	var (
		teardown *application.TeardownJob
		zkConn   *zookeeper.Conn
	)
	if cfg.Teardown.Enabled {
		var lock port.JobLock = adapter.NewLocalJobLock()
		if len(cfg.Infra.ZooKeeper.Servers) > 0 {
			zkConn, err = zookeeper.Connect(cfg.Infra.ZooKeeper.Servers, cfg.Infra.ZooKeeper.SessionTimeout)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to connect zookeeper")
			}
			lock = zookeeper.NewJobLocker(zkConn)
		}
		teardown = application.NewTeardownJob(items, ledger, lock, cfg.Teardown.LockName, cfg.Teardown.Grace, metrics)
		if err := teardown.Start(ctx, cfg.Teardown.Schedule); err != nil {
			log.Fatal().Err(err).Msg("failed to start teardown job")
		}
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			// 消费端只暴露健康检查和指标
			interfaces.RegisterProbes(appCtx.Mux)
		},
		// 逆序执行：先停止消费，再关闭下游依赖
		Shutdown: []func(context.Context){
			func(context.Context) { _ = redisClient.Close() },
			func(context.Context) {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
			func(context.Context) {
				if zkConn != nil {
					zkConn.Close()
				}
			},
			func(context.Context) { _ = forwardWriter.Close() },
			func(ctx context.Context) {
				cancel()
				intentConsumer.Stop(ctx)
				retryConsumer.Stop(ctx)
				dltConsumer.Stop(ctx)
				if teardown != nil {
					teardown.Stop(ctx)
				}
			},
		},
	})
}

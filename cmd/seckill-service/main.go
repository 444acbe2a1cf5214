// cmd/seckill-service/main.go
package main

import (
	"context"

	"go.opentelemetry.io/otel"

	"flashbuy/internal/pkg/bootstrap"
	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/pkg/mq"
	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/application"
	"flashbuy/internal/service/seckill/infrastructure"
	"flashbuy/internal/service/seckill/infrastructure/adapter"
	"flashbuy/internal/service/seckill/interfaces"
)

const serviceName = "seckill-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	cfg := bootstrap.Init(serviceName)
	log := logger.L()

	ctx, cancel := context.WithCancel(context.Background())

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	ledger, err := adapter.NewLedgerRedisAdapter(redisClient, cfg.Seckill.MarkTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock ledger")
	}

	// 每个准入节点各自持有售罄标记，预热时通过 Pub/Sub 统一清除
	filter := adapter.NewFilterLRUAdapter(cfg.Seckill.FilterCapacity, cfg.Seckill.FilterTTL)
	broadcaster := adapter.NewFilterBroadcastRedisAdapter(redisClient)
	// 订阅失败或断开后按退避重连，直到 cancel
	go broadcaster.Run(ctx, filter.ClearEmpty, nil)

	intentWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.IntentTopic)
	results := adapter.NewResultRedisAdapter(redisClient, cfg.Seckill.ResultTTL)

	// 数据库只用于管理接口（按活动预热），热路径不会访问
	db, err := infrastructure.NewMySQL(cfg.Infra.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	items := infrastructure.NewGormFlashItemRepository(db)

	tracer := otel.Tracer(serviceName)
	metrics := application.DefaultMetrics()

	admission := application.NewAdmissionService(filter, ledger, adapter.NewIntentKafkaAdapter(intentWriter), results, tracer, metrics,
		application.AdmissionConfig{
			LedgerTimeout:  cfg.Seckill.LedgerTimeout,
			PublishTimeout: cfg.Seckill.PublishTimeout,
			MaxQuantity:    cfg.Seckill.MaxQuantityPerRequest,
		})
	warmUp := application.NewWarmUpService(ledger, filter, broadcaster, items, cfg.Seckill.WarmUpConcurrency, tracer, metrics)
	handler := interfaces.NewSeckillHandler(admission, warmUp, interfaces.NewLimiter(cfg.Seckill.RateLimitQPS, cfg.Seckill.RateLimitBurst))

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Shutdown: []func(context.Context){
			func(context.Context) { _ = redisClient.Close() },
			func(context.Context) {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
			func(context.Context) {
				if err := intentWriter.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close intent writer")
				}
			},
			func(context.Context) { cancel() },
		},
	})
}

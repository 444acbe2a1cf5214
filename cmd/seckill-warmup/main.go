// cmd/seckill-warmup/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"flashbuy/internal/pkg/bootstrap"
	"flashbuy/internal/pkg/redis"
	"flashbuy/internal/service/seckill/application"
	"flashbuy/internal/service/seckill/infrastructure"
	"flashbuy/internal/service/seckill/infrastructure/adapter"
)

const serviceName = "seckill-warmup"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		eventID int64
		skuID   int64
		stock   int64
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "🔥 预热秒杀库存",
		Long: `把活动库存写入 Redis 账本，并通知所有准入节点清除售罄标记。可以重复执行。

示例:
  seckill-warmup --event 7                            # 按活动目录预热整场活动
  seckill-warmup --event 7 --sku 1001 --stock 500     # 预热活动中的单个 SKU`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventID <= 0 {
				return errors.New("--event is required")
			}

			cfg := bootstrap.Init(serviceName)
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			ledger, err := adapter.NewLedgerRedisAdapter(redisClient, cfg.Seckill.MarkTTL)
			if err != nil {
				return err
			}
			filter := adapter.NewFilterLRUAdapter(cfg.Seckill.FilterCapacity, cfg.Seckill.FilterTTL)
			broadcaster := adapter.NewFilterBroadcastRedisAdapter(redisClient)

			if skuID > 0 {
				svc := application.NewWarmUpService(ledger, filter, broadcaster, nil, 1, otel.Tracer(serviceName), nil)
				return svc.WarmUp(ctx, eventID, skuID, stock)
			}

			db, err := infrastructure.NewMySQL(cfg.Infra.MySQL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			svc := application.NewWarmUpService(ledger, filter, broadcaster, infrastructure.NewGormFlashItemRepository(db),
				cfg.Seckill.WarmUpConcurrency, otel.Tracer(serviceName), nil)
			report, err := svc.WarmUpEvent(ctx, eventID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
			if report.HasFailures() {
				return fmt.Errorf("%d sku(s) failed to warm up", len(report.Failed))
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&eventID, "event", 0, "event to warm up; alone, warms every flash item of the event")
	cmd.Flags().Int64Var(&skuID, "sku", 0, "warm up only this sku of the event")
	cmd.Flags().Int64Var(&stock, "stock", 0, "stock to load for --sku")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "overall timeout")
	cmd.MarkFlagsRequiredTogether("sku", "stock")
	return cmd
}

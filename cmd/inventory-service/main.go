// cmd/inventory-service/main.go
package main

import (
	"context"

	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"nexus-inventory/internal/pkg/bootstrap"
	"nexus-inventory/internal/pkg/mq"
	"nexus-inventory/internal/pkg/redis"
	"nexus-inventory/internal/service/inventory/application"
	"nexus-inventory/internal/service/inventory/domain"
	"nexus-inventory/internal/service/inventory/infrastructure"
	"nexus-inventory/internal/service/inventory/infrastructure/adapter"
	"nexus-inventory/internal/service/inventory/interfaces"
)

const (
	serviceName = "inventory-service"
	servicePort = 8082
)

func main() {
	cfg := bootstrap.Init()

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect redis")
	}
	db, err := infrastructure.NewMySQL(cfg.Infra.MySQL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect mysql")
	}
	sqlDB, err := db.DB()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to get sql.DB")
	}

	engine, err := adapter.NewRedisReservationEngine(redisClient)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load inventory scripts")
	}
	policy, err := application.NewPolicy(cfg.Reservation.Policy)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid reservation policy")
	}

	metrics := infrastructure.NewMetrics()
	feed := interfaces.NewStockFeed()
	variants := infrastructure.NewGormVariantRepository(db)
	sales := application.NewSaleRecorder(engine, variants, metrics)

	svc := application.NewReservationService(
		engine,
		adapter.NewRedisStockLedger(redisClient),
		adapter.NewRedisReservationStore(redisClient),
		engine,
		variants,
		sales,
		policy,
		domain.StockObservers{metrics, feed},
		metrics,
		otel.Tracer(serviceName),
		application.Settings{DefaultTTL: cfg.Reservation.DefaultTTL, MaxTTL: cfg.Reservation.MaxTTL},
	)

	kafkaCfg := cfg.Infra.Kafka
	dltWriter := mq.NewKafkaWriter(kafkaCfg.Brokers, kafkaCfg.DLTTopic)
	paymentConsumer := interfaces.NewPaymentEventConsumer(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.PaymentTopic, kafkaCfg.PaymentGroupID),
		kafkaCfg.PaymentTopic,
		svc,
		mq.NewFailureHandler(dltWriter),
	)
	dltConsumer := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.DLTTopic, kafkaCfg.DLTGroupID),
		kafkaCfg.DLTTopic,
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewInventoryHandler(svc, metrics.Handler(), feed).RegisterRoutes(appCtx.Mux)
		},
		Background: func(ctx context.Context) error {
			if err := paymentConsumer.Start(ctx); err != nil {
				return err
			}
			if err := dltConsumer.Start(ctx); err != nil {
				return err
			}
			return feed.Run(ctx)
		},
		Cleanup: func(ctx context.Context) {
			paymentConsumer.Stop(ctx)
			dltConsumer.Stop(ctx)
			if err := dltWriter.Close(); err != nil {
				zlog.Error().Err(err).Msg("Error closing DLT writer")
			}
			if err := redisClient.Close(); err != nil {
				zlog.Error().Err(err).Msg("Error closing redis client")
			}
			if err := sqlDB.Close(); err != nil {
				zlog.Error().Err(err).Msg("Error closing mysql")
			}
		},
	})
}

// cmd/inventory-worker/main.go
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
	"nexus-inventory/internal/zookeeper"
)

const (
	serviceName = "inventory-worker"
	servicePort = 8092
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

	// 配置了 ZooKeeper 时用临时顺序节点做任务锁，否则退化为 redis 锁
	var (
		locker domain.Locker
		zkConn *zookeeper.Conn
	)
	if zk := cfg.Infra.Zookeeper; len(zk.Servers) > 0 {
		zkConn, err = zookeeper.Connect(zk.Servers, zk.SessionTimeout)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		locker = zookeeper.NewLocker(zkConn)
	} else {
		redisLocker, err := adapter.NewRedisLocker(redisClient)
		if err != nil {
			zlog.Fatal().Err(err).Msg("failed to init redis locker")
		}
		locker = redisLocker
	}

	metrics := infrastructure.NewMetrics()
	variants := infrastructure.NewGormVariantRepository(db)
	discrepancyWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DiscrepancyTopic)

	sw := cfg.Sweeper
	sweeper := application.NewSweeper(
		engine,
		engine,
		variants,
		infrastructure.NewGormAuditRepository(db),
		infrastructure.NewDiscrepancyProducerAdapter(discrepancyWriter),
		application.NewSaleRecorder(engine, variants, metrics),
		locker,
		domain.StockObservers{metrics},
		metrics,
		otel.Tracer(serviceName),
		application.SweeperSettings{
			ExpiryInterval:     sw.ExpiryInterval,
			ReconcileInterval:  sw.ReconcileInterval,
			SalesFlushInterval: sw.SalesFlushInterval,
			BatchSize:          sw.BatchSize,
			LockTTL:            sw.LockTTL,
		},
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewAdminHandler(sweeper, metrics.Handler()).RegisterRoutes(appCtx.Mux)
		},
		Background: sweeper.Run,
		Cleanup: func(ctx context.Context) {
			if err := discrepancyWriter.Close(); err != nil {
				zlog.Error().Err(err).Msg("Error closing discrepancy writer")
			}
			if zkConn != nil {
				zkConn.Close()
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

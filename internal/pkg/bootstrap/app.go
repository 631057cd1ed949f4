// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"nexus-inventory/internal/pkg/logger"
	"nexus-inventory/internal/pkg/nacos"
	"nexus-inventory/internal/pkg/tracing"
	"nexus-inventory/internal/pkg/utils"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client // 未启用 Nacos 时为 nil
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由

	// Background 运行消费者、定时任务等后台逻辑，ctx 在收到退出信号时取消
	Background func(ctx context.Context) error
	// Cleanup 在 HTTP 服务关闭之后执行，用于关闭 redis / kafka / db 等连接
	Cleanup func(ctx context.Context)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	logger.Init(info.ServiceName, cfg.App.LogLevel)

	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, ip = registerToNacos(info, cfg)
	}

	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if info.Background != nil {
		g.Go(func() error { return info.Background(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 按启动的逆序清理：注销 -> HTTP -> 业务资源 -> tracer
		if namingClient != nil {
			if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				zlog.Error().Err(err).Msg("Error deregistering from Nacos")
			}
			namingClient.Close()
		}
		if nacosConfigClient != nil {
			nacosConfigClient.Close()
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down http server")
		}
		if info.Cleanup != nil {
			info.Cleanup(shutdownCtx)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down tracer provider")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		zlog.Error().Err(err).Msgf("Service %s stopped with error", info.ServiceName)
		return
	}
	zlog.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

func registerToNacos(info AppInfo, cfg *Config) (*nacos.Client, string) {
	n := cfg.Infra.Nacos
	client, err := nacos.NewNacosClient(getEnv("NACOS_SERVER_ADDRS", n.Addrs), getEnv("NACOS_NAMESPACE", n.Namespace), getEnv("NACOS_GROUP", n.Group))
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to get outbound IP address")
	}
	if err := client.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		zlog.Fatal().Err(err).Msg("failed to register service with nacos")
	}
	return client, ip
}

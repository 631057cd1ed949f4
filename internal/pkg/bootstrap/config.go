// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"nexus-inventory/internal/pkg/nacos"
)

// Config 是所有服务共享的配置结构，来源依次为：默认值 -> YAML 文件 -> Nacos 配置中心 -> 环境变量。
type Config struct {
	App         AppConfig         `yaml:"app"`
	Infra       InfraConfig       `yaml:"infra"`
	Reservation ReservationConfig `yaml:"reservation"`
	Sweeper     SweeperConfig     `yaml:"sweeper"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`
}

type InfraConfig struct {
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
}

type MySQLConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"maxOpenConns"`
	MaxIdleConns int           `yaml:"maxIdleConns"`
	ConnMaxLife  time.Duration `yaml:"connMaxLife"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	PaymentTopic     string   `yaml:"paymentTopic"`
	PaymentGroupID   string   `yaml:"paymentGroupId"`
	DLTTopic         string   `yaml:"dltTopic"`
	DLTGroupID       string   `yaml:"dltGroupId"`
	DiscrepancyTopic string   `yaml:"discrepancyTopic"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"dataId"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type ReservationConfig struct {
	DefaultTTL time.Duration `yaml:"defaultTtl"`
	MaxTTL     time.Duration `yaml:"maxTtl"`
	// Policy 是一个 CEL 表达式，可用变量 order_id / sku / qty，为空表示不限制
	Policy string `yaml:"policy"`
}

type SweeperConfig struct {
	ExpiryInterval     time.Duration `yaml:"expiryInterval"`
	ReconcileInterval  time.Duration `yaml:"reconcileInterval"`
	SalesFlushInterval time.Duration `yaml:"salesFlushInterval"`
	BatchSize          int           `yaml:"batchSize"`
	LockTTL            time.Duration `yaml:"lockTtl"`
}

// DefaultConfig 返回本地开发环境的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Env: "dev", LogLevel: "info"},
		Infra: InfraConfig{
			Redis: RedisConfig{Addrs: "localhost:6379"},
			MySQL: MySQLConfig{
				DSN:          "root:root@tcp(localhost:3306)/inventory?charset=utf8mb4&parseTime=True&loc=Local",
				MaxOpenConns: 50,
				MaxIdleConns: 10,
				ConnMaxLife:  30 * time.Minute,
			},
			Kafka: KafkaConfig{
				Brokers:          []string{"localhost:9092"},
				PaymentTopic:     "payment-events",
				PaymentGroupID:   "inventory-payment-consumer-group",
				DLTTopic:         "payment-events.DLT",
				DLTGroupID:       "inventory-dlt-consumer-group",
				DiscrepancyTopic: "inventory-stock-discrepancy",
			},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Nacos:  NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP", DataID: "inventory.yaml"},
			Zookeeper: ZookeeperConfig{
				SessionTimeout: 10 * time.Second,
			},
		},
		Reservation: ReservationConfig{
			DefaultTTL: 15 * time.Minute,
			MaxTTL:     2 * time.Hour,
		},
		Sweeper: SweeperConfig{
			ExpiryInterval:     time.Minute,
			ReconcileInterval:  24 * time.Hour,
			SalesFlushInterval: 30 * time.Second,
			BatchSize:          200,
			LockTTL:            5 * time.Minute,
		},
	}
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置快照，Init 之前调用会得到默认配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

var nacosConfigClient *nacos.Client

// Init 加载配置，必须在 StartService 之前调用
func Init() *Config {
	path := getEnv("CONFIG_FILE", "configs/inventory.yaml")
	cfg, err := LoadFile(path)
	if err != nil {
		zlog.Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}

	if cfg.Infra.Nacos.Enabled {
		overlayFromNacos(cfg)
	}
	applyEnv(cfg)

	currentConfig.Store(cfg)
	return cfg
}

// LoadFile 读取 YAML 配置文件。文件不存在时返回默认配置。
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 将 YAML 内容叠加到已有配置上，未出现的字段保持原值
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

// overlayFromNacos 从配置中心拉取配置并监听后续变更。
// 配置中心不可用时继续使用本地配置，而不是让服务起不来。
func overlayFromNacos(cfg *Config) {
	n := cfg.Infra.Nacos
	client, err := nacos.NewNacosClient(getEnv("NACOS_SERVER_ADDRS", n.Addrs), getEnv("NACOS_NAMESPACE", n.Namespace), getEnv("NACOS_GROUP", n.Group))
	if err != nil {
		zlog.Warn().Err(err).Msg("nacos config center unavailable, using local config")
		return
	}
	nacosConfigClient = client

	content, err := client.GetConfig(n.DataID)
	if err != nil {
		zlog.Warn().Err(err).Str("dataId", n.DataID).Msg("failed to fetch remote config, using local config")
		return
	}
	if err := Parse([]byte(content), cfg); err != nil {
		zlog.Warn().Err(err).Str("dataId", n.DataID).Msg("invalid remote config ignored")
		return
	}

	err = client.ListenConfig(n.DataID, func(content string) {
		next := *GetCurrentConfig()
		if err := Parse([]byte(content), &next); err != nil {
			zlog.Error().Err(err).Str("dataId", n.DataID).Msg("invalid config pushed by nacos, keeping current")
			return
		}
		applyEnv(&next)
		currentConfig.Store(&next)
		zlog.Info().Str("dataId", n.DataID).Msg("config reloaded from nacos")
	})
	if err != nil {
		zlog.Warn().Err(err).Msg("failed to listen nacos config changes")
	}
}

// applyEnv 环境变量优先级最高，方便容器部署时覆盖
func applyEnv(cfg *Config) {
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok && v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("ZK_SERVERS"); ok && v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("NACOS_ENABLED"); ok {
		cfg.Infra.Nacos.Enabled, _ = strconv.ParseBool(v)
	}
	cfg.Reservation.Policy = getEnv("RESERVATION_POLICY", cfg.Reservation.Policy)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config 是所有秒杀相关进程共用的配置结构。
// 加载顺序：默认值 -> YAML 文件 -> 环境变量。
type Config struct {
	App      AppConfig      `yaml:"app"`
	Infra    InfraConfig    `yaml:"infra"`
	Seckill  SeckillConfig  `yaml:"seckill"`
	Teardown TeardownConfig `yaml:"teardown"`
}

type AppConfig struct {
	Env      string `yaml:"env" envconfig:"APP_ENV"`
	LogLevel string `yaml:"logLevel" envconfig:"LOG_LEVEL"`
	Port     int    `yaml:"port" envconfig:"HTTP_PORT"`
	// NodeID 是雪花算法的节点号，同一集群内的每个进程必须不同
	NodeID int64 `yaml:"nodeId" envconfig:"NODE_ID"`
}

type InfraConfig struct {
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs" envconfig:"REDIS_ADDRS"`
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	IntentTopic     string        `yaml:"intentTopic" envconfig:"KAFKA_INTENT_TOPIC"`
	RetryTopic      string        `yaml:"retryTopic" envconfig:"KAFKA_RETRY_TOPIC"`
	DeadLetterTopic string        `yaml:"deadLetterTopic" envconfig:"KAFKA_DLT_TOPIC"`
	ConsumerGroup   string        `yaml:"consumerGroup" envconfig:"KAFKA_CONSUMER_GROUP"`
	MaxAttempts     int           `yaml:"maxAttempts" envconfig:"KAFKA_MAX_ATTEMPTS"`
	RetryDelay      time.Duration `yaml:"retryDelay" envconfig:"KAFKA_RETRY_DELAY"`
	// ProcessTimeout 是单条消息处理（含进程内重试）的上限
	ProcessTimeout time.Duration `yaml:"processTimeout" envconfig:"KAFKA_PROCESS_TIMEOUT"`
}

type MySQLConfig struct {
	Addr         string `yaml:"addr" envconfig:"MYSQL_ADDR"`
	User         string `yaml:"user" envconfig:"MYSQL_USER"`
	Password     string `yaml:"password" envconfig:"MYSQL_PASSWORD"`
	Database     string `yaml:"database" envconfig:"MYSQL_DATABASE"`
	MaxOpenConns int    `yaml:"maxOpenConns" envconfig:"MYSQL_MAX_OPEN_CONNS"`
	MaxIdleConns int    `yaml:"maxIdleConns" envconfig:"MYSQL_MAX_IDLE_CONNS"`
	AutoMigrate  bool   `yaml:"autoMigrate" envconfig:"MYSQL_AUTO_MIGRATE"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint" envconfig:"JAEGER_ENDPOINT"`
	SampleRatio float64 `yaml:"sampleRatio" envconfig:"JAEGER_SAMPLE_RATIO"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled" envconfig:"NACOS_ENABLED"`
	ServerAddrs string `yaml:"serverAddrs" envconfig:"NACOS_SERVER_ADDRS"`
	Namespace   string `yaml:"namespace" envconfig:"NACOS_NAMESPACE"`
	Group       string `yaml:"group" envconfig:"NACOS_GROUP"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers" envconfig:"ZK_SERVERS"`
	SessionTimeout time.Duration `yaml:"sessionTimeout" envconfig:"ZK_SESSION_TIMEOUT"`
}

// SeckillConfig 是准入链路的业务参数
type SeckillConfig struct {
	FilterCapacity        int           `yaml:"filterCapacity" envconfig:"SECKILL_FILTER_CAPACITY"`
	FilterTTL             time.Duration `yaml:"filterTTL" envconfig:"SECKILL_FILTER_TTL"`
	MarkTTL               time.Duration `yaml:"markTTL" envconfig:"SECKILL_MARK_TTL"`
	ResultTTL             time.Duration `yaml:"resultTTL" envconfig:"SECKILL_RESULT_TTL"`
	LedgerTimeout         time.Duration `yaml:"ledgerTimeout" envconfig:"SECKILL_LEDGER_TIMEOUT"`
	PublishTimeout        time.Duration `yaml:"publishTimeout" envconfig:"SECKILL_PUBLISH_TIMEOUT"`
	MaxQuantityPerRequest int           `yaml:"maxQuantityPerRequest" envconfig:"SECKILL_MAX_QUANTITY"`
	RateLimitQPS          float64       `yaml:"rateLimitQPS" envconfig:"SECKILL_RATE_LIMIT_QPS"`
	RateLimitBurst        int           `yaml:"rateLimitBurst" envconfig:"SECKILL_RATE_LIMIT_BURST"`
	WarmUpConcurrency     int           `yaml:"warmUpConcurrency" envconfig:"SECKILL_WARMUP_CONCURRENCY"`
}

type TeardownConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"TEARDOWN_ENABLED"`
	Schedule string        `yaml:"schedule" envconfig:"TEARDOWN_SCHEDULE"`
	Grace    time.Duration `yaml:"grace" envconfig:"TEARDOWN_GRACE"`
	LockName string        `yaml:"lockName" envconfig:"TEARDOWN_LOCK_NAME"`
}

// DefaultConfig 返回本地开发环境可直接运行的默认配置。
func DefaultConfig() Config {
	return Config{
		App: AppConfig{Env: "dev", LogLevel: "info", Port: 8081, NodeID: 1},
		Infra: InfraConfig{
			Redis: RedisConfig{Addrs: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers:         []string{"localhost:9092"},
				IntentTopic:     "seckill-order-intent",
				RetryTopic:      "seckill-order-intent-retry",
				DeadLetterTopic: "seckill-order-intent-dlt",
				ConsumerGroup:   "seckill-order-materializer",
				MaxAttempts:     5,
				RetryDelay:      5 * time.Second,
				ProcessTimeout:  30 * time.Second,
			},
			MySQL: MySQLConfig{
				Addr:         "localhost:3306",
				User:         "root",
				Database:     "flashbuy",
				MaxOpenConns: 50,
				MaxIdleConns: 10,
			},
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 0.1},
			Nacos:  NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			ZooKeeper: ZooKeeperConfig{
				SessionTimeout: 10 * time.Second,
			},
		},
		Seckill: SeckillConfig{
			FilterCapacity:        10000,
			FilterTTL:             time.Minute,
			MarkTTL:               72 * time.Hour,
			ResultTTL:             24 * time.Hour,
			LedgerTimeout:         50 * time.Millisecond,
			PublishTimeout:        500 * time.Millisecond,
			MaxQuantityPerRequest: 1,
			WarmUpConcurrency:     8,
		},
		Teardown: TeardownConfig{
			Enabled:  true,
			Schedule: "@every 1m",
			Grace:    time.Hour,
			LockName: "seckill-teardown",
		},
	}
}

var current atomic.Pointer[Config]

// Load 按 "默认值 -> YAML -> 环境变量" 的顺序加载配置，并设置为当前配置。
// path 为空或文件不存在时只使用默认值和环境变量。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	current.Store(&cfg)
	return &cfg, nil
}

// GetCurrentConfig 返回最近一次 Load 的结果；未加载时返回默认配置。
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	cfg := DefaultConfig()
	return &cfg
}

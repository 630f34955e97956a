package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Env       string          `env:"ENV" envDefault:"development"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Database  DatabaseConfig  `envPrefix:"DATABASE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Nats      NatsConfig      `envPrefix:"NATS_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Stream    StreamConfig    `envPrefix:"STREAM_"`
	Reconcile ReconcileConfig `envPrefix:"RECONCILE_"`
	Retention RetentionConfig `envPrefix:"RETENTION_"`
	Snapshot  SnapshotConfig  `envPrefix:"SNAPSHOT_"`
	Aggregate AggregateConfig `envPrefix:"AGGREGATE_"`
	Socket    SocketConfig    `envPrefix:"SOCKET_"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	// CORSOrigins is a regexp of allowed origins; empty disables CORS handling.
	CORSOrigins string `env:"CORS_ORIGINS"`
	// StatsdAddr enables statsd request timing when set.
	StatsdAddr string `env:"STATSD_ADDR"`
}

type DatabaseConfig struct {
	URI      string `env:"URI" envDefault:"mongodb://localhost:27017"`
	Database string `env:"DATABASE" envDefault:"chatsync"`
}

type RedisConfig struct {
	Enabled   bool   `env:"ENABLED" envDefault:"false"`
	Addr      string `env:"ADDR" envDefault:"localhost:6379"`
	Password  string `env:"PASSWORD"`
	DB        int    `env:"DB" envDefault:"0"`
	KeyPrefix string `env:"KEY_PREFIX" envDefault:"chat-sync"`
}

type NatsConfig struct {
	URL        string `env:"URL" envDefault:"nats://localhost:4222"`
	StreamName string `env:"STREAM_NAME" envDefault:"SYNC"`
}

type KafkaConfig struct {
	Brokers     []string      `env:"BROKERS" envDefault:"localhost:9092" envSeparator:","`
	DialTimeout time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`
	MinBytes    int           `env:"MIN_BYTES" envDefault:"1"`
	MaxBytes    int           `env:"MAX_BYTES" envDefault:"10485760"`
}

// StreamConfig drives the change-stream subscriptions. Driver selects the
// transport: memory, kafka or nats. Resources lists the channels to run;
// MessageProjectID, when set, narrows the messages channel to one project.
type StreamConfig struct {
	Driver           string        `env:"DRIVER" envDefault:"memory"`
	ChannelPrefix    string        `env:"CHANNEL_PREFIX" envDefault:"sync"`
	Resources        []string      `env:"RESOURCES" envDefault:"teams,projects,messages" envSeparator:","`
	MessageProjectID string        `env:"MESSAGE_PROJECT_ID"`
	BackoffBase      time.Duration `env:"BACKOFF_BASE" envDefault:"500ms"`
	BackoffMax       time.Duration `env:"BACKOFF_MAX" envDefault:"30s"`
	EventBuffer      int           `env:"EVENT_BUFFER" envDefault:"256"`
}

type ReconcileConfig struct {
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"10s"`
	NotifyBuffer int           `env:"NOTIFY_BUFFER" envDefault:"64"`
}

type RetentionConfig struct {
	Enabled      bool          `env:"ENABLED" envDefault:"true"`
	TombstoneTTL time.Duration `env:"TOMBSTONE_TTL" envDefault:"24h"`
	SweepCron    string        `env:"SWEEP_CRON" envDefault:"*/5 * * * *"`
}

// SnapshotConfig selects the resync snapshot source: mongo, http or none.
type SnapshotConfig struct {
	Driver      string        `env:"DRIVER" envDefault:"none"`
	BaseURL     string        `env:"BASE_URL"`
	MinInterval time.Duration `env:"MIN_INTERVAL" envDefault:"5s"`
	Burst       int           `env:"BURST" envDefault:"1"`
	WarmStart   bool          `env:"WARM_START" envDefault:"true"`
	MirrorWrite bool          `env:"MIRROR_WRITE" envDefault:"false"`
	MirrorPool  int           `env:"MIRROR_POOL" envDefault:"4"`
}

type AggregateConfig struct {
	MaxReplyDepth int `env:"MAX_REPLY_DEPTH" envDefault:"32"`
}

type SocketConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"false"`
	BaseURL string        `env:"BASE_URL"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"5s"`
}

func Load() (*Config, error) {
	// best-effort .env for local development
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

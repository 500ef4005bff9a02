package config

import "time"

// AppConfig is the root configuration of the board server.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Presence  PresenceConfig  `yaml:"presence"`
	Ingress   IngressConfig   `yaml:"ingress"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	GinMode  string `yaml:"gin_mode"`
	NodeID   int64  `yaml:"node_id"` // snowflake node for connection ids
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTAlg    string        `yaml:"jwt_alg"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type BroadcastConfig struct {
	SendQueueSize    int           `yaml:"send_queue_size"`
	WriteWait        time.Duration `yaml:"write_wait"`
	PongWait         time.Duration `yaml:"pong_wait"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
	AuthorizeTimeout time.Duration `yaml:"authorize_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"` // empty allows any origin
}

type PresenceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	TTL      time.Duration `yaml:"ttl"`
}

type IngressConfig struct {
	Nats  NatsIngressConfig  `yaml:"nats"`
	Kafka KafkaIngressConfig `yaml:"kafka"`
}

type NatsIngressConfig struct {
	Enabled bool     `yaml:"enabled"`
	Servers []string `yaml:"servers"`
	Name    string   `yaml:"name"`
	Subject string   `yaml:"subject"`
	Queue   string   `yaml:"queue"`
	Relay   bool     `yaml:"relay"` // also publish this node's mutations on Subject
}

type KafkaIngressConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"` // empty derives board-broadcast-<node_id>
	Topics  []string `yaml:"topics"`
	Relay   bool     `yaml:"relay"` // also publish this node's mutations to Topics[0]
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     4000,
			LogLevel: "info",
			GinMode:  "release",
			NodeID:   1,
		},
		Auth: AuthConfig{
			JWTSecret: "dev_secret_change_me",
			JWTAlg:    "HS256",
			TokenTTL:  7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "./data.db",
		},
		Broadcast: BroadcastConfig{
			SendQueueSize:    256,
			WriteWait:        10 * time.Second,
			PongWait:         60 * time.Second,
			MaxMessageSize:   4096,
			AuthorizeTimeout: 3 * time.Second,
		},
		Presence: PresenceConfig{
			Addr:     "127.0.0.1:6379",
			PoolSize: 10,
			TTL:      2 * time.Minute,
		},
		Ingress: IngressConfig{
			Nats: NatsIngressConfig{
				Servers: []string{"nats://127.0.0.1:4222"},
				Name:    "board-ingress",
				Subject: "board.mutations",
			},
			Kafka: KafkaIngressConfig{
				Brokers: []string{"localhost:9092"},
				Topics:  []string{"board-mutations"},
			},
		},
	}
}

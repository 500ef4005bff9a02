package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"PBoard/logger"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the config files tried by Load, lowest priority first.
func searchPaths() []string {
	paths := []string{
		"/etc/pboard/board.yaml",
		"board.yaml",
	}
	if envPath := os.Getenv("BOARD_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}
	return paths
}

// Load reads Defaults, then every existing file of searchPaths, then the
// environment.
func Load() (*AppConfig, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path, false); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadFromFile reads one explicit file; a missing file is an error.
func LoadFromFile(path string) (*AppConfig, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path, true); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return finish(cfg)
}

func finish(cfg *AppConfig) (*AppConfig, error) {
	applyEnvOverrides(cfg)
	if cfg.Ingress.Kafka.GroupID == "" {
		// every node consumes every mutation, so groups are per node
		cfg.Ingress.Kafka.GroupID = fmt.Sprintf("board-broadcast-%d", cfg.Server.NodeID)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *AppConfig, path string, required bool) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	logger.Debugf("loading config file %s", path)

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// applyEnvOverrides lets the environment win over files.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("BOARD_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BOARD_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("BOARD_REDIS_ADDR"); v != "" {
		cfg.Presence.Addr = v
		cfg.Presence.Enabled = true
	}
	if v := os.Getenv("BOARD_NATS_URL"); v != "" {
		cfg.Ingress.Nats.Servers = splitList(v)
		cfg.Ingress.Nats.Enabled = true
	}
	if v := os.Getenv("BOARD_KAFKA_BROKERS"); v != "" {
		cfg.Ingress.Kafka.Brokers = splitList(v)
		cfg.Ingress.Kafka.Enabled = true
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validate(cfg *AppConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}

	switch cfg.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, cfg.Database.Driver)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn must not be empty")
	}

	if cfg.Broadcast.SendQueueSize < 1 {
		return fmt.Errorf("broadcast.send_queue_size must be at least 1")
	}
	if cfg.Broadcast.PongWait <= 0 || cfg.Broadcast.WriteWait <= 0 {
		return fmt.Errorf("broadcast.pong_wait and broadcast.write_wait must be positive")
	}

	if cfg.Ingress.Nats.Enabled && (len(cfg.Ingress.Nats.Servers) == 0 || cfg.Ingress.Nats.Subject == "") {
		return fmt.Errorf("ingress.nats needs servers and a subject")
	}
	if cfg.Ingress.Nats.Relay && cfg.Ingress.Nats.Queue != "" {
		return fmt.Errorf("ingress.nats.relay needs every node to see every message; leave queue empty")
	}
	if cfg.Ingress.Kafka.Enabled && (len(cfg.Ingress.Kafka.Brokers) == 0 || len(cfg.Ingress.Kafka.Topics) == 0) {
		return fmt.Errorf("ingress.kafka needs brokers and topics")
	}
	return nil
}

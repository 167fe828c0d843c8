package nervous

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gopkg.in/yaml.v3"

	"github.com/viablekit/nervous-go/internal/rabbitmq"
)

const (
	defaultHeartbeat      = 10 * time.Second
	defaultConnectTimeout = 30 * time.Second
)

// Config is the broker configuration, resolved once at startup. Durations
// are strings in time.ParseDuration syntax so the YAML stays readable.
type Config struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	VHost          string `yaml:"vhost"`
	Heartbeat      string `yaml:"heartbeat"`
	ConnectTimeout string `yaml:"connectTimeout"`
	PoolSize       int    `yaml:"poolSize"`
	// DeadLetter adds a dead-letter exchange and queue to the topology
	// and routes rejected messages there. Off by default so the declared
	// queue properties stay compatible with deployments that predate it.
	DeadLetter bool `yaml:"deadLetter"`
}

// DefaultConfig returns the standard local-broker configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           5672,
		Username:       "guest",
		Password:       "guest",
		VHost:          "/",
		Heartbeat:      defaultHeartbeat.String(),
		ConnectTimeout: defaultConnectTimeout.String(),
		PoolSize:       rabbitmq.DefaultPoolSize,
	}
}

// FromEnv resolves the configuration from NERVOUS_* variables over the
// defaults. A full NERVOUS_AMQP_URL wins over the individual parts.
func FromEnv() Config {
	cfg := DefaultConfig()

	if raw := os.Getenv("NERVOUS_AMQP_URL"); raw != "" {
		if parsed, err := ConfigFromURL(raw); err == nil {
			cfg = parsed
		}
	} else {
		if v := os.Getenv("NERVOUS_AMQP_HOST"); v != "" {
			cfg.Host = v
		}
		if v := os.Getenv("NERVOUS_AMQP_PORT"); v != "" {
			if port, err := strconv.Atoi(v); err == nil {
				cfg.Port = port
			}
		}
		if v := os.Getenv("NERVOUS_AMQP_USERNAME"); v != "" {
			cfg.Username = v
		}
		if v := os.Getenv("NERVOUS_AMQP_PASSWORD"); v != "" {
			cfg.Password = v
		}
		if v := os.Getenv("NERVOUS_AMQP_VHOST"); v != "" {
			cfg.VHost = v
		}
	}

	if v := os.Getenv("NERVOUS_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("NERVOUS_HEARTBEAT"); v != "" {
		cfg.Heartbeat = v
	}
	if v := os.Getenv("NERVOUS_CONNECT_TIMEOUT"); v != "" {
		cfg.ConnectTimeout = v
	}
	if v := os.Getenv("NERVOUS_DEAD_LETTER"); v != "" {
		cfg.DeadLetter = v == "1" || strings.EqualFold(v, "true")
	}
	return cfg
}

// ConfigFromURL parses an amqp:// URL into a Config over the defaults.
func ConfigFromURL(raw string) (Config, error) {
	cfg := DefaultConfig()
	uri, err := amqp.ParseURI(raw)
	if err != nil {
		return cfg, fmt.Errorf("parse amqp url: %w", err)
	}
	cfg.Host = uri.Host
	cfg.Port = uri.Port
	cfg.Username = uri.Username
	cfg.Password = uri.Password
	cfg.VHost = uri.Vhost
	return cfg, nil
}

// LoadFile reads a YAML configuration file over the defaults; fields the
// file omits keep their default values.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// URL renders the amqp:// connection string.
func (c Config) URL() string {
	u := amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		Vhost:    c.VHost,
	}
	return u.String()
}

// HeartbeatInterval returns the parsed heartbeat, or the default when the
// configured value does not parse.
func (c Config) HeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.Heartbeat)
	if err != nil || d <= 0 {
		return defaultHeartbeat
	}
	return d
}

// DialTimeout returns the parsed connect timeout, or the default when the
// configured value does not parse.
func (c Config) DialTimeout() time.Duration {
	d, err := time.ParseDuration(c.ConnectTimeout)
	if err != nil || d <= 0 {
		return defaultConnectTimeout
	}
	return d
}

func (c Config) amqpConfig() amqp.Config {
	return amqp.Config{
		Heartbeat: c.HeartbeatInterval(),
		Dial:      amqp.DefaultDial(c.DialTimeout()),
	}
}

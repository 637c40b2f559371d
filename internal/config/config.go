package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v7"

	"power-agent/internal/power"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	DeviceID string `env:"DEVICE_ID" envDefault:"device-001"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Agent  AgentConfig  `envPrefix:"AGENT_"`
	Sensor SensorConfig `envPrefix:"SENSOR_"`
	Power  PowerConfig  `envPrefix:"POWER_"`
	MQTT   MQTTConfig   `envPrefix:"MQTT_"`
	MySQL  MySQLConfig  `envPrefix:"MYSQL_"`
	Redis  RedisConfig  `envPrefix:"REDIS_"`
	Influx InfluxConfig `envPrefix:"INFLUX_"`
	Notify NotifyConfig `envPrefix:"NOTIFY_"`
	HTTP   HTTPConfig   `envPrefix:"HTTP_"`
}

type AgentConfig struct {
	Interval       time.Duration `env:"INTERVAL"        envDefault:"5s"`
	QueueLen       int           `env:"QUEUE_LEN"       envDefault:"256"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"2s"`
}

type SensorConfig struct {
	Source         string  `env:"SOURCE"          envDefault:"sim"`
	SysfsRoot      string  `env:"SYSFS_ROOT"      envDefault:"/sys/class/power_supply"`
	SysfsSupply    string  `env:"SYSFS_SUPPLY"    envDefault:"BAT0"`
	SimCapacityMWh float64 `env:"SIM_CAPACITY_MWH" envDefault:"2000"`
	SimSeed        int64   `env:"SIM_SEED"        envDefault:"0"`
	SimEvents      bool    `env:"SIM_EVENTS"      envDefault:"false"`
}

type PowerConfig struct {
	Critical int `env:"CRITICAL" envDefault:"15"`
	Low      int `env:"LOW"      envDefault:"30"`
	Recover  int `env:"RECOVER"  envDefault:"45"`
}

func (p PowerConfig) Thresholds() power.Thresholds {
	return power.Thresholds{Critical: p.Critical, Low: p.Low, Recover: p.Recover}
}

type MQTTConfig struct {
	Broker   string `env:"BROKER"    envDefault:"tcp://127.0.0.1:1883"`
	ClientID string `env:"CLIENT_ID" envDefault:""`
	Username string `env:"USERNAME"  envDefault:""`
	Password string `env:"PASSWORD"  envDefault:""`
	QoS      byte   `env:"QOS"       envDefault:"0"`
	Format   string `env:"FORMAT"    envDefault:"json"`
	Workers  int    `env:"WORKERS"   envDefault:"2"`
	QueueLen int    `env:"QUEUE_LEN" envDefault:"64"`
}

type MySQLConfig struct {
	Enabled bool   `env:"ENABLED"  envDefault:"false"`
	Host    string `env:"HOST"     envDefault:"127.0.0.1"`
	Port    string `env:"PORT"     envDefault:"3306"`
	User    string `env:"USER"     envDefault:"root"`
	Pass    string `env:"PASS"     envDefault:"root"`
	DB      string `env:"DB"       envDefault:"power_agent"`
	MaxOpen int    `env:"MAX_OPEN" envDefault:"10"`
	MaxIdle int    `env:"MAX_IDLE" envDefault:"2"`
}

type RedisConfig struct {
	Enabled   bool          `env:"ENABLED"    envDefault:"false"`
	Addr      string        `env:"ADDR"       envDefault:"127.0.0.1:6379"`
	DB        int           `env:"DB"         envDefault:"0"`
	LatestTTL time.Duration `env:"LATEST_TTL" envDefault:"60s"`
}

type InfluxConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"false"`
	URL     string        `env:"URL"     envDefault:"http://127.0.0.1:8086"`
	Token   string        `env:"TOKEN"   envDefault:""`
	Org     string        `env:"ORG"     envDefault:"power"`
	Bucket  string        `env:"BUCKET"  envDefault:"power"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"1s"`
}

type NotifyConfig struct {
	URL           string        `env:"URL"            envDefault:""`
	Timeout       time.Duration `env:"TIMEOUT"        envDefault:"900ms"`
	FailThreshold int32         `env:"FAIL_THRESHOLD" envDefault:"5"`
	OpenDuration  time.Duration `env:"OPEN_DURATION"  envDefault:"20s"`
}

type HTTPConfig struct {
	Addr    string `env:"ADDR"     envDefault:":8080"`
	WSToken string `env:"WS_TOKEN" envDefault:""`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "power-agent-" + cfg.DeviceID
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Power.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	switch {
	case c.DeviceID == "" || strings.ContainsAny(c.DeviceID, "/+#"):
		return fmt.Errorf("%w: device id %q", ErrInvalid, c.DeviceID)
	case c.Agent.Interval < time.Second || c.Agent.Interval > time.Hour:
		return fmt.Errorf("%w: agent interval %s", ErrInvalid, c.Agent.Interval)
	case c.Agent.QueueLen <= 0:
		return fmt.Errorf("%w: agent queue length %d", ErrInvalid, c.Agent.QueueLen)
	case c.MQTT.QoS > 2:
		return fmt.Errorf("%w: mqtt qos %d", ErrInvalid, c.MQTT.QoS)
	case c.MQTT.Format != "json" && c.MQTT.Format != "senml":
		return fmt.Errorf("%w: mqtt format %q", ErrInvalid, c.MQTT.Format)
	case c.MQTT.Workers <= 0 || c.MQTT.QueueLen <= 0:
		return fmt.Errorf("%w: mqtt workers %d queue %d", ErrInvalid, c.MQTT.Workers, c.MQTT.QueueLen)
	case c.Sensor.Source != "sim" && c.Sensor.Source != "sysfs":
		return fmt.Errorf("%w: sensor source %q", ErrInvalid, c.Sensor.Source)
	}
	return nil
}

func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

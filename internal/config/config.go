package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Local     BrokerConfig    `mapstructure:"local"`
	Cloud     CloudConfig     `mapstructure:"cloud"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Control   ControlConfig   `mapstructure:"control"`
	LWT       LWTConfig       `mapstructure:"lwt"`
	Auto      AutoConfig      `mapstructure:"auto"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Influx    InfluxConfig    `mapstructure:"influx"`
	Admin     AdminConfig     `mapstructure:"admin"`
	MDNS      MDNSConfig      `mapstructure:"mdns"`
}

// AppConfig holds process wide settings
type AppConfig struct {
	GatewayID int    `mapstructure:"gateway_id"`
	LogLevel  string `mapstructure:"log_level"`
}

// BrokerConfig describes one MQTT broker connection
type BrokerConfig struct {
	Broker         string                 `mapstructure:"broker"`
	ClientID       string                 `mapstructure:"client_id"`
	Username       string                 `mapstructure:"username"`
	Password       string                 `mapstructure:"password"`
	ReconnectDelay time.Duration          `mapstructure:"reconnect_delay"`
	Topics         map[string]TopicConfig `mapstructure:"topics"`
}

// TopicConfig maps a logical channel to its wire topic
type TopicConfig struct {
	Topic  string `mapstructure:"topic"`
	QoS    byte   `mapstructure:"qos"`
	Retain bool   `mapstructure:"retain"`
}

// CloudConfig describes the cloud platform session
type CloudConfig struct {
	BrokerConfig `mapstructure:",squash"`
	AccessToken  string        `mapstructure:"access_token"`
	APIURL       string        `mapstructure:"api_url"`
	APIUsername  string        `mapstructure:"api_username"`
	APIPassword  string        `mapstructure:"api_password"`
	TokenRefresh time.Duration `mapstructure:"token_refresh"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	// GatewayDeviceID enables the attribute stream when set
	GatewayDeviceID string        `mapstructure:"gateway_device_id"`
	StreamRetry     time.Duration `mapstructure:"stream_retry"`
	RPCQueueSize    int           `mapstructure:"rpc_queue_size"`
}

// RedisConfig holds the cache connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig holds the management backend database
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// ControlConfig tunes command dispatch
type ControlConfig struct {
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	InboxSize       int           `mapstructure:"inbox_size"`
}

// LWTConfig tunes the liveness service
type LWTConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// AutoConfig tunes the auto-actuation mapping
type AutoConfig struct {
	FanOnAbove    float64 `mapstructure:"fan_on_above"`
	LuminosityMax float64 `mapstructure:"luminosity_max"`
}

// SchedulerConfig tunes the schedule loop
type SchedulerConfig struct {
	Spec     string `mapstructure:"spec"`
	SeedFile string `mapstructure:"seed_file"`
}

// InfluxConfig enables the telemetry history sink
type InfluxConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Org     string `mapstructure:"org"`
	Bucket  string `mapstructure:"bucket"`
}

// AdminConfig configures the management HTTP API
type AdminConfig struct {
	Addr         string        `mapstructure:"addr"`
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// MDNSConfig configures LAN advertisement
type MDNSConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	LocalName string `mapstructure:"local_name"`
}

// Local channel names
const (
	ChannelTest             = "test"
	ChannelRegisterRequest  = "register_request"
	ChannelRegisterResponse = "register_response"
	ChannelTelemetry        = "telemetry"
	ChannelControlCommands  = "control_commands"
	ChannelControlResponse  = "control_response"
	ChannelLWT              = "lwt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.gateway_id", 1)

	v.SetDefault("local.broker", "tcp://localhost:1883")
	v.SetDefault("local.client_id", "office-gateway")
	v.SetDefault("local.reconnect_delay", 2*time.Second)
	v.SetDefault("local.topics", map[string]any{
		ChannelTest:             map[string]any{"topic": "test/topic", "qos": 0, "retain": false},
		ChannelRegisterRequest:  map[string]any{"topic": "gateway/register/request", "qos": 1, "retain": false},
		ChannelRegisterResponse: map[string]any{"topic": "gateway/register/response/{mac}", "qos": 1, "retain": false},
		ChannelTelemetry:        map[string]any{"topic": "gateway/telemetry/{device_id}", "qos": 0, "retain": false},
		ChannelControlCommands:  map[string]any{"topic": "gateway/control/command/{device_id}", "qos": 1, "retain": false},
		ChannelControlResponse:  map[string]any{"topic": "gateway/control/response/{device_id}", "qos": 1, "retain": false},
		ChannelLWT:              map[string]any{"topic": "gateway/lwt", "qos": 1, "retain": false},
	})

	v.SetDefault("cloud.client_id", "office-gateway-cloud")
	v.SetDefault("cloud.reconnect_delay", 5*time.Second)
	v.SetDefault("cloud.token_refresh", 10*time.Minute)
	v.SetDefault("cloud.http_timeout", 10*time.Second)
	v.SetDefault("cloud.stream_retry", 5*time.Second)
	v.SetDefault("cloud.rpc_queue_size", 64)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("control.response_timeout", 8*time.Second)
	v.SetDefault("control.inbox_size", 256)
	v.SetDefault("lwt.grace_period", 5*time.Second)
	v.SetDefault("auto.fan_on_above", 26.0)
	v.SetDefault("auto.luminosity_max", 100.0)
	v.SetDefault("scheduler.spec", "* * * * *")

	v.SetDefault("admin.addr", ":5069")
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.token_ttl", 24*time.Hour)

	v.SetDefault("mdns.local_name", "office-gateway.local")
}

// LoadConfig reads configuration from config.yaml, .env, and env vars.
// Nested keys map to env vars by upper-casing and replacing dots with
// underscores, e.g. cloud.access_token -> CLOUD_ACCESS_TOKEN.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env is optional
		println("No .env file loaded:", err.Error())
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv registers every known key so AutomaticEnv also applies to Unmarshal
func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"app.gateway_id", "app.log_level",
		"local.broker", "local.client_id", "local.username", "local.password", "local.reconnect_delay",
		"cloud.broker", "cloud.client_id", "cloud.access_token", "cloud.reconnect_delay",
		"cloud.api_url", "cloud.api_username", "cloud.api_password", "cloud.token_refresh",
		"cloud.http_timeout", "cloud.gateway_device_id", "cloud.stream_retry", "cloud.rpc_queue_size",
		"redis.addr", "redis.password", "redis.db",
		"database.url",
		"control.response_timeout", "control.inbox_size",
		"lwt.grace_period",
		"auto.fan_on_above", "auto.luminosity_max",
		"scheduler.spec", "scheduler.seed_file",
		"influx.enabled", "influx.url", "influx.token", "influx.org", "influx.bucket",
		"admin.addr", "admin.username", "admin.password_hash", "admin.jwt_secret", "admin.token_ttl",
		"mdns.enabled", "mdns.local_name",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate rejects configurations the gateway cannot start with
func (c *Config) Validate() error {
	if c.Local.Broker == "" {
		return errors.New("config: local.broker is required")
	}
	if c.Cloud.Broker == "" {
		return errors.New("config: cloud.broker is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("config: redis.addr is required")
	}
	for _, ch := range []string{
		ChannelTest, ChannelRegisterRequest, ChannelRegisterResponse, ChannelTelemetry,
		ChannelControlCommands, ChannelControlResponse, ChannelLWT,
	} {
		t, ok := c.Local.Topics[ch]
		if !ok || t.Topic == "" {
			return fmt.Errorf("config: local.topics.%s is required", ch)
		}
		if t.QoS > 2 {
			return fmt.Errorf("config: local.topics.%s has invalid qos %d", ch, t.QoS)
		}
	}
	if c.Control.ResponseTimeout <= 0 {
		return errors.New("config: control.response_timeout must be positive")
	}
	if c.Auto.LuminosityMax <= 0 {
		return errors.New("config: auto.luminosity_max must be positive")
	}
	return nil
}

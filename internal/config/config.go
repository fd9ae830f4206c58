package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr                  string `mapstructure:"addr"`
		LogLevel              string `mapstructure:"log_level"`
		RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	} `mapstructure:"server"`

	Backend struct {
		APIFrontend        string `mapstructure:"api_frontend"`
		EndpointsFrontend  string `mapstructure:"endpoints_frontend"`
		APIKey             string `mapstructure:"api_key"`
		RPCTimeoutMS       int    `mapstructure:"rpc_timeout_ms"`
		ConfirmMaxAttempts int    `mapstructure:"confirm_max_attempts"`
		ConfirmBackoffMS   int    `mapstructure:"confirm_backoff_ms"`
	} `mapstructure:"backend"`

	Store struct {
		Driver     string `mapstructure:"driver"` // memory | postgres | redis | sqlite
		RedisURL   string `mapstructure:"redis_url"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"store"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	Device struct {
		HWID            string `mapstructure:"hwid"`
		CustomizationID string `mapstructure:"customization_id"`
		ActivationWeek  string `mapstructure:"activation_week"`
		CouponCode      string `mapstructure:"coupon_code"`
		GroupCode       string `mapstructure:"group_code"`
	} `mapstructure:"device"`

	Consent struct {
		Enabled    bool `mapstructure:"enabled"`
		AutoAccept bool `mapstructure:"auto_accept"`
	} `mapstructure:"consent"`

	Callers struct {
		File string `mapstructure:"file"`
	} `mapstructure:"callers"`

	Refresher struct {
		IntervalSeconds  int `mapstructure:"interval_seconds"`
		ReconnectSeconds int `mapstructure:"reconnect_seconds"`
	} `mapstructure:"refresher"`

	Analytics struct {
		KafkaBrokers []string `mapstructure:"kafka_brokers"`
		KafkaTopic   string   `mapstructure:"kafka_topic"`
	} `mapstructure:"analytics"`
}

// keys are registered up front so AutomaticEnv can resolve nested values
// during Unmarshal.
var defaults = map[string]any{
	"server.addr":                    ":8080",
	"server.log_level":               "info",
	"server.request_timeout_seconds": 0, // derived in validate
	"backend.api_frontend":           "https://chromeos-registration.googleapis.com/chromeosregistration/v1",
	"backend.endpoints_frontend":     "https://chromeos-registration.googleapis.com/_ah/api/echo/1",
	"backend.api_key":                "",
	"backend.rpc_timeout_ms":         20000,
	"backend.confirm_max_attempts":   5,
	"backend.confirm_backoff_ms":     1000,
	"store.driver":                   "memory",
	"store.redis_url":                "",
	"store.sqlite_path":              "",
	"postgres.host":                  "",
	"postgres.port":                  5432,
	"postgres.user":                  "",
	"postgres.password":              "",
	"postgres.db_name":               "",
	"postgres.ssl_mode":              "disable",
	"postgres.max_open_conns":        10,
	"postgres.max_idle_conns":        10,
	"device.hwid":                    "",
	"device.customization_id":        "",
	"device.activation_week":         "",
	"device.coupon_code":             "",
	"device.group_code":              "",
	"consent.enabled":                true,
	"consent.auto_accept":            false,
	"callers.file":                   "",
	"refresher.interval_seconds":     3600,
	"refresher.reconnect_seconds":    5,
	"analytics.kafka_brokers":        []string{},
	"analytics.kafka_topic":          "echo-analytics",
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	_ = v.ReadInConfig() // optional; env can fully configure

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = ":8080" }
	if c.Backend.RPCTimeoutMS <= 0 { c.Backend.RPCTimeoutMS = 20000 }
	if c.Backend.ConfirmMaxAttempts <= 0 { c.Backend.ConfirmMaxAttempts = 5 }
	if c.Backend.ConfirmBackoffMS < 0 { c.Backend.ConfirmBackoffMS = 1000 }
	if budget := c.FlowBudget(); c.RequestTimeout() < budget {
		c.Server.RequestTimeoutSeconds = int((budget + time.Second - 1) / time.Second)
	}
	c.Backend.APIFrontend = strings.TrimRight(c.Backend.APIFrontend, "/")
	c.Backend.EndpointsFrontend = strings.TrimRight(c.Backend.EndpointsFrontend, "/")
	if c.Store.Driver == "" { c.Store.Driver = "memory" }
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	if c.Postgres.Port == 0 { c.Postgres.Port = 5432 }
	if c.Postgres.SSLMode == "" { c.Postgres.SSLMode = "disable" }
	if c.Postgres.MaxOpenConns == 0 { c.Postgres.MaxOpenConns = 10 }
	if c.Postgres.MaxIdleConns == 0 { c.Postgres.MaxIdleConns = 10 }
	if c.Refresher.IntervalSeconds <= 0 { c.Refresher.IntervalSeconds = 3600 }
	if c.Refresher.ReconnectSeconds <= 0 { c.Refresher.ReconnectSeconds = 5 }
	if c.Analytics.KafkaTopic == "" { c.Analytics.KafkaTopic = "echo-analytics" }
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) RPCTimeout() time.Duration { return time.Duration(c.Backend.RPCTimeoutMS) * time.Millisecond }

func (c Config) ConfirmBackoff() time.Duration {
	return time.Duration(c.Backend.ConfirmBackoffMS) * time.Millisecond
}

// flowSlack covers local work around the backend calls of one flow.
const flowSlack = 15 * time.Second

// FlowBudget is the longest an eligibility flow can take: two check rounds
// (the second after NEED_MORE_INFO) that may each fall back, then every
// confirmation try with the pauses between them.
func (c Config) FlowBudget() time.Duration {
	rpc := c.RPCTimeout()
	attempts := time.Duration(c.Backend.ConfirmMaxAttempts)
	return 4*rpc + attempts*rpc + (attempts-1)*c.ConfirmBackoff() + flowSlack
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresher.IntervalSeconds) * time.Second
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Refresher.ReconnectSeconds) * time.Second }

package config

import (
	"time"

	"github.com/spf13/viper"
)

type APICfg struct {
	BaseURL             string `mapstructure:"base_url"`
	Token               string `mapstructure:"token"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	RetryMaxSeconds     int    `mapstructure:"retry_max_seconds"`
	BreakerMaxFailures  uint32 `mapstructure:"breaker_max_failures"`
	BreakerResetSeconds int    `mapstructure:"breaker_reset_seconds"`
}

type StreamCfg struct {
	URL                  string `mapstructure:"url"`
	Reconnect            bool   `mapstructure:"reconnect"`
	ReconnectMaxSeconds  int    `mapstructure:"reconnect_max_seconds"`
	PingIntervalSeconds  int    `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int    `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64  `mapstructure:"max_message_size_bytes"`
}

type LogCfg struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

type UserCfg struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

type Config struct {
	API    APICfg    `mapstructure:"api"`
	Stream StreamCfg `mapstructure:"stream"`
	Log    LogCfg    `mapstructure:"log"`
	User   UserCfg   `mapstructure:"user"`

	// derived
	APITimeout      time.Duration
	RetryMaxElapsed time.Duration
	BreakerReset    time.Duration
	ReconnectMax    time.Duration
	PingInterval    time.Duration
	WriteDeadline   time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	v.SetEnvPrefix("FREDA")
	v.SetDefault("stream.reconnect", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 10
	}
	if c.API.RetryMaxSeconds == 0 {
		c.API.RetryMaxSeconds = 15
	}
	if c.API.BreakerMaxFailures == 0 {
		c.API.BreakerMaxFailures = 5
	}
	if c.API.BreakerResetSeconds == 0 {
		c.API.BreakerResetSeconds = 30
	}
	if c.Stream.ReconnectMaxSeconds == 0 {
		c.Stream.ReconnectMaxSeconds = 60
	}
	if c.Stream.PingIntervalSeconds == 0 {
		c.Stream.PingIntervalSeconds = 25
	}
	if c.Stream.WriteDeadlineSeconds == 0 {
		c.Stream.WriteDeadlineSeconds = 10
	}
	if c.Stream.MaxMessageSizeBytes == 0 {
		c.Stream.MaxMessageSizeBytes = 65536
	}

	c.APITimeout = time.Duration(c.API.TimeoutSeconds) * time.Second
	c.RetryMaxElapsed = time.Duration(c.API.RetryMaxSeconds) * time.Second
	c.BreakerReset = time.Duration(c.API.BreakerResetSeconds) * time.Second
	c.ReconnectMax = time.Duration(c.Stream.ReconnectMaxSeconds) * time.Second
	c.PingInterval = time.Duration(c.Stream.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.Stream.WriteDeadlineSeconds) * time.Second
	return &c, nil
}

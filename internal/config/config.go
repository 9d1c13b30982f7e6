package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "HOMERING"
	defaultHTTPAddress     = "0.0.0.0:5000"
	defaultDatabaseDriver  = "sqlite"
	defaultDatabaseDSN     = "homering.db"
	defaultLogLevel        = "info"
	defaultRTCProvider     = "jwt"
	defaultMQTTClientID    = "homering-api"
	defaultMQTTTopicPrefix = "homering/push"
	defaultReaperInterval  = 5 * time.Minute
	defaultReaperStale     = 5 * time.Minute
	defaultVisitBaseURL    = "https://homering.onrender.com"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabaseDSN    string

	RTCProvider  string
	RTCAppID     string
	RTCAppSecret string

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	ReaperInterval   time.Duration
	ReaperStaleAfter time.Duration

	VisitBaseURL string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("rtc.provider", defaultRTCProvider)
	configViper.SetDefault("rtc.app_id", "")
	configViper.SetDefault("rtc.app_secret", "")
	configViper.SetDefault("push.mqtt.broker_url", "")
	configViper.SetDefault("push.mqtt.client_id", defaultMQTTClientID)
	configViper.SetDefault("push.mqtt.username", "")
	configViper.SetDefault("push.mqtt.password", "")
	configViper.SetDefault("push.mqtt.topic_prefix", defaultMQTTTopicPrefix)
	configViper.SetDefault("lock.redis.address", "")
	configViper.SetDefault("lock.redis.password", "")
	configViper.SetDefault("lock.redis.db", 0)
	configViper.SetDefault("reaper.interval", defaultReaperInterval)
	configViper.SetDefault("reaper.stale_after", defaultReaperStale)
	configViper.SetDefault("visit.base_url", defaultVisitBaseURL)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		LogLevel:         configViper.GetString("log.level"),
		DatabaseDriver:   strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:      configViper.GetString("database.dsn"),
		RTCProvider:      strings.ToLower(strings.TrimSpace(configViper.GetString("rtc.provider"))),
		RTCAppID:         configViper.GetString("rtc.app_id"),
		RTCAppSecret:     configViper.GetString("rtc.app_secret"),
		MQTTBrokerURL:    configViper.GetString("push.mqtt.broker_url"),
		MQTTClientID:     configViper.GetString("push.mqtt.client_id"),
		MQTTUsername:     configViper.GetString("push.mqtt.username"),
		MQTTPassword:     configViper.GetString("push.mqtt.password"),
		MQTTTopicPrefix:  configViper.GetString("push.mqtt.topic_prefix"),
		RedisAddress:     configViper.GetString("lock.redis.address"),
		RedisPassword:    configViper.GetString("lock.redis.password"),
		RedisDB:          configViper.GetInt("lock.redis.db"),
		ReaperInterval:   configViper.GetDuration("reaper.interval"),
		ReaperStaleAfter: configViper.GetDuration("reaper.stale_after"),
		VisitBaseURL:     strings.TrimRight(configViper.GetString("visit.base_url"), "/"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.DatabaseDriver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite or mysql, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.RTCProvider {
	case "jwt", "trtc":
	default:
		return fmt.Errorf("rtc.provider must be jwt or trtc, got %q", c.RTCProvider)
	}
	if strings.TrimSpace(c.RTCAppID) == "" {
		return fmt.Errorf("rtc.app_id is required")
	}
	if strings.TrimSpace(c.RTCAppSecret) == "" {
		return fmt.Errorf("rtc.app_secret is required")
	}
	if c.ReaperInterval <= 0 {
		return fmt.Errorf("reaper.interval must be positive")
	}
	if c.ReaperStaleAfter <= 0 {
		return fmt.Errorf("reaper.stale_after must be positive")
	}
	if strings.TrimSpace(c.MQTTBrokerURL) != "" && strings.TrimSpace(c.MQTTTopicPrefix) == "" {
		return fmt.Errorf("push.mqtt.topic_prefix is required when a broker is configured")
	}
	return nil
}

package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "mbin"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	InboxTopic      string   `yaml:"inboxTopic"`
	DeadLetterTopic string   `yaml:"deadLetterTopic"`
	GroupID         string   `yaml:"groupId"`
	Workers         int      `yaml:"workers"`
	MaxAttempts     int      `yaml:"maxAttempts"`
	BackoffBaseMs   int      `yaml:"backoffBaseMs"`
	BackoffMaxMs    int      `yaml:"backoffMaxMs"`
}

type RedisConfig struct {
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	CacheTTLSeconds int    `yaml:"cacheTtlSeconds"`
}

type AppConfig struct {
	Conf struct {
		Host                    string
		HttpPort                int     `yaml:"httpPort"`
		SslDomain               string  `yaml:"sslDomain"`
		DatabasePath            string  `yaml:"databasePath"`
		FallbackMagazine        string  `yaml:"fallbackMagazine"`
		ActorTTLHours           int     `yaml:"actorTtlHours"`
		FetchTimeoutSeconds     int     `yaml:"fetchTimeoutSeconds"`
		FetchRatePerHost        float64 `yaml:"fetchRatePerHost"`
		FetchBurstPerHost       int     `yaml:"fetchBurstPerHost"`
		MaxReplyDepth           int     `yaml:"maxReplyDepth"`
		DeliveryIntervalSeconds int     `yaml:"deliveryIntervalSeconds"`
		DeliveryBatchSize       int     `yaml:"deliveryBatchSize"`
		WithJournald            bool    `yaml:"withJournald"`
		WithMetrics             bool    `yaml:"withMetrics"`
		Kafka                   KafkaConfig
		Redis                   RedisConfig
	}
}

// ActorTTL is how long a fetched remote actor is trusted before a refresh.
func (c *AppConfig) ActorTTL() time.Duration {
	return time.Duration(c.Conf.ActorTTLHours) * time.Hour
}

func (c *AppConfig) FetchTimeout() time.Duration {
	return time.Duration(c.Conf.FetchTimeoutSeconds) * time.Second
}

func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.Conf.Redis.CacheTTLSeconds) * time.Second
}

func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig
	}

	return parseConf(buf)
}

func parseConf(buf []byte) (*AppConfig, error) {
	c := &AppConfig{}

	// Embedded defaults first so a partial config file only overrides what it names
	if err := yaml.Unmarshal(embeddedConfig, c); err != nil {
		return nil, fmt.Errorf("in embedded config: %w", err)
	}
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	applyEnv(c)
	return c, nil
}

func applyEnv(c *AppConfig) {
	envString("MBIN_HOST", &c.Conf.Host)
	envInt("MBIN_HTTPPORT", &c.Conf.HttpPort)
	envString("MBIN_SSLDOMAIN", &c.Conf.SslDomain)
	envString("MBIN_DATABASE", &c.Conf.DatabasePath)
	envString("MBIN_FALLBACK_MAGAZINE", &c.Conf.FallbackMagazine)
	envInt("MBIN_ACTOR_TTL_HOURS", &c.Conf.ActorTTLHours)
	envInt("MBIN_FETCH_TIMEOUT", &c.Conf.FetchTimeoutSeconds)
	envInt("MBIN_DELIVERY_INTERVAL", &c.Conf.DeliveryIntervalSeconds)
	envString("MBIN_KAFKA_INBOX_TOPIC", &c.Conf.Kafka.InboxTopic)
	envString("MBIN_KAFKA_DLQ_TOPIC", &c.Conf.Kafka.DeadLetterTopic)
	envString("MBIN_KAFKA_GROUP", &c.Conf.Kafka.GroupID)
	envInt("MBIN_KAFKA_WORKERS", &c.Conf.Kafka.Workers)
	envInt("MBIN_KAFKA_MAX_ATTEMPTS", &c.Conf.Kafka.MaxAttempts)
	envString("MBIN_REDIS_ADDR", &c.Conf.Redis.Addr)
	envString("MBIN_REDIS_PASSWORD", &c.Conf.Redis.Password)

	if v := os.Getenv("MBIN_KAFKA_BROKERS"); v != "" {
		c.Conf.Kafka.Brokers = strings.Split(v, ",")
	}
	if os.Getenv("MBIN_WITH_JOURNALD") == "true" {
		c.Conf.WithJournald = true
	}
	if os.Getenv("MBIN_WITH_METRICS") == "false" {
		c.Conf.WithMetrics = false
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Ignoring %s: %v", key, err)
		return
	}
	*dst = n
}

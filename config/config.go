package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ParcelBox ParcelBoxConfig `yaml:"parcelbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	StatusUpdateTopicName    string `yaml:"status_update_topic_name"`
	VideoExtractionTopicName string `yaml:"video_extraction_topic_name"`
	WarehouseScanTopicName   string `yaml:"warehouse_scan_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ParcelBoxConfig struct {
	HTTPAddr             string `yaml:"http_addr"`
	KafkaConsumerGroup   string `yaml:"kafka_consumer_group"`
	ParcelViewTTLSeconds int    `yaml:"parcel_view_ttl_seconds"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int    `yaml:"worker_rate_limit_per_minute"`

	// Circuit breaker around the broker: opens after N consecutive publish failures.
	BreakerFailures       int `yaml:"breaker_failures"`
	BreakerTimeoutSeconds int `yaml:"breaker_timeout_seconds"`

	// Purge of published outbox jobs (cron expression, e.g. "@hourly" or "0 */6 * * *").
	CleanupSchedule      string `yaml:"cleanup_schedule"`
	OutboxRetentionHours int    `yaml:"outbox_retention_hours"`
}

func (c ParcelBoxConfig) ParcelViewTTL() time.Duration {
	if c.ParcelViewTTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.ParcelViewTTLSeconds) * time.Second
}

func (c ParcelBoxConfig) OutboxRetention() time.Duration {
	if c.OutboxRetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(c.OutboxRetentionHours) * time.Hour
}

func (c ParcelBoxConfig) CleanupScheduleOrDefault() string {
	if c.CleanupSchedule == "" {
		return "@hourly"
	}
	return c.CleanupSchedule
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

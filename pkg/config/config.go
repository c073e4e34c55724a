package config

import (
	"log"
	"os"
	"time"

	"github.com/Juan-Andres-Motta/proyecto-2-backend/pkg/utils"
	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTP      `yaml:"http"`
	Metrics   Metrics   `yaml:"metrics"`
	Postgres  PG        `yaml:"postgres"`
	Redis     Redis     `yaml:"redis"`
	Kafka     Kafka     `yaml:"kafka"`
	Services  Services  `yaml:"services"`
	Allocator Allocator `yaml:"allocator"`
	Outbox    Outbox    `yaml:"outbox"`
	Delivery  Delivery  `yaml:"delivery"`
	Limiter   Limiter   `yaml:"limiter"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9102"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	OrderTopic string   `yaml:"order_topic" env:"ORDER_TOPIC" env-default:"order_events"`
}

type Services struct {
	CustomerURL string `yaml:"customer_url" env:"CUSTOMER_URL" env-default:"http://localhost:8001"`
	CatalogURL  string `yaml:"catalog_url" env:"CATALOG_URL" env-default:"http://localhost:8002"`
}

// Allocator holds the reservation-conflict retry bounds. They are deliberately
// configuration, not constants: the defaults are reasonable, not contractual.
type Allocator struct {
	Retries      int `yaml:"retries" env:"ALLOCATOR_RETRIES" env-default:"3"`
	OrderRetries int `yaml:"order_retries" env:"ORDER_RETRIES" env-default:"1"`
}

type Outbox struct {
	Interval    time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
	BatchSize   int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"OUTBOX_BACKOFF_BASE" env-default:"1s"`
	BackoffCap  time.Duration `yaml:"backoff_cap" env:"OUTBOX_BACKOFF_CAP" env-default:"1m"`
}

type Delivery struct {
	LeadDays int `yaml:"lead_days" env:"DELIVERY_LEAD_DAYS" env-default:"3"`
}

type Limiter struct {
	Max        int           `yaml:"max" env-default:"20"`
	Expiration time.Duration `yaml:"expiration" env-default:"5s"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("config file does not exists: %v\n", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}

package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr      string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string
	RabbitURL     string
	HoldTTL       time.Duration
	SweepInterval time.Duration
	OTLPEndpoint  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	holdTTL, _ := time.ParseDuration(os.Getenv("HOLD_TTL"))
	if holdTTL == 0 {
		holdTTL = 10 * time.Minute
	}

	sweepInterval, _ := time.ParseDuration(os.Getenv("SWEEP_INTERVAL"))
	if sweepInterval == 0 {
		sweepInterval = time.Minute
	}

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	db := os.Getenv("MONGO_DATABASE")
	if db == "" {
		db = "reservations"
	}

	return &Config{
		HTTPAddr:      addr,
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: db,
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RabbitURL:     os.Getenv("RABBIT_URL"),
		HoldTTL:       holdTTL,
		SweepInterval: sweepInterval,
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

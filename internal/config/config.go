// Package config centralizes the gateway's environment-driven settings.
// Provider secrets have no defaults; a provider is enabled only when its
// endpoint and secret are present.
package config

import (
	"os"
	"time"

	"github.com/abenezerm/schoolpay/internal/provider"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	// PGURL enables the durable ledger and outbox when set; empty keeps
	// the in-memory ledger (development and tests).
	PGURL     string
	RedisAddr string
	KafkaAddr string
	JaegerURL string

	OutboxTopic     string
	DefaultProvider string
	ProviderTimeout time.Duration

	Providers map[string]provider.Credentials
}

func Load() Config {
	cfg := Config{
		HTTPAddr:        env("HTTP_ADDR", ":8080"),
		PublicURL:       env("PUBLIC_URL", "http://localhost:8080"),
		PGURL:           os.Getenv("PG_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		KafkaAddr:       env("KAFKA_ADDR", "localhost:9092"),
		JaegerURL:       env("JAEGER_URL", "http://localhost:14268/api/traces"),
		OutboxTopic:     env("OUTBOX_TOPIC", "payment.events"),
		DefaultProvider: env("DEFAULT_PROVIDER", "telebirr"),
		ProviderTimeout: duration("PROVIDER_TIMEOUT", 15*time.Second),
		Providers:       map[string]provider.Credentials{},
	}

	for _, p := range []struct {
		name   string
		prefix string
	}{
		{"telebirr", "TELEBIRR"},
		{"cbe_birr", "CBEBIRR"},
		{"cbe", "CBE"},
	} {
		creds := provider.Credentials{
			Endpoint:   os.Getenv(p.prefix + "_ENDPOINT"),
			MerchantID: os.Getenv(p.prefix + "_MERCHANT_ID"),
			Secret:     os.Getenv(p.prefix + "_SECRET"),
		}
		if creds.Validate() == nil {
			cfg.Providers[p.name] = creds
		}
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func duration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

package logger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaunagostinho/caramat/internal/controller"
)

// ValkeyConfig holds connection settings for the Valkey (Redis protocol)
// time-series store.
type ValkeyConfig struct {
	Addr       string `yaml:"addr" json:"addr"`
	Password   string `yaml:"password" json:"-"`
	DB         int    `yaml:"db" json:"db"`
	CounterKey string `yaml:"counter_key" json:"counterKey"`
}

const valkeyTimeout = 500 * time.Millisecond

// Valkey stores each reading as a hash "data_<n>", where n comes from an
// INCR on the counter key.
type Valkey struct {
	client     *redis.Client
	counterKey string
}

// NewValkey connects to Valkey and verifies the connection with PING.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.CounterKey == "" {
		cfg.CounterKey = "data_counter"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("logger: valkey %s: %w", cfg.Addr, err)
	}
	log.Printf("[logger] connected to valkey at %s (db %d)", cfg.Addr, cfg.DB)
	return &Valkey{client: client, counterKey: cfg.CounterKey}, nil
}

// Append stores r and returns its hash key.
func (v *Valkey) Append(r controller.SensorReading) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), valkeyTimeout)
	defer cancel()

	n, err := v.client.Incr(ctx, v.counterKey).Result()
	if err != nil {
		return "", fmt.Errorf("logger: valkey incr: %w", err)
	}
	key := fmt.Sprintf("data_%d", n)
	err = v.client.HSet(ctx, key, map[string]interface{}{
		"timestamp": r.Timestamp.Format(timestampLayout),
		"sensor_a":  r.SensorA,
		"sensor_d":  r.SensorD,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("logger: valkey hset %s: %w", key, err)
	}
	return key, nil
}

func (v *Valkey) Close() error { return v.client.Close() }

package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisOptions sizes the Redis client. Zero values fall back to defaults.
type RedisOptions struct {
	PoolSize     int
	MinIdleConns int
	ClientName   string
}

// NewRedis connects the client shared by the attempt limiters. An empty
// URL returns a nil client and no error: limits then stay per instance.
func NewRedis(redisURL string, o RedisOptions) (*redis.Client, error) {
	if redisURL == "" {
		log.Warn().Msg("Redis URL not configured, attempt limits are per instance")
		return nil, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	if o.PoolSize <= 0 {
		o.PoolSize = 20
	}
	if o.MinIdleConns <= 0 {
		o.MinIdleConns = 2
	}
	if o.ClientName == "" {
		o.ClientName = "scoredesk"
	}
	opt.PoolSize = o.PoolSize
	opt.MinIdleConns = o.MinIdleConns
	opt.ClientName = o.ClientName
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = time.Second
	opt.WriteTimeout = time.Second

	client := redis.NewClient(opt)
	if err := PingRedis(context.Background(), client); err != nil {
		_ = client.Close()
		return nil, err
	}

	log.Info().Str("addr", opt.Addr).Int("pool_size", opt.PoolSize).Msg("Connected to Redis")
	return client, nil
}

// PingRedis checks the connection within five seconds. A nil client is
// healthy.
func PingRedis(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// CloseRedis closes the Redis connection
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing Redis connection")
		return
	}
	log.Info().Msg("Redis connection closed")
}

package redis_wrapper

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisConfig struct {
	ConnectionURL       string `yaml:"connection_url"`
	PoolSize            int    `yaml:"pool_size"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `yaml:"idle_timeout_seconds"`
}

// InitRedis create a redis client from config
func InitRedis(redisCfg *RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisCfg.ConnectionURL)
	if err != nil {
		zap.S().Debugf("parse redis url fail: %+v", err)
		return nil, err
	}

	if redisCfg.PoolSize > 0 {
		opts.PoolSize = redisCfg.PoolSize
	}
	if redisCfg.DialTimeoutSeconds > 0 {
		opts.DialTimeout = time.Duration(redisCfg.DialTimeoutSeconds) * time.Second
	}
	if redisCfg.ReadTimeoutSeconds > 0 {
		opts.ReadTimeout = time.Duration(redisCfg.ReadTimeoutSeconds) * time.Second
	}
	if redisCfg.WriteTimeoutSeconds > 0 {
		opts.WriteTimeout = time.Duration(redisCfg.WriteTimeoutSeconds) * time.Second
	}
	if redisCfg.IdleTimeoutSeconds > 0 {
		opts.ConnMaxIdleTime = time.Duration(redisCfg.IdleTimeoutSeconds) * time.Second
	}

	client := redis.NewClient(opts)
	if cmd := client.Ping(context.Background()); cmd.Err() != nil {
		return nil, cmd.Err()
	}

	zap.S().Debug("connect to redis successful")
	return client, nil
}

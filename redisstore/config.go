package redisstore

import "time"

// Config describes how to reach the Redis server and where to keep events
type Config struct {
	Addr           string        `toml:"addr"`
	Password       string        `toml:"password"`
	Prefix         string        `toml:"prefix"`
	DB             int           `toml:"db"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
}

const (
	DefaultRedisEndpoint  = "localhost:6379"
	DefaultRedisPrefix    = "rewind"
	DefaultRedisDB        = 0
	DefaultConnectTimeout = 5 * time.Second
)

// DefaultConfig returns a Config for a local Redis server
func DefaultConfig() Config {
	return Config{
		Addr:           DefaultRedisEndpoint,
		Password:       "",
		DB:             DefaultRedisDB,
		Prefix:         DefaultRedisPrefix,
		ConnectTimeout: DefaultConnectTimeout,
	}
}

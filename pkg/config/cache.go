package config

// Cache backend selectors.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig selects and parameterizes the cache backend.
type CacheConfig struct {
	// Backend is "memory" (records in the snapshot store) or "redis".
	Backend string `yaml:"backend"`

	// Prefix namespaces fingerprints; deployments sharing a Redis instance
	// pick distinct prefixes.
	Prefix string `yaml:"prefix"`

	// Redis parameterizes the redis backend; ignored for memory.
	Redis *RedisConfig `yaml:"redis"`
}

// DefaultCacheConfig returns the built-in cache defaults.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Backend: CacheBackendMemory,
		Prefix:  "trailtag:",
		Redis:   DefaultRedisConfig(),
	}
}

// RedisConfig contains connection settings for the redis cache backend.
// Host, Port, DB and Password are overridable via the REDIS_HOST, REDIS_PORT,
// REDIS_DB and REDIS_PASSWORD environment variables.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`

	// ExpiryDays is the default key retention when a write carries no TTL.
	ExpiryDays int `yaml:"expiry_days"`
}

// DefaultRedisConfig returns the built-in redis defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Host:       "localhost",
		Port:       6379,
		DB:         0,
		ExpiryDays: 7,
	}
}

package config

import (
	"github.com/spf13/viper"
)

// Load reads .env plus the process environment into viper and applies
// defaults. Both binaries call this before touching any viper key.
func Load() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("bitcoin.rpc_host", "BITCOIN_RPC_HOST")
	viper.BindEnv("bitcoin.rpc_port", "BITCOIN_RPC_PORT")
	viper.BindEnv("bitcoin.rpc_user", "BITCOIN_RPC_USER")
	viper.BindEnv("bitcoin.rpc_password", "BITCOIN_RPC_PASSWORD")

	viper.BindEnv("rates.price_url", "RATES_PRICE_URL")
	viper.BindEnv("rates.refresh_interval", "RATES_REFRESH_INTERVAL")

	viper.BindEnv("fiat.api_url", "FIAT_API_URL")
	viper.BindEnv("fiat.currency", "FIAT_CURRENCY")
	viper.BindEnv("fiat.cache_ttl", "FIAT_CACHE_TTL")

	viper.BindEnv("watcher.poll_interval", "WATCHER_POLL_INTERVAL")
	viper.BindEnv("watcher.min_confirmations", "WATCHER_MIN_CONFIRMATIONS")
	viper.BindEnv("watcher.batch_size", "WATCHER_BATCH_SIZE")

	viper.BindEnv("server.port", "PORT")

	setDefaults()

	// A missing .env is fine in containerized deploys.
	return viper.ReadInConfig()
}

func setDefaults() {
	viper.SetDefault("jwt.expiry_hours", 24)

	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	viper.SetDefault("bitcoin.rpc_host", "localhost")
	viper.SetDefault("bitcoin.rpc_port", 18443)
	viper.SetDefault("bitcoin.rpc_user", "bitcoin")

	viper.SetDefault("rates.price_url", "https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd")
	viper.SetDefault("rates.refresh_interval", "30s")

	viper.SetDefault("fiat.currency", "NGN")
	viper.SetDefault("fiat.cache_ttl", "60s")

	viper.SetDefault("watcher.poll_interval", "30s")
	viper.SetDefault("watcher.min_confirmations", 3)
	viper.SetDefault("watcher.batch_size", 250)

	viper.SetDefault("server.port", "8080")
}

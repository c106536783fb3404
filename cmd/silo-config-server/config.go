package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/EternisAI/silo-config/internal/api/http"
	"github.com/EternisAI/silo-config/internal/auth"
	"github.com/EternisAI/silo-config/internal/db"
	grpctls "github.com/EternisAI/silo-config/internal/grpc/tls"
	"github.com/EternisAI/silo-config/internal/liveness"
	"github.com/EternisAI/silo-config/internal/secrets"
)

type Config struct {
	Log      LogConfig
	Http     http.Config
	Grpc     GrpcConfig
	DB       db.Config `mapstructure:"db"`
	Liveness LivenessConfig
	Rotation RotationConfig
	Secrets  SecretsConfig
	Auth     AuthConfig
}

type GrpcConfig struct {
	Port int                  `mapstructure:"port"`
	TLS  grpctls.ServerConfig `mapstructure:"tls"`
}

type LivenessConfig struct {
	liveness.Config `mapstructure:",squash"`
	Poll            liveness.PollPolicy `mapstructure:"poll"`
}

type RotationConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// SecretsConfig sizes the cache of recently verified client secrets. A zero
// TTL disables it and every call runs a full bcrypt comparison.
type SecretsConfig struct {
	VerifiedCacheSize int           `mapstructure:"verified_cache_size"`
	VerifiedCacheTTL  time.Duration `mapstructure:"verified_cache_ttl"`
}

type AuthConfig struct {
	auth.JWTConfig `mapstructure:",squash"`
	Operators      []auth.Operator `mapstructure:"operators"`
}

var config Config

func setDefaults() {
	defaults := liveness.DefaultPollPolicy()
	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", "text")
	viper.SetDefault("http.port", 8080)
	viper.SetDefault("http.rate_limit.requests_per_second", 20)
	viper.SetDefault("http.rate_limit.burst", 40)
	viper.SetDefault("http.rate_limit.idle_timeout", 10*time.Minute)
	viper.SetDefault("grpc.port", 9090)
	viper.SetDefault("liveness.stale_multiplier", liveness.DefaultStaleMultiplier)
	viper.SetDefault("liveness.poll.base", defaults.Base)
	viper.SetDefault("liveness.poll.max", defaults.Max)
	viper.SetDefault("liveness.poll.step", defaults.Step)
	viper.SetDefault("liveness.poll.sessions_per_step", defaults.SessionsPerStep)
	viper.SetDefault("rotation.sweep_interval", time.Minute)
	viper.SetDefault("secrets.verified_cache_size", secrets.DefaultVerifiedCacheSize)
	viper.SetDefault("secrets.verified_cache_ttl", secrets.DefaultVerifiedCacheTTL)
}

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-config-server")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	_ = viper.BindEnv("db.url", "DATABASE_URL")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")

	if err := viper.ReadInConfig(); err != nil {
		panic(err)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}

	initLogger(config.Log)

	// Pretty print config as JSON (only at DEBUG level)
	if config.Log.debug() {
		redacted := config
		redacted.Http.AdminAPIKey = redact(redacted.Http.AdminAPIKey)
		redacted.Auth.Secret = redact(redacted.Auth.Secret)
		redacted.DB.Url = redact(redacted.DB.Url)
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

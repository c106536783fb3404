package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	grpcclient "github.com/EternisAI/silo-config/internal/grpc/client"
)

type Config struct {
	Log    LogConfig
	Http   HttpConfig
	Server ServerConfig
	Client ClientConfig
	Sync   SyncConfig
}

type HttpConfig struct {
	Port uint `mapstructure:"port"`
}

type ServerConfig struct {
	URL string `mapstructure:"url"`
	// Transport is "http" or "grpc". For grpc, URL is a host:port target.
	Transport string               `mapstructure:"transport"`
	TLS       grpcclient.TLSConfig `mapstructure:"tls"`
}

type ClientConfig struct {
	Name       string `mapstructure:"name"`
	Instance   string `mapstructure:"instance"`
	Secret     string `mapstructure:"secret"`
	SchemaFile string `mapstructure:"schema_file"`
}

type SyncConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AllowOffline    bool          `mapstructure:"allow_offline"`
	CacheDir        string        `mapstructure:"cache_dir"`
	StartupAttempts uint          `mapstructure:"startup_attempts"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

var config Config

func InitConfig() {
	_ = godotenv.Load()

	viper.SetConfigName("application")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./cmd/silo-config-agent")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("log.level", LOG_LEVEL_INFO)
	viper.SetDefault("log.format", "text")
	viper.SetDefault("http.port", 8081)
	viper.SetDefault("server.transport", "http")
	viper.SetDefault("sync.poll_interval", 30*time.Second)
	viper.SetDefault("sync.allow_offline", true)
	viper.SetDefault("sync.cache_dir", "./.silo-config-cache")

	_ = viper.BindEnv("client.secret", "SILO_CONFIG_CLIENT_SECRET")

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
		if redacted.Client.Secret != "" {
			redacted.Client.Secret = "****"
		}
		configJSON, err := json.MarshalIndent(redacted, "", "  ")
		if err == nil {
			fmt.Println("Config loaded:")
			fmt.Println(string(configJSON))
		}
	}
}

package http

import "github.com/EternisAI/silo-config/internal/api/http/middleware"

type Config struct {
	Port        uint                       `mapstructure:"port"`
	AdminAPIKey string                     `mapstructure:"admin_api_key"`
	RateLimit   middleware.RateLimitConfig `mapstructure:"rate_limit"`
}

package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort         string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL      string `env:"DATABASE_URL"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`

	AdminNotifyURL    string        `env:"ADMIN_NOTIFY_URL"`
	AdminNotifyToken  string        `env:"ADMIN_NOTIFY_TOKEN"`
	NotifyMaxAttempts int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"3"`
	NotifyRetryDelay  time.Duration `env:"NOTIFY_RETRY_DELAY" envDefault:"1s"`
	NotifyTimeout     time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`

	JWTSecret           string `env:"JWT_SECRET"`
	JWTIssuer           string `env:"JWT_ISSUER" envDefault:"screen-server"`
	JWTAccessTTLMinutes int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"60"`

	OperatorAutoProvision bool `env:"OPERATOR_AUTO_PROVISION" envDefault:"false"`
	HistoryPageSize       int  `env:"HISTORY_PAGE_SIZE" envDefault:"50"`
	WSSendBuffer          int  `env:"WS_SEND_BUFFER" envDefault:"256"`
	LogDevelopment        bool `env:"LOG_DEVELOPMENT" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

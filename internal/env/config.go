package env

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// URL of the server, e.g. tcp://127.0.0.1:6379 or unix:///var/run/redis.sock
	URL string `env:"BEACON_URL,default=tcp://127.0.0.1:6379"`

	Timeout  time.Duration `env:"BEACON_TIMEOUT,default=5s"`
	LogLevel string        `env:"BEACON_LOG_LEVEL,default=info"`

	GatewayHost string `env:"BEACON_GATEWAY_HOST,default=0.0.0.0"`
	GatewayPort int    `env:"BEACON_GATEWAY_PORT,default=7380"`
	DebugHTTP   bool   `env:"BEACON_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

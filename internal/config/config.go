package config

import "github.com/Netflix/go-env"

type Config struct {
	Addr           string `env:"ADDR,default=:8080"`
	DatabaseDSN    string `env:"DB_DSN,required=true"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	BroadcastTopic string `env:"BROADCAST_TOPIC,default=chat-events"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

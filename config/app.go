package config

import "time"

type App struct {
	Port          string        `env:"APP_PORT" default:"8080"`
	DatabaseURL   string        `env:"DATABASE_URL,required"`
	JWTSecret     string        `env:"JWT_SECRET,required"`
	WebhookURL    string        `env:"NOTIFY_WEBHOOK_URL"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" default:"2m"`
	Env           string        `env:"APP_ENV" default:"dev"`
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Name string `envconfig:"APP_NAME" default:"FlowSentry"`
		Port int    `envconfig:"PORT" default:"8080"`
	}

	DB struct {
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"flowsentry"`
	}

	Server struct {
		Timeout time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
	}

	Auth struct {
		// JWTSecret signs and verifies API bearer tokens. Leave empty to
		// disable authentication (local development only).
		JWTSecret string `envconfig:"JWT_SECRET"`
	}

	Forecast struct {
		LookbackDays   int `envconfig:"FORECAST_LOOKBACK_DAYS" default:"60"`
		MinHistoryDays int `envconfig:"FORECAST_MIN_HISTORY_DAYS" default:"14"`
		HorizonDays    int `envconfig:"FORECAST_HORIZON_DAYS" default:"7"`
	}

	Risk struct {
		DipThreshold float64 `envconfig:"RISK_DIP_THRESHOLD" default:"0.2"`
	}

	Simulation struct {
		HorizonDays int `envconfig:"SIMULATION_HORIZON_DAYS" default:"14"`
	}

	Tasks struct {
		TTL                 time.Duration `envconfig:"TASK_TTL" default:"72h"`
		MaxProposals        int           `envconfig:"TASK_MAX_PROPOSALS" default:"3"`
		MaxDeliveryAttempts int           `envconfig:"TASK_MAX_DELIVERY_ATTEMPTS" default:"5"`
		RulesPath           string        `envconfig:"TASK_RULES_PATH" default:""`
	}

	Scheduler struct {
		Tick             time.Duration `envconfig:"SCHEDULER_TICK" default:"1m"`
		AdvisoryInterval time.Duration `envconfig:"SCHEDULER_ADVISORY_INTERVAL" default:"24h"`
		CatchUpWindow    time.Duration `envconfig:"SCHEDULER_CATCHUP_WINDOW" default:"48h"`
		Workers          int           `envconfig:"SCHEDULER_WORKERS" default:"4"`
		StepTimeout      time.Duration `envconfig:"SCHEDULER_STEP_TIMEOUT" default:"30s"`
	}

	Notifier struct {
		// URL of the outbound message gateway. Empty falls back to the
		// log gateway, which prints messages instead of delivering them.
		URL     string        `envconfig:"NOTIFIER_URL"`
		Token   string        `envconfig:"NOTIFIER_TOKEN"`
		Timeout time.Duration `envconfig:"NOTIFIER_TIMEOUT" default:"10s"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PlanConfig describes one purchasable plan keyed by the provider price id.
type PlanConfig struct {
	PriceRef       string `mapstructure:"price_ref"`
	Tier           string `mapstructure:"tier"`
	Name           string `mapstructure:"name"`
	MonthlyCredits int64  `mapstructure:"monthly_credits"`
	RolloverCap    int64  `mapstructure:"rollover_cap"`
	TrialCredits   int64  `mapstructure:"trial_credits"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type CreditsConfig struct {
	// CentsPerCredit converts disputed charge amounts into credit holds.
	CentsPerCredit int64 `mapstructure:"cents_per_credit"`
}

type TracingConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
	SamplingRatio    float64 `mapstructure:"sampling_ratio"`
}

type InternalConfig struct {
	// Token guards the service-to-service credit endpoints.
	Token string `mapstructure:"token"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type Config struct {
	Environment    string          `mapstructure:"environment"`
	ServiceName    string          `mapstructure:"service_name"`
	ServiceVersion string          `mapstructure:"service_version"`
	HTTP           HTTPConfig      `mapstructure:"http"`
	Database       DatabaseConfig  `mapstructure:"database"`
	Stripe         StripeConfig    `mapstructure:"stripe"`
	Credits        CreditsConfig   `mapstructure:"credits"`
	Plans          []PlanConfig    `mapstructure:"plans"`
	Internal       InternalConfig  `mapstructure:"internal"`
	Tracing        TracingConfig   `mapstructure:"tracing"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Load reads configuration from LUMORA_* environment variables, with an
// optional yaml file pointed at by LUMORA_CONFIG.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LUMORA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("service_name", "lumora")
	v.SetDefault("service_version", "dev")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:lumora.db?cache=shared")
	v.SetDefault("credits.cents_per_credit", 10)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampling_ratio", 1.0)
	v.SetDefault("rate_limit.requests", 60)
	v.SetDefault("rate_limit.window", time.Minute)

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

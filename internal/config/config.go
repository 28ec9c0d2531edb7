package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"

	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds all application configuration. Values come from the
// environment, an optional config file, and defaults, in that order.
type Config struct {
	Port        int
	StoreDriver string
	DatabaseURL string
	MongoURI    string
	MongoDB     string

	JWTSecret     string
	JWTTTL        time.Duration
	CORSOrigins   []string
	TrustProxy    bool
	AdminEmail    string
	AdminPassword string
	SignupGrant   int64

	FrontendURL         string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceBasic    string
	StripePricePro      string
	StripePriceEnt      string
	TokenUnitPriceCents int64
	TokenMinPurchase    int64

	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string
	LLMMaxTokens    int
	LLMTimeout      time.Duration

	ScraperTimeout   time.Duration
	ScraperUserAgent string

	LogLevel  string
	LogFormat string
}

// Load reads configuration. path may be empty, in which case only the
// environment and defaults are used.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:        v.GetInt("port"),
		StoreDriver: strings.ToLower(strings.TrimSpace(v.GetString("store_driver"))),
		DatabaseURL: v.GetString("database_url"),
		MongoURI:    v.GetString("mongodb_uri"),
		MongoDB:     v.GetString("mongodb_database"),

		JWTSecret:     v.GetString("jwt_secret"),
		JWTTTL:        v.GetDuration("jwt_ttl"),
		CORSOrigins:   splitList(v.GetString("cors_origins")),
		TrustProxy:    v.GetBool("trust_proxy"),
		AdminEmail:    v.GetString("admin_email"),
		AdminPassword: v.GetString("admin_password"),
		SignupGrant:   v.GetInt64("signup_grant"),

		FrontendURL:         strings.TrimRight(v.GetString("frontend_url"), "/"),
		StripeSecretKey:     v.GetString("stripe_secret_key"),
		StripeWebhookSecret: v.GetString("stripe_webhook_secret"),
		StripePriceBasic:    v.GetString("stripe_price_basic"),
		StripePricePro:      v.GetString("stripe_price_pro"),
		StripePriceEnt:      v.GetString("stripe_price_enterprise"),
		TokenUnitPriceCents: v.GetInt64("token_unit_price_cents"),
		TokenMinPurchase:    v.GetInt64("token_min_purchase"),

		LLMProvider:     strings.ToLower(strings.TrimSpace(v.GetString("llm_provider"))),
		AnthropicAPIKey: v.GetString("anthropic_api_key"),
		AnthropicModel:  v.GetString("anthropic_model"),
		GeminiAPIKey:    v.GetString("gemini_api_key"),
		GeminiModel:     v.GetString("gemini_model"),
		LLMMaxTokens:    v.GetInt("llm_max_tokens"),
		LLMTimeout:      v.GetDuration("llm_timeout"),

		ScraperTimeout:   v.GetDuration("scraper_timeout"),
		ScraperUserAgent: v.GetString("scraper_user_agent"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 4001)
	v.SetDefault("store_driver", DriverPostgres)
	v.SetDefault("mongodb_database", "seoforge")
	v.SetDefault("jwt_ttl", "24h")
	v.SetDefault("cors_origins", "http://localhost:3000")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("admin_email", "")
	v.SetDefault("admin_password", "")
	v.SetDefault("signup_grant", 5)
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("token_unit_price_cents", 20)
	v.SetDefault("token_min_purchase", 25)
	v.SetDefault("llm_provider", ProviderAnthropic)
	v.SetDefault("anthropic_model", "claude-3-5-sonnet-latest")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm_max_tokens", 4000)
	v.SetDefault("llm_timeout", "120s")
	v.SetDefault("scraper_timeout", "20s")
	v.SetDefault("scraper_user_agent", "Mozilla/5.0 (compatible; SEOForgeBot/1.0)")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	// Required or secret keys have no default value.
	for _, k := range []string{
		"database_url", "mongodb_uri", "jwt_secret",
		"stripe_secret_key", "stripe_webhook_secret",
		"stripe_price_basic", "stripe_price_pro", "stripe_price_enterprise",
		"anthropic_api_key", "gemini_api_key",
	} {
		v.SetDefault(k, "")
	}
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.LLMProvider {
	case ProviderAnthropic, ProviderGemini:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}

	if c.JWTTTL <= 0 {
		return errors.New("JWT_TTL must be positive")
	}
	if c.SignupGrant < 0 {
		return errors.New("SIGNUP_GRANT must not be negative")
	}
	if c.TokenUnitPriceCents <= 0 {
		return errors.New("TOKEN_UNIT_PRICE_CENTS must be positive")
	}
	if c.TokenMinPurchase <= 0 {
		return errors.New("TOKEN_MIN_PURCHASE must be positive")
	}
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	return nil
}

// PaymentsEnabled reports whether a live payment processor is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != ""
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	AppEnv    string
	MongoURI  string
	RedisAddr string
	RabbitURL string

	PaystackSecretKey     string
	PaystackWebhookSecret string
	PaystackBaseURL       string
	StripeSecretKey       string
	StripeWebhookSecret   string
	StripeBaseURL         string

	FrontendURL     string
	DefaultCurrency string
	DefaultProvider string

	PaymentMaxAttempts    int
	PaymentAttemptTimeout time.Duration

	OTLPEndpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	maxAttempts, _ := strconv.Atoi(getEnv("PAYMENT_MAX_ATTEMPTS", "3"))
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	attemptTimeout, _ := time.ParseDuration(getEnv("PAYMENT_ATTEMPT_TIMEOUT", "15s"))
	if attemptTimeout == 0 {
		attemptTimeout = 15 * time.Second
	}

	return &Config{
		Port:      getEnv("PORT", "8080"),
		AppEnv:    getEnv("APP_ENV", "development"),
		MongoURI:  os.Getenv("MONGO_URI"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		RabbitURL: os.Getenv("RABBIT_URL"),

		PaystackSecretKey:     os.Getenv("PAYSTACK_SECRET_KEY"),
		PaystackWebhookSecret: os.Getenv("PAYSTACK_WEBHOOK_SECRET"),
		PaystackBaseURL:       getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
		StripeSecretKey:       os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:         getEnv("STRIPE_BASE_URL", "https://api.stripe.com"),

		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:3000"),
		DefaultCurrency: getEnv("DEFAULT_CURRENCY", "NGN"),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "paystack"),

		PaymentMaxAttempts:    maxAttempts,
		PaymentAttemptTimeout: attemptTimeout,

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}

// Diagnostic reports whether raw provider error detail may be included in
// HTTP responses.
func (c *Config) Diagnostic() bool {
	return c.AppEnv != "production"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/martok-store/internal/domain/settings"
)

// Config holds the complete application configuration, loadable from
// environment variables (MARTOK_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (MARTOK_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL     string `usage:"Redis URL for order notification streams; notifications are only logged when empty" flag:"redis-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (MARTOK_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Debug        bool   `default:"false" usage:"Expose internal error messages in API responses"`
	Checkout     CheckoutConfig
	Gateway      GatewayConfig
	Chat         ChatConfig
	Notify       NotifyConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls order placement and expiry.
type CheckoutConfig struct {
	Currency            string        `default:"INR" usage:"ISO currency of all amounts"`
	CurrencySymbol      string        `default:"₹" usage:"Symbol used in order summaries" flag:"currency-symbol"`
	CommitStockOnCreate bool          `default:"false" usage:"Decrement stock when an offline order is created instead of when it is confirmed" flag:"commit-stock-on-create"`
	PendingTTL          time.Duration `default:"30m" usage:"Age after which unpaid gateway orders are failed" flag:"pending-ttl"`
	SweepInterval       time.Duration `default:"1m" usage:"How often expired gateway orders are swept" flag:"sweep-interval"`
	CouponRefresh       time.Duration `default:"5m" usage:"How often the coupon code filter is rebuilt" flag:"coupon-refresh"`
}

// GatewayConfig locates the payment gateway. Credentials seed the stored
// settings the first time they are created; afterwards the stored values win.
type GatewayConfig struct {
	BaseURL       string        `default:"https://api.razorpay.com" usage:"Payment gateway API base URL" flag:"gateway-url"`
	Timeout       time.Duration `default:"5s" usage:"Payment gateway call timeout" flag:"gateway-timeout"`
	KeyID         string        `usage:"Gateway public key id" flag:"gateway-key-id"`
	KeySecret     string        `usage:"Gateway key secret" flag:"gateway-key-secret"`
	WebhookSecret string        `usage:"Gateway webhook secret, webhooks are rejected while it is empty" flag:"gateway-webhook-secret"`
}

// ChatConfig seeds the chat hand-off number.
type ChatConfig struct {
	Number string `usage:"Merchant chat number for order hand-off" flag:"chat-number"`
}

// NotifyConfig controls the Redis notification streams.
type NotifyConfig struct {
	StreamMaxLen int64 `default:"10000" usage:"Approximate cap of each notification stream" flag:"stream-max-len"`
}

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	Rate  float64 `default:"5" usage:"Sustained requests per second per client"`
	Burst int     `default:"20" usage:"Burst size per client"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "MARTOK",
		Files:     []string{"config.yaml", "/etc/martok/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set MARTOK_DATABASE_URL or DATABASE_URL")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set MARTOK_API_KEY_PEPPER")
	case c.Checkout.PendingTTL <= 0 || c.Checkout.SweepInterval <= 0:
		return errors.New("checkout pending TTL and sweep interval must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's MARTOK_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// DefaultSettings is the document stored on first start.
func (c *Config) DefaultSettings() settings.Settings {
	st := settings.Defaults()
	st.Payment.Gateway = settings.Gateway{
		Enabled:       c.Gateway.KeyID != "" && c.Gateway.KeySecret != "",
		KeyID:         c.Gateway.KeyID,
		KeySecret:     c.Gateway.KeySecret,
		WebhookSecret: c.Gateway.WebhookSecret,
	}
	st.Payment.Chat = settings.Chat{
		Enabled: c.Chat.Number != "",
		Number:  c.Chat.Number,
	}
	return st
}

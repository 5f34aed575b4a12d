package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile        = ".env"
	defaultPort           = "8080"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultIdleTimeout    = 120 * time.Second
	defaultClientTimeout  = 10 * time.Second
	defaultPayPalBaseURL  = "https://api-m.paypal.com"
	defaultVIESBaseURL    = "https://ec.europa.eu/taxation_customs/vies/rest-api"
	defaultHomeCountry    = "DE"
	defaultShippingMinor  = 590
	defaultSuccessPath    = "/order-success"
	defaultCheckoutPath   = "/checkout"
	defaultCartTTL        = 2 * time.Hour
	defaultAffiliateRate  = 1000 // basis points
	defaultFreebieProduct = ""
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	WooCommerce WooCommerceConfig
	PSP         PSPConfig
	VAT         VATConfig
	Auth        AuthConfig
	Storefront  StorefrontConfig
	Pricing     PricingConfig
	Affiliate   AffiliateConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port string
	// PublicURL is the externally reachable base of this API, used for
	// provider redirect targets. Falls back to the storefront base URL.
	PublicURL    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WooCommerceConfig holds credentials for the external order system's REST API.
type WooCommerceConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// PSPConfig collects secrets and endpoints for the payment providers.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalSecret        string
	PayPalBaseURL       string
}

// VATConfig controls VAT validation behaviour.
type VATConfig struct {
	HomeCountry string
	VIESBaseURL string
	Timeout     time.Duration
}

// AuthConfig carries the shared secret for WordPress-issued JWTs.
type AuthConfig struct {
	JWTSecret string
}

// StorefrontConfig lists customer-facing redirect targets.
type StorefrontConfig struct {
	BaseURL          string
	OrderSuccessPath string
	CheckoutPath     string
}

// PricingConfig configures the pricing engine's static inputs.
type PricingConfig struct {
	ShippingEstimate int64
	FreebieProductID string
	FreebieProduct   string
	CartTTL          time.Duration
}

// AffiliateConfig configures the payout ledger defaults.
type AffiliateConfig struct {
	DefaultRateBps int64
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			PublicURL:    stringWithDefault(lookup, "API_SERVER_PUBLIC_URL", ""),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		WooCommerce: WooCommerceConfig{
			BaseURL:        stringWithDefault(lookup, "API_WOO_BASE_URL", ""),
			ConsumerKey:    stringWithDefault(lookup, "API_WOO_CONSUMER_KEY", ""),
			ConsumerSecret: stringWithDefault(lookup, "API_WOO_CONSUMER_SECRET", ""),
			Timeout:        durationWithDefault(lookup, "API_WOO_TIMEOUT", defaultClientTimeout),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PayPalClientID:      stringWithDefault(lookup, "API_PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:        stringWithDefault(lookup, "API_PSP_PAYPAL_SECRET", ""),
			PayPalBaseURL:       stringWithDefault(lookup, "API_PSP_PAYPAL_BASE_URL", defaultPayPalBaseURL),
		},
		VAT: VATConfig{
			HomeCountry: strings.ToUpper(stringWithDefault(lookup, "API_VAT_HOME_COUNTRY", defaultHomeCountry)),
			VIESBaseURL: stringWithDefault(lookup, "API_VAT_VIES_BASE_URL", defaultVIESBaseURL),
			Timeout:     durationWithDefault(lookup, "API_VAT_TIMEOUT", defaultClientTimeout),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
		},
		Storefront: StorefrontConfig{
			BaseURL:          stringWithDefault(lookup, "API_STOREFRONT_BASE_URL", ""),
			OrderSuccessPath: stringWithDefault(lookup, "API_STOREFRONT_SUCCESS_PATH", defaultSuccessPath),
			CheckoutPath:     stringWithDefault(lookup, "API_STOREFRONT_CHECKOUT_PATH", defaultCheckoutPath),
		},
		Pricing: PricingConfig{
			ShippingEstimate: int64WithDefault(lookup, "API_PRICING_SHIPPING_ESTIMATE", defaultShippingMinor),
			FreebieProductID: stringWithDefault(lookup, "API_PRICING_FREEBIE_PRODUCT_ID", defaultFreebieProduct),
			FreebieProduct:   stringWithDefault(lookup, "API_PRICING_FREEBIE_PRODUCT_NAME", "Functional Foot Workshop"),
			CartTTL:          durationWithDefault(lookup, "API_PRICING_CART_TTL", defaultCartTTL),
		},
		Affiliate: AffiliateConfig{
			DefaultRateBps: int64WithDefault(lookup, "API_AFFILIATE_DEFAULT_RATE_BPS", defaultAffiliateRate),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.WooCommerce.BaseURL == "" {
		missing = append(missing, "WooCommerce.BaseURL")
	}
	if cfg.WooCommerce.ConsumerKey == "" {
		missing = append(missing, "WooCommerce.ConsumerKey")
	}
	if cfg.WooCommerce.ConsumerSecret == "" {
		missing = append(missing, "WooCommerce.ConsumerSecret")
	}
	if cfg.Storefront.BaseURL == "" {
		missing = append(missing, "Storefront.BaseURL")
	}
	if cfg.Pricing.ShippingEstimate < 0 {
		missing = append(missing, "Pricing.ShippingEstimate")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

type lookupFunc func(string) (string, bool)

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup lookupFunc, key string, fallback int64) int64 {
	if value, ok := lookup(key); ok {
		if parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

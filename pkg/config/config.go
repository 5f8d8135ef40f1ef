// Package config loads connector configuration from a YAML file and API
// credentials from the environment, with an optional .env file for local
// development. Credentials never appear in the YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/marketbridge/connector/pkg/exchanges/interfaces"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionConfig tunes the connection state machine. Zero values fall
// back to the session package defaults.
type SessionConfig struct {
	AuthTimeout          Duration `yaml:"auth_timeout"`
	SubscribeAckTimeout  Duration `yaml:"subscribe_ack_timeout"`
	ReconnectDelay       Duration `yaml:"reconnect_delay"`
	BackoffInitial       Duration `yaml:"backoff_initial"`
	MaxReconnectAttempts int      `yaml:"max_reconnect_attempts"`
}

// RESTConfig tunes the signed request dispatcher.
type RESTConfig struct {
	Timeout Duration `yaml:"timeout"`
	// RateLimit is the request budget in requests per second.
	RateLimit int `yaml:"rate_limit"`
}

// ExchangeConfig selects and parameterizes one exchange connection.
type ExchangeConfig struct {
	// Name selects the adapter: "binance" or "kucoin".
	Name string `yaml:"name"`
	// Symbol is in exchange format, e.g. "BTCUSDT" or "BTC-USDT".
	Symbol          string `yaml:"symbol"`
	CanonicalSymbol string `yaml:"canonical_symbol"`
	BaseAsset       string `yaml:"base_asset"`
	QuoteAsset      string `yaml:"quote_asset"`

	// Endpoint overrides; empty means the exchange's production default.
	RESTEndpoint string `yaml:"rest_endpoint"`
	WSEndpoint   string `yaml:"ws_endpoint"`
}

// Config is the root of the YAML file.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Session  SessionConfig  `yaml:"session"`
	REST     RESTConfig     `yaml:"rest"`
	Exchange ExchangeConfig `yaml:"exchange"`
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Exchange.Name {
	case "binance", "kucoin":
	case "":
		return fmt.Errorf("exchange.name is required")
	default:
		return fmt.Errorf("unknown exchange %q", c.Exchange.Name)
	}
	if c.Exchange.Symbol == "" {
		return fmt.Errorf("exchange.symbol is required")
	}
	if c.REST.RateLimit < 0 {
		return fmt.Errorf("rest.rate_limit must not be negative")
	}
	return nil
}

// Credentials reads API credentials from the environment, keyed by
// exchange: BINANCE_API_KEY, BINANCE_API_SECRET, and for KuCoin
// additionally KUCOIN_API_PASSPHRASE. A .env file in the working
// directory is loaded first when present.
func Credentials(exchange string) (interfaces.Credentials, error) {
	// Missing .env is fine; the variables may come from the real
	// environment.
	_ = godotenv.Load()

	prefix := envPrefix(exchange)
	creds := interfaces.Credentials{
		Key:        os.Getenv(prefix + "_API_KEY"),
		Secret:     os.Getenv(prefix + "_API_SECRET"),
		Passphrase: os.Getenv(prefix + "_API_PASSPHRASE"),
	}
	if creds.Key == "" || creds.Secret == "" {
		return interfaces.Credentials{}, fmt.Errorf("missing %s_API_KEY or %s_API_SECRET in environment", prefix, prefix)
	}
	if exchange == "kucoin" && creds.Passphrase == "" {
		return interfaces.Credentials{}, fmt.Errorf("missing %s_API_PASSPHRASE in environment", prefix)
	}
	return creds, nil
}

func envPrefix(exchange string) string {
	switch exchange {
	case "binance":
		return "BINANCE"
	case "kucoin":
		return "KUCOIN"
	default:
		return "CONNECTOR"
	}
}

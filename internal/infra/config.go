package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"offramp_go/internal/domain"
	"offramp_go/internal/quote"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is sent with every outbound HTTP request.
	DefaultUserAgent = "offramp-go/1.0"

	DefaultLockWindow   = 15 * time.Minute
	DefaultRatePoll     = 30 * time.Second
	DefaultRateTTL      = 30 * time.Second
	DefaultStatusPoll   = 15 * time.Second
	DefaultExpirySpec   = "@every 30s"
	DefaultVerifyLimit  = 5
	DefaultVerifyWindow = time.Hour
)

// Config holds every setting of the service.
// LoadConfig fills it from YAML and then overrides secrets from the environment.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"server"`

	Rates struct {
		URL          string        `yaml:"url"`
		FiatCurrency string        `yaml:"fiat_currency"`
		PollInterval time.Duration `yaml:"poll_interval"`
		TTL          time.Duration `yaml:"ttl"`
		// Static rates by asset code, used when URL is empty.
		Static map[string]decimal.Decimal `yaml:"static"`
	} `yaml:"rates"`

	Quote struct {
		Fees   quote.FeeSchedule `yaml:"fees"`
		Limits quote.Limits      `yaml:"limits"`
	} `yaml:"quote"`

	Lock struct {
		Window time.Duration `yaml:"window"`
	} `yaml:"lock"`

	Storage struct {
		Driver string `yaml:"driver"` // memory, sqlite, postgres
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Broker struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"broker"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	Verification struct {
		ResolverURL string        `yaml:"resolver_url"`
		APIKey      string        `yaml:"api_key"`
		MaxAttempts int           `yaml:"max_attempts"`
		Window      time.Duration `yaml:"window"`
	} `yaml:"verification"`

	EVM struct {
		RPCURLs    map[string]string `yaml:"rpc_urls"`
		PrivateKey string            `yaml:"private_key"`
	} `yaml:"evm"`

	Settlement struct {
		// Addresses by chain name.
		Addresses map[string]string `yaml:"addresses"`
	} `yaml:"settlement"`

	Jobs struct {
		ExpirySchedule string        `yaml:"expiry_schedule"`
		StatusPoll     time.Duration `yaml:"status_poll"`
	} `yaml:"jobs"`

	Logos struct {
		Dir string `yaml:"dir"`
	} `yaml:"logos"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	// .env is optional; real environment variables still take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML and applies defaults. It does not validate.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "offramp"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Rates.FiatCurrency == "" {
		c.Rates.FiatCurrency = "NGN"
	}
	if c.Rates.PollInterval == 0 {
		c.Rates.PollInterval = DefaultRatePoll
	}
	if c.Rates.TTL == 0 {
		c.Rates.TTL = DefaultRateTTL
	}
	if c.Lock.Window == 0 {
		c.Lock.Window = DefaultLockWindow
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/offramp.db"
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "offramp.orders"
	}
	if c.Verification.MaxAttempts == 0 {
		c.Verification.MaxAttempts = DefaultVerifyLimit
	}
	if c.Verification.Window == 0 {
		c.Verification.Window = DefaultVerifyWindow
	}
	if c.Jobs.ExpirySchedule == "" {
		c.Jobs.ExpirySchedule = DefaultExpirySpec
	}
	if c.Jobs.StatusPoll == 0 {
		c.Jobs.StatusPoll = DefaultStatusPoll
	}
	if c.Logos.Dir == "" {
		c.Logos.Dir = "data/logos"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.DSN == "" {
			return &domain.ConfigError{Field: "storage.dsn", Err: errors.New("required for postgres")}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
	}

	if c.Lock.Window <= 0 {
		return &domain.ConfigError{Field: "lock.window", Err: errors.New("must be positive")}
	}
	if c.Rates.PollInterval <= 0 {
		return &domain.ConfigError{Field: "rates.poll_interval", Err: errors.New("must be positive")}
	}
	if c.Jobs.StatusPoll <= 0 {
		return &domain.ConfigError{Field: "jobs.status_poll", Err: errors.New("must be positive")}
	}
	if c.Rates.URL == "" && len(c.Rates.Static) == 0 {
		return &domain.ConfigError{Field: "rates", Err: errors.New("either url or static rates are required")}
	}

	fees := map[string]decimal.Decimal{
		"quote.fees.base_fee":    c.Quote.Fees.BaseFee,
		"quote.fees.percentage":  c.Quote.Fees.Percentage,
		"quote.fees.network_fee": c.Quote.Fees.NetworkFee,
		"quote.fees.bank_fee":    c.Quote.Fees.BankFee,
	}
	for field, v := range fees {
		if v.IsNegative() {
			return &domain.ConfigError{Field: field, Err: errors.New("must not be negative")}
		}
	}

	l := c.Quote.Limits
	if l.MaxAmount.IsPositive() && l.MinAmount.GreaterThan(l.MaxAmount) {
		return &domain.ConfigError{Field: "quote.limits", Err: errors.New("min_amount exceeds max_amount")}
	}

	for chain, addr := range c.Settlement.Addresses {
		if err := validateSettlementAddress(chain, addr); err != nil {
			return &domain.ConfigError{Field: "settlement.addresses." + chain, Err: err}
		}
	}
	return nil
}

func validateSettlementAddress(chain, addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}
	if strings.EqualFold(chain, domain.ChainStellar) {
		// Stellar account ids are 56-char base32 strings starting with G.
		if len(addr) != 56 || addr[0] != 'G' {
			return fmt.Errorf("malformed stellar address %q", addr)
		}
		return nil
	}
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("malformed evm address %q", addr)
	}
	return nil
}

// SettlementAddressFor returns the configured destination for chain.
func (c *Config) SettlementAddressFor(chain string) (string, bool) {
	for k, v := range c.Settlement.Addresses {
		if strings.EqualFold(k, chain) {
			return v, true
		}
	}
	return "", false
}

// overrideWithEnv replaces sensitive values when the variables are set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("OFFRAMP_WALLET_KEY"); key != "" {
		cfg.EVM.PrivateKey = key
	}
	if dsn := os.Getenv("OFFRAMP_DATABASE_URL"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
	if url := os.Getenv("OFFRAMP_RABBITMQ_URL"); url != "" {
		cfg.Broker.URL = url
	}
	if url := os.Getenv("OFFRAMP_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if key := os.Getenv("OFFRAMP_RESOLVER_API_KEY"); key != "" {
		cfg.Verification.APIKey = key
	}
	if url := os.Getenv("OFFRAMP_RATE_URL"); url != "" {
		cfg.Rates.URL = url
	}
}

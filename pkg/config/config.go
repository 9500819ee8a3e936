package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"SERVER_PORT"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseURL        string        `env:"DATABASE_URL"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	ApplySchemaOnStart bool          `env:"APPLY_SCHEMA_ON_START" envDefault:"true"`
	SchemaPath         string        `env:"SCHEMA_PATH" envDefault:"pkg/db/schema.sql"`

	EscrowAddress   string `env:"ESCROW_ADDRESS"`
	RegistryAddress string `env:"REGISTRY_ADDRESS"`
	SellerAuthority string `env:"SELLER_AUTHORITY_ADDRESS"`
	Inspector       string `env:"INSPECTOR_ADDRESS"`
	LoanProvider    string `env:"LOAN_PROVIDER_ADDRESS"`

	AuthSecret   string        `env:"AUTH_SECRET"`
	AuthIssuer   string        `env:"AUTH_ISSUER" envDefault:"propertyescrow"`
	AuthTokenTTL time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS"`

	EnableTLS     bool   `env:"ENABLE_TLS" envDefault:"false"`
	TLSCertPath   string `env:"TLS_CERT_PATH"`
	TLSKeyPath    string `env:"TLS_KEY_PATH"`
	TLSSelfSigned bool   `env:"TLS_SELF_SIGNED" envDefault:"true"`

	SendGridAPIKey      string `env:"SENDGRID_API_KEY"`
	SendGridSenderEmail string `env:"SENDGRID_SENDER_EMAIL"`
	SendGridSenderName  string `env:"SENDGRID_SENDER_NAME" envDefault:"Property Escrow"`

	SeedFile string `env:"SEED_FILE"`
}

// Load reads an optional .env file and then parses the environment.
func Load() (Config, bool, error) {
	dotenv := godotenv.Load() == nil

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, dotenv, fmt.Errorf("parse env: %w", err)
	}
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	return cfg, dotenv, nil
}

func (c Config) IsProduction() bool { return c.Env == "production" }

// Addresses holds the parsed escrow wiring.
type Addresses struct {
	Escrow          common.Address
	Registry        common.Address
	SellerAuthority common.Address
	Inspector       common.Address
	LoanProvider    common.Address
}

// Addresses parses and validates the configured role addresses.
func (c Config) Addresses() (Addresses, error) {
	fields := []struct {
		key   string
		value string
		dst   *common.Address
	}{
		{"ESCROW_ADDRESS", c.EscrowAddress, nil},
		{"REGISTRY_ADDRESS", c.RegistryAddress, nil},
		{"SELLER_AUTHORITY_ADDRESS", c.SellerAuthority, nil},
		{"INSPECTOR_ADDRESS", c.Inspector, nil},
		{"LOAN_PROVIDER_ADDRESS", c.LoanProvider, nil},
	}
	var out Addresses
	fields[0].dst = &out.Escrow
	fields[1].dst = &out.Registry
	fields[2].dst = &out.SellerAuthority
	fields[3].dst = &out.Inspector
	fields[4].dst = &out.LoanProvider

	var errs []error
	for _, f := range fields {
		if !common.IsHexAddress(f.value) {
			errs = append(errs, fmt.Errorf("%s must be a hex address, got %q", f.key, f.value))
			continue
		}
		*f.dst = common.HexToAddress(f.value)
	}
	if len(errs) > 0 {
		return Addresses{}, errors.Join(errs...)
	}
	if out.Escrow == out.SellerAuthority {
		return Addresses{}, errors.New("ESCROW_ADDRESS must differ from SELLER_AUTHORITY_ADDRESS")
	}
	return out, nil
}

// Validate checks settings that must hold before the server starts.
func (c Config) Validate() error {
	if _, err := c.Addresses(); err != nil {
		return err
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return errors.New("AUTH_SECRET is required")
	}
	if c.IsProduction() {
		if !c.EnableTLS {
			return errors.New("TLS must be enabled in production")
		}
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return errors.New("TLS_CERT_PATH and TLS_KEY_PATH are required in production")
		}
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required in production")
		}
	}
	return nil
}

// ListenPort returns the configured port or the default for the TLS mode.
func (c Config) ListenPort() string {
	if c.Port != "" {
		return c.Port
	}
	if c.EnableTLS {
		return "8443"
	}
	return "8080"
}

package config

import (
	"fmt"
	"time"

	"dinein_backend/internal/database"
	"dinein_backend/pkg/utils"

	"github.com/shopspring/decimal"
)

// Store drivers accepted in STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

// Card payment providers accepted in PAYMENT_PROVIDER.
const (
	PaymentProviderMock = "mock"
)

// Config is the process configuration, read once from the environment.
type Config struct {
	Port        string
	StoreDriver string

	Database database.Options

	DynamoOrdersTable   string
	AWSRegion           string
	AWSEndpointOverride string

	JWTSecret          string
	TaxRate            decimal.Decimal
	MergeOpenOrders    bool
	WSHeartbeatTimeout time.Duration
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration

	PaymentProvider string
	// PaymentWebhookSecret lets the card provider confirm payments without a
	// staff token. Empty disables webhook confirmation.
	PaymentWebhookSecret string

	LogLevel  string
	LogPretty bool
}

// Load reads the configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        utils.Getenv("PORT", "8080"),
		StoreDriver: utils.Getenv("STORE_DRIVER", StoreMemory),
		Database: database.Options{
			Host:        utils.Getenv("DB_HOST", "localhost"),
			Port:        utils.Getenv("DB_PORT", "5432"),
			User:        utils.Getenv("DB_USER", "dinein_user"),
			Password:    utils.Getenv("DB_PASSWORD", "dinein_password"),
			Name:        utils.Getenv("DB_NAME", "dinein_db"),
			SSLMode:     utils.Getenv("DB_SSLMODE", "disable"),
			ApplySchema: utils.GetenvBool("DB_APPLY_SCHEMA", true),
		},
		DynamoOrdersTable:    utils.Getenv("DYNAMODB_ORDERS_TABLE", "orders"),
		AWSRegion:            utils.Getenv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride:  utils.Getenv("AWS_ENDPOINT_OVERRIDE", ""),
		JWTSecret:            utils.Getenv("JWT_SECRET", ""),
		PaymentProvider:      utils.Getenv("PAYMENT_PROVIDER", ""),
		PaymentWebhookSecret: utils.Getenv("PAYMENT_WEBHOOK_SECRET", ""),
		TaxRate:              decimal.NewFromFloat(utils.GetenvFloat("TAX_RATE", 0)),
		MergeOpenOrders:      utils.GetenvBool("MERGE_OPEN_ORDERS", true),
		WSHeartbeatTimeout:   utils.GetenvDuration("WS_HEARTBEAT_TIMEOUT", 60*time.Second),
		CORSAllowedOrigins:   utils.GetenvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:3001"}),
		ShutdownTimeout:      utils.GetenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		LogLevel:             utils.Getenv("LOG_LEVEL", "info"),
		LogPretty:            utils.GetenvBool("LOG_PRETTY", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StorePostgres, StoreDynamoDB:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want memory, postgres or dynamodb)", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	switch c.PaymentProvider {
	case PaymentProviderMock:
	case "":
		return fmt.Errorf("PAYMENT_PROVIDER must be set (supported: mock)")
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q (supported: mock)", c.PaymentProvider)
	}
	if c.TaxRate.IsNegative() || c.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("TAX_RATE must be in [0, 1), got %s", c.TaxRate)
	}
	if c.StoreDriver == StoreDynamoDB && c.DynamoOrdersTable == "" {
		return fmt.Errorf("DYNAMODB_ORDERS_TABLE must be set for the dynamodb store")
	}
	return nil
}

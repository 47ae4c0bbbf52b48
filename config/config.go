package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultServerAddress    = ":8080"
	defaultDatabaseDSN      = ""
	defaultGatewayAddr      = "http://localhost:8181"
	defaultLogLevel         = "debug"
	defaultFiatCurrency     = "EUR"
	defaultKafkaTopic       = "cryptomart.events"
	defaultOrderTTL         = time.Hour
	defaultRetryTTL         = 30 * time.Minute
	defaultGracePeriod      = 5 * time.Minute
	defaultSweepInterval    = time.Minute
	defaultPenaltyPercent   = 10
	defaultStrikeLimit      = 3
	defaultUnbanThreshold   = "10.00"
	defaultExactTolerance   = "0.00000100"
	defaultOverpayTolerance = "0.00010000"
)

type Config struct {
	ServerAddr    string
	DatabaseDSN   string
	GatewayAddr   string
	GatewaySecret string
	AuthTokenKey  string
	KafkaBrokers  string
	KafkaTopic    string
	LogLevel      string
	FiatCurrency  string

	// Order lifecycle knobs.
	OrderTTL      time.Duration
	RetryTTL      time.Duration
	GracePeriod   time.Duration
	SweepInterval time.Duration

	// Penalty and ban policy.
	PenaltyPercent int
	StrikeLimit    int
	UnbanThreshold decimal.Decimal

	// Payment classification tolerances, in crypto units.
	ExactTolerance   decimal.Decimal
	OverpayTolerance decimal.Decimal
}

var (
	once      sync.Once
	singleton *Config
	parseErr  error
)

// New returns new Config. It parses command line and environment variables only once.
func New() (*Config, error) {
	once.Do(func() {
		cfg := Config{}

		var unbanThreshold, exactTolerance, overpayTolerance string

		// initialize flags
		flag.StringVar(&cfg.ServerAddr, "a", defaultServerAddress, "server address")
		flag.StringVar(&cfg.DatabaseDSN, "d", defaultDatabaseDSN, "database DSN")
		flag.StringVar(&cfg.GatewayAddr, "g", defaultGatewayAddr, "payment gateway address")
		flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
		flag.StringVar(&cfg.GatewaySecret, "gateway-secret", "", "payment gateway webhook secret")
		flag.StringVar(&cfg.AuthTokenKey, "token-key", "", "hex key for auth tokens")
		flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", "", "comma-separated kafka brokers for notification intents")
		flag.StringVar(&cfg.KafkaTopic, "kafka-topic", defaultKafkaTopic, "kafka topic for notification intents")
		flag.StringVar(&cfg.FiatCurrency, "fiat-currency", defaultFiatCurrency, "storefront fiat currency")
		flag.DurationVar(&cfg.OrderTTL, "order-ttl", defaultOrderTTL, "time before an unpaid order expires")
		flag.DurationVar(&cfg.RetryTTL, "retry-ttl", defaultRetryTTL, "expiry extension granted on a first underpayment")
		flag.DurationVar(&cfg.GracePeriod, "grace-period", defaultGracePeriod, "window after creation with penalty-free cancellation")
		flag.DurationVar(&cfg.SweepInterval, "sweep-interval", defaultSweepInterval, "period of the expired-order sweeper")
		flag.IntVar(&cfg.PenaltyPercent, "penalty-percent", defaultPenaltyPercent, "percent withheld from refunds outside the grace period")
		flag.IntVar(&cfg.StrikeLimit, "strike-limit", defaultStrikeLimit, "strikes that trigger a ban")
		flag.StringVar(&unbanThreshold, "unban-threshold", defaultUnbanThreshold, "top-up balance that lifts a ban")
		flag.StringVar(&exactTolerance, "exact-tolerance", defaultExactTolerance, "crypto tolerance treated as exact payment")
		flag.StringVar(&overpayTolerance, "overpay-tolerance", defaultOverpayTolerance, "crypto surplus kept without wallet credit")

		flag.Parse()

		// if environment variable is set, then using it
		if runAddrEnv := os.Getenv("RUN_ADDRESS"); runAddrEnv != "" {
			cfg.ServerAddr = runAddrEnv
		}
		if databaseURIEnv := os.Getenv("DATABASE_URI"); databaseURIEnv != "" {
			cfg.DatabaseDSN = databaseURIEnv
		}
		if gatewayAddrEnv := os.Getenv("GATEWAY_ADDRESS"); gatewayAddrEnv != "" {
			cfg.GatewayAddr = gatewayAddrEnv
		}
		if gatewaySecretEnv := os.Getenv("GATEWAY_SECRET"); gatewaySecretEnv != "" {
			cfg.GatewaySecret = gatewaySecretEnv
		}
		if tokenKeyEnv := os.Getenv("AUTH_TOKEN_KEY"); tokenKeyEnv != "" {
			cfg.AuthTokenKey = tokenKeyEnv
		}
		if kafkaBrokersEnv := os.Getenv("KAFKA_BROKERS"); kafkaBrokersEnv != "" {
			cfg.KafkaBrokers = kafkaBrokersEnv
		}
		if kafkaTopicEnv := os.Getenv("KAFKA_TOPIC"); kafkaTopicEnv != "" {
			cfg.KafkaTopic = kafkaTopicEnv
		}
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			cfg.LogLevel = logLevelEnv
		}
		if fiatCurrencyEnv := os.Getenv("FIAT_CURRENCY"); fiatCurrencyEnv != "" {
			cfg.FiatCurrency = fiatCurrencyEnv
		}
		if v := os.Getenv("ORDER_TTL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.OrderTTL = d
			}
		}
		if v := os.Getenv("RETRY_TTL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.RetryTTL = d
			}
		}
		if v := os.Getenv("GRACE_PERIOD"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.GracePeriod = d
			}
		}
		if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.SweepInterval = d
			}
		}
		if v := os.Getenv("PENALTY_PERCENT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.PenaltyPercent = n
			}
		}
		if v := os.Getenv("STRIKE_LIMIT"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.StrikeLimit = n
			}
		}
		if v := os.Getenv("UNBAN_THRESHOLD"); v != "" {
			unbanThreshold = v
		}
		if v := os.Getenv("EXACT_TOLERANCE"); v != "" {
			exactTolerance = v
		}
		if v := os.Getenv("OVERPAY_TOLERANCE"); v != "" {
			overpayTolerance = v
		}

		if cfg.UnbanThreshold, parseErr = decimal.NewFromString(unbanThreshold); parseErr != nil {
			parseErr = fmt.Errorf("parsing unban threshold: %w", parseErr)
			return
		}
		if cfg.ExactTolerance, parseErr = decimal.NewFromString(exactTolerance); parseErr != nil {
			parseErr = fmt.Errorf("parsing exact tolerance: %w", parseErr)
			return
		}
		if cfg.OverpayTolerance, parseErr = decimal.NewFromString(overpayTolerance); parseErr != nil {
			parseErr = fmt.Errorf("parsing overpay tolerance: %w", parseErr)
			return
		}

		singleton = &cfg
	})

	return singleton, parseErr
}

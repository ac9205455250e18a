package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"cardvault/pkg/domain"
)

// Config captures process-level configuration for the ledger service.
type Config struct {
	Addr          string
	AdminToken    string
	JWTSigningKey string

	// Issuer is the only address permitted to mint records and manage the
	// registry's authorized-caller set.
	Issuer domain.Address

	// Exchange settings. FeeRateBps is bounded at 1000 (10%) by the service.
	FeeRateBps   uint64
	FeeRecipient domain.Address

	// Minimum fee (currency atomic units) an owner must attach to a
	// certification request. Excess is returned.
	MinGradingFee uint64

	// QueueIdentity is the address the admission queue presents to the
	// registry when finalizing grades. It must be on the registry's
	// authorized-caller list; main registers it at startup.
	QueueIdentity domain.Address

	// QueueVault holds collected grading fees until withdrawal.
	QueueVault domain.Address

	// ExchangeVault is the exchange's escrow address. Drain recovers
	// anything stranded there.
	ExchangeVault domain.Address

	// Empty DSN selects the in-memory stores.
	PostgresDSN string

	// Empty URL disables the record read cache.
	RedisURL       string
	RecordCacheTTL time.Duration

	// Empty broker list disables the Kafka event sink.
	KafkaBrokers []string
	KafkaTopic   string
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:           envOr("CARDVAULT_ADDR", ":8080"),
		AdminToken:     envOr("CARDVAULT_ADMIN_TOKEN", "dev-admin-token"),
		JWTSigningKey:  envOr("CARDVAULT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Issuer:         domain.Address(envOr("CARDVAULT_ISSUER", "0x00000000000000000000000000000000000000a1")),
		FeeRateBps:     envUint("CARDVAULT_FEE_RATE_BPS", 250),
		FeeRecipient:   domain.Address(envOr("CARDVAULT_FEE_RECIPIENT", "0x00000000000000000000000000000000000000fe")),
		MinGradingFee:  envUint("CARDVAULT_MIN_GRADING_FEE", 5),
		QueueIdentity:  domain.Address(envOr("CARDVAULT_QUEUE_IDENTITY", "0x00000000000000000000000000000000000000b1")),
		QueueVault:     domain.Address(envOr("CARDVAULT_QUEUE_VAULT", "0x00000000000000000000000000000000000000b2")),
		ExchangeVault:  domain.Address(envOr("CARDVAULT_EXCHANGE_VAULT", "0x00000000000000000000000000000000000000e1")),
		PostgresDSN:    os.Getenv("CARDVAULT_POSTGRES_DSN"),
		RedisURL:       os.Getenv("CARDVAULT_REDIS_URL"),
		RecordCacheTTL: 5 * time.Minute,
		KafkaTopic:     envOr("CARDVAULT_KAFKA_TOPIC", "cardvault.events"),
	}
	if brokers := os.Getenv("CARDVAULT_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if ttl := os.Getenv("CARDVAULT_RECORD_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.RecordCacheTTL = d
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envUint(key string, fallback uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

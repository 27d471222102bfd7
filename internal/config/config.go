package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
)

// Config is everything the binaries read from the environment.
type Config struct {
	AdminID        string
	StoreAccountID string

	LedgerRequestQueueURL string
	LedgerReplyQueueURL   string
	ReconcileQueueURL     string
	EventsQueueURL        string

	ItemsTable    string
	PendingTable  string
	OwnersTable   string
	CountersTable string
	AttemptsTable string

	TransferTimeout  time.Duration
	Storage          string
	RunLocal         bool
	Addr             string
	MetricsNamespace string
	Region           string
}

// Load reads the environment. A .env file in the working directory is
// applied first when present; real environment variables win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] skipping .env: %v", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AdminID:               os.Getenv("ADMIN_ID"),
		StoreAccountID:        os.Getenv("STORE_ACCOUNT_ID"),
		LedgerRequestQueueURL: os.Getenv("LEDGER_REQUEST_QUEUE_URL"),
		LedgerReplyQueueURL:   os.Getenv("LEDGER_REPLY_QUEUE_URL"),
		ReconcileQueueURL:     os.Getenv("RECONCILE_QUEUE_URL"),
		EventsQueueURL:        os.Getenv("EVENTS_QUEUE_URL"),
		ItemsTable:            getenv("ITEMS_TABLE", "items"),
		PendingTable:          getenv("PENDING_TABLE", "pending_purchases"),
		OwnersTable:           getenv("OWNERS_TABLE", "owners"),
		CountersTable:         getenv("COUNTERS_TABLE", "counters"),
		AttemptsTable:         getenv("ATTEMPTS_TABLE", "purchase_attempts"),
		Storage:               getenv("STORAGE", StorageDynamoDB),
		Addr:                  getenv("ADDR", ":8080"),
		MetricsNamespace:      getenv("METRICS_NAMESPACE", "AttributeStore"),
		Region:                getenv("AWS_REGION", "us-east-1"),
	}

	if cfg.AdminID == "" {
		return Config{}, errors.New("ADMIN_ID is required")
	}
	if cfg.StoreAccountID == "" {
		return Config{}, errors.New("STORE_ACCOUNT_ID is required")
	}
	if cfg.Storage != StorageDynamoDB && cfg.Storage != StorageMemory {
		return Config{}, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageDynamoDB, StorageMemory, cfg.Storage)
	}

	timeout, err := time.ParseDuration(getenv("TRANSFER_TIMEOUT", "30s"))
	if err != nil || timeout <= 0 {
		return Config{}, fmt.Errorf("invalid TRANSFER_TIMEOUT %q", os.Getenv("TRANSFER_TIMEOUT"))
	}
	cfg.TransferTimeout = timeout

	if v := os.Getenv("RUN_LOCAL"); v != "" {
		cfg.RunLocal, err = strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RUN_LOCAL %q: %w", v, err)
		}
	}
	return cfg, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/loanledger/internal/domain"
)

const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
	DriverMemory   = "memory"
)

type Config struct {
	DBSource   string
	Driver     string
	Port       string
	Env        string
	LogLevel   string
	DBMaxConns int32
	DBMinConns int32

	LockTimeout time.Duration
	Policy      domain.Policy

	SweepInterval  time.Duration
	SweepBatchSize int
}

func Load() (*Config, error) {
	driver := getEnv("STORE_DRIVER", DriverPgx)
	switch driver {
	case DriverPgx, DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q is not one of pgx, postgres, sqlite3, memory", driver)
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" && driver != DriverMemory {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource: dbSource,
		Driver:   driver,
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DBMaxConns, err = getEnvInt32("DB_MAX_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.DBMinConns, err = getEnvInt32("DB_MIN_CONNS", 2); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = getEnvDuration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = getEnvInt("SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, err
	}

	if cfg.Policy.DefaultLoanDays, err = getEnvInt("DEFAULT_LOAN_DAYS", domain.DefaultLoanDays); err != nil {
		return nil, err
	}
	if cfg.Policy.MaxOpenLoansPerMember, err = getEnvInt("MAX_OPEN_LOANS_PER_MEMBER", domain.DefaultMaxOpenLoans); err != nil {
		return nil, err
	}
	if cfg.Policy.SerializeMemberBorrows, err = getEnvBool("SERIALIZE_MEMBER_BORROWS", false); err != nil {
		return nil, err
	}

	if cfg.Policy.DefaultLoanDays < 1 {
		return nil, fmt.Errorf("DEFAULT_LOAN_DAYS must be at least 1")
	}
	if cfg.Policy.MaxOpenLoansPerMember < 0 {
		return nil, fmt.Errorf("MAX_OPEN_LOANS_PER_MEMBER must not be negative")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL must be positive")
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getEnvInt32(key string, fallback int32) (int32, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return int32(n), nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

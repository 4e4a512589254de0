package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "PRICEGRAPH_"

// LoadDotEnv loads .env files if present. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// EnvString returns the trimmed value of key when set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvDuration parses key as a time.Duration.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvBool parses key as a boolean.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// ApplyEnv overlays PRICEGRAPH_* variables onto c.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"CATALOG_URL":    &c.CatalogURL,
		"USER_AGENT":     &c.UserAgent,
		"STORE_DRIVER":   &c.StoreDriver,
		"STORE_DSN":      &c.StoreDSN,
		"REDIS_ADDR":     &c.RedisAddr,
		"REDIS_PASSWORD": &c.RedisPassword,
		"QUEUE_PREFIX":   &c.QueuePrefix,
		"CONSUMER_ID":    &c.ConsumerID,
		"PUBLIC_URL":     &c.PublicURL,
		"SWEEP_SCHEDULE": &c.SweepSchedule,
		"LISTEN_ADDR":    &c.ListenAddr,
		"OUTPUT":         &c.OutputFile,
		"FORMAT":         &c.OutputFormat,
	}
	for key, dst := range strs {
		if value, ok := EnvString(EnvPrefix + key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"PARALLEL":     &c.Parallelism,
		"MAX_RETRIES":  &c.MaxRetries,
		"REDIS_DB":     &c.RedisDB,
		"WORKERS":      &c.WorkerCount,
		"CACHE_SIZE":   &c.CacheSize,
		"SERIES_DAYS":  &c.SeriesDays,
		"EXPORT_BATCH": &c.ExportPageSize,
	}
	for key, dst := range ints {
		value, ok, err := EnvInt(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":           &c.Timeout,
		"RETRY_BACKOFF":     &c.RetryBackoff,
		"RETRY_BACKOFF_MAX": &c.RetryBackoffMax,
		"CACHE_TTL":         &c.CacheTTL,
		"WORKER_POLL":       &c.WorkerPoll,
	}
	for key, dst := range durations {
		value, ok, err := EnvDuration(EnvPrefix + key)
		if err != nil {
			return err
		}
		if ok {
			*dst = value
		}
	}

	verbose, ok, err := EnvBool(EnvPrefix + "VERBOSE")
	if err != nil {
		return err
	}
	if ok {
		c.Verbose = verbose
	}
	return nil
}

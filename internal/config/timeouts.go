package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timing values.
// These values can be customized via environment variables.
type Timeouts struct {
	BackupDrainTimeout  time.Duration // Max total wait for in-flight backup jobs to finish
	BackupPollInterval  time.Duration // Poll interval while draining backup jobs
	DisassociateTimeout time.Duration // Per-call bound for recovery-point disassociation
	SettleDelay         time.Duration // Wait between the leaf pass and its retry
	DestroyTimeout      time.Duration // Bound for the bulk infrastructure-destroy call
	RetryMaxAttempts    int           // Maximum attempts per target in a stage
	RetryInitialDelay   time.Duration // Initial backoff delay between attempts
}

// LoadTimeouts loads timing configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - TEARDOWN_BACKUP_DRAIN_TIMEOUT (default: 20m)
//   - TEARDOWN_BACKUP_POLL_INTERVAL (default: 15s)
//   - TEARDOWN_DISASSOCIATE_TIMEOUT (default: 30s)
//   - TEARDOWN_SETTLE_DELAY (default: 10s)
//   - TEARDOWN_DESTROY_TIMEOUT (default: 45m)
//   - TEARDOWN_RETRY_MAX_ATTEMPTS (default: 5)
//   - TEARDOWN_RETRY_INITIAL_DELAY (default: 2s)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		BackupDrainTimeout:  parseDuration("TEARDOWN_BACKUP_DRAIN_TIMEOUT", 20*time.Minute),
		BackupPollInterval:  parseDuration("TEARDOWN_BACKUP_POLL_INTERVAL", 15*time.Second),
		DisassociateTimeout: parseDuration("TEARDOWN_DISASSOCIATE_TIMEOUT", 30*time.Second),
		SettleDelay:         parseDuration("TEARDOWN_SETTLE_DELAY", 10*time.Second),
		DestroyTimeout:      parseDuration("TEARDOWN_DESTROY_TIMEOUT", 45*time.Minute),
		RetryMaxAttempts:    parseInt("TEARDOWN_RETRY_MAX_ATTEMPTS", 5),
		RetryInitialDelay:   parseDuration("TEARDOWN_RETRY_INITIAL_DELAY", 2*time.Second),
	}
}

// parseDuration parses a duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
// Bare numbers are accepted as seconds for compatibility with the legacy
// shell tooling. Every knob here is a wait or a bound, so non-positive
// values are invalid and fall back to the default.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	if secs, err := strconv.Atoi(val); err == nil {
		if secs < 1 {
			return defaultVal
		}
		return time.Duration(secs) * time.Second
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// parseInt parses an integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		return defaultVal
	}
	return n
}

// Package config holds the runtime configuration of the teardown CLI.
//
// Everything is environment-variable driven with flag overrides; there is no
// config file. Invalid values fall back to defaults rather than failing the
// run, because a teardown should not be blocked by a typo in a tuning knob.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the resolved configuration for one teardown run.
type Config struct {
	// Region is the AWS region acted on. Resolved from the --region flag,
	// then AWS_REGION, then AWS_DEFAULT_REGION, then the Terraform state.
	Region string

	// ClusterName is the target identifier. Every stage derives its working
	// set by matching resource names against it.
	ClusterName string

	// StateDir is the directory holding the Terraform state and root module.
	StateDir string

	// PreserveBackups keeps recovery points, vaults and manual snapshots.
	PreserveBackups bool

	// Force skips the interactive confirmation.
	Force bool

	// DryRun enumerates without mutating.
	DryRun bool

	Timeouts *Timeouts
}

// FromEnv builds a Config from the process environment. Flag values are
// applied by the caller afterwards and win over the environment.
func FromEnv() *Config {
	return &Config{
		Region:          firstEnv("AWS_REGION", "AWS_DEFAULT_REGION"),
		PreserveBackups: parseBool("TEARDOWN_PRESERVE_BACKUPS", false),
		StateDir:        envOr("TEARDOWN_STATE_DIR", "."),
		Timeouts:        LoadTimeouts(),
	}
}

// Validate checks that the config names a target.
func (c *Config) Validate() error {
	if c.ClusterName == "" {
		return fmt.Errorf("no target cluster name: pass --cluster or provide a Terraform state with a cluster_name output")
	}
	if c.Region == "" {
		return fmt.Errorf("no AWS region: pass --region or set AWS_REGION")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBool(envVar string, defaultVal bool) bool {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

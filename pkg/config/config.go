// Copyright 2025 Certen Protocol
//
// Configuration loaded from environment variables.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the evidence ledger service.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Mining
	Difficulty uint32
	MinerID    string

	// Database (backup store, recovery)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// Storage
	DataDir   string
	BackupDir string
	UseBbolt  bool // hot-storage index backed by bbolt instead of in-memory only

	// Consent
	ConsentSignerID  string
	ConsentAutoApprove bool // dangerous; only for local/dev use

	// Policy
	UncorroboratedPersonFloor float64

	LogLevel string
}

// Load reads configuration from environment variables, applying the same
// safe-default-where-possible, required-where-security-sensitive approach
// used throughout the rest of this service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),

		Difficulty: uint32(getEnvInt("MINING_DIFFICULTY", 2)),
		MinerID:    getEnv("MINER_ID", "ledger-node-1"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		DataDir:   getEnv("DATA_DIR", "./data"),
		BackupDir: getEnv("BACKUP_DIR", "./data/backups"),
		UseBbolt:  getEnvBool("USE_BBOLT_INDEX", false),

		ConsentSignerID:    getEnv("CONSENT_SIGNER_ID", "ledger-consent-authority"),
		ConsentAutoApprove: getEnvBool("CONSENT_AUTO_APPROVE", false),

		UncorroboratedPersonFloor: getEnvFloat("UNCORROBORATED_PERSON_FLOOR", 0.30),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that configuration required for a production deployment
// is present and not obviously unsafe.
func (c *Config) Validate() error {
	var errors []string

	if c.ConsentAutoApprove {
		errors = append(errors, "CONSENT_AUTO_APPROVE must not be set in production: every commit would bypass the consent gate")
	}
	if c.UseBbolt && c.DataDir == "" {
		errors = append(errors, "DATA_DIR is required when USE_BBOLT_INDEX is enabled")
	}
	if c.Difficulty == 0 {
		errors = append(errors, "MINING_DIFFICULTY must be >= 1")
	}
	if c.UncorroboratedPersonFloor < 0 || c.UncorroboratedPersonFloor > 1 {
		errors = append(errors, "UNCORROBORATED_PERSON_FLOOR must be in [0,1]")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

// overlay is the optional YAML file shape used to override Load's
// environment-derived defaults, for deployments that prefer a checked-in
// config file over a pile of env vars. Every field is a pointer so an
// absent key in the file leaves the environment-derived value untouched.
type overlay struct {
	ListenAddr  *string  `yaml:"listen_addr"`
	MetricsAddr *string  `yaml:"metrics_addr"`
	Difficulty  *uint32  `yaml:"difficulty"`
	MinerID     *string  `yaml:"miner_id"`
	DataDir     *string  `yaml:"data_dir"`
	BackupDir   *string  `yaml:"backup_dir"`
	UseBbolt    *bool    `yaml:"use_bbolt_index"`
	ConsentSignerID *string `yaml:"consent_signer_id"`
	UncorroboratedPersonFloor *float64 `yaml:"uncorroborated_person_floor"`
	LogLevel    *string  `yaml:"log_level"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// LoadWithOverlay calls Load, then applies a YAML file at path over the
// result: any key present in the file wins over the environment-derived
// default. ${VAR_NAME} references in the file are expanded against the
// process environment before parsing, the same way the rest of this service
// expands template values.
func LoadWithOverlay(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read overlay %s: %w", path, err)
	}

	var ov overlay
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &ov); err != nil {
		return nil, fmt.Errorf("config: parse overlay %s: %w", path, err)
	}

	if ov.ListenAddr != nil {
		cfg.ListenAddr = *ov.ListenAddr
	}
	if ov.MetricsAddr != nil {
		cfg.MetricsAddr = *ov.MetricsAddr
	}
	if ov.Difficulty != nil {
		cfg.Difficulty = *ov.Difficulty
	}
	if ov.MinerID != nil {
		cfg.MinerID = *ov.MinerID
	}
	if ov.DataDir != nil {
		cfg.DataDir = *ov.DataDir
	}
	if ov.BackupDir != nil {
		cfg.BackupDir = *ov.BackupDir
	}
	if ov.UseBbolt != nil {
		cfg.UseBbolt = *ov.UseBbolt
	}
	if ov.ConsentSignerID != nil {
		cfg.ConsentSignerID = *ov.ConsentSignerID
	}
	if ov.UncorroboratedPersonFloor != nil {
		cfg.UncorroboratedPersonFloor = *ov.UncorroboratedPersonFloor
	}
	if ov.LogLevel != nil {
		cfg.LogLevel = *ov.LogLevel
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

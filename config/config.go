// Package config loads runtime settings from defaults, an optional YAML
// file, .env and the environment, and command-line flags, in that order.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory   = "memory"
	BackendJSON     = "json"
	BackendPebble   = "pebble"
	BackendPostgres = "postgres"

	// ConfigEnv names the YAML config file when -config is not given.
	ConfigEnv = "LEDGER_CONFIG"

	maxDifficulty = 64 // hex digits in a SHA-256 hash
)

type Config struct {
	StorageDir      string        `yaml:"storage_dir"`
	Backend         string        `yaml:"backend"`
	DatabaseURL     string        `yaml:"database_url"`
	Port            int           `yaml:"port"`
	Difficulty      int           `yaml:"difficulty"`
	MiningReward    int64         `yaml:"mining_reward"`
	BatchSize       int           `yaml:"batch_size"` // 1 seals every vote
	QueueSize       int           `yaml:"queue_size"`
	CatalogFile     string        `yaml:"catalog_file"`
	WalletFile      string        `yaml:"wallet_file"`
	RegistryFile    string        `yaml:"registry_file"`
	AuditInterval   time.Duration `yaml:"audit_interval"` // 0 disables the auditor
	KeepSnapshots   int           `yaml:"keep_snapshots"`
	RequireVerified bool          `yaml:"require_verified"`
	Debug           bool          `yaml:"debug"`
}

func Default() Config {
	return Config{
		StorageDir:    "data",
		Backend:       BackendJSON,
		Port:          8080,
		Difficulty:    2,
		MiningReward:  100,
		BatchSize:     1,
		QueueSize:     100,
		WalletFile:    "data/miner_wallet.json",
		RegistryFile:  "data/voters.json",
		AuditInterval: 5 * time.Minute,
		KeepSnapshots: 5,
	}
}

// Load builds the configuration for a process started with args
// (without the program name).
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("voting-ledger", flag.ContinueOnError)

	var fv Config
	d := Default()
	configPath := fs.String("config", "", "YAML config file (overrides $"+ConfigEnv+")")
	fs.StringVar(&fv.StorageDir, "storage", d.StorageDir, "Directory for chain storage")
	fs.StringVar(&fv.Backend, "backend", d.Backend, "Block store: memory, json, pebble or postgres")
	fs.StringVar(&fv.DatabaseURL, "database-url", "", "PostgreSQL URL for the postgres backend")
	fs.IntVar(&fv.Port, "port", d.Port, "Server port")
	fs.IntVar(&fv.Difficulty, "difficulty", d.Difficulty, "Mining difficulty (0-64)")
	fs.Int64Var(&fv.MiningReward, "reward", d.MiningReward, "Mining reward per block")
	fs.IntVar(&fv.BatchSize, "batch", d.BatchSize, "Votes per sealed block")
	fs.IntVar(&fv.QueueSize, "queue", d.QueueSize, "Vote queue capacity")
	fs.StringVar(&fv.CatalogFile, "catalog", "", "Election catalog file (YAML or JSON)")
	fs.StringVar(&fv.WalletFile, "wallet", d.WalletFile, "Miner wallet file")
	fs.StringVar(&fv.RegistryFile, "registry", d.RegistryFile, "Voter registry file")
	fs.DurationVar(&fv.AuditInterval, "audit", d.AuditInterval, "Chain audit interval (0 disables)")
	fs.IntVar(&fv.KeepSnapshots, "keep-snapshots", d.KeepSnapshots, "Audit snapshots to keep")
	fs.BoolVar(&fv.RequireVerified, "require-verified", false, "Only verified voters may cast votes")
	fs.BoolVar(&fv.Debug, "debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// .env never overrides variables already set in the environment.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := d
	path := *configPath
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		cfg.applyFlag(f.Name, fv)
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyFlag(name string, fv Config) {
	switch name {
	case "storage":
		c.StorageDir = fv.StorageDir
	case "backend":
		c.Backend = fv.Backend
	case "database-url":
		c.DatabaseURL = fv.DatabaseURL
	case "port":
		c.Port = fv.Port
	case "difficulty":
		c.Difficulty = fv.Difficulty
	case "reward":
		c.MiningReward = fv.MiningReward
	case "batch":
		c.BatchSize = fv.BatchSize
	case "queue":
		c.QueueSize = fv.QueueSize
	case "catalog":
		c.CatalogFile = fv.CatalogFile
	case "wallet":
		c.WalletFile = fv.WalletFile
	case "registry":
		c.RegistryFile = fv.RegistryFile
	case "audit":
		c.AuditInterval = fv.AuditInterval
	case "keep-snapshots":
		c.KeepSnapshots = fv.KeepSnapshots
	case "require-verified":
		c.RequireVerified = fv.RequireVerified
	case "debug":
		c.Debug = fv.Debug
	}
}

func (c *Config) applyEnv() error {
	c.StorageDir = getenv("LEDGER_STORAGE_DIR", c.StorageDir)
	c.Backend = getenv("LEDGER_BACKEND", c.Backend)
	c.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL", c.DatabaseURL))
	c.CatalogFile = getenv("LEDGER_CATALOG_FILE", c.CatalogFile)
	c.WalletFile = getenv("LEDGER_WALLET_FILE", c.WalletFile)
	c.RegistryFile = getenv("LEDGER_REGISTRY_FILE", c.RegistryFile)
	c.RequireVerified = getenvBool("LEDGER_REQUIRE_VERIFIED", c.RequireVerified)
	c.Debug = getenvBool("DEBUG", c.Debug)

	var errs []error
	c.Port, errs = getenvInt("PORT", c.Port, errs)
	c.Difficulty, errs = getenvInt("LEDGER_DIFFICULTY", c.Difficulty, errs)
	c.BatchSize, errs = getenvInt("LEDGER_BATCH_SIZE", c.BatchSize, errs)
	c.QueueSize, errs = getenvInt("LEDGER_QUEUE_SIZE", c.QueueSize, errs)
	c.KeepSnapshots, errs = getenvInt("LEDGER_KEEP_SNAPSHOTS", c.KeepSnapshots, errs)

	if v := os.Getenv("LEDGER_MINING_REWARD"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("LEDGER_MINING_REWARD: %w", err))
		} else {
			c.MiningReward = n
		}
	}
	if v := os.Getenv("LEDGER_AUDIT_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LEDGER_AUDIT_INTERVAL: %w", err))
		} else {
			c.AuditInterval = d
		}
	}

	return errors.Join(errs...)
}

// Validate checks ranges and backend requirements.
func (c Config) Validate() error {
	var errs []error
	if c.Difficulty < 0 || c.Difficulty > maxDifficulty {
		errs = append(errs, fmt.Errorf("difficulty must be between 0 and %d, got %d", maxDifficulty, c.Difficulty))
	}
	if c.MiningReward < 0 {
		errs = append(errs, fmt.Errorf("mining reward must not be negative, got %d", c.MiningReward))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}
	if c.AuditInterval < 0 {
		errs = append(errs, fmt.Errorf("audit interval must not be negative"))
	}
	if c.KeepSnapshots < 1 {
		errs = append(errs, fmt.Errorf("keep snapshots must be at least 1, got %d", c.KeepSnapshots))
	}

	switch c.Backend {
	case BackendMemory, BackendJSON, BackendPebble:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("backend %s requires DATABASE_URL", BackendPostgres))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	return errors.Join(errs...)
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt(key string, def int, errs []error) (int, []error) {
	v := os.Getenv(key)
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s: %w", key, err))
	}
	return n, errs
}

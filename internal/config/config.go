package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "REWARD"

// Snapshot store backends.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreNone     = "none"
)

// PoolConfig declares a pool, the vault (share token) that owns it, and its
// emission rate in whole reward tokens per second.
type PoolConfig struct {
	ID       string `mapstructure:"id"`
	Vault    string `mapstructure:"vault"`
	Decimals uint8  `mapstructure:"decimals"`
	Rate     string `mapstructure:"rate"`
}

// StoreConfig selects where the ledger snapshot and events are kept.
type StoreConfig struct {
	Kind       string
	Path       string
	PGDSN      string
	LedgerName string
	Events     string
}

// SyncConfig holds configuration for the sync command.
type SyncConfig struct {
	RPCURL            string
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Admins            []string
	Pools             []PoolConfig
	Store             StoreConfig
	Listen            string
	CORSOrigins       []string
	LogLevel          string
}

// SimulateConfig holds configuration for the simulate command.
type SimulateConfig struct {
	Scenario string
	Out      string
	Store    StoreConfig
	LogLevel string
}

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	RPCURL      string
	Listen      string
	CORSOrigins []string
	Reload      time.Duration
	Admins      []string
	Pools       []PoolConfig
	Store       StoreConfig
	LogLevel    string
}

// LoadSync merges config file, environment variables, and flags into SyncConfig.
func LoadSync(cfgFile string, flags *pflag.FlagSet) (SyncConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"batch-size":         uint64(2000),
		"checkpoint":         "./data/checkpoint.json",
		"checkpoint-enabled": true,
		"max-retries":        5,
		"retry-backoff":      500 * time.Millisecond,
	})
	if err != nil {
		return SyncConfig{}, err
	}
	pools, err := getPools(v)
	if err != nil {
		return SyncConfig{}, err
	}

	cfg := SyncConfig{
		RPCURL:            v.GetString("rpc"),
		FromBlock:         v.GetUint64("from"),
		ToBlock:           v.GetUint64("to"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		Admins:            getStringSlice(v, "admin"),
		Pools:             pools,
		Store:             getStore(v),
		Listen:            v.GetString("listen"),
		CORSOrigins:       getStringSlice(v, "cors"),
		LogLevel:          v.GetString("log-level"),
	}
	return cfg, nil
}

// LoadSimulate merges config file, environment variables, and flags into SimulateConfig.
func LoadSimulate(cfgFile string, flags *pflag.FlagSet) (SimulateConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"store": StoreNone,
	})
	if err != nil {
		return SimulateConfig{}, err
	}

	cfg := SimulateConfig{
		Scenario: v.GetString("scenario"),
		Out:      v.GetString("out"),
		Store:    getStore(v),
		LogLevel: v.GetString("log-level"),
	}
	return cfg, nil
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := load(cfgFile, flags, map[string]interface{}{
		"listen": ":8080",
		"reload": 30 * time.Second,
	})
	if err != nil {
		return ServeConfig{}, err
	}
	pools, err := getPools(v)
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		RPCURL:      v.GetString("rpc"),
		Listen:      v.GetString("listen"),
		CORSOrigins: getStringSlice(v, "cors"),
		Reload:      v.GetDuration("reload"),
		Admins:      getStringSlice(v, "admin"),
		Pools:       pools,
		Store:       getStore(v),
		LogLevel:    v.GetString("log-level"),
	}
	return cfg, nil
}

// load builds a viper instance over defaults, env, flags and the config file.
func load(cfgFile string, flags *pflag.FlagSet, defaults map[string]interface{}) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	v.SetDefault("store", StoreFile)
	v.SetDefault("store-path", "./data/ledger.json")
	v.SetDefault("ledger-name", "default")
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Kind:       strings.ToLower(strings.TrimSpace(v.GetString("store"))),
		Path:       v.GetString("store-path"),
		PGDSN:      v.GetString("pg-dsn"),
		LedgerName: v.GetString("ledger-name"),
		Events:     v.GetString("events"),
	}
}

// getPools reads the pools list from the config file, or from the pool flag
// where each entry is id:vault:decimals:rate.
func getPools(v *viper.Viper) ([]PoolConfig, error) {
	if raw := v.Get("pools"); raw != nil {
		if _, ok := raw.([]interface{}); ok {
			var pools []PoolConfig
			if err := v.UnmarshalKey("pools", &pools); err != nil {
				return nil, fmt.Errorf("parse pools: %w", err)
			}
			return pools, nil
		}
	}

	entries := getStringSlice(v, "pool")
	pools := make([]PoolConfig, 0, len(entries))
	for _, entry := range entries {
		pool, err := parsePoolFlag(entry)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

func parsePoolFlag(entry string) (PoolConfig, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 4 {
		return PoolConfig{}, fmt.Errorf("pool %q: want id:vault:decimals:rate", entry)
	}
	var decimals uint8
	if _, err := fmt.Sscanf(parts[2], "%d", &decimals); err != nil {
		return PoolConfig{}, fmt.Errorf("pool %q decimals: %w", entry, err)
	}
	return PoolConfig{
		ID:       strings.TrimSpace(parts[0]),
		Vault:    strings.TrimSpace(parts[1]),
		Decimals: decimals,
		Rate:     strings.TrimSpace(parts[3]),
	}, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

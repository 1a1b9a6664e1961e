// Package util provides configuration and logging shared by the attackdiff
// commands.
package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ATTACKDIFF_DATA_DIR.
const EnvPrefix = "ATTACKDIFF"

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// History catalog
	HistoryDB      string `mapstructure:"history_db"`
	HistoryEnabled bool   `mapstructure:"history_enabled"`

	// Extra arguments for external scanners
	NmapArgs      string `mapstructure:"nmap_args"`
	SubfinderArgs string `mapstructure:"subfinder_args"`
	HTTPXArgs     string `mapstructure:"httpx_args"`

	// Built-in connect scanner
	ConnectPorts       []int         `mapstructure:"connect_ports"`
	ConnectConcurrency int           `mapstructure:"connect_concurrency"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:        filepath.Join("data", "scans"),
		LogLevel:       "info",
		HistoryDB:      filepath.Join("data", "attackdiff.db"),
		HistoryEnabled: true,

		ConnectPorts:       GetTopPorts(50),
		ConnectConcurrency: 20,
		ConnectTimeout:     3 * time.Second,
	}
}

// flagKeys maps config keys to the global flags that override them.
var flagKeys = map[string]string{
	"data_dir":  "data-dir",
	"log_level": "log-level",
}

// LoadConfig resolves configuration from defaults, an optional YAML file,
// ATTACKDIFF_* environment variables and finally any changed flags. When
// cfgFile is empty ./attackdiff.yaml and then $HOME/.attackdiff/config.yaml
// are tried; finding neither is not an error.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("history_db", cfg.HistoryDB)
	v.SetDefault("history_enabled", cfg.HistoryEnabled)
	v.SetDefault("nmap_args", cfg.NmapArgs)
	v.SetDefault("subfinder_args", cfg.SubfinderArgs)
	v.SetDefault("httpx_args", cfg.HTTPXArgs)
	v.SetDefault("connect_ports", cfg.ConnectPorts)
	v.SetDefault("connect_concurrency", cfg.ConnectConcurrency)
	v.SetDefault("connect_timeout", cfg.ConnectTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = findConfigFile()
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first default config file that exists.
func findConfigFile() string {
	candidates := []string{"attackdiff.yaml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".attackdiff", "config.yaml"))
	}
	for _, candidate := range candidates {
		if FileExists(candidate) {
			return candidate
		}
	}
	return ""
}

// Validate rejects values no command can work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.ConnectConcurrency < 0 {
		return fmt.Errorf("connect_concurrency must be >= 0, got %d", c.ConnectConcurrency)
	}
	for _, port := range c.ConnectPorts {
		if port < 1 || port > 65535 {
			return fmt.Errorf("connect_ports: %d is not a valid port", port)
		}
	}
	return nil
}

// GetTopPorts returns the top N most common ports.
func GetTopPorts(n int) []int {
	topPorts := []int{
		21, 22, 23, 25, 53, 80, 110, 111, 135, 139,
		143, 443, 445, 993, 995, 1723, 3306, 3389, 5432, 5900,
		8080, 8443, 8888, 27017, 6379, 11211, 1433, 1521, 5984, 9200,
		2181, 9092, 6443, 10250, 2379, 4443, 7443, 8000, 8001, 8002,
		9000, 9001, 9090, 9091, 9443, 10000, 10443, 15672, 27018, 27019,
	}

	if n > len(topPorts) {
		n = len(topPorts)
	}
	return topPorts[:n]
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// FileExists checks if a regular file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	UseHosts        bool                       `json:"use_hosts"`
	UseFirewall     bool                       `json:"use_firewall"`
	BackupOnWrite   bool                       `json:"backup_on_write"`
	BackupCount     int                        `json:"backup_count"`
	HostsPaths      []string                   `json:"hosts_paths"`
	DirectoryPath   string                     `json:"directory_path"`
	FirewallBackend string                     `json:"firewall_backend"`
	RulePrefix      string                     `json:"rule_prefix"`
	DNSServer       string                     `json:"dns_server"`
	CheckInterval   string                     `json:"check_interval"`
	AutoRepair      bool                       `json:"auto_repair"`
	Selections      map[string]map[string]bool `json:"selections"`
}

var (
	ConfigDir  = defaultConfigDir()
	ConfigFile = filepath.Join(ConfigDir, "config.json")
	config     *Config

	errCorrupt = errors.New("invalid config file")
)

func defaultConfigDir() string {
	if dir := os.Getenv("CLUSTERBANNED_CONFIG_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			return filepath.Join(pd, "clusterbanned")
		}
	}
	return "/etc/clusterbanned"
}

// SetConfigDir points the package at another directory. Call before
// InitConfig.
func SetConfigDir(dir string) {
	ConfigDir = dir
	ConfigFile = filepath.Join(dir, "config.json")
}

func Default() *Config {
	return &Config{
		UseHosts:        true,
		UseFirewall:     true,
		BackupOnWrite:   false,
		BackupCount:     5,
		FirewallBackend: "auto",
		RulePrefix:      "ClusterBanned",
		CheckInterval:   "5m",
		Selections:      map[string]map[string]bool{},
	}
}

// InitConfig loads the config file, creating it with defaults when it is
// missing. The in-memory config is usable even when an error is returned.
func InitConfig() error {
	config = Default()

	if err := os.MkdirAll(ConfigDir, 0755); err != nil {
		return err
	}

	if _, err := os.Stat(ConfigFile); err == nil {
		loaded, err := Load(ConfigFile)
		if err != nil {
			if errors.Is(err, errCorrupt) {
				log.Printf("Warning: config file corrupted, creating new one: %v", err)
				return SaveConfig()
			}
			return err
		}
		config = loaded
		return nil
	}

	log.Printf("Creating clusterbanned configuration file %s", ConfigFile)
	return SaveConfig()
}

// Load reads a config file on top of the defaults without touching the
// package-level config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	loaded := Default()
	if err := json.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if loaded.Selections == nil {
		loaded.Selections = map[string]map[string]bool{}
	}
	return loaded, nil
}

func GetConfig() *Config {
	if config == nil {
		config = Default()
	}
	return config
}

func SaveConfig() error {
	data, err := json.MarshalIndent(GetConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(ConfigFile, data, 0644); err != nil {
		return fmt.Errorf("failed to save config %s: %w", ConfigFile, err)
	}
	return nil
}

// SetSelection records whether domain of region is enabled (allowed).
func SetSelection(region, domain string, enabled bool) error {
	cfg := GetConfig()
	if cfg.Selections == nil {
		cfg.Selections = map[string]map[string]bool{}
	}
	if cfg.Selections[region] == nil {
		cfg.Selections[region] = map[string]bool{}
	}
	cfg.Selections[region][domain] = enabled
	return SaveConfig()
}

// Interval parses CheckInterval, defaulting to five minutes.
func (c *Config) Interval() time.Duration {
	d, err := time.ParseDuration(c.CheckInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the cookie harvester
type Config struct {
	// Target site settings
	Target TargetConfig `yaml:"target" json:"target"`

	// Browser engine settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Harvest timing settings
	Harvest HarvestConfig `yaml:"harvest" json:"harvest"`

	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// TargetConfig holds settings for the site whose cookies are harvested
type TargetConfig struct {
	// URL loaded to trigger the site's session bootstrap
	URL string `yaml:"url" json:"url"`
	// CookieDomain is the domain the auth_token cookie is scoped to
	CookieDomain string `yaml:"cookie_domain" json:"cookie_domain"`
	// LoginPath marks the redirect target for rejected tokens
	LoginPath string `yaml:"login_path" json:"login_path"`
}

// BrowserConfig holds settings for the headless browser engine
type BrowserConfig struct {
	Headless  bool   `yaml:"headless" json:"headless"`
	BinPath   string `yaml:"bin_path" json:"bin_path"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	NoSandbox bool   `yaml:"no_sandbox" json:"no_sandbox"`
}

// HarvestConfig holds timing settings for the per-account harvest
type HarvestConfig struct {
	// NavTimeout bounds the initial page load
	NavTimeout time.Duration `yaml:"nav_timeout" json:"nav_timeout"`
	// BootstrapTimeout bounds the wait for the site to set ct0
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout" json:"bootstrap_timeout"`
	// PollInterval is the cookie jar re-read interval during the wait
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	// AccountsPerMinute throttles the batch; 0 disables pacing
	AccountsPerMinute int `yaml:"accounts_per_minute" json:"accounts_per_minute"`
}

// OutputConfig holds output file configuration
type OutputConfig struct {
	Path string `yaml:"path" json:"path"`
	// Keyring additionally saves each harvested session to the system keychain
	Keyring bool `yaml:"keyring" json:"keyring"`
	// StoreFile is the encrypted session store path used when the
	// keychain is unavailable or a file store is requested directly
	StoreFile string `yaml:"store_file" json:"store_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{
			URL:          "https://x.com/home",
			CookieDomain: ".x.com",
			LoginPath:    "/login",
		},
		Browser: BrowserConfig{
			Headless:  true,
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
			NoSandbox: false,
		},
		Harvest: HarvestConfig{
			NavTimeout:        60 * time.Second,
			BootstrapTimeout:  15 * time.Second,
			PollInterval:      500 * time.Millisecond,
			AccountsPerMinute: 0,
		},
		Output: OutputConfig{
			Path:    "cookies.json",
			Keyring: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if url := os.Getenv("XHARVEST_TARGET_URL"); url != "" {
		c.Target.URL = url
	}
	if domain := os.Getenv("XHARVEST_COOKIE_DOMAIN"); domain != "" {
		c.Target.CookieDomain = domain
	}
	if userAgent := os.Getenv("XHARVEST_USER_AGENT"); userAgent != "" {
		c.Browser.UserAgent = userAgent
	}
	if binPath := os.Getenv("XHARVEST_CHROME_BIN"); binPath != "" {
		c.Browser.BinPath = binPath
	}
	if headless := os.Getenv("XHARVEST_HEADLESS"); headless != "" {
		c.Browser.Headless = strings.ToLower(headless) != "false"
	}

	if timeout := os.Getenv("XHARVEST_BOOTSTRAP_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid XHARVEST_BOOTSTRAP_TIMEOUT: %w", err)
		}
		c.Harvest.BootstrapTimeout = d
	}
	if apm := os.Getenv("XHARVEST_ACCOUNTS_PER_MINUTE"); apm != "" {
		var val int
		fmt.Sscanf(apm, "%d", &val)
		if val > 0 {
			c.Harvest.AccountsPerMinute = val
		}
	}

	if outputPath := os.Getenv("XHARVEST_OUTPUT"); outputPath != "" {
		c.Output.Path = outputPath
	}
	if storeFile := os.Getenv("XHARVEST_STORE_FILE"); storeFile != "" {
		c.Output.StoreFile = storeFile
	}

	if logLevel := os.Getenv("XHARVEST_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".xharvest.yaml",
		".xharvest.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "xharvest", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "xharvest", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".xharvest.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Target.URL == "" {
		errs = append(errs, errors.New("target URL is required"))
	}
	if c.Target.CookieDomain == "" {
		errs = append(errs, errors.New("cookie domain is required"))
	}

	if c.Harvest.NavTimeout <= 0 {
		errs = append(errs, errors.New("navigation timeout must be positive"))
	}
	if c.Harvest.BootstrapTimeout <= 0 {
		errs = append(errs, errors.New("bootstrap timeout must be positive"))
	}
	if c.Harvest.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Harvest.PollInterval > c.Harvest.BootstrapTimeout {
		errs = append(errs, errors.New("poll interval cannot exceed bootstrap timeout"))
	}
	if c.Harvest.AccountsPerMinute < 0 {
		errs = append(errs, errors.New("accounts per minute cannot be negative"))
	}

	if c.Output.Path == "" {
		errs = append(errs, errors.New("output path is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if output, ok := flags["output"].(string); ok && output != "" {
		c.Output.Path = output
	}
	if binPath, ok := flags["chrome-bin"].(string); ok && binPath != "" {
		c.Browser.BinPath = binPath
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if timeout, ok := flags["bootstrap-timeout"].(time.Duration); ok && timeout > 0 {
		c.Harvest.BootstrapTimeout = timeout
	}
	if apm, ok := flags["rate-limit"].(int); ok && apm > 0 {
		c.Harvest.AccountsPerMinute = apm
	}
	if keyring, ok := flags["keyring"].(bool); ok && keyring {
		c.Output.Keyring = true
	}
	if storeFile, ok := flags["store-file"].(string); ok && storeFile != "" {
		c.Output.StoreFile = storeFile
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".xharvest.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

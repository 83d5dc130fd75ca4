// Package config loads run settings from yaml and credentials from the environment.
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

type Config struct {
	BrowserProfilePath string `yaml:"browser_profile_path"`
	BrowserBin         string `yaml:"browser_bin"`
	UserAgent          string `yaml:"user_agent"`
	ViewportWidth      int    `yaml:"viewport_width"`
	ViewportHeight     int    `yaml:"viewport_height"`
	Headless           bool   `yaml:"headless"`
	BlockImages        bool   `yaml:"block_images"`
	KeepBrowserOpen    bool   `yaml:"keep_browser_open"`

	// Timeouts in milliseconds.
	NavigationTimeoutMs      int `yaml:"navigation_timeout_ms"`
	LoginNavigationTimeoutMs int `yaml:"login_navigation_timeout_ms"`
	ElementTimeoutMs         int `yaml:"element_timeout_ms"`
	CheckoutNavigationMs     int `yaml:"checkout_navigation_timeout_ms"`
	AddressFormWaitMs        int `yaml:"address_form_wait_ms"`
	TypingDelayMs            int `yaml:"typing_delay_ms"`

	// Settle delays in milliseconds.
	SettleShortMs int `yaml:"settle_short_ms"`
	SettleLongMs  int `yaml:"settle_long_ms"`

	ChallengeBudgetSeconds int `yaml:"challenge_budget_seconds"`
	ManualCapSeconds       int `yaml:"manual_cap_seconds"`

	TargetSeconds float64 `yaml:"target_seconds"`

	Solver SolverConfig `yaml:"solver"`
	Policy PolicyConfig `yaml:"policy"`
	Log    LoggerConfig `yaml:"log"`

	HistoryDB string `yaml:"history_db"`
	LangDir   string `yaml:"lang_dir"`
	DebugMode bool   `yaml:"debug_mode"`

	// Selectors overrides locator candidates: platform -> action -> locators.
	Selectors map[string]map[string][]string `yaml:"selectors,omitempty"`
}

type SolverConfig struct {
	// Provider is "openai", "claude" or empty for none.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// TimeoutSeconds bounds one solver request.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type PolicyConfig struct {
	AddToCartMissingFatal bool `yaml:"add_to_cart_missing_fatal"`
	CartVerificationFatal bool `yaml:"cart_verification_fatal"`
}

type LoggerConfig struct {
	ServiceName string      `yaml:"service_name"`
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	LogFile     string      `yaml:"log_file"`
	MaxSize     int         `yaml:"max_size"`
	MaxBackups  int         `yaml:"max_backups"`
	MaxAge      int         `yaml:"max_age"`
	Compress    bool        `yaml:"compress"`
	AddSource   bool        `yaml:"add_source"`
	Colors      ColorConfig `yaml:"colors"`
}

type ColorConfig struct {
	Debug  string `yaml:"debug"`
	Info   string `yaml:"info"`
	Warn   string `yaml:"warn"`
	Error  string `yaml:"error"`
	DPanic string `yaml:"dpanic"`
	Panic  string `yaml:"panic"`
	Fatal  string `yaml:"fatal"`
}

// DataDir is where profiles, logs and history live by default.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./cartpilot-data"
	}
	return filepath.Join(home, ".cartpilot")
}

func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		BrowserProfilePath: filepath.Join(dataDir, "browser-profile"),
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		ViewportWidth:      1920,
		ViewportHeight:     1080,
		Headless:           false,
		BlockImages:        true,
		KeepBrowserOpen:    true,

		NavigationTimeoutMs:      8000,
		LoginNavigationTimeoutMs: 15000,
		ElementTimeoutMs:         2000,
		CheckoutNavigationMs:     7000,
		AddressFormWaitMs:        5000,
		TypingDelayMs:            5,

		SettleShortMs: 200,
		SettleLongMs:  1000,

		ChallengeBudgetSeconds: 120,
		ManualCapSeconds:       300,

		TargetSeconds: 25,

		Solver: SolverConfig{TimeoutSeconds: 30},
		Policy: PolicyConfig{
			AddToCartMissingFatal: true,
			CartVerificationFatal: false,
		},
		Log: LoggerConfig{
			ServiceName: "cartpilot",
			Level:       "info",
			Format:      "console",
			LogFile:     filepath.Join(dataDir, "logs", "cartpilot.log"),
			MaxSize:     10,
			MaxBackups:  3,
			MaxAge:      28,
			Colors: ColorConfig{
				Debug: "cyan",
				Info:  "green",
				Warn:  "yellow",
				Error: "red",
				Fatal: "magenta",
			},
		},
		HistoryDB: filepath.Join(dataDir, "history.db"),
	}
}

// LoadConfig reads path over the defaults. A missing file is created with the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if config.BrowserProfilePath != "" {
		if err := os.MkdirAll(config.BrowserProfilePath, 0755); err != nil {
			return nil, err
		}
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []error
	if c.NavigationTimeoutMs <= 0 {
		errs = append(errs, errors.New("navigation_timeout_ms must be positive"))
	}
	if c.ElementTimeoutMs <= 0 {
		errs = append(errs, errors.New("element_timeout_ms must be positive"))
	}
	if c.TargetSeconds <= 0 {
		errs = append(errs, errors.New("target_seconds must be positive"))
	}
	switch strings.ToLower(c.Solver.Provider) {
	case "", "none", "openai", "claude", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown solver provider %q", c.Solver.Provider))
	}
	return errors.Join(errs...)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) NavigationTimeout() time.Duration      { return ms(c.NavigationTimeoutMs) }
func (c *Config) LoginNavigationTimeout() time.Duration { return ms(c.LoginNavigationTimeoutMs) }
func (c *Config) ElementTimeout() time.Duration         { return ms(c.ElementTimeoutMs) }
func (c *Config) CheckoutNavigation() time.Duration     { return ms(c.CheckoutNavigationMs) }
func (c *Config) AddressFormWait() time.Duration        { return ms(c.AddressFormWaitMs) }
func (c *Config) TypingDelay() time.Duration            { return ms(c.TypingDelayMs) }
func (c *Config) SettleShort() time.Duration            { return ms(c.SettleShortMs) }
func (c *Config) SettleLong() time.Duration             { return ms(c.SettleLongMs) }
func (c *Config) ChallengeBudget() time.Duration {
	return time.Duration(c.ChallengeBudgetSeconds) * time.Second
}
func (c *Config) ManualCap() time.Duration { return time.Duration(c.ManualCapSeconds) * time.Second }
func (c *Config) SolverTimeout() time.Duration {
	return time.Duration(c.Solver.TimeoutSeconds) * time.Second
}
func (c *Config) Target() time.Duration {
	return time.Duration(c.TargetSeconds * float64(time.Second))
}

// Credentials for one store account. Phone or Email identifies the user.
type Credentials struct {
	Email    string
	Phone    string
	Password string
}

// Identifier is the value typed into the login identifier field. Phone wins.
func (c Credentials) Identifier() string {
	if c.Phone != "" {
		return c.Phone
	}
	return c.Email
}

func (c Credentials) Complete() bool {
	return c.Identifier() != "" && c.Password != ""
}

// Address is typed into checkout address forms. Empty fields are left alone.
type Address struct {
	Name       string
	Phone      string
	PostalCode string
	Street     string
	City       string
}

// LoadEnv loads .env files into the process environment without overriding
// variables already set. Missing files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// LoadCredentials reads <PLATFORM>_EMAIL, <PLATFORM>_PHONE and <PLATFORM>_PASSWORD.
func LoadCredentials(platform string) Credentials {
	prefix := strings.ToUpper(platform) + "_"
	return Credentials{
		Email:    os.Getenv(prefix + "EMAIL"),
		Phone:    os.Getenv(prefix + "PHONE"),
		Password: os.Getenv(prefix + "PASSWORD"),
	}
}

// LoadAddress reads the USER_* address variables.
func LoadAddress() Address {
	return Address{
		Name:       os.Getenv("USER_NAME"),
		Phone:      os.Getenv("USER_PHONE"),
		PostalCode: os.Getenv("USER_PINCODE"),
		Street:     os.Getenv("USER_ADDRESS"),
		City:       os.Getenv("USER_CITY"),
	}
}

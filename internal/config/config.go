// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration, assembled from defaults, an
// optional YAML file and LINKEDCLICKER_* environment variables.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Target      TargetConfig      `mapstructure:"target" yaml:"target"`
	Processing  ProcessingConfig  `mapstructure:"processing" yaml:"processing"`
}

// LoggerConfig holds all settings for the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// CredentialsConfig carries the login identity. Sourced from environment
// variables only; never serialized back out.
type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

// Present reports whether both credential halves are set.
func (c CredentialsConfig) Present() bool {
	return c.Username != "" && c.Password != ""
}

// BrowserConfig holds settings for the headless browser session.
type BrowserConfig struct {
	Headless  bool     `mapstructure:"headless" yaml:"headless"`
	Args      []string `mapstructure:"args" yaml:"args"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Width     int      `mapstructure:"width" yaml:"width"`
	Height    int      `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes the driver-facing waits. Every wait the engine issues
// is bounded by one of these.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ElementWait       time.Duration `mapstructure:"element_wait" yaml:"element_wait"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	CleanupTimeout    time.Duration `mapstructure:"cleanup_timeout" yaml:"cleanup_timeout"`
}

// TargetConfig locates the screens and affordances on the target site. The
// engine itself is site-agnostic; these selectors are the only site-specific
// surface and every one can be overridden.
type TargetConfig struct {
	LoginURL   string `mapstructure:"login_url" yaml:"login_url"`
	NetworkURL string `mapstructure:"network_url" yaml:"network_url"`
	// AuthenticatedURLFragment short-circuits login when already present in
	// the current URL.
	AuthenticatedURLFragment string `mapstructure:"authenticated_url_fragment" yaml:"authenticated_url_fragment"`
	ChallengeURLFragment     string `mapstructure:"challenge_url_fragment" yaml:"challenge_url_fragment"`

	UsernameSelector   string `mapstructure:"username_selector" yaml:"username_selector"`
	PasswordSelector   string `mapstructure:"password_selector" yaml:"password_selector"`
	SubmitSelector     string `mapstructure:"submit_selector" yaml:"submit_selector"`
	LoginErrorSelector string `mapstructure:"login_error_selector" yaml:"login_error_selector"`
	LoginOKSelector    string `mapstructure:"login_ok_selector" yaml:"login_ok_selector"`

	// ExpandListSelectors are tried in order to open the growable list; the
	// ExpandListText scan is the last resort when every structured selector
	// misses.
	ExpandListSelectors []string `mapstructure:"expand_list_selectors" yaml:"expand_list_selectors"`
	ExpandListText      string   `mapstructure:"expand_list_text" yaml:"expand_list_text"`
	ListContainer       string   `mapstructure:"list_container" yaml:"list_container"`

	ItemSelector    string `mapstructure:"item_selector" yaml:"item_selector"`
	ItemName        string `mapstructure:"item_name" yaml:"item_name"`
	ActionButton    string `mapstructure:"action_button" yaml:"action_button"`
	ConfirmSelector string `mapstructure:"confirm_selector" yaml:"confirm_selector"`
}

// ProcessingConfig bounds the item processing loop.
type ProcessingConfig struct {
	MinMutualConnections int           `mapstructure:"min_mutual_connections" yaml:"min_mutual_connections"`
	MaxConnections       int           `mapstructure:"max_connections" yaml:"max_connections"`
	MaxScrollAttempts    int           `mapstructure:"max_scroll_attempts" yaml:"max_scroll_attempts"`
	ScrollSettleWait     time.Duration `mapstructure:"scroll_settle_wait" yaml:"scroll_settle_wait"`
	ConfirmWait          time.Duration `mapstructure:"confirm_wait" yaml:"confirm_wait"`
	// ActionDelay is the deliberate pause between consecutive item actions.
	// Rapid consecutive actions are the most likely trigger of the target's
	// anti-automation defenses, so this is a rate limiter, not a wait.
	ActionDelay time.Duration `mapstructure:"action_delay" yaml:"action_delay"`
}

// SetDefaults seeds every configuration key so a bare process still runs with
// sane behavior.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "linked-clicker")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1366)
	v.SetDefault("browser.height", 900)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "45s")
	v.SetDefault("network.action_timeout", "15s")
	v.SetDefault("network.element_wait", "10s")
	v.SetDefault("network.post_load_wait", "2s")
	v.SetDefault("network.cleanup_timeout", "10s")

	// -- Target --
	v.SetDefault("target.login_url", "https://www.linkedin.com/login")
	v.SetDefault("target.network_url", "https://www.linkedin.com/mynetwork/")
	v.SetDefault("target.authenticated_url_fragment", "/feed")
	v.SetDefault("target.challenge_url_fragment", "/checkpoint")
	v.SetDefault("target.username_selector", "input#username")
	v.SetDefault("target.password_selector", "input#password")
	v.SetDefault("target.submit_selector", "button[type=submit]")
	v.SetDefault("target.login_error_selector", "#error-for-username, #error-for-password, .form__label--error")
	v.SetDefault("target.login_ok_selector", ".global-nav")
	v.SetDefault("target.expand_list_selectors", []string{
		"button[aria-label*='Show all suggestions']",
		"button[aria-label*='See all']",
		"a[href*='/mynetwork/grow/']",
	})
	v.SetDefault("target.expand_list_text", "see all")
	v.SetDefault("target.list_container", "div[data-view-name='cohort-section'], .mn-cohorts-list")
	v.SetDefault("target.item_selector", "li.discover-entity-type-card, div[data-view-name='cohort-card']")
	v.SetDefault("target.item_name", ".discover-person-card__name, .artdeco-entity-lockup__title")
	v.SetDefault("target.action_button", "button[aria-label*='Invite'], button[aria-label*='Connect']")
	v.SetDefault("target.confirm_selector", "button[aria-label='Send now'], .artdeco-modal button.artdeco-button--primary")

	// -- Processing --
	v.SetDefault("processing.min_mutual_connections", 5)
	v.SetDefault("processing.max_connections", 10)
	v.SetDefault("processing.max_scroll_attempts", 20)
	v.SetDefault("processing.scroll_settle_wait", "1500ms")
	v.SetDefault("processing.confirm_wait", "1s")
	v.SetDefault("processing.action_delay", "4s")
}

// NewFromViper binds environment variables, unmarshals and validates.
func NewFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("LINKEDCLICKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credentials are environment-only.
	v.BindEnv("credentials.username", "LINKEDCLICKER_USERNAME")
	v.BindEnv("credentials.password", "LINKEDCLICKER_PASSWORD")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// NewDefault returns a configuration populated purely from defaults. Used by
// tests and as a base for programmatic construction.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks structural sanity. Credential presence is deliberately not
// checked here: the controller validates it at start so a status-only process
// can boot without secrets.
func (c *Config) Validate() error {
	if err := c.Processing.Validate(); err != nil {
		return fmt.Errorf("processing: %w", err)
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if c.Target.LoginURL == "" || c.Target.NetworkURL == "" {
		return fmt.Errorf("target.login_url and target.network_url are required")
	}
	if c.Target.ListContainer == "" || c.Target.ItemSelector == "" || c.Target.ActionButton == "" {
		return fmt.Errorf("target list_container, item_selector and action_button are required")
	}
	return nil
}

// Validate checks the processing loop bounds.
func (p *ProcessingConfig) Validate() error {
	if p.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be a positive integer")
	}
	if p.MinMutualConnections < 0 {
		return fmt.Errorf("min_mutual_connections must not be negative")
	}
	if p.MaxScrollAttempts <= 0 {
		return fmt.Errorf("max_scroll_attempts must be a positive integer")
	}
	if p.ActionDelay < 0 {
		return fmt.Errorf("action_delay must not be negative")
	}
	return nil
}

// Validate checks that every driver-facing wait is bounded.
func (n *NetworkConfig) Validate() error {
	if n.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if n.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be a positive duration")
	}
	if n.ElementWait <= 0 {
		return fmt.Errorf("element_wait must be a positive duration")
	}
	return nil
}

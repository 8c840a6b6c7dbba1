package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Browser   BrowserConfig   `yaml:"browser" mapstructure:"browser"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Directory DirectoryConfig `yaml:"directory" mapstructure:"directory"`
	Outreach  OutreachConfig  `yaml:"outreach" mapstructure:"outreach"`
	SMTP      SMTPConfig      `yaml:"smtp" mapstructure:"smtp"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	LockPath    string `yaml:"lock_path" mapstructure:"lock_path"`
	// Retry queue for companies that failed after being recorded as seen.
	RetryMaxAttempts int `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryBackoffMins int `yaml:"retry_backoff_mins" mapstructure:"retry_backoff_mins"`
	RetryBatchLimit  int `yaml:"retry_batch_limit" mapstructure:"retry_batch_limit"`
}

// BrowserConfig configures the browser automation driver.
type BrowserConfig struct {
	Driver            string  `yaml:"driver" mapstructure:"driver"` // "chrome" or "http"
	Headless          bool    `yaml:"headless" mapstructure:"headless"`
	ExecPath          string  `yaml:"exec_path" mapstructure:"exec_path"`
	UserDataDir       string  `yaml:"user_data_dir" mapstructure:"user_data_dir"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
	PollIntervalMs    int     `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
}

// ListingSelectors holds the CSS selectors used on the listings site.
type ListingSelectors struct {
	Card        string `yaml:"card" mapstructure:"card"`
	Link        string `yaml:"link" mapstructure:"link"`
	Name        string `yaml:"name" mapstructure:"name"`
	Description string `yaml:"description" mapstructure:"description"`
	Size        string `yaml:"size" mapstructure:"size"`
	Website     string `yaml:"website" mapstructure:"website"`
	NotFound    string `yaml:"not_found_text" mapstructure:"not_found_text"`
}

// DiscoveryConfig configures the listing collector and profile resolver.
type DiscoveryConfig struct {
	BaseURL             string           `yaml:"base_url" mapstructure:"base_url"`
	JobTitles           []string         `yaml:"job_titles" mapstructure:"job_titles"`
	Locations           []string         `yaml:"locations" mapstructure:"locations"`
	IncludeRemote       bool             `yaml:"include_remote" mapstructure:"include_remote"`
	MaxCompanySize      int              `yaml:"max_company_size" mapstructure:"max_company_size"`
	MaxCardsPerPage     int              `yaml:"max_cards_per_page" mapstructure:"max_cards_per_page"`
	ListTimeoutSecs     int              `yaml:"list_timeout_secs" mapstructure:"list_timeout_secs"`
	NotFoundTimeoutSecs int              `yaml:"not_found_timeout_secs" mapstructure:"not_found_timeout_secs"`
	WebsiteTimeoutSecs  int              `yaml:"website_timeout_secs" mapstructure:"website_timeout_secs"`
	Selectors           ListingSelectors `yaml:"selectors" mapstructure:"selectors"`
}

// DirectorySelectors holds the CSS selectors and text markers used on the
// contact directory results page.
type DirectorySelectors struct {
	Row              string   `yaml:"row" mapstructure:"row"`
	Name             string   `yaml:"name" mapstructure:"name"`
	RevealButton     string   `yaml:"reveal_button" mapstructure:"reveal_button"`
	Email            []string `yaml:"email" mapstructure:"email"` // tried in order
	NoResultsText    string   `yaml:"no_results_text" mapstructure:"no_results_text"`
	SessionReadyText string   `yaml:"session_ready_text" mapstructure:"session_ready_text"`
}

// DirectoryConfig configures the contact directory lookup.
type DirectoryConfig struct {
	BaseURL              string             `yaml:"base_url" mapstructure:"base_url"`
	LoginURL             string             `yaml:"login_url" mapstructure:"login_url"`
	Departments          []string           `yaml:"departments" mapstructure:"departments"`
	SortField            string             `yaml:"sort_field" mapstructure:"sort_field"`
	VerifiedOnly         bool               `yaml:"verified_only" mapstructure:"verified_only"`
	SessionTimeoutSecs   int                `yaml:"session_timeout_secs" mapstructure:"session_timeout_secs"`
	NoResultsTimeoutSecs int                `yaml:"no_results_timeout_secs" mapstructure:"no_results_timeout_secs"`
	ResultsTimeoutSecs   int                `yaml:"results_timeout_secs" mapstructure:"results_timeout_secs"`
	RevealTimeoutSecs    int                `yaml:"reveal_timeout_secs" mapstructure:"reveal_timeout_secs"`
	FailureThreshold     int                `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs     int                `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	Selectors            DirectorySelectors `yaml:"selectors" mapstructure:"selectors"`
}

// OutreachConfig configures message rendering and test mode.
type OutreachConfig struct {
	SenderName            string `yaml:"sender_name" mapstructure:"sender_name"`
	TemplatesDir          string `yaml:"templates_dir" mapstructure:"templates_dir"`
	TestMode              bool   `yaml:"test_mode" mapstructure:"test_mode"`
	DisposableDomain      string `yaml:"disposable_domain" mapstructure:"disposable_domain"`
	CC                    string `yaml:"cc" mapstructure:"cc"`
	FallbackRecipientName string `yaml:"fallback_recipient_name" mapstructure:"fallback_recipient_name"`
}

// SMTPConfig holds mail transport settings.
type SMTPConfig struct {
	Host           string `yaml:"host" mapstructure:"host"`
	Port           int    `yaml:"port" mapstructure:"port"`
	Username       string `yaml:"username" mapstructure:"username"`
	Password       string `yaml:"password" mapstructure:"password"`
	From           string `yaml:"from" mapstructure:"from"`
	ImplicitTLS    bool   `yaml:"implicit_tls" mapstructure:"implicit_tls"`
	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts  int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// ScheduleConfig configures recurring runs.
type ScheduleConfig struct {
	Cron string `yaml:"cron" mapstructure:"cron"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Seconds converts a config value in seconds to a duration, falling back
// to def when unset.
func Seconds(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Credential names used by existing .env files.
	for key, alias := range map[string]string{
		"smtp.username": "EMAIL_USER",
		"smtp.password": "EMAIL_PASS",
		"outreach.cc":   "CC_EMAIL",
	} {
		if err := v.BindEnv(key, "OUTREACH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "companies.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.lock_path", "outreach.lock")
	v.SetDefault("store.retry_max_attempts", 3)
	v.SetDefault("store.retry_backoff_mins", 60)
	v.SetDefault("store.retry_batch_limit", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("browser.driver", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.requests_per_second", 0.5)
	v.SetDefault("browser.burst", 1)
	v.SetDefault("browser.poll_interval_ms", 250)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.user_agent", "")

	v.SetDefault("discovery.base_url", "https://wellfound.com")
	v.SetDefault("discovery.job_titles", []string{"data science", "software engineer"})
	v.SetDefault("discovery.locations", []string{"san diego"})
	v.SetDefault("discovery.include_remote", true)
	v.SetDefault("discovery.max_company_size", 100)
	v.SetDefault("discovery.max_cards_per_page", 50)
	v.SetDefault("discovery.list_timeout_secs", 20)
	v.SetDefault("discovery.not_found_timeout_secs", 1)
	v.SetDefault("discovery.website_timeout_secs", 15)
	v.SetDefault("discovery.selectors.card", ".pl-2.flex.flex-col")
	v.SetDefault("discovery.selectors.link", "a.text-neutral-1000")
	v.SetDefault("discovery.selectors.name", "h2.inline.text-md.font-semibold")
	v.SetDefault("discovery.selectors.description", "span.text-xs.text-neutral-1000")
	v.SetDefault("discovery.selectors.size", "span.text-xs.italic.text-neutral-500")
	v.SetDefault("discovery.selectors.website", "button.styles_websiteLink___Rnfc")
	v.SetDefault("discovery.selectors.not_found_text", "Page not found")

	v.SetDefault("directory.base_url", "https://app.apollo.io/#/people")
	v.SetDefault("directory.login_url", "https://app.apollo.io/#/login")
	v.SetDefault("directory.departments", []string{
		"executive", "founder", "information_technology_executive", "operations_executive",
	})
	v.SetDefault("directory.sort_field", "person_title_normalized")
	v.SetDefault("directory.verified_only", true)
	v.SetDefault("directory.session_timeout_secs", 60)
	v.SetDefault("directory.no_results_timeout_secs", 3)
	v.SetDefault("directory.results_timeout_secs", 15)
	v.SetDefault("directory.reveal_timeout_secs", 10)
	v.SetDefault("directory.failure_threshold", 3)
	v.SetDefault("directory.reset_timeout_secs", 300)
	v.SetDefault("directory.selectors.row", `[role="rowgroup"] [role="row"]`)
	v.SetDefault("directory.selectors.name", `[data-cy="contact-name"], a[href*="/people/"]`)
	v.SetDefault("directory.selectors.reveal_button", `button[data-cy="access-email-button"]`)
	v.SetDefault("directory.selectors.email", []string{
		`[data-cy="verified-email"]`,
		`[data-cy="unverified-email"]`,
		`a[href^="mailto:"]`,
	})
	v.SetDefault("directory.selectors.no_results_text", "No people match your criteria")
	v.SetDefault("directory.selectors.session_ready_text", "Recommended prospects")

	v.SetDefault("outreach.sender_name", "")
	v.SetDefault("outreach.test_mode", false)
	v.SetDefault("outreach.templates_dir", "templates")
	v.SetDefault("outreach.disposable_domain", "yopmail.com")
	v.SetDefault("outreach.fallback_recipient_name", "there")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.implicit_tls", false)
	v.SetDefault("smtp.timeout_secs", 30)
	v.SetDefault("smtp.retry_attempts", 3)
	v.SetDefault("smtp.retry_backoff_ms", 1000)

	v.SetDefault("schedule.cron", "0 9 * * 1-5")
}

// Validate checks the settings required by a command mode: "run", "send",
// "schedule" or "migrate".
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	storeChecks := func() {
		switch c.Store.Driver {
		case "sqlite", "postgres":
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
		}
		require(c.Store.DatabaseURL != "", "store.database_url is required")
		require(c.Store.RetryMaxAttempts >= 0, "store.retry_max_attempts must be >= 0")
		require(c.Store.RetryBackoffMins >= 0, "store.retry_backoff_mins must be >= 0")
	}
	sendChecks := func() {
		require(c.SMTP.Host != "", "smtp.host is required")
		require(c.SMTP.Port > 0, "smtp.port must be > 0")
		require(c.SMTP.Username != "", "smtp.username is required")
		require(c.Outreach.SenderName != "", "outreach.sender_name is required")
		require(c.Outreach.TemplatesDir != "", "outreach.templates_dir is required")
		if c.Outreach.TestMode {
			require(c.Outreach.DisposableDomain != "", "outreach.disposable_domain is required in test mode")
		}
	}

	switch mode {
	case "migrate":
		storeChecks()
	case "send":
		sendChecks()
	case "run", "schedule":
		storeChecks()
		sendChecks()
		require(len(c.Discovery.JobTitles) > 0, "discovery.job_titles must not be empty")
		require(len(c.Discovery.Locations) > 0 || c.Discovery.IncludeRemote,
			"discovery.locations must not be empty unless include_remote is set")
		require(c.Discovery.MaxCompanySize > 0, "discovery.max_company_size must be > 0")
		require(c.Discovery.MaxCardsPerPage > 0, "discovery.max_cards_per_page must be > 0")
		require(len(c.Directory.Selectors.Email) > 0, "directory.selectors.email must not be empty")
		for _, f := range []struct{ key, val string }{
			{"discovery.base_url", c.Discovery.BaseURL},
			{"discovery.selectors.card", c.Discovery.Selectors.Card},
			{"discovery.selectors.name", c.Discovery.Selectors.Name},
			{"discovery.selectors.description", c.Discovery.Selectors.Description},
			{"discovery.selectors.size", c.Discovery.Selectors.Size},
			{"discovery.selectors.website", c.Discovery.Selectors.Website},
			{"discovery.selectors.not_found_text", c.Discovery.Selectors.NotFound},
			{"directory.base_url", c.Directory.BaseURL},
			{"directory.selectors.row", c.Directory.Selectors.Row},
			{"directory.selectors.name", c.Directory.Selectors.Name},
			{"directory.selectors.no_results_text", c.Directory.Selectors.NoResultsText},
		} {
			require(strings.TrimSpace(f.val) != "", f.key+" is required")
		}
		if c.Directory.LoginURL != "" {
			require(strings.TrimSpace(c.Directory.Selectors.SessionReadyText) != "",
				"directory.selectors.session_ready_text is required when directory.login_url is set")
		}
		switch c.Browser.Driver {
		case "chrome", "http":
		default:
			problems = append(problems, fmt.Sprintf("browser.driver %q must be chrome or http", c.Browser.Driver))
		}
		if mode == "schedule" {
			require(c.Schedule.Cron != "", "schedule.cron is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

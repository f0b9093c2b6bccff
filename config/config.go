package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // embedded zoneinfo for the reporting timezone

	"clientsync/mapping"

	"gopkg.in/yaml.v2"
)

// ErrMissingSecret reports that a named secret could not be resolved.
var ErrMissingSecret = errors.New("secret not set")

// Config represents the entire application configuration. After Load it is treated as
// immutable; components receive it, or the parts they need, at construction.
type Config struct {
	DatabasePath      string         `yaml:"database_path"`
	SQLDir            string         `yaml:"sql_dir"`
	LogLevel          string         `yaml:"log_level"`
	TimezoneName      string         `yaml:"timezone"`
	RateLimitDelayStr string         `yaml:"rate_limit_delay"`
	Web               WebConfig      `yaml:"web"`
	HubSpot           HubSpotConfig  `yaml:"hubspot"`
	Notion            NotionConfig   `yaml:"notion"`
	Slack             SlackConfig    `yaml:"slack"`
	Secrets           SecretsConfig  `yaml:"secrets"`
	Mappings          MappingsConfig `yaml:"mappings"`
	Schedule          ScheduleConfig `yaml:"schedule"`
	Redis             RedisConfig    `yaml:"redis"`
	CRM               CRMWriteConfig `yaml:"crm"`

	// Derived in validateAndPrepare.
	Timezone       *time.Location    `yaml:"-"` // Parsed from TimezoneName
	RateLimitDelay time.Duration     `yaml:"-"` // Parsed from RateLimitDelayStr
	Tables         mapping.Tables    `yaml:"-"` // Defaults overlaid with Mappings
	PMUserIDs      map[string]string `yaml:"-"`
}

// WebConfig holds settings specific to the web server.
type WebConfig struct {
	ListenAddress string `yaml:"listen_address"`
	WebhookPath   string `yaml:"webhook_path"`
}

// HubSpotConfig holds CRM settings.
type HubSpotConfig struct {
	BaseURL string `yaml:"base_url"`
}

// NotionConfig holds workspace database settings.
type NotionConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
}

// SlackConfig holds notification settings.
type SlackConfig struct {
	BaseURL string `yaml:"base_url"`
	Channel string `yaml:"channel"`
	Mention string `yaml:"mention"`
}

// SecretsConfig names the environment variables holding each credential. The values
// themselves never appear in the configuration file.
type SecretsConfig struct {
	HubSpotToken     string `yaml:"hubspot_token"`
	NotionKey        string `yaml:"notion_key"`
	NotionDatabaseID string `yaml:"notion_database_id"`
	SlackToken       string `yaml:"slack_token"`
}

// MappingsConfig optionally replaces the default mapping tables. A table that is
// absent from the file keeps its default.
type MappingsConfig struct {
	Owners       map[string]string `yaml:"owners"`
	Assistants   map[string]string `yaml:"assistants"`
	Tiers        map[string]string `yaml:"tiers"`
	TiersReverse map[string]string `yaml:"tiers_reverse"`
	PMUserIDs    map[string]string `yaml:"pm_user_ids"`
}

// ScheduleConfig holds the recurring trigger times, in Config.Timezone.
type ScheduleConfig struct {
	DailySyncHour        *int         `yaml:"daily_sync_hour"`
	WeeklySummaryWeekday string       `yaml:"weekly_summary_weekday"`
	WeeklySummaryHour    *int         `yaml:"weekly_summary_hour"`
	WeeklySummaryDay     time.Weekday `yaml:"-"`
}

// RedisConfig enables the Redis backed row lock when Address is set.
type RedisConfig struct {
	Address string `yaml:"address"`
}

// CRMWriteConfig controls optional CRM writes.
type CRMWriteConfig struct {
	PushTier bool `yaml:"push_tier"`
}

// Load loads and validates the configuration from the given file path.
func Load(filePath string) (*Config, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", filePath)
	}

	configFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(configFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
	}

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// validateAndPrepare checks for required fields, applies defaults and sets up derived
// values.
func validateAndPrepare(c *Config) error {
	// General
	if c.DatabasePath == "" {
		return errors.New("database_path is missing")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TimezoneName == "" {
		c.TimezoneName = "Asia/Kolkata"
	}
	loc, err := time.LoadLocation(c.TimezoneName)
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	c.Timezone = loc
	if c.RateLimitDelayStr == "" {
		c.RateLimitDelayStr = "100ms"
	}
	c.RateLimitDelay, err = time.ParseDuration(c.RateLimitDelayStr)
	if err != nil {
		return fmt.Errorf("invalid rate_limit_delay: %w", err)
	}
	if c.RateLimitDelay < 0 {
		return errors.New("rate_limit_delay must not be negative")
	}

	// Web
	if c.Web.ListenAddress == "" {
		c.Web.ListenAddress = "127.0.0.1:8080"
	}
	if c.Web.WebhookPath == "" {
		c.Web.WebhookPath = "/webhooks/notion"
	}
	if !strings.HasPrefix(c.Web.WebhookPath, "/") {
		return errors.New("web.webhook_path must start with '/'")
	}

	// Remote systems
	if c.HubSpot.BaseURL == "" {
		c.HubSpot.BaseURL = "https://api.hubapi.com"
	}
	if c.Notion.BaseURL == "" {
		c.Notion.BaseURL = "https://api.notion.com"
	}
	if c.Notion.APIVersion == "" {
		c.Notion.APIVersion = "2022-06-28"
	}
	if c.Slack.BaseURL == "" {
		c.Slack.BaseURL = "https://slack.com"
	}
	if c.Slack.Channel == "" {
		return errors.New("slack.channel is missing")
	}
	if c.Slack.Mention == "" {
		c.Slack.Mention = "<!channel>"
	}

	// Secrets
	s := &c.Secrets
	if s.HubSpotToken == "" {
		s.HubSpotToken = "HUBSPOT_API_TOKEN"
	}
	if s.NotionKey == "" {
		s.NotionKey = "NOTION_API_KEY"
	}
	if s.NotionDatabaseID == "" {
		s.NotionDatabaseID = "NOTION_DATABASE_ID"
	}
	if s.SlackToken == "" {
		s.SlackToken = "SLACK_BOT_TOKEN"
	}

	// Mappings
	c.Tables = mapping.Defaults()
	if c.Mappings.Owners != nil {
		c.Tables.Owners = c.Mappings.Owners
	}
	if c.Mappings.Assistants != nil {
		c.Tables.Assistants = c.Mappings.Assistants
	}
	if c.Mappings.Tiers != nil {
		c.Tables.Tiers = c.Mappings.Tiers
	}
	if c.Mappings.TiersReverse != nil {
		c.Tables.TiersReverse = c.Mappings.TiersReverse
	}
	// No default: user ids belong to one workspace.
	c.PMUserIDs = c.Mappings.PMUserIDs
	if c.PMUserIDs == nil {
		c.PMUserIDs = map[string]string{}
	}

	// Schedule
	sc := &c.Schedule
	if sc.DailySyncHour == nil {
		sc.DailySyncHour = intPtr(9)
	}
	if sc.WeeklySummaryHour == nil {
		sc.WeeklySummaryHour = intPtr(9)
	}
	if *sc.DailySyncHour < 0 || *sc.DailySyncHour > 23 {
		return fmt.Errorf("schedule.daily_sync_hour %d out of range 0-23", *sc.DailySyncHour)
	}
	if *sc.WeeklySummaryHour < 0 || *sc.WeeklySummaryHour > 23 {
		return fmt.Errorf("schedule.weekly_summary_hour %d out of range 0-23", *sc.WeeklySummaryHour)
	}
	if sc.WeeklySummaryWeekday == "" {
		sc.WeeklySummaryWeekday = "monday"
	}
	day, ok := weekdays[strings.ToLower(sc.WeeklySummaryWeekday)]
	if !ok {
		return fmt.Errorf("schedule.weekly_summary_weekday %q is not a weekday", sc.WeeklySummaryWeekday)
	}
	sc.WeeklySummaryDay = day

	return nil
}

func intPtr(i int) *int { return &i }

// Credentials holds the resolved secrets for one invocation. It is resolved once and
// passed to the clients that need it; it is never re-read during a pass.
type Credentials struct {
	HubSpotToken     string
	NotionKey        string
	NotionDatabaseID string
	SlackToken       string
}

// LookupFunc resolves a named secret, in the manner of os.LookupEnv.
type LookupFunc func(name string) (string, bool)

// ResolveCredentials reads every secret named in the configuration using lookup. The
// three sync secrets are required; the Slack token is only required by the summary
// and is checked there.
func (c *Config) ResolveCredentials(lookup LookupFunc) (Credentials, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}
	creds := Credentials{
		HubSpotToken:     get(c.Secrets.HubSpotToken),
		NotionKey:        get(c.Secrets.NotionKey),
		NotionDatabaseID: get(c.Secrets.NotionDatabaseID),
		SlackToken:       get(c.Secrets.SlackToken),
	}
	var missing []string
	if creds.HubSpotToken == "" {
		missing = append(missing, c.Secrets.HubSpotToken)
	}
	if creds.NotionKey == "" {
		missing = append(missing, c.Secrets.NotionKey)
	}
	if creds.NotionDatabaseID == "" {
		missing = append(missing, c.Secrets.NotionDatabaseID)
	}
	if len(missing) > 0 {
		return creds, fmt.Errorf("%w: %s", ErrMissingSecret, strings.Join(missing, ", "))
	}
	return creds, nil
}

// Package config populates the run plan from environment variables.
// There are no runtime flags: scheduled runs are configured entirely by
// environment, with a .env file honored for local use.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fluwatch/snapshot-etl/internal/domain"
)

// Supported observation sources.
const (
	SourceCovidcast  = "covidcast"
	SourceHealthData = "healthdata"
)

// Config holds all run settings, populated from environment variables.
type Config struct {
	LogLevel  string
	LogFormat string

	OutputDir  string
	Source     string
	Pathogen   domain.Pathogen
	Targets    []string
	Locations  []string
	Resolution domain.Resolution
	Missing    domain.MissingPolicy

	// LatestOnly generates only today's vintage; when false every
	// epi-week end since StartDate is regenerated.
	LatestOnly bool
	StartDate  time.Time

	HTTPTimeout   time.Duration
	DelphiBaseURL string
	DelphiAPIKey  string
	HealthDataURL string
	LocationsURL  string

	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	PushgatewayURL string
	ModelsFile     string
}

// Load reads configuration from the environment (and a .env file when
// present), applying defaults and validating enum values.
func Load() (*Config, error) {
	// Missing .env is the normal case on CI.
	_ = godotenv.Load()

	startDate, err := parseDate(envOrDefault("START_DATE", "2020-02-01"))
	if err != nil {
		return nil, fmt.Errorf("invalid START_DATE: %w", err)
	}

	httpTimeout, err := time.ParseDuration(envOrDefault("HTTP_TIMEOUT", "60s"))
	if err != nil || httpTimeout <= 0 {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT")
	}

	cfg := &Config{
		LogLevel:  envOrDefault("LOG_LEVEL", "info"),
		LogFormat: envOrDefault("LOG_FORMAT", "json"),

		OutputDir:  envOrDefault("OUTPUT_DIR", "data"),
		Source:     envOrDefault("SOURCE", SourceCovidcast),
		Pathogen:   domain.Pathogen(envOrDefault("PATHOGEN", string(domain.PathogenInfluenza))),
		Targets:    splitList(envOrDefault("TARGETS", "hosp")),
		Locations:  splitList(envOrDefault("LOCATIONS", "*")),
		Resolution: domain.Resolution(envOrDefault("RESOLUTION", string(domain.ResolutionWeekly))),
		Missing:    domain.MissingPolicy(envOrDefault("MISSING_POLICY", string(domain.MissingAsZero))),

		LatestOnly: envBool("LATEST_ONLY", true),
		StartDate:  startDate,

		HTTPTimeout:   httpTimeout,
		DelphiBaseURL: os.Getenv("DELPHI_BASE_URL"),
		DelphiAPIKey:  os.Getenv("DELPHI_API_KEY"),
		HealthDataURL: os.Getenv("HEALTHDATA_URL"),
		LocationsURL:  os.Getenv("LOCATIONS_URL"),

		KafkaEnabled: envBool("KAFKA_ENABLED", false),
		KafkaBrokers: splitList(envOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   envOrDefault("KAFKA_TOPIC", "snapshot-refreshes"),

		PushgatewayURL: os.Getenv("PUSHGATEWAY_URL"),
		ModelsFile:     os.Getenv("MODELS_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Source != SourceCovidcast && c.Source != SourceHealthData {
		return fmt.Errorf("%w: SOURCE %q (want %s or %s)",
			domain.ErrInvalidArgument, c.Source, SourceCovidcast, SourceHealthData)
	}
	if !c.Pathogen.Valid() {
		return fmt.Errorf("%w: PATHOGEN %q", domain.ErrInvalidArgument, c.Pathogen)
	}
	if !c.Resolution.Valid() {
		return fmt.Errorf("%w: RESOLUTION %q", domain.ErrInvalidArgument, c.Resolution)
	}
	if !c.Missing.Valid() {
		return fmt.Errorf("%w: MISSING_POLICY %q", domain.ErrInvalidArgument, c.Missing)
	}
	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: TARGETS is empty", domain.ErrInvalidArgument)
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("%w: LOCATIONS is empty", domain.ErrInvalidArgument)
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("%w: KAFKA_ENABLED is true but KAFKA_BROKERS is empty", domain.ErrInvalidArgument)
	}
	return nil
}

// Models returns the model descriptors for models.json: the contents of
// MODELS_FILE when set, otherwise a built-in default list.
func (c *Config) Models() ([]domain.Model, error) {
	if c.ModelsFile == "" {
		return defaultModels(), nil
	}
	data, err := os.ReadFile(c.ModelsFile)
	if err != nil {
		return nil, fmt.Errorf("read MODELS_FILE: %w", err)
	}
	var models []domain.Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse MODELS_FILE: %w", err)
	}
	return models, nil
}

func defaultModels() []domain.Model {
	return []domain.Model{
		{Name: "Flusight-ensemble", URL: "https://github.com/cdcepi/Flusight-forecast-data"},
		{Name: "Flusight-baseline", URL: "https://github.com/cdcepi/Flusight-forecast-data"},
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

// splitList parses a comma-separated list, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(domain.DateFormat, s, time.UTC)
}

package cfg

import (
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	if Version == "" {
		return "unknown"
	}
	return Version
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./bankmail.db" description:"Path to the SQLite database file"`

	// HTTP server configuration
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Scheduler configuration
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Account scheduler tick interval in seconds"`
	WorkerCount       int `long:"worker-count" env:"WORKER_COUNT" default:"3" description:"Number of workers per queue"`
	ParseBatchSize    int `long:"parse-batch-size" env:"PARSE_BATCH_SIZE" default:"100" description:"Maximum parse records enqueued per detector cycle"`

	// Job queue configuration
	LeaseDuration int `long:"lease-duration" env:"LEASE_DURATION" default:"1800" description:"Queue entry lease duration in seconds"`
	MaxAttempts   int `long:"max-attempts" env:"MAX_ATTEMPTS" default:"3" description:"Maximum attempts before a queue entry fails permanently"`

	// Import configuration
	LookbackDays     int `long:"lookback-days" env:"LOOKBACK_DAYS" default:"30" description:"Days to look back on an account's first import"`
	FetchTimeout     int `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"60" description:"Mailbox fetch timeout in seconds"`
	SuspendThreshold int `long:"suspend-threshold" env:"SUSPEND_THRESHOLD" default:"5" description:"Consecutive import errors before an account is suspended"`
	SuspendMinutes   int `long:"suspend-minutes" env:"SUSPEND_MINUTES" default:"120" description:"Suspension duration in minutes"`

	// Template engine configuration
	ConfidenceThreshold float64 `long:"confidence-threshold" env:"CONFIDENCE_THRESHOLD" default:"0.3" description:"Minimum extraction confidence to create a transaction"`
	MatchFloor          float64 `long:"match-floor" env:"MATCH_FLOOR" default:"0.5" description:"Minimum template match score during selection"`
	ValidationFloor     float64 `long:"validation-floor" env:"VALIDATION_FLOOR" default:"0.5" description:"Minimum success rate for a generated template to be persisted"`
	RetirementFloor     float64 `long:"retirement-floor" env:"RETIREMENT_FLOOR" default:"0.1" description:"Success rate below which templates are deactivated"`
	GenerationAttempts  int     `long:"generation-attempts" env:"GENERATION_ATTEMPTS" default:"3" description:"Maximum template generation attempts per source"`

	// Template synthesis collaborator
	SynthBaseURL string `long:"synth-base-url" env:"SYNTH_BASE_URL" default:"https://api.openai.com/v1" description:"Base URL of the template synthesis API"`
	SynthAPIKey  string `long:"synth-api-key" env:"SYNTH_API_KEY" description:"API key for the template synthesis API"`
	SynthModel   string `long:"synth-model" env:"SYNTH_MODEL" default:"gpt-4o-mini" description:"Model used for template synthesis"`

	// Source registry
	SourcesDir string `long:"sources-dir" env:"SOURCES_DIR" default:"./sources" description:"Directory containing bank source definition files"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/Costa_Rica)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:              raw.DBPath,
		Port:                raw.Port,
		APIAccessKey:        raw.APIAccessKey,
		SchedulerInterval:   raw.SchedulerInterval,
		WorkerCount:         raw.WorkerCount,
		ParseBatchSize:      raw.ParseBatchSize,
		LeaseDuration:       raw.LeaseDuration,
		MaxAttempts:         raw.MaxAttempts,
		LookbackDays:        raw.LookbackDays,
		FetchTimeout:        raw.FetchTimeout,
		SuspendThreshold:    raw.SuspendThreshold,
		SuspendMinutes:      raw.SuspendMinutes,
		ConfidenceThreshold: raw.ConfidenceThreshold,
		MatchFloor:          raw.MatchFloor,
		ValidationFloor:     raw.ValidationFloor,
		RetirementFloor:     raw.RetirementFloor,
		GenerationAttempts:  raw.GenerationAttempts,
		SynthBaseURL:        raw.SynthBaseURL,
		SynthAPIKey:         raw.SynthAPIKey,
		SynthModel:          raw.SynthModel,
		SourcesDir:          raw.SourcesDir,
		Timezone:            raw.Timezone,
		Debug:               raw.Debug,
		Version:             GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Used by tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}

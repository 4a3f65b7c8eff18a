package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port            int    // HTTP server port
	Env             string // development or production
	RequestLog      bool   // Emit one log line per request
	CORSAllowOrigin string // "*" or a single allowed origin

	// Rule database
	DataRoot     string // Directory holding categories.json, groups.json and technologies/
	TechDBSource string // "files" or "embedded"
	TechDBWatch  bool   // Reload the rule database when DataRoot changes
	MappingPath  string // Recommendation mapping (JSON or YAML)

	// Fetcher configuration
	FetchTimeout           time.Duration // Deadline shared by the page and all its sub-fetches
	MaxFetchBytes          int64         // Cap for the primary document
	MaxRedirects           int           // Maximum number of redirects to follow
	UserAgent              string        // User-Agent header sent upstream
	MaxExternalScripts     int           // Linked scripts fetched per page
	MaxExternalStylesheets int           // Linked stylesheets fetched per page
	MaxExternalBytesEach   int64         // Cap per linked resource
	MaxExternalBytesTotal  int64         // Shared budget for all linked resources
	ExternalConcurrency    int           // Workers fetching linked resources

	// Detection
	MinConfidence int  // Detections below this are dropped
	DebugSignals  bool // Attach a signal preview to raw reports

	// Admission control for /analyze
	MaxConcurrentAnalyses int
	MaxQueuedAnalyses     int

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string
	LogFile   string
}

// envBindings maps viper keys to the environment variables that set them
var envBindings = map[string][]string{
	"port":                     {"PORT"},
	"env":                      {"APP_ENV", "NODE_ENV"},
	"request_log":              {"REQUEST_LOG"},
	"cors_allow_origin":        {"CORS_ALLOW_ORIGIN"},
	"data_root":                {"DATA_ROOT"},
	"techdb_source":            {"TECHDB_SOURCE"},
	"techdb_watch":             {"TECHDB_WATCH"},
	"mapping_path":             {"MAPPING_PATH"},
	"fetch_timeout_ms":         {"FETCH_TIMEOUT_MS"},
	"max_fetch_bytes":          {"MAX_FETCH_BYTES"},
	"max_redirects":            {"MAX_REDIRECTS"},
	"user_agent":               {"USER_AGENT"},
	"max_external_scripts":     {"MAX_EXTERNAL_SCRIPTS"},
	"max_external_stylesheets": {"MAX_EXTERNAL_STYLESHEETS"},
	"max_external_bytes_each":  {"MAX_EXTERNAL_BYTES_EACH"},
	"max_external_bytes_total": {"MAX_EXTERNAL_BYTES_TOTAL"},
	"external_concurrency":     {"EXTERNAL_CONCURRENCY"},
	"min_confidence":           {"MIN_CONFIDENCE"},
	"debug_signals":            {"DEBUG_SIGNALS"},
	"max_concurrent_analyses":  {"MAX_CONCURRENT_ANALYSES"},
	"max_queued_analyses":      {"MAX_QUEUED_ANALYSES"},
	"log_level":                {"LOG_LEVEL"},
	"log_format":               {"LOG_FORMAT"},
	"log_output":               {"LOG_OUTPUT"},
	"log_file":                 {"LOG_FILE"},
}

// setDefaults registers the default value of every key
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3001)
	v.SetDefault("env", "development")
	v.SetDefault("request_log", false)
	v.SetDefault("cors_allow_origin", "*")
	v.SetDefault("data_root", "./data/vendor/webappanalyzer/src")
	v.SetDefault("techdb_source", "files")
	v.SetDefault("techdb_watch", false)
	v.SetDefault("mapping_path", "./data/alternatives/mapping.json")
	v.SetDefault("fetch_timeout_ms", 12000)
	v.SetDefault("max_fetch_bytes", 2_000_000)
	v.SetDefault("max_redirects", 5)
	v.SetDefault("user_agent", "stackprobe/1.0 (+tech detector)")
	v.SetDefault("max_external_scripts", 8)
	v.SetDefault("max_external_stylesheets", 8)
	v.SetDefault("max_external_bytes_each", 250_000)
	v.SetDefault("max_external_bytes_total", 800_000)
	v.SetDefault("external_concurrency", 4)
	v.SetDefault("min_confidence", 50)
	v.SetDefault("debug_signals", false)
	v.SetDefault("max_concurrent_analyses", 8)
	v.SetDefault("max_queued_analyses", 32)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_output", "stdout")
	v.SetDefault("log_file", "./logs/stackprobe.log")
}

// Load reads configuration from an optional .env file, an optional YAML file
// named by STACKPROBE_CONFIG, and environment variables, in increasing priority
func Load() (*Config, error) {
	// A missing .env is normal outside development
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if path := os.Getenv("STACKPROBE_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromViper copies resolved values into a Config
func fromViper(v *viper.Viper) *Config {
	dataRoot := v.GetString("data_root")
	if abs, err := filepath.Abs(dataRoot); err == nil {
		dataRoot = abs
	}

	return &Config{
		Port:            v.GetInt("port"),
		Env:             strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		RequestLog:      v.GetBool("request_log"),
		CORSAllowOrigin: strings.TrimSpace(v.GetString("cors_allow_origin")),

		DataRoot:     dataRoot,
		TechDBSource: strings.ToLower(strings.TrimSpace(v.GetString("techdb_source"))),
		TechDBWatch:  v.GetBool("techdb_watch"),
		MappingPath:  v.GetString("mapping_path"),

		FetchTimeout:           time.Duration(v.GetInt("fetch_timeout_ms")) * time.Millisecond,
		MaxFetchBytes:          v.GetInt64("max_fetch_bytes"),
		MaxRedirects:           v.GetInt("max_redirects"),
		UserAgent:              v.GetString("user_agent"),
		MaxExternalScripts:     v.GetInt("max_external_scripts"),
		MaxExternalStylesheets: v.GetInt("max_external_stylesheets"),
		MaxExternalBytesEach:   v.GetInt64("max_external_bytes_each"),
		MaxExternalBytesTotal:  v.GetInt64("max_external_bytes_total"),
		ExternalConcurrency:    v.GetInt("external_concurrency"),

		MinConfidence: v.GetInt("min_confidence"),
		DebugSignals:  v.GetBool("debug_signals"),

		MaxConcurrentAnalyses: v.GetInt("max_concurrent_analyses"),
		MaxQueuedAnalyses:     v.GetInt("max_queued_analyses"),

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogOutput: v.GetString("log_output"),
		LogFile:   v.GetString("log_file"),
	}
}

// Validate rejects values the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT out of range: %d", c.Port))
	}
	if c.FetchTimeout <= 0 {
		problems = append(problems, "FETCH_TIMEOUT_MS must be positive")
	}
	if c.MaxFetchBytes <= 0 {
		problems = append(problems, "MAX_FETCH_BYTES must be positive")
	}
	if c.MaxRedirects < 0 {
		problems = append(problems, "MAX_REDIRECTS must not be negative")
	}
	if c.ExternalConcurrency <= 0 {
		problems = append(problems, "EXTERNAL_CONCURRENCY must be positive")
	}
	if c.MaxExternalScripts < 0 || c.MaxExternalStylesheets < 0 {
		problems = append(problems, "external resource caps must not be negative")
	}
	if c.MaxExternalBytesEach < 0 || c.MaxExternalBytesTotal < 0 {
		problems = append(problems, "external byte budgets must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		problems = append(problems, "MIN_CONFIDENCE must be within 0..100")
	}
	if c.MaxConcurrentAnalyses <= 0 {
		problems = append(problems, "MAX_CONCURRENT_ANALYSES must be positive")
	}
	if c.MaxQueuedAnalyses < 0 {
		problems = append(problems, "MAX_QUEUED_ANALYSES must not be negative")
	}
	switch c.TechDBSource {
	case "files", "embedded":
	default:
		problems = append(problems, fmt.Sprintf("unknown TECHDB_SOURCE %q", c.TechDBSource))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsProduction reports whether internal error details must be hidden
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

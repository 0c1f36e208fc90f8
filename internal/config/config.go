package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of a run. Sources are applied in order:
// Default(), YAML file, .env file, process environment, then CLI flags.
type Config struct {
	// Remote API
	OpenWebUIURL   string            `yaml:"openwebui_url" env:"OPENWEBUI_URL"`
	APIBasePath    string            `yaml:"api_base_path" env:"OPENWEBUI_API_BASE_PATH"`
	APIKey         string            `yaml:"api_key" env:"OPENWEBUI_API_KEY"`
	CFClientID     string            `yaml:"cf_access_client_id" env:"CF_ACCESS_CLIENT_ID"`
	CFClientSecret string            `yaml:"cf_access_client_secret" env:"CF_ACCESS_CLIENT_SECRET"`
	ExtraHeaders   map[string]string `yaml:"extra_headers" env:"MODEL_UPDATER_EXTRA_HEADERS" envKeyValSeparator:"="`

	ListEndpoints   []string `yaml:"list_endpoints" env:"MODEL_UPDATER_LIST_ENDPOINTS" envSeparator:","`
	UpdateEndpoints []string `yaml:"update_endpoints" env:"MODEL_UPDATER_UPDATE_ENDPOINTS" envSeparator:","`
	UpdateMethod    string   `yaml:"update_method" env:"MODEL_UPDATER_UPDATE_METHOD"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MODEL_UPDATER_CONNECT_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"MODEL_UPDATER_REQUEST_TIMEOUT"`

	// Update rule
	SourceModel  string `yaml:"source_model" env:"MODEL_UPDATER_SOURCE_MODEL"`
	TargetModel  string `yaml:"target_model" env:"MODEL_UPDATER_TARGET_MODEL"`
	MatchAll     bool   `yaml:"match_all" env:"MODEL_UPDATER_MATCH_ALL"`
	FillRequired bool   `yaml:"fill_required" env:"MODEL_UPDATER_FILL_REQUIRED"`

	// Dispatch
	Sequential  bool `yaml:"sequential" env:"MODEL_UPDATER_SEQUENTIAL"`
	Concurrency int  `yaml:"concurrency" env:"MODEL_UPDATER_CONCURRENCY"`
	DryRun      bool `yaml:"dry_run" env:"MODEL_UPDATER_DRY_RUN"`

	// Output / observability
	SummaryFormat  string `yaml:"summary_format" env:"MODEL_UPDATER_SUMMARY_FORMAT"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"LOG_FORMAT"`
	Environment    string `yaml:"environment" env:"ENVIRONMENT"`
	PushgatewayURL string `yaml:"pushgateway_url" env:"PUSHGATEWAY_URL"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders    string `yaml:"otlp_headers" env:"OTEL_EXPORTER_OTLP_HEADERS"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		OpenWebUIURL:   "http://localhost:8080",
		APIBasePath:    "/api/v1",
		UpdateMethod:   "POST",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		FillRequired:   true,
		Concurrency:    5,
		SummaryFormat:  "text",
		LogLevel:       "info",
		LogFormat:      "console",
		Environment:    "development",
	}
}

// Load builds a Config from defaults, the optional YAML file, the optional
// dotenv file and the environment. Missing dotenv files are ignored unless
// explicitly requested.
func Load(configFile, envFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := cfg.mergeYAML(configFile); err != nil {
			return nil, err
		}
	}

	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) mergeYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func loadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return fmt.Errorf("env file: %w", err)
		}
		return nil
	}
	// godotenv.Load never overrides variables already set in the process
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	c.OpenWebUIURL = strings.TrimRight(strings.TrimSpace(c.OpenWebUIURL), "/")
	c.UpdateMethod = strings.ToUpper(strings.TrimSpace(c.UpdateMethod))
	c.SummaryFormat = strings.ToLower(strings.TrimSpace(c.SummaryFormat))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.SourceModel = strings.TrimSpace(c.SourceModel)
	c.TargetModel = strings.TrimSpace(c.TargetModel)
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	c.normalize()

	var errs []error
	if _, err := url.ParseRequestURI(c.OpenWebUIURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid OPENWEBUI_URL: %w", err))
	}
	switch c.UpdateMethod {
	case "POST", "PUT", "PATCH":
	default:
		errs = append(errs, fmt.Errorf("update method must be POST, PUT or PATCH, got %q", c.UpdateMethod))
	}
	if c.ConnectTimeout <= 0 || c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ValidateUpdate checks the settings the update command needs on top of Validate.
func (c *Config) ValidateUpdate() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("an API key is required (OPENWEBUI_API_KEY or --api-key)"))
	}
	if c.TargetModel == "" {
		errs = append(errs, errors.New("a replacement base model is required (--to)"))
	}
	if c.SourceModel == "" && !c.MatchAll {
		errs = append(errs, errors.New("a deprecated base model is required (--from) unless --all is set"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	switch c.SummaryFormat {
	case "text", "json", "yaml":
	default:
		errs = append(errs, fmt.Errorf("summary format must be text, json or yaml, got %q", c.SummaryFormat))
	}
	return errors.Join(errs...)
}

// ServiceHeaders returns the static service-auth headers to send with every request.
func (c *Config) ServiceHeaders() map[string]string {
	headers := make(map[string]string, len(c.ExtraHeaders)+2)
	for k, v := range c.ExtraHeaders {
		headers[k] = v
	}
	if c.CFClientID != "" && c.CFClientSecret != "" {
		headers["CF-Access-Client-Id"] = c.CFClientID
		headers["CF-Access-Client-Secret"] = c.CFClientSecret
	}
	return headers
}

// ParseHeader splits a "Name=Value" or "Name: Value" flag value.
func ParseHeader(raw string) (string, string, error) {
	sep := strings.IndexAny(raw, "=:")
	if sep <= 0 {
		return "", "", fmt.Errorf("header %q must look like Name=Value", raw)
	}
	name := strings.TrimSpace(raw[:sep])
	value := strings.TrimSpace(raw[sep+1:])
	if name == "" || value == "" {
		return "", "", fmt.Errorf("header %q must look like Name=Value", raw)
	}
	return name, value, nil
}

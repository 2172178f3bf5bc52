// Package config loads the evaluation configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ogulcanaydogan/medcert/internal/errs"
	"github.com/ogulcanaydogan/medcert/internal/policy"
	"gopkg.in/yaml.v3"
)

// Endpoint call shapes.
const (
	EndpointGeneric = "generic"
	EndpointBatch   = "batch"
	EndpointCustom  = "custom"
)

type Config struct {
	Endpoint       EndpointConfig     `yaml:"endpoint"`
	Benchmark      BenchmarkConfig    `yaml:"benchmark"`
	Safety         SafetyConfig       `yaml:"safety"`
	Thresholds     *policy.Thresholds `yaml:"thresholds,omitempty"`
	ThresholdsPath string             `yaml:"thresholds_path,omitempty"`
	Report         ReportConfig       `yaml:"report"`
	ObjectStore    ObjectStoreConfig  `yaml:"object_store"`
	Log            LogConfig          `yaml:"log"`
}

type EndpointConfig struct {
	URL          string        `yaml:"url" validate:"omitempty,url"`
	Type         string        `yaml:"type" validate:"oneof=generic batch custom"`
	APIKey       string        `yaml:"api_key,omitempty"`
	APIKeyEnv    string        `yaml:"api_key_env,omitempty"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxWorkers   int           `yaml:"max_workers" validate:"gte=1"`
	Parallel     bool          `yaml:"parallel"`
	// RequestDelay paces sequential calls; zero disables pacing.
	RequestDelay time.Duration `yaml:"request_delay" validate:"gte=0"`
}

type BenchmarkConfig struct {
	Path     string `yaml:"path"`
	Format   string `yaml:"format" validate:"oneof=jsonl json"`
	MaxCases int    `yaml:"max_cases" validate:"gte=0"`
	TaskType string `yaml:"task_type" validate:"oneof=classification generation general"`
	Domain   string `yaml:"domain"`
}

type SafetyConfig struct {
	EnableSafetyCheck        bool     `yaml:"enable_safety_check"`
	EnableHallucinationCheck bool     `yaml:"enable_hallucination_check"`
	Keywords                 []string `yaml:"keywords,omitempty" validate:"dive,required"`
	Patterns                 []string `yaml:"patterns,omitempty" validate:"dive,required"`
}

type ReportConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats" validate:"dive,oneof=json md pdf"`
	UploadURI string   `yaml:"upload_uri,omitempty" validate:"omitempty,startswith=s3://"`
	Generator string   `yaml:"generator,omitempty"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	Secure    bool   `yaml:"secure"`
}

// Configured reports whether enough is set to build a client.
func (o ObjectStoreConfig) Configured() bool {
	return o.Endpoint != "" && o.AccessKey != "" && o.SecretKey != ""
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// Default returns the configuration used when a file omits a value.
func Default() Config {
	return Config{
		Endpoint: EndpointConfig{
			Type:         EndpointGeneric,
			APIKeyEnv:    "MODEL_API_KEY",
			Timeout:      30 * time.Second,
			MaxWorkers:   5,
			Parallel:     true,
			RequestDelay: 100 * time.Millisecond,
		},
		Benchmark: BenchmarkConfig{
			Format:   "jsonl",
			TaskType: "classification",
			Domain:   "general",
		},
		Safety: SafetyConfig{
			EnableSafetyCheck:        true,
			EnableHallucinationCheck: true,
		},
		Report: ReportConfig{
			OutputDir: "reports",
			Formats:   []string{"json", "md", "pdf"},
			Generator: "medcert",
		},
		ObjectStore: ObjectStoreConfig{Region: "us-east-1", Secure: true},
		Log:         LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path on top of the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errs.NotFound("load config", "config file %s not found", path)
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errs.Configuration("load config", "parse %s: %v", path, err)
	}
	if cfg.Thresholds != nil {
		// Inline tables overlay the defaults the same way a thresholds file does.
		var inline struct {
			Thresholds yaml.Node `yaml:"thresholds"`
		}
		if err := yaml.Unmarshal(raw, &inline); err != nil {
			return Config{}, errs.Configuration("load config", "parse %s: %v", path, err)
		}
		body, err := yaml.Marshal(&inline.Thresholds)
		if err != nil {
			return Config{}, errs.Configuration("load config", "thresholds: %v", err)
		}
		t, err := policy.ParseThresholds(body)
		if err != nil {
			return Config{}, err
		}
		cfg.Thresholds = &t
	}
	return cfg, nil
}

// ApplyEnv overlays the deployment environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Endpoint.URL, "MODEL_ENDPOINT_URL")
	set(&c.Endpoint.Type, "MODEL_ENDPOINT_TYPE")
	set(&c.Endpoint.APIKey, "MODEL_API_KEY")
	set(&c.Benchmark.Path, "TEST_DATA_PATH")
	set(&c.Log.Level, "LOG_LEVEL")
	set(&c.ObjectStore.Endpoint, "MEDCERT_S3_ENDPOINT")
	set(&c.ObjectStore.AccessKey, "MEDCERT_S3_ACCESS_KEY")
	set(&c.ObjectStore.SecretKey, "MEDCERT_S3_SECRET_KEY")
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// ResolveAPIKey returns the configured key, falling back to the named variable.
func (e EndpointConfig) ResolveAPIKey(getenv func(string) string) string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv == "" {
		return ""
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	return getenv(e.APIKeyEnv)
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errs.Configuration("validate config", "%s", strings.Join(msgs, "; "))
		}
		return errs.Configuration("validate config", "%v", err)
	}
	if c.Thresholds != nil {
		if err := c.Thresholds.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateForRun additionally requires what a pipeline run cannot do without.
func (c Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Endpoint.URL == "" {
		return errs.Configuration("validate config", "model endpoint url is required")
	}
	if c.Benchmark.Path == "" {
		return errs.Configuration("validate config", "benchmark path is required")
	}
	return nil
}

// ResolveThresholds returns the thresholds file if one is named, the inline
// table if present, and the defaults otherwise.
func (c Config) ResolveThresholds() (policy.Thresholds, error) {
	if c.ThresholdsPath != "" {
		return policy.LoadThresholds(c.ThresholdsPath)
	}
	if c.Thresholds != nil {
		return *c.Thresholds, nil
	}
	return policy.Default(), nil
}

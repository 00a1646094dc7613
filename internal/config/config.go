// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingCredentials is returned when a stage needs credentials that were
// not configured.
var ErrMissingCredentials = errors.New("missing credentials")

// Defaults.
const (
	DefaultUmbrellaAPIURL      = "https://api.umbrella.com"
	DefaultUmbrellaTokenURL    = "https://api.umbrella.com/auth/v2/token"
	DefaultDefenderAPIURL      = "https://api.security.microsoft.com"
	DefaultDefenderLoginURL    = "https://login.microsoftonline.com"
	DefaultDefenderScope       = "https://api.security.microsoft.com/.default"
	DefaultDefenderConcurrency = 1
	DefaultDefenderRatePerMin  = 45
	DefaultRequestTimeout      = 60
	DefaultS3Prefix            = "destlist-cleanup"
	DefaultOutputDir           = "."
	DefaultLogDir              = "/tmp"
	DefaultLogName             = "destlist-cleanup"
	DefaultConfigFile          = "cleanup-config.yaml"
	DefaultEnvFile             = ".env"
)

// Config holds all configuration for the cleanup tool.
type Config struct {
	// Umbrella
	UmbrellaClientID     string
	UmbrellaClientSecret string
	UmbrellaSecretName   string // AWS Secrets Manager secret holding client_id/client_secret
	UmbrellaAPIURL       string
	UmbrellaTokenURL     string

	// Defender
	DefenderTenantID     string
	DefenderClientID     string
	DefenderClientSecret string
	DefenderSecretName   string // AWS Secrets Manager secret holding tenant_id/client_id/client_secret
	DefenderAPIURL       string
	DefenderLoginURL     string
	DefenderScope        string
	DefenderConcurrency  int // Default: 1
	DefenderRatePerMin   int // Default: 45

	// HTTP timeout per request (seconds)
	RequestTimeout int // Default: 60

	// AWS (secrets and optional artifact archive)
	AWSRegion  string
	S3Bucket   string // Empty disables the archive
	S3Prefix   string
	S3Endpoint string

	// Output
	OutputDir       string
	MetricsTextfile string // Empty disables the metrics textfile

	// Logging
	LogDir    string
	LogName   string
	LogDebug  bool
	LogStdout bool
}

// LoadConfig registers the common flags on fs, parses args and merges the
// result with the environment and the YAML config file. Callers register
// their own subcommand flags on fs before calling it.
// Priority: CLI flags > environment variables > YAML file > defaults
func LoadConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	// CLI flags
	umbrellaClientID := fs.String("umbrella-client-id", "", "Umbrella API client ID")
	umbrellaClientSecret := fs.String("umbrella-client-secret", "", "Umbrella API client secret")
	umbrellaSecret := fs.String("umbrella-secret", "", "AWS Secrets Manager secret with Umbrella credentials")
	umbrellaAPIURL := fs.String("umbrella-api-url", "", "Umbrella API base URL (default: "+DefaultUmbrellaAPIURL+")")
	umbrellaTokenURL := fs.String("umbrella-token-url", "", "Umbrella OAuth token URL (default: "+DefaultUmbrellaTokenURL+")")
	defenderTenantID := fs.String("defender-tenant-id", "", "Entra ID tenant for Defender")
	defenderClientID := fs.String("defender-client-id", "", "Defender API client ID")
	defenderClientSecret := fs.String("defender-client-secret", "", "Defender API client secret")
	defenderSecret := fs.String("defender-secret", "", "AWS Secrets Manager secret with Defender credentials")
	defenderAPIURL := fs.String("defender-api-url", "", "Defender API base URL (default: "+DefaultDefenderAPIURL+")")
	defenderLoginURL := fs.String("defender-login-url", "", "Entra ID login base URL (default: "+DefaultDefenderLoginURL+")")
	defenderConcurrency := fs.Int("defender-concurrency", 0, "Parallel Defender lookups (default: 1)")
	defenderRate := fs.Int("defender-rate", 0, "Defender queries per minute (default: 45)")
	requestTimeout := fs.Int("request-timeout", 0, "HTTP request timeout in seconds (default: 60)")
	awsRegion := fs.String("aws-region", "", "AWS region for Secrets Manager and S3")
	s3Bucket := fs.String("s3-bucket", "", "S3 bucket to archive stage files (optional)")
	s3Prefix := fs.String("s3-prefix", "", "S3 key prefix (default: "+DefaultS3Prefix+")")
	s3Endpoint := fs.String("s3-endpoint", "", "Custom S3 endpoint URL (optional)")
	outputDir := fs.String("output-dir", "", "Directory for exported files (default: .)")
	metricsFile := fs.String("metrics-file", "", "Write run metrics in Prometheus textfile format to this path (optional)")
	logDir := fs.String("log-dir", "", "Log directory (default: /tmp)")
	logName := fs.String("log-name", "", "Log file name without extension (default: destlist-cleanup)")
	logDebug := fs.Bool("debug", false, "Enable debug logging")
	logStdout := fs.Bool("log-stdout", false, "Log to stdout instead of a file")
	authFile := fs.String("auth-file", "", "Credentials file path (JSON with umbrella/defender client id and secret)")
	envFile := fs.String("env-file", DefaultEnvFile, "Dotenv file with credentials (default: .env)")
	configFile := fs.String("config-file", DefaultConfigFile, "Config file path (default: "+DefaultConfigFile+")")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load dotenv into the process environment; existing variables win
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	// Load from YAML file if it exists
	if *configFile != "" {
		if err := loadFromYAML(cfg, *configFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnv(cfg)

	// Override with CLI flags (highest priority)
	if *authFile != "" {
		if err := cfg.ReadAuthFile(*authFile); err != nil {
			return nil, fmt.Errorf("failed to read auth file: %w", err)
		}
	}
	setString(&cfg.UmbrellaClientID, *umbrellaClientID)
	setString(&cfg.UmbrellaClientSecret, *umbrellaClientSecret)
	setString(&cfg.UmbrellaSecretName, *umbrellaSecret)
	setString(&cfg.UmbrellaAPIURL, *umbrellaAPIURL)
	setString(&cfg.UmbrellaTokenURL, *umbrellaTokenURL)
	setString(&cfg.DefenderTenantID, *defenderTenantID)
	setString(&cfg.DefenderClientID, *defenderClientID)
	setString(&cfg.DefenderClientSecret, *defenderClientSecret)
	setString(&cfg.DefenderSecretName, *defenderSecret)
	setString(&cfg.DefenderAPIURL, *defenderAPIURL)
	setString(&cfg.DefenderLoginURL, *defenderLoginURL)
	if *defenderConcurrency > 0 {
		cfg.DefenderConcurrency = *defenderConcurrency
	}
	if *defenderRate > 0 {
		cfg.DefenderRatePerMin = *defenderRate
	}
	if *requestTimeout > 0 {
		cfg.RequestTimeout = *requestTimeout
	}
	setString(&cfg.AWSRegion, *awsRegion)
	setString(&cfg.S3Bucket, *s3Bucket)
	setString(&cfg.S3Prefix, *s3Prefix)
	setString(&cfg.S3Endpoint, *s3Endpoint)
	setString(&cfg.OutputDir, *outputDir)
	setString(&cfg.MetricsTextfile, *metricsFile)
	setString(&cfg.LogDir, *logDir)
	setString(&cfg.LogName, *logName)
	if *logDebug {
		cfg.LogDebug = true
	}
	if *logStdout {
		cfg.LogStdout = true
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func (c *Config) applyDefaults() {
	if c.UmbrellaAPIURL == "" {
		c.UmbrellaAPIURL = DefaultUmbrellaAPIURL
	}
	if c.UmbrellaTokenURL == "" {
		c.UmbrellaTokenURL = DefaultUmbrellaTokenURL
	}
	if c.DefenderAPIURL == "" {
		c.DefenderAPIURL = DefaultDefenderAPIURL
	}
	if c.DefenderLoginURL == "" {
		c.DefenderLoginURL = DefaultDefenderLoginURL
	}
	if c.DefenderScope == "" {
		c.DefenderScope = DefaultDefenderScope
	}
	if c.DefenderConcurrency == 0 {
		c.DefenderConcurrency = DefaultDefenderConcurrency
	}
	if c.DefenderRatePerMin == 0 {
		c.DefenderRatePerMin = DefaultDefenderRatePerMin
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.S3Prefix == "" {
		c.S3Prefix = DefaultS3Prefix
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.LogName == "" {
		c.LogName = DefaultLogName
	}
}

// Validate checks settings that must hold for every stage. Credentials are
// checked separately by RequireUmbrella and RequireDefender.
func (c *Config) Validate() error {
	if c.DefenderConcurrency < 1 {
		return fmt.Errorf("defender-concurrency must be positive, got %d", c.DefenderConcurrency)
	}
	if c.DefenderRatePerMin < 1 {
		return fmt.Errorf("defender-rate must be positive, got %d", c.DefenderRatePerMin)
	}
	if c.RequestTimeout < 1 {
		return fmt.Errorf("request-timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.S3Bucket != "" && c.AWSRegion == "" {
		return fmt.Errorf("aws-region is required when -s3-bucket is set")
	}
	if (c.UmbrellaSecretName != "" || c.DefenderSecretName != "") && c.AWSRegion == "" {
		return fmt.Errorf("aws-region is required when a Secrets Manager secret is set")
	}
	return nil
}

// RequireUmbrella returns ErrMissingCredentials unless Umbrella credentials
// are set.
func (c *Config) RequireUmbrella() error {
	if c.UmbrellaClientID == "" || c.UmbrellaClientSecret == "" {
		return fmt.Errorf("%w: Umbrella client id and secret are required", ErrMissingCredentials)
	}
	return nil
}

// RequireDefender returns ErrMissingCredentials unless Defender credentials
// are set.
func (c *Config) RequireDefender() error {
	if c.DefenderTenantID == "" || c.DefenderClientID == "" || c.DefenderClientSecret == "" {
		return fmt.Errorf("%w: Defender tenant id, client id and secret are required", ErrMissingCredentials)
	}
	return nil
}

// ArchiveEnabled reports whether stage files should be mirrored to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// loadFromYAML loads configuration from a YAML file.
func loadFromYAML(cfg *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}

	var yamlCfg struct {
		UmbrellaClientID     string `yaml:"umbrella_client_id"`
		UmbrellaClientSecret string `yaml:"umbrella_client_secret"`
		UmbrellaSecretName   string `yaml:"umbrella_secret"`
		UmbrellaAPIURL       string `yaml:"umbrella_api_url"`
		UmbrellaTokenURL     string `yaml:"umbrella_token_url"`
		DefenderTenantID     string `yaml:"defender_tenant_id"`
		DefenderClientID     string `yaml:"defender_client_id"`
		DefenderClientSecret string `yaml:"defender_client_secret"`
		DefenderSecretName   string `yaml:"defender_secret"`
		DefenderAPIURL       string `yaml:"defender_api_url"`
		DefenderLoginURL     string `yaml:"defender_login_url"`
		DefenderScope        string `yaml:"defender_scope"`
		DefenderConcurrency  int    `yaml:"defender_concurrency"`
		DefenderRatePerMin   int    `yaml:"defender_rate"`
		RequestTimeout       int    `yaml:"request_timeout"`
		AWSRegion            string `yaml:"aws_region"`
		S3Bucket             string `yaml:"s3_bucket"`
		S3Prefix             string `yaml:"s3_prefix"`
		S3Endpoint           string `yaml:"s3_endpoint"`
		OutputDir            string `yaml:"output_dir"`
		MetricsTextfile      string `yaml:"metrics_file"`
		LogDir               string `yaml:"log_dir"`
		LogName              string `yaml:"log_name"`
		LogDebug             bool   `yaml:"debug"`
		LogStdout            bool   `yaml:"log_stdout"`
	}

	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return err
	}

	setString(&cfg.UmbrellaClientID, yamlCfg.UmbrellaClientID)
	setString(&cfg.UmbrellaClientSecret, yamlCfg.UmbrellaClientSecret)
	setString(&cfg.UmbrellaSecretName, yamlCfg.UmbrellaSecretName)
	setString(&cfg.UmbrellaAPIURL, yamlCfg.UmbrellaAPIURL)
	setString(&cfg.UmbrellaTokenURL, yamlCfg.UmbrellaTokenURL)
	setString(&cfg.DefenderTenantID, yamlCfg.DefenderTenantID)
	setString(&cfg.DefenderClientID, yamlCfg.DefenderClientID)
	setString(&cfg.DefenderClientSecret, yamlCfg.DefenderClientSecret)
	setString(&cfg.DefenderSecretName, yamlCfg.DefenderSecretName)
	setString(&cfg.DefenderAPIURL, yamlCfg.DefenderAPIURL)
	setString(&cfg.DefenderLoginURL, yamlCfg.DefenderLoginURL)
	setString(&cfg.DefenderScope, yamlCfg.DefenderScope)
	if yamlCfg.DefenderConcurrency > 0 {
		cfg.DefenderConcurrency = yamlCfg.DefenderConcurrency
	}
	if yamlCfg.DefenderRatePerMin > 0 {
		cfg.DefenderRatePerMin = yamlCfg.DefenderRatePerMin
	}
	if yamlCfg.RequestTimeout > 0 {
		cfg.RequestTimeout = yamlCfg.RequestTimeout
	}
	setString(&cfg.AWSRegion, yamlCfg.AWSRegion)
	setString(&cfg.S3Bucket, yamlCfg.S3Bucket)
	setString(&cfg.S3Prefix, yamlCfg.S3Prefix)
	setString(&cfg.S3Endpoint, yamlCfg.S3Endpoint)
	setString(&cfg.OutputDir, yamlCfg.OutputDir)
	setString(&cfg.MetricsTextfile, yamlCfg.MetricsTextfile)
	setString(&cfg.LogDir, yamlCfg.LogDir)
	setString(&cfg.LogName, yamlCfg.LogName)
	cfg.LogDebug = yamlCfg.LogDebug
	cfg.LogStdout = yamlCfg.LogStdout

	return nil
}

// loadFromEnv loads configuration from environment variables. The credential
// variables keep the names used by existing .env files.
func loadFromEnv(cfg *Config) {
	envString(&cfg.UmbrellaClientID, "UMBRELLA_CLIENT_ID")
	envString(&cfg.UmbrellaClientSecret, "UMBRELLA_CLIENT_SECRET")
	envString(&cfg.UmbrellaSecretName, "DESTLIST_CLEANUP_UMBRELLA_SECRET")
	envString(&cfg.UmbrellaAPIURL, "DESTLIST_CLEANUP_UMBRELLA_API_URL")
	envString(&cfg.UmbrellaTokenURL, "DESTLIST_CLEANUP_UMBRELLA_TOKEN_URL")
	envString(&cfg.DefenderTenantID, "DEFENDER_TENANT_ID")
	envString(&cfg.DefenderClientID, "DEFENDER_CLIENT_ID")
	envString(&cfg.DefenderClientSecret, "DEFENDER_CLIENT_SECRET")
	envString(&cfg.DefenderSecretName, "DESTLIST_CLEANUP_DEFENDER_SECRET")
	envString(&cfg.DefenderAPIURL, "DESTLIST_CLEANUP_DEFENDER_API_URL")
	envString(&cfg.DefenderLoginURL, "DESTLIST_CLEANUP_DEFENDER_LOGIN_URL")
	envString(&cfg.DefenderScope, "DESTLIST_CLEANUP_DEFENDER_SCOPE")
	envInt(&cfg.DefenderConcurrency, "DESTLIST_CLEANUP_DEFENDER_CONCURRENCY")
	envInt(&cfg.DefenderRatePerMin, "DESTLIST_CLEANUP_DEFENDER_RATE")
	envInt(&cfg.RequestTimeout, "DESTLIST_CLEANUP_REQUEST_TIMEOUT")
	envString(&cfg.AWSRegion, "DESTLIST_CLEANUP_AWS_REGION")
	envString(&cfg.S3Bucket, "DESTLIST_CLEANUP_S3_BUCKET")
	envString(&cfg.S3Prefix, "DESTLIST_CLEANUP_S3_PREFIX")
	envString(&cfg.S3Endpoint, "DESTLIST_CLEANUP_S3_ENDPOINT")
	envString(&cfg.OutputDir, "DESTLIST_CLEANUP_OUTPUT_DIR")
	envString(&cfg.MetricsTextfile, "DESTLIST_CLEANUP_METRICS_FILE")
	envString(&cfg.LogDir, "DESTLIST_CLEANUP_LOG_DIR")
	envString(&cfg.LogName, "DESTLIST_CLEANUP_LOG_NAME")
	if val := os.Getenv("DESTLIST_CLEANUP_DEBUG"); val != "" {
		cfg.LogDebug = (val == "true" || val == "1")
	}
	if val := os.Getenv("DESTLIST_CLEANUP_LOG_STDOUT"); val != "" {
		cfg.LogStdout = (val == "true" || val == "1")
	}
}

func envString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envInt(dst *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

// ReadAuthFile reads API credentials from an auth file (JSON format). Only
// the keys present in the file are applied.
func (c *Config) ReadAuthFile(authFile string) error {
	if authFile == "" {
		return nil
	}

	data, err := os.ReadFile(authFile)
	if err != nil {
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	var auth struct {
		UmbrellaClientID     string `json:"umbrella_client_id"`
		UmbrellaClientSecret string `json:"umbrella_client_secret"`
		DefenderTenantID     string `json:"defender_tenant_id"`
		DefenderClientID     string `json:"defender_client_id"`
		DefenderClientSecret string `json:"defender_client_secret"`
	}

	if err := json.Unmarshal(data, &auth); err != nil {
		return fmt.Errorf("failed to parse auth file: %w", err)
	}

	setString(&c.UmbrellaClientID, auth.UmbrellaClientID)
	setString(&c.UmbrellaClientSecret, auth.UmbrellaClientSecret)
	setString(&c.DefenderTenantID, auth.DefenderTenantID)
	setString(&c.DefenderClientID, auth.DefenderClientID)
	setString(&c.DefenderClientSecret, auth.DefenderClientSecret)
	return nil
}

// Package config provides configuration management for the VNF manager.
// It loads configuration from YAML files and environment variables using Viper,
// applies defaults and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/piwi3910/vnfm/internal/models"
)

// NFVO modes.
const (
	// NFVOModeLocal grants every request in-process.
	NFVOModeLocal = "local"

	// NFVOModeExternal sends grant requests to an external NFVO.
	NFVOModeExternal = "external"
)

// Config represents the complete configuration for the VNF manager.
//
// Configuration can be loaded from:
//   - YAML file (config/config.yaml)
//   - Environment variables (prefixed with VNFM_)
//
// Example:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// Environment selects the logger preset: development, test, staging
	// or production.
	Environment string `mapstructure:"environment"`

	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	TLS           TLSConfig           `mapstructure:"tls"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Security      SecurityConfig      `mapstructure:"security"`
	Validation    ValidationConfig    `mapstructure:"validation"`
	LCM           LCMConfig           `mapstructure:"lcm"`
	NFVO          NFVOConfig          `mapstructure:"nfvo"`
	Coordination  CoordinationConfig  `mapstructure:"coordination"`
	VnfPkg        VnfPkgConfig        `mapstructure:"vnfpkg"`
	MgmtDriver    MgmtDriverConfig    `mapstructure:"mgmt_driver"`
	Infra         InfraConfig         `mapstructure:"infra"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Autoheal      AutohealConfig      `mapstructure:"autoheal"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the network interface to bind to (e.g., "0.0.0.0", "localhost")
	Host string `mapstructure:"host"`

	// Port is the HTTP server port (default: 9890)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// GinMode sets the Gin framework mode ("debug", "release", "test")
	GinMode string `mapstructure:"gin_mode"`
}

// RedisConfig contains Redis client configuration.
type RedisConfig struct {
	// Mode specifies Redis deployment mode: "standalone" or "sentinel"
	Mode string `mapstructure:"mode"`

	// Addresses contains Redis server addresses
	Addresses []string `mapstructure:"addresses"`

	// MasterName is required for Sentinel mode (e.g., "mymaster")
	MasterName string `mapstructure:"master_name"`

	// Password for Redis authentication (optional)
	Password string `mapstructure:"password"`

	// DB is the Redis database number (0-15)
	DB int `mapstructure:"db"`

	// PoolSize is the maximum number of socket connections
	PoolSize int `mapstructure:"pool_size"`

	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int `mapstructure:"max_retries"`

	// DialTimeout is the timeout for establishing new connections
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the timeout for socket writes
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// TLSConfig contains TLS configuration for the HTTP server.
type TLSConfig struct {
	// Enabled enables TLS for the HTTP server
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the path to the TLS certificate file
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the path to the TLS private key file
	KeyFile string `mapstructure:"key_file"`

	// MinVersion is the minimum TLS version ("1.2", "1.3")
	MinVersion string `mapstructure:"min_version"`
}

// ObservabilityConfig contains logging and metrics configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level sets the log level ("debug", "info", "warn", "error", "fatal").
	// LOG_LEVEL in the environment takes precedence.
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables Prometheus metrics collection
	Enabled bool `mapstructure:"enabled"`

	// Path is the HTTP path for metrics endpoint (default: "/metrics")
	Path string `mapstructure:"path"`

	// Namespace is the Prometheus metrics namespace
	Namespace string `mapstructure:"namespace"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// EncryptionKey is the secret from which the at-rest encryption key for
	// credentials is derived. Empty disables encryption and is only
	// accepted in the development environment.
	EncryptionKey string `mapstructure:"encryption_key"`

	// EnableCORS enables CORS support
	EnableCORS bool `mapstructure:"enable_cors"`

	// AllowedOrigins is a list of allowed CORS origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedHeaders is the list of headers allowed in CORS requests
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// AllowedMethods is the list of methods allowed in CORS requests
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// Headers enables the security response headers
	Headers bool `mapstructure:"headers"`

	// HSTSMaxAge is the Strict-Transport-Security max-age in seconds,
	// sent only when TLS is enabled
	HSTSMaxAge int `mapstructure:"hsts_max_age"`

	// RateLimit configures API rate limiting
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig contains Redis-backed rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond and Burst limit each API client.
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	Burst             int `mapstructure:"burst"`

	// GlobalRequestsPerSecond and GlobalBurst limit the whole API.
	// Zero disables the global limit.
	GlobalRequestsPerSecond int `mapstructure:"global_requests_per_second"`
	GlobalBurst             int `mapstructure:"global_burst"`

	// Endpoints adds limits for single routes.
	Endpoints []EndpointRateLimit `mapstructure:"endpoints"`
}

// EndpointRateLimit limits one route, e.g. POST
// /vnflcm/v2/vnf_instances/:id/instantiate.
type EndpointRateLimit struct {
	Method            string `mapstructure:"method"`
	Path              string `mapstructure:"path"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	Burst             int    `mapstructure:"burst"`
}

// ValidationConfig contains OpenAPI request validation configuration.
type ValidationConfig struct {
	// Enabled enables OpenAPI request validation
	Enabled bool `mapstructure:"enabled"`

	// SpecPath is the path to a custom OpenAPI specification file
	// If empty, the embedded spec will be used
	SpecPath string `mapstructure:"spec_path"`

	// ValidateResponse logs responses that do not match the spec
	ValidateResponse bool `mapstructure:"validate_response"`

	// MaxBodySize is the largest accepted request body in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// LCMConfig contains settings of the lifecycle management core.
type LCMConfig struct {
	// Endpoint is the externally visible base URL used in _links.
	Endpoint string `mapstructure:"endpoint"`

	// LockTTL bounds how long a per-instance lock survives a dead holder.
	LockTTL time.Duration `mapstructure:"lock_ttl"`

	// TestCallbackURI enables the GET check of a callback on subscription.
	TestCallbackURI bool `mapstructure:"test_callback_uri"`

	// PageSize bounds list responses; 0 disables paging.
	PageSize int `mapstructure:"page_size"`
}

// AuthConfig describes how to authenticate to an outbound endpoint.
type AuthConfig struct {
	// Type is "", "BASIC" or "OAUTH2_CLIENT_CREDENTIALS".
	Type string `mapstructure:"type"`

	// Username and Password are used for BASIC.
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// ClientID, ClientSecret and TokenEndpoint are used for OAuth2.
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	TokenEndpoint string `mapstructure:"token_endpoint"`
}

// NFVOConfig contains grant authority configuration.
type NFVOConfig struct {
	// Mode is "local" or "external".
	Mode string `mapstructure:"mode"`

	// Endpoint is the NFVO API root, e.g. https://nfvo.example.com
	Endpoint string `mapstructure:"endpoint"`

	// Auth describes how to authenticate to the NFVO.
	Auth AuthConfig `mapstructure:"auth"`

	// Timeout is the HTTP client timeout per request.
	Timeout time.Duration `mapstructure:"timeout"`

	// DefaultRetryInterval is used when Retry-After is absent or malformed.
	DefaultRetryInterval time.Duration `mapstructure:"default_retry_interval"`

	// MaxRetryWait bounds the total time spent retrying 503 responses and polling.
	MaxRetryWait time.Duration `mapstructure:"max_retry_wait"`

	// Zones are the availability zones the local NFVO hands out.
	Zones []string `mapstructure:"zones"`
}

// CoordinationConfig contains coordination client configuration.
type CoordinationConfig struct {
	// Endpoint is the default coordination API root, used when a VDU
	// does not name its own. Empty disables coordination for such VDUs.
	Endpoint string `mapstructure:"endpoint"`

	// Auth describes how to authenticate to the default endpoint.
	Auth AuthConfig `mapstructure:"auth"`

	// Timeout bounds the total time of one coordination.
	Timeout time.Duration `mapstructure:"timeout"`

	// DefaultRetryInterval is used when Retry-After is absent or malformed.
	DefaultRetryInterval time.Duration `mapstructure:"default_retry_interval"`
}

// VnfPkgConfig contains VNF package catalog configuration.
type VnfPkgConfig struct {
	// CatalogDir holds one directory per VNF package, each with a vnfd.yaml.
	CatalogDir string `mapstructure:"catalog_dir"`
}

// MgmtDriverConfig contains lifecycle hook execution configuration.
type MgmtDriverConfig struct {
	// Timeout bounds one hook execution.
	Timeout time.Duration `mapstructure:"timeout"`
}

// InfraConfig contains infrastructure driver configuration.
type InfraConfig struct {
	// PollInterval is the status check interval of infra operations.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Timeout bounds one infra operation.
	Timeout time.Duration `mapstructure:"timeout"`

	// OpenStack enables the Heat driver.
	OpenStack OpenStackConfig `mapstructure:"openstack"`

	// Kubernetes enables the Kubernetes driver.
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`

	// Mock enables the in-memory driver (testing and demos).
	Mock bool `mapstructure:"mock"`
}

// OpenStackConfig contains OpenStack driver configuration.
type OpenStackConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Region is the default region when the VIM connection omits it.
	Region string `mapstructure:"region"`
}

// KubernetesConfig contains Kubernetes driver configuration.
type KubernetesConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// ConfigPath is the path to a kubeconfig file used when the VIM
	// connection carries no bearer token. Empty uses in-cluster config.
	ConfigPath string `mapstructure:"config_path"`

	// Namespace is the default namespace for VNFC pods.
	Namespace string `mapstructure:"namespace"`
}

// NotificationConfig contains notification delivery configuration.
type NotificationConfig struct {
	// Workers is the number of delivery goroutines.
	Workers int `mapstructure:"workers"`

	// Timeout is the HTTP timeout of one delivery.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRetries is the number of delivery attempts before giving up.
	MaxRetries int `mapstructure:"max_retries"`
}

// AutohealConfig contains server-notification auto-heal configuration.
type AutohealConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// TimerDuration is how long failures are collected before healing.
	TimerDuration time.Duration `mapstructure:"timer_duration"`
}

// Load loads configuration from the specified file path and environment variables.
// Environment variables override file values and should be prefixed with VNFM_
// (e.g., VNFM_SERVER_PORT=9890).
//
// Returns an error if the configuration file cannot be read or parsed.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vnfm")
	}

	v.SetEnvPrefix("VNFM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional if all values come from env vars
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9890)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_header_bytes", 1048576) // 1MB
	v.SetDefault("server.gin_mode", "release")

	// Redis defaults
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.min_version", "1.3")

	// Logging defaults
	v.SetDefault("observability.logging.level", "info")

	// Metrics defaults
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.metrics.namespace", "vnfm")

	// Security defaults
	v.SetDefault("security.encryption_key", "")
	v.SetDefault("security.enable_cors", false)
	v.SetDefault("security.allowed_headers", []string{"Authorization", "Content-Type", "Version", "Accept"})
	v.SetDefault("security.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("security.headers", true)
	v.SetDefault("security.hsts_max_age", 31536000)
	v.SetDefault("security.rate_limit.enabled", false)
	v.SetDefault("security.rate_limit.requests_per_second", 20)
	v.SetDefault("security.rate_limit.burst", 40)
	v.SetDefault("security.rate_limit.global_requests_per_second", 0)

	// Validation defaults
	v.SetDefault("validation.enabled", true)
	v.SetDefault("validation.spec_path", "")
	v.SetDefault("validation.validate_response", false)
	v.SetDefault("validation.max_body_size", 1048576)

	// LCM defaults
	v.SetDefault("lcm.endpoint", "http://127.0.0.1:9890")
	v.SetDefault("lcm.lock_ttl", "1h")
	v.SetDefault("lcm.test_callback_uri", true)
	v.SetDefault("lcm.page_size", 100)

	// NFVO defaults
	v.SetDefault("nfvo.mode", NFVOModeLocal)
	v.SetDefault("nfvo.endpoint", "")
	v.SetDefault("nfvo.auth.type", "")
	v.SetDefault("nfvo.timeout", "30s")
	v.SetDefault("nfvo.default_retry_interval", "5s")
	v.SetDefault("nfvo.max_retry_wait", "1h")

	// Coordination defaults
	v.SetDefault("coordination.endpoint", "")
	v.SetDefault("coordination.timeout", "1h")
	v.SetDefault("coordination.default_retry_interval", "5s")

	// VNF package defaults
	v.SetDefault("vnfpkg.catalog_dir", "/var/lib/vnfm/packages")

	// Mgmt driver defaults
	v.SetDefault("mgmt_driver.timeout", "45m")

	// Infra defaults
	v.SetDefault("infra.poll_interval", "5s")
	v.SetDefault("infra.timeout", "1h")
	v.SetDefault("infra.mock", false)
	v.SetDefault("infra.openstack.enabled", false)
	v.SetDefault("infra.openstack.region", "RegionOne")
	v.SetDefault("infra.kubernetes.enabled", false)
	v.SetDefault("infra.kubernetes.config_path", "")
	v.SetDefault("infra.kubernetes.namespace", "default")

	// Notification defaults
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.timeout", "20s")
	v.SetDefault("notification.max_retries", 3)

	// Autoheal defaults
	v.SetDefault("autoheal.enabled", false)
	v.SetDefault("autoheal.timer_duration", "20s")
}

// Validate validates the configuration and returns an error if any values are invalid.
// This should be called after Load() to ensure the configuration is valid before use.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateRedis,
		c.validateTLS,
		c.validateObservability,
		c.validateSecurity,
		c.validateLCM,
		c.validateNFVO,
		c.validateCoordination,
		c.validateInfra,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

// validateServer validates the server configuration.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.GinMode != "debug" && c.Server.GinMode != "release" && c.Server.GinMode != "test" {
		return fmt.Errorf("invalid gin_mode: %s (must be debug, release, or test)", c.Server.GinMode)
	}

	return nil
}

// validateRedis validates the Redis configuration.
func (c *Config) validateRedis() error {
	if c.Redis.Mode != "standalone" && c.Redis.Mode != "sentinel" {
		return fmt.Errorf("invalid redis mode: %s (must be standalone or sentinel)", c.Redis.Mode)
	}

	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("redis addresses cannot be empty")
	}

	if c.Redis.Mode == "sentinel" && c.Redis.MasterName == "" {
		return fmt.Errorf("redis master_name is required for sentinel mode")
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("invalid redis db: %d (must be 0-15)", c.Redis.DB)
	}

	return nil
}

// validateTLS validates the TLS configuration.
func (c *Config) validateTLS() error {
	if !c.TLS.Enabled {
		return nil
	}

	if c.TLS.CertFile == "" {
		return fmt.Errorf("tls cert_file is required when TLS is enabled")
	}

	if c.TLS.KeyFile == "" {
		return fmt.Errorf("tls key_file is required when TLS is enabled")
	}

	if _, err := os.Stat(c.TLS.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("tls cert_file does not exist: %s", c.TLS.CertFile)
	}

	if _, err := os.Stat(c.TLS.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("tls key_file does not exist: %s", c.TLS.KeyFile)
	}

	if c.TLS.MinVersion != "1.2" && c.TLS.MinVersion != "1.3" {
		return fmt.Errorf("invalid tls min_version: %s (must be 1.2 or 1.3)", c.TLS.MinVersion)
	}

	return nil
}

// validateObservability validates the logging and metrics configuration.
func (c *Config) validateObservability() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Observability.Logging.Level)
	}

	switch c.Environment {
	case "development", "test", "staging", "production":
	default:
		return fmt.Errorf("invalid environment: %s (must be development, test, staging, or production)", c.Environment)
	}

	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Path == "" {
		return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
	}

	return nil
}

// validateSecurity validates the encryption key and the rate limit
// configuration.
func (c *Config) validateSecurity() error {
	if c.Security.EncryptionKey == "" && c.Environment != "development" {
		return fmt.Errorf("security encryption_key is required in the %s environment", c.Environment)
	}

	rl := c.Security.RateLimit
	if !rl.Enabled {
		return nil
	}

	if rl.RequestsPerSecond < 0 || rl.Burst < 0 || rl.GlobalRequestsPerSecond < 0 || rl.GlobalBurst < 0 {
		return fmt.Errorf("rate limits cannot be negative")
	}

	for _, e := range rl.Endpoints {
		if e.Method == "" || e.Path == "" {
			return fmt.Errorf("rate limit endpoint needs method and path")
		}
		if e.RequestsPerSecond <= 0 {
			return fmt.Errorf("invalid rate limit for %s %s: %d requests per second", e.Method, e.Path, e.RequestsPerSecond)
		}
	}

	return nil
}

// validateLCM validates the lifecycle management configuration.
func (c *Config) validateLCM() error {
	if _, err := url.ParseRequestURI(c.LCM.Endpoint); err != nil {
		return fmt.Errorf("invalid lcm endpoint %q: %w", c.LCM.Endpoint, err)
	}

	if c.LCM.LockTTL < time.Second {
		return fmt.Errorf("invalid lcm lock_ttl: %s (must be >= 1s)", c.LCM.LockTTL)
	}

	if c.LCM.PageSize < 0 {
		return fmt.Errorf("invalid lcm page_size: %d", c.LCM.PageSize)
	}

	return nil
}

// validateNFVO validates the grant authority configuration.
func (c *Config) validateNFVO() error {
	switch c.NFVO.Mode {
	case NFVOModeLocal:
		return nil
	case NFVOModeExternal:
	default:
		return fmt.Errorf("invalid nfvo mode: %s (must be local or external)", c.NFVO.Mode)
	}

	if _, err := url.ParseRequestURI(c.NFVO.Endpoint); err != nil {
		return fmt.Errorf("invalid nfvo endpoint %q: %w", c.NFVO.Endpoint, err)
	}

	if c.NFVO.DefaultRetryInterval <= 0 {
		return fmt.Errorf("invalid nfvo default_retry_interval: %s (must be > 0)", c.NFVO.DefaultRetryInterval)
	}

	if c.NFVO.MaxRetryWait < c.NFVO.DefaultRetryInterval {
		return fmt.Errorf("nfvo max_retry_wait %s is shorter than default_retry_interval %s",
			c.NFVO.MaxRetryWait, c.NFVO.DefaultRetryInterval)
	}

	return validateAuth("nfvo", c.NFVO.Auth)
}

// validateCoordination validates the coordination client configuration.
func (c *Config) validateCoordination() error {
	if c.Coordination.DefaultRetryInterval <= 0 {
		return fmt.Errorf("invalid coordination default_retry_interval: %s (must be > 0)",
			c.Coordination.DefaultRetryInterval)
	}

	if c.Coordination.Timeout < c.Coordination.DefaultRetryInterval {
		return fmt.Errorf("coordination timeout %s is shorter than default_retry_interval %s",
			c.Coordination.Timeout, c.Coordination.DefaultRetryInterval)
	}

	if c.Coordination.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Coordination.Endpoint); err != nil {
			return fmt.Errorf("invalid coordination endpoint %q: %w", c.Coordination.Endpoint, err)
		}
	}

	return validateAuth("coordination", c.Coordination.Auth)
}

// validateInfra validates the infrastructure driver configuration.
func (c *Config) validateInfra() error {
	if !c.Infra.OpenStack.Enabled && !c.Infra.Kubernetes.Enabled && !c.Infra.Mock {
		return fmt.Errorf("at least one infra driver must be enabled")
	}

	if c.Infra.PollInterval <= 0 {
		return fmt.Errorf("invalid infra poll_interval: %s (must be > 0)", c.Infra.PollInterval)
	}

	if c.Infra.Timeout < c.Infra.PollInterval {
		return fmt.Errorf("infra timeout %s is shorter than poll_interval %s",
			c.Infra.Timeout, c.Infra.PollInterval)
	}

	return nil
}

// validateAuth validates an outbound authentication block.
func validateAuth(section string, a AuthConfig) error {
	switch a.Type {
	case "":
		return nil
	case "BASIC":
		if a.Username == "" {
			return fmt.Errorf("%s auth username is required for BASIC", section)
		}
	case "OAUTH2_CLIENT_CREDENTIALS":
		if a.ClientID == "" || a.TokenEndpoint == "" {
			return fmt.Errorf("%s auth client_id and token_endpoint are required for OAUTH2_CLIENT_CREDENTIALS", section)
		}
	default:
		return fmt.Errorf("unsupported %s auth type: %s", section, a.Type)
	}
	return nil
}

// Authentication converts the block into the SOL013 authentication form.
// Returns nil when no authentication is configured.
func (a AuthConfig) Authentication() *models.SubscriptionAuthentication {
	switch models.AuthType(a.Type) {
	case models.AuthBasic:
		return &models.SubscriptionAuthentication{
			AuthType:    []models.AuthType{models.AuthBasic},
			ParamsBasic: &models.ParamsBasic{UserName: a.Username, Password: a.Password},
		}
	case models.AuthOAuth2ClientCredentials:
		return &models.SubscriptionAuthentication{
			AuthType: []models.AuthType{models.AuthOAuth2ClientCredentials},
			ParamsOauth2ClientCredentials: &models.ParamsOauth2ClientCredentials{
				ClientID:       a.ClientID,
				ClientPassword: a.ClientSecret,
				TokenEndpoint:  a.TokenEndpoint,
			},
		}
	default:
		return nil
	}
}

// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	License            string `mapstructure:"license"`
	KeygenAccountID    string `mapstructure:"keygen_account_id"`
	KeygenProductToken string `mapstructure:"keygen_product_token"`
	KeygenProductID    string `mapstructure:"keygen_product_id"`

	PostgresURL  string `mapstructure:"postgres_url"`
	DebugLogging bool   `mapstructure:"debug_logging"`
	LogFile      string `mapstructure:"log_file"`
	MetricsAddr  string `mapstructure:"metrics_addr"`

	// Curve parameters for newly launched tokens.
	CurveProfileFile string `mapstructure:"curve_profile_file"`
	CurveProfile     string `mapstructure:"curve_profile"`

	// Factory settings.
	FactoryAuthority    string `mapstructure:"factory_authority"`
	PlatformTreasury    string `mapstructure:"platform_treasury"`
	CreationFeeLamports uint64 `mapstructure:"creation_fee_lamports"`

	// Trade execution.
	LockTimeoutMS   int `mapstructure:"lock_timeout_ms"`
	EventBufferSize int `mapstructure:"event_buffer_size"`

	// Chain reconciliation. An empty rpc_list disables the reconciler.
	RPCList              []string `mapstructure:"rpc_list"`
	ChainProgramID       string   `mapstructure:"chain_program_id"`
	ReconcileIntervalMS  int      `mapstructure:"reconcile_interval_ms"`
	ReconcileTolerance   uint64   `mapstructure:"reconcile_tolerance_lamports"`
	ReconcileAutoResync  bool     `mapstructure:"reconcile_auto_resync"`
	ReconcileWorkers     int      `mapstructure:"reconcile_workers"`
	ChainRetries         int      `mapstructure:"chain_retries"`
	ChainRetryDelayMS    int      `mapstructure:"chain_retry_delay_ms"`
	ChainRequestTimeoutS int      `mapstructure:"chain_request_timeout_s"`

	// Notification sinks; each is optional.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisChannel  string `mapstructure:"redis_channel"`
	AMQPURL       string `mapstructure:"amqp_url"`
	AMQPExchange  string `mapstructure:"amqp_exchange"`
	WebhookURL    string `mapstructure:"webhook_url"`

	// External DEX venue graduated tokens are routed to.
	GraduationVenue string `mapstructure:"graduation_venue"`
}

const (
	DefaultLockTimeoutMS       = 5000
	DefaultEventBufferSize     = 256
	DefaultReconcileIntervalMS = 30_000
	DefaultReconcileWorkers    = 5
	DefaultChainRetries        = 3
	DefaultChainRetryDelayMS   = 500
	DefaultChainRequestTimeout = 10
	DefaultMetricsAddr         = ":9091"
	DefaultRedisChannel        = "launchpad.events"
	DefaultAMQPExchange        = "launchpad.events"
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"lock_timeout_ms":         DefaultLockTimeoutMS,
		"event_buffer_size":       DefaultEventBufferSize,
		"reconcile_interval_ms":   DefaultReconcileIntervalMS,
		"reconcile_workers":       DefaultReconcileWorkers,
		"chain_retries":           DefaultChainRetries,
		"chain_retry_delay_ms":    DefaultChainRetryDelayMS,
		"chain_request_timeout_s": DefaultChainRequestTimeout,
		"metrics_addr":            DefaultMetricsAddr,
		"redis_channel":           DefaultRedisChannel,
		"amqp_exchange":           DefaultAMQPExchange,
		"curve_profile":           "pumpfun",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

// LockTimeout returns the per-token lock wait bound.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// ReconcileInterval returns the delay between reconciliation sweeps.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalMS) * time.Millisecond
}

// ChainRetryDelay returns the initial backoff delay for chain fetches.
func (c *Config) ChainRetryDelay() time.Duration {
	return time.Duration(c.ChainRetryDelayMS) * time.Millisecond
}

// ChainRequestTimeout returns the per-request timeout for chain fetches.
func (c *Config) ChainRequestTimeout() time.Duration {
	return time.Duration(c.ChainRequestTimeoutS) * time.Second
}

// ReconcileEnabled reports whether a chain mirror is configured.
func (c *Config) ReconcileEnabled() bool {
	return len(c.RPCList) > 0 && c.ChainProgramID != ""
}

func validateConfig(cfg *Config) error {
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if err := validateURLWithCache(cfg.PostgresURL, "postgres"); err != nil {
		return errors.New("invalid postgres URL protocol")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURLWithCache(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.WebhookURL != "" {
		if err := validateURLWithCache(cfg.WebhookURL, "https"); err != nil {
			return errors.New("webhook URL must use HTTPS")
		}
	}
	if cfg.AMQPURL != "" {
		if err := validateURLWithCache(cfg.AMQPURL, "amqp"); err != nil {
			return errors.New("invalid AMQP URL protocol")
		}
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.LockTimeoutMS <= 0 {
		return errors.New("invalid lock_timeout_ms")
	}
	if cfg.EventBufferSize <= 0 {
		return errors.New("invalid event_buffer_size")
	}
	if cfg.ReconcileIntervalMS <= 0 {
		return errors.New("invalid reconcile_interval_ms")
	}
	if cfg.ReconcileWorkers <= 0 {
		return errors.New("invalid reconcile_workers count")
	}
	if cfg.ChainRetries < 0 {
		return errors.New("invalid chain_retries count")
	}
	if cfg.ChainRetryDelayMS <= 0 {
		return errors.New("invalid chain_retry_delay_ms")
	}
	if cfg.ChainRequestTimeoutS <= 0 {
		return errors.New("invalid chain_request_timeout_s")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("LAUNCHPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envLicense := v.GetString("LICENSE"); envLicense != "" {
		cfg.License = envLicense
	}
	if envPostgres := v.GetString("POSTGRES_URL"); envPostgres != "" {
		cfg.PostgresURL = envPostgres
	}

	envRPCList := v.GetString("RPC_LIST")
	if envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}

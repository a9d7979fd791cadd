package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"chainpay/internal/models"
	"chainpay/internal/rpc"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel     string
	LogFormat    string
	ListenAddr   string
	PollInterval time.Duration
	Workers      int
	DealStore    string
	Notifier     string
	HTTP         HTTPConfig
	Kafka        KafkaConfig
	Database     DatabaseConfig
	Tracing      TracingConfig
	Policy       Policy
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	// Timeout bounds one endpoint attempt.
	Timeout time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type TracingConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Load loads configuration from a .env file, the environment and the
// optional chain policy file.
func Load() (*Config, error) {
	// a missing .env is fine, variables may be set externally
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "console"),
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		PollInterval: time.Duration(getEnvAsInt("POLL_INTERVAL", 60)) * time.Second,
		Workers:      getEnvAsInt("TRACKER_WORKERS", 16),
		DealStore:    strings.ToLower(getEnv("DEAL_STORE", "memory")),
		Notifier:     strings.ToLower(getEnv("NOTIFIER", "log")),
		HTTP: HTTPConfig{
			Timeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT", 8)) * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers: getEnvAsList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "chainpay-confirmations"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "chainpay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "chainpay"),
		},
		Policy: DefaultPolicy(),
	}

	if path := getEnv("CHAIN_POLICY_FILE", ""); path != "" {
		p, err := LoadPolicyFile(path, cfg.Policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = p
	}

	if enabled := getEnvAsList("ENABLED_CHAINS", nil); len(enabled) > 0 {
		kept := make(map[string]ChainPolicy, len(enabled))
		for _, name := range enabled {
			name = strings.ToLower(name)
			p, ok := cfg.Policy.Chains[name]
			if !ok {
				return nil, fmt.Errorf("ENABLED_CHAINS: %w: %s", models.ErrUnknownChain, name)
			}
			kept[name] = p
		}
		cfg.Policy.Chains = kept
	}

	for name, p := range cfg.Policy.Chains {
		p, err := applyEnv(name, p)
		if err != nil {
			return nil, err
		}
		cfg.Policy.Chains[name] = p
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies the per-chain variables <CHAIN>_RPC_ENDPOINTS,
// <CHAIN>_CONFIRMATIONS, <CHAIN>_RATE_LIMIT and <CHAIN>_GAS_MULTIPLIER.
func applyEnv(name string, p ChainPolicy) (ChainPolicy, error) {
	prefix := strings.ToUpper(name) + "_"

	if raw := getEnvAsList(prefix+"RPC_ENDPOINTS", nil); len(raw) > 0 {
		p.Endpoints = p.Endpoints[:0:0]
		for _, entry := range raw {
			p.Endpoints = append(p.Endpoints, parseEndpoint(entry))
		}
	}
	if n := getEnvAsInt(prefix+"CONFIRMATIONS", 0); n > 0 {
		p.Confirmations = uint64(n)
	}
	if r := getEnvAsFloat(prefix+"RATE_LIMIT", 0); r > 0 {
		p.RateLimit = r
	}
	if m := getEnv(prefix+"GAS_MULTIPLIER", ""); m != "" {
		if _, err := decimal.NewFromString(m); err != nil {
			return p, fmt.Errorf("%sGAS_MULTIPLIER: %w", prefix, err)
		}
		p.GasMultiplier = m
	}
	return p, nil
}

// parseEndpoint reads "url" or "provider=url".
func parseEndpoint(entry string) EndpointPolicy {
	if i := strings.Index(entry, "="); i > 0 && !strings.ContainsAny(entry[:i], ":/?") {
		return EndpointPolicy{Provider: entry[:i], URL: entry[i+1:]}
	}
	return EndpointPolicy{URL: entry}
}

func (c *Config) validate() error {
	switch c.DealStore {
	case "memory", "postgres":
	default:
		return fmt.Errorf("DEAL_STORE must be memory or postgres, got %q", c.DealStore)
	}
	switch c.Notifier {
	case "log", "kafka":
	default:
		return fmt.Errorf("NOTIFIER must be log or kafka, got %q", c.Notifier)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if len(c.Policy.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	for _, name := range c.chainNames() {
		if _, err := c.Policy.Chains[name].Chain(name); err != nil {
			return err
		}
	}
	return nil
}

// Registry builds the chain registry from the policy table.
func (c *Config) Registry() (models.Registry, error) {
	chains := make([]models.Chain, 0, len(c.Policy.Chains))
	for _, name := range c.chainNames() {
		chain, err := c.Policy.Chains[name].Chain(name)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return models.NewRegistry(chains...)
}

// EndpointSets builds the endpoint pool configuration.
func (c *Config) EndpointSets() ([]rpc.SetConfig, error) {
	sets := make([]rpc.SetConfig, 0, len(c.Policy.Chains))
	for _, name := range c.chainNames() {
		set, err := c.Policy.Chains[name].SetConfig(name)
		if err != nil {
			return nil, err
		}
		set.Timeout = c.HTTP.Timeout
		sets = append(sets, set)
	}
	return sets, nil
}

func (c *Config) chainNames() []string {
	names := make([]string, 0, len(c.Policy.Chains))
	for name := range c.Policy.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

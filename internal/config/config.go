package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig           `yaml:"server"`
	Database DatabaseConfig         `yaml:"database"`
	Auth     AuthConfig             `yaml:"auth"`
	Chains   map[string]ChainConfig `yaml:"chains"`
	RPC      RPCConfig              `yaml:"rpc"`
	Bridge   BridgeConfig           `yaml:"bridge"`
	NATS     NATSConfig             `yaml:"nats"`
	CORS     CORSConfig             `yaml:"cors"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// AuthConfig workspace identity configuration
type AuthConfig struct {
	JWTSecret     string `yaml:"jwtSecret"`
	TokenTTLHours int    `yaml:"tokenTTLHours"`
}

// ChainConfig per-network configuration
type ChainConfig struct {
	ChainID        uint64   `yaml:"chainId"`
	Name           string   `yaml:"name"`
	RPCEndpoints   []string `yaml:"rpcEndpoints"` // priority ordered: dedicated provider first, public fallbacks after
	NativeDecimals uint8    `yaml:"nativeDecimals"`
	USDCContract   string   `yaml:"usdcContract"`
	// SpokePoolContract is the Across entry contract on this chain. Empty
	// means Across does not serve the chain and LI.FI is used instead.
	SpokePoolContract        string `yaml:"spokePoolContract"`
	MulticallHandlerContract string `yaml:"multicallHandlerContract"`
	AccountFactoryContract   string `yaml:"accountFactoryContract"`
	ExplorerURL              string `yaml:"explorerUrl"`
	Enabled                  bool   `yaml:"enabled"`
}

// RPCConfig RPC access layer configuration
type RPCConfig struct {
	CacheTTLSeconds    int `yaml:"cacheTtlSeconds"`    // default 30
	CallTimeoutSeconds int `yaml:"callTimeoutSeconds"` // default 12
}

// BridgeConfig bridge engine configuration
type BridgeConfig struct {
	AcrossBaseURL   string `yaml:"acrossBaseUrl"`
	LiFiBaseURL     string `yaml:"lifiBaseUrl"`
	SlippageBps     int    `yaml:"slippageBps"`
	QuoteTTLSeconds int    `yaml:"quoteTtlSeconds"` // fallback validity window when the provider gives none
}

// NATSConfig event publishing configuration
type NATSConfig struct {
	URL     string `yaml:"url"`
	Timeout int    `yaml:"timeout"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

var AppConfig *Config

// LoadConfig loads the configuration file and applies environment overrides
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)
	applyDefaults(&config)

	AppConfig = &config
	return &config, nil
}

// overrideFromEnv applies environment variable overrides
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}

	if acrossURL := os.Getenv("ACROSS_BASE_URL"); acrossURL != "" {
		config.Bridge.AcrossBaseURL = acrossURL
	}
	if lifiURL := os.Getenv("LIFI_BASE_URL"); lifiURL != "" {
		config.Bridge.LiFiBaseURL = lifiURL
	}

	// Per-chain RPC endpoints, e.g. BASE_RPC_ENDPOINTS=https://a,https://b
	for chainName, chainConfig := range config.Chains {
		envRPC := fmt.Sprintf("%s_RPC_ENDPOINTS", strings.ToUpper(chainName))
		if rpcEndpoints := os.Getenv(envRPC); rpcEndpoints != "" {
			endpoints := strings.Split(rpcEndpoints, ",")
			chainConfig.RPCEndpoints = make([]string, 0, len(endpoints))
			for _, e := range endpoints {
				trimmed := strings.TrimSpace(e)
				if trimmed != "" {
					chainConfig.RPCEndpoints = append(chainConfig.RPCEndpoints, trimmed)
				}
			}
		}
		config.Chains[chainName] = chainConfig
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}
}

// applyDefaults fills zero values with sensible defaults
func applyDefaults(config *Config) {
	if config.RPC.CacheTTLSeconds <= 0 {
		config.RPC.CacheTTLSeconds = 30
	}
	if config.RPC.CallTimeoutSeconds <= 0 {
		config.RPC.CallTimeoutSeconds = 12
	}
	if config.Bridge.AcrossBaseURL == "" {
		config.Bridge.AcrossBaseURL = "https://app.across.to/api"
	}
	if config.Bridge.LiFiBaseURL == "" {
		config.Bridge.LiFiBaseURL = "https://li.quest/v1"
	}
	if config.Bridge.SlippageBps <= 0 {
		config.Bridge.SlippageBps = 50
	}
	if config.Bridge.QuoteTTLSeconds <= 0 {
		config.Bridge.QuoteTTLSeconds = 60
	}
	if config.Auth.TokenTTLHours <= 0 {
		config.Auth.TokenTTLHours = 24
	}
}

// GetChainConfig returns the configuration for a named chain
func GetChainConfig(chainName string) (*ChainConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	chain, exists := AppConfig.Chains[chainName]
	if !exists {
		return nil, fmt.Errorf("chain %s not found in config", chainName)
	}

	if !chain.Enabled {
		return nil, fmt.Errorf("chain %s is disabled", chainName)
	}

	return &chain, nil
}

// GetChainConfigByID returns the configuration for a chain id
func GetChainConfigByID(chainID uint64) (*ChainConfig, error) {
	if AppConfig == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	for _, chain := range AppConfig.Chains {
		if chain.ChainID == chainID && chain.Enabled {
			return &chain, nil
		}
	}

	return nil, fmt.Errorf("chain with chainID %d not found or disabled", chainID)
}

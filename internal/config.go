package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// DefaultDiscoveryPort is the well-known UDP port clients watch for offers.
const DefaultDiscoveryPort = 13117

// ServerConfig holds everything the speed-test server needs: where to
// advertise itself and how aggressively to emit UDP segments.
type ServerConfig struct {
	ServerID           string `mapstructure:"server_id"`
	DiscoveryPort      int    `mapstructure:"discovery_port"`
	BroadcastAddr      string `mapstructure:"broadcast_addr"`
	OfferIntervalMs    int    `mapstructure:"offer_interval_ms"`
	UDPPort            int    `mapstructure:"udp_port"`
	TCPPort            int    `mapstructure:"tcp_port"`
	AcceptTimeoutMs    int    `mapstructure:"accept_timeout_ms"`
	PacingEverySegs    int    `mapstructure:"pacing_every_segments"`
	PacingDelayUs      int    `mapstructure:"pacing_delay_us"`
	UDPReadBufferSize  int    `mapstructure:"udp_read_buffer_size"`
	UDPWriteBufferSize int    `mapstructure:"udp_write_buffer_size"`
	LogLevel           string `mapstructure:"log_level"`
}

// ClientConfig holds the client-side timeout and retry budget knobs.
type ClientConfig struct {
	ClientID          string `mapstructure:"client_id"`
	DiscoveryPort     int    `mapstructure:"discovery_port"`
	ListenTimeoutMs   int    `mapstructure:"listen_timeout_ms"`
	ConnectTimeoutMs  int    `mapstructure:"connect_timeout_ms"`
	ReceiveTimeoutMs  int    `mapstructure:"receive_timeout_ms"`
	MaxQuietPeriods   int    `mapstructure:"max_quiet_periods"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	RetryBackoffMs    int    `mapstructure:"retry_backoff_ms"`
	StaggerMs         int    `mapstructure:"stagger_ms"`
	UDPReadBufferSize int    `mapstructure:"udp_read_buffer_size"`
	LogLevel          string `mapstructure:"log_level"`
}

func LoadServerConfig(configPath string) (*ServerConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".netblast"), "server_config", "toml", "NETBLAST_SERVER")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server_id", uuid.New().String())
	v.SetDefault("discovery_port", DefaultDiscoveryPort)
	v.SetDefault("broadcast_addr", "255.255.255.255")
	v.SetDefault("offer_interval_ms", 1000)
	v.SetDefault("udp_port", 0)
	v.SetDefault("tcp_port", 0)
	v.SetDefault("accept_timeout_ms", 1000)
	v.SetDefault("pacing_every_segments", 50)
	v.SetDefault("pacing_delay_us", 500)
	v.SetDefault("udp_read_buffer_size", 1<<20)
	v.SetDefault("udp_write_buffer_size", 1<<20)
	v.SetDefault("log_level", "info")

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}

	// Create-on-first-run ONLY (no config file was read).
	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".netblast", "server_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default server config: %w", err)
			}
			Info("server config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func LoadClientConfig(configPath string) (*ClientConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v, err := initViper(configPath, filepath.Join(home, ".netblast"), "client_config", "toml", "NETBLAST_CLIENT")
	if err != nil {
		return nil, err
	}

	v.SetDefault("client_id", uuid.New().String())
	v.SetDefault("discovery_port", DefaultDiscoveryPort)
	v.SetDefault("listen_timeout_ms", 3000)
	v.SetDefault("connect_timeout_ms", 10_000)
	v.SetDefault("receive_timeout_ms", 1000)
	v.SetDefault("max_quiet_periods", 5)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("retry_backoff_ms", 1000)
	v.SetDefault("stagger_ms", 100)
	v.SetDefault("udp_read_buffer_size", 1<<16)
	v.SetDefault("log_level", "info")

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}

	if v.ConfigFileUsed() == "" {
		writePath := configPath
		if writePath == "" {
			writePath = filepath.Join(home, ".netblast", "client_config.toml")
		}
		if _, statErr := os.Stat(writePath); errors.Is(statErr, os.ErrNotExist) {
			if _, err := cfg.Save(writePath); err != nil {
				return nil, fmt.Errorf("persist default client config: %w", err)
			}
			Info("client config written", Fields{
				ConfigPath: writePath,
			})
		}
	}
	return &cfg, nil
}

func initViper(configPath, defaultDir, defaultName, defaultType, envPrefix string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType(defaultType)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(defaultDir)
		v.AddConfigPath(".")
		v.SetConfigName(defaultName)
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound {
			Error("config file not readable", Fields{
				ConfigPath: configPath,
			})
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func (cfg *ServerConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".netblast", "server_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("server_id", cfg.ServerID)
	v.Set("discovery_port", cfg.DiscoveryPort)
	v.Set("broadcast_addr", cfg.BroadcastAddr)
	v.Set("offer_interval_ms", cfg.OfferIntervalMs)
	v.Set("udp_port", cfg.UDPPort)
	v.Set("tcp_port", cfg.TCPPort)
	v.Set("accept_timeout_ms", cfg.AcceptTimeoutMs)
	v.Set("pacing_every_segments", cfg.PacingEverySegs)
	v.Set("pacing_delay_us", cfg.PacingDelayUs)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("udp_write_buffer_size", cfg.UDPWriteBufferSize)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write server config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

func (cfg *ClientConfig) Save(path string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(home, ".netblast", "client_config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("client_id", cfg.ClientID)
	v.Set("discovery_port", cfg.DiscoveryPort)
	v.Set("listen_timeout_ms", cfg.ListenTimeoutMs)
	v.Set("connect_timeout_ms", cfg.ConnectTimeoutMs)
	v.Set("receive_timeout_ms", cfg.ReceiveTimeoutMs)
	v.Set("max_quiet_periods", cfg.MaxQuietPeriods)
	v.Set("max_attempts", cfg.MaxAttempts)
	v.Set("retry_backoff_ms", cfg.RetryBackoffMs)
	v.Set("stagger_ms", cfg.StaggerMs)
	v.Set("udp_read_buffer_size", cfg.UDPReadBufferSize)
	v.Set("log_level", cfg.LogLevel)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write client config: %w", err)
	}
	_ = os.Chmod(path, 0o600)
	return path, nil
}

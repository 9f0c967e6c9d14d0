package config

import (
	"errors"
	"fmt"
	"time"

	"auction-sync/internal/bidding"
	"auction-sync/internal/services"

	"github.com/spf13/viper"
)

type Config struct {
	Hub       HubConfig       `mapstructure:"hub"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Status    ServerConfig    `mapstructure:"status"`
	Network   NetworkConfig   `mapstructure:"network"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Bidding   BiddingConfig   `mapstructure:"bidding"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
}

type HubConfig struct {
	services.ManagerConfig `mapstructure:",squash"`

	AccessToken string `mapstructure:"access_token"`
}

type TransportConfig struct {
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout"`
	ServerTimeout    time.Duration   `mapstructure:"server_timeout"`
	ReconnectDelays  []time.Duration `mapstructure:"reconnect_delays"`
}

type SessionConfig struct {
	AuctionID    string `mapstructure:"auction_id"`
	AuctionCarID string `mapstructure:"auction_car_id"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type NetworkConfig struct {
	ProbeAddress  string        `mapstructure:"probe_address"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type JournalConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	MySQL   MySQLConfig `mapstructure:"mysql"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type BiddingConfig struct {
	Tiers                       []bidding.Tier `mapstructure:"tiers"`
	MaxProxyIterations          int            `mapstructure:"max_proxy_iterations"`
	ImplausibleFactor           float64        `mapstructure:"implausible_factor"`
	ImplausibleSuggestionFactor float64        `mapstructure:"implausible_suggestion_factor"`
}

// Engine builds the increment engine described by this section.
func (b BiddingConfig) Engine() *bidding.Engine {
	return bidding.NewEngine(
		bidding.WithTiers(b.Tiers),
		bidding.WithMaxProxyIterations(b.MaxProxyIterations),
		bidding.WithImplausibleFactor(b.ImplausibleFactor, b.ImplausibleSuggestionFactor),
	)
}

type SimulatorConfig struct {
	services.SimulatorConfig `mapstructure:",squash"`

	Server ServerConfig `mapstructure:"server"`

	// Tokens maps accepted bearer tokens to bidder ids. Empty accepts anyone.
	Tokens         map[string]string `mapstructure:"tokens"`
	AllowedOrigins []string          `mapstructure:"allowed_origins"`
	PingInterval   time.Duration     `mapstructure:"ping_interval"`
	SharedTiers    bool              `mapstructure:"shared_tiers"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	manager := services.DefaultManagerConfig()
	v.SetDefault("hub.base_url", "http://localhost:8090/hubs")
	v.SetDefault("hub.auction_channel_path", manager.AuctionChannelPath)
	v.SetDefault("hub.bid_channel_path", manager.BidChannelPath)
	v.SetDefault("hub.connect_timeout", manager.ConnectTimeout)
	v.SetDefault("hub.wait_timeout", manager.WaitTimeout)
	v.SetDefault("hub.invoke_timeout", manager.InvokeTimeout)
	v.SetDefault("hub.heartbeat_interval", manager.HeartbeatInterval)
	v.SetDefault("hub.retry_delays", manager.RetryDelays)
	v.SetDefault("hub.max_retries", manager.MaxRetries)
	v.SetDefault("hub.access_token", "")

	v.SetDefault("transport.handshake_timeout", 10*time.Second)
	v.SetDefault("transport.write_timeout", 10*time.Second)
	v.SetDefault("transport.server_timeout", 30*time.Second)
	v.SetDefault("transport.reconnect_delays", []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second})

	v.SetDefault("session.auction_id", "demo-auction")
	v.SetDefault("session.auction_car_id", "")
	v.SetDefault("session.history_limit", 50)

	v.SetDefault("status.port", 8081)
	v.SetDefault("status.host", "127.0.0.1")

	v.SetDefault("network.probe_address", "")
	v.SetDefault("network.probe_interval", 5*time.Second)
	v.SetDefault("network.probe_timeout", 2*time.Second)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.mysql.dsn", "auction_user:auction_pass@tcp(localhost:3306)/auction_db?parseTime=true")
	v.SetDefault("journal.mysql.max_open_conns", 10)
	v.SetDefault("journal.mysql.max_idle_conns", 5)
	v.SetDefault("journal.mysql.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("bidding.max_proxy_iterations", bidding.DefaultMaxProxyIterations)
	v.SetDefault("bidding.implausible_factor", bidding.DefaultImplausibleFactor)
	v.SetDefault("bidding.implausible_suggestion_factor", bidding.DefaultImplausibleSuggestionFactor)

	v.SetDefault("simulator.server.port", 8090)
	v.SetDefault("simulator.server.host", "0.0.0.0")
	v.SetDefault("simulator.auction_id", "demo-auction")
	v.SetDefault("simulator.lot_duration", 60*time.Second)
	v.SetDefault("simulator.extend_window", 10*time.Second)
	v.SetDefault("simulator.reset_to", 15*time.Second)
	v.SetDefault("simulator.tick_interval", time.Second)
	v.SetDefault("simulator.recent_bids", 10)
	v.SetDefault("simulator.ping_interval", 15*time.Second)
	v.SetDefault("simulator.shared_tiers", false)
	v.SetDefault("simulator.allowed_origins", []string{})

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()

	v.BindEnv("hub.base_url", "HUB_BASE_URL")
	v.BindEnv("hub.access_token", "HUB_ACCESS_TOKEN")
	v.BindEnv("hub.max_retries", "HUB_MAX_RETRIES")
	v.BindEnv("hub.retry_delays", "HUB_RETRY_DELAYS")
	v.BindEnv("hub.heartbeat_interval", "HUB_HEARTBEAT_INTERVAL")
	v.BindEnv("session.auction_id", "SESSION_AUCTION_ID")
	v.BindEnv("session.auction_car_id", "SESSION_AUCTION_CAR_ID")
	v.BindEnv("status.port", "STATUS_PORT")
	v.BindEnv("status.host", "STATUS_HOST")
	v.BindEnv("network.probe_address", "NETWORK_PROBE_ADDRESS")
	v.BindEnv("journal.enabled", "JOURNAL_ENABLED")
	v.BindEnv("journal.mysql.dsn", "MYSQL_DSN")
	v.BindEnv("simulator.server.port", "SIMULATOR_PORT")
	v.BindEnv("simulator.auction_id", "SIMULATOR_AUCTION_ID")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("log.level", "LOG_LEVEL")
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Configuration file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/auction-sync/")

	bindEnv(v)

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return decode(v)
}

// LoadFromFile loads configuration from a specific file path on top of the defaults.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Hub: %s, Status: %s, Simulator: %s, Redis: %s (enabled=%t), Journal: %t",
		c.Hub.BaseURL,
		c.Status.Address(),
		c.Simulator.Server.Address(),
		c.Redis.Address,
		c.Redis.Enabled,
		c.Journal.Enabled,
	)
}

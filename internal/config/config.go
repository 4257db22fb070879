package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Chain       ChainConfig
	EntryPoint  EntryPointConfig `mapstructure:"entrypoint"`
	Attestation AttestationConfig
	FTSO        FTSOConfig `mapstructure:"ftso"`
	Reward      RewardConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Server      ServerConfig
	Log         LogConfig
}

type ChainConfig struct {
	RPCURL              string `mapstructure:"rpc_url"`
	PrivateKey          string `mapstructure:"private_key"`
	ChainID             int64  `mapstructure:"chain_id"`
	InclusionTimeoutSec int64  `mapstructure:"inclusion_timeout_sec"`
}

type EntryPointConfig struct {
	Address          string `mapstructure:"address"`
	PaymasterAddress string `mapstructure:"paymaster_address"`
}

type AttestationConfig struct {
	HubAddress  string `mapstructure:"hub_address"`
	SubmitToHub bool   `mapstructure:"submit_to_hub"`
	HubFee      string `mapstructure:"hub_fee"` // wei
}

type FTSOConfig struct {
	Address string `mapstructure:"address"`
	FeedID  string `mapstructure:"feed_id"`
}

type RewardConfig struct {
	Amount int64 `mapstructure:"amount"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type ServerConfig struct {
	Port             int      `mapstructure:"port"`
	RequireSignature bool     `mapstructure:"require_signature"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration for the relay server.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// LoadPartial reads configuration without enforcing required keys. The
// operator CLI uses it for commands that never touch the ledger.
func LoadPartial() (*Config, error) {
	return load()
}

func load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("chain.chain_id", 114)
	v.SetDefault("chain.inclusion_timeout_sec", 120)
	v.SetDefault("entrypoint.address", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	v.SetDefault("attestation.hub_fee", "0")
	v.SetDefault("ftso.address", "0x3d893C53D9e8056135C26C8c638B76C8b60Df726")
	v.SetDefault("ftso.feed_id", "0x01464c522f55534400000000000000000000000000")
	v.SetDefault("reward.amount", 10)
	v.SetDefault("kafka.topic", "veristas.reviews")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings (names used by the existing .env files)
	bindings := map[string]string{
		"chain.rpc_url":                "RPC_URL",
		"chain.private_key":            "PRIVATE_KEY",
		"chain.chain_id":               "CHAIN_ID",
		"chain.inclusion_timeout_sec":  "INCLUSION_TIMEOUT_SEC",
		"entrypoint.address":           "ENTRY_POINT_ADDRESS",
		"entrypoint.paymaster_address": "PAYMASTER_ADDRESS",
		"attestation.hub_address":      "FDC_HUB_ADDRESS",
		"attestation.submit_to_hub":    "FDC_SUBMIT_TO_HUB",
		"attestation.hub_fee":          "FDC_HUB_FEE",
		"ftso.address":                 "FTSO_ADDRESS",
		"ftso.feed_id":                 "FTSO_FEED_ID",
		"reward.amount":                "REWARD_AMOUNT",
		"redis.addr":                   "REDIS_ADDR",
		"redis.password":               "REDIS_PASSWORD",
		"kafka.brokers":                "KAFKA_BROKERS",
		"kafka.topic":                  "KAFKA_TOPIC",
		"server.port":                  "PORT",
		"server.require_signature":     "REQUIRE_SIGNATURE",
		"server.allowed_origins":       "ALLOWED_ORIGINS",
		"log.level":                    "LOG_LEVEL",
		"log.format":                   "LOG_FORMAT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma separated lists from the environment arrive as a single element.
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.RPCURL, "RPC_URL"},
		{c.Chain.PrivateKey, "PRIVATE_KEY"},
		{c.EntryPoint.Address, "ENTRY_POINT_ADDRESS"},
		{c.FTSO.Address, "FTSO_ADDRESS"},
		{c.FTSO.FeedID, "FTSO_FEED_ID"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	if c.Attestation.SubmitToHub && c.Attestation.HubAddress == "" {
		return fmt.Errorf("required config missing: FDC_HUB_ADDRESS (FDC_SUBMIT_TO_HUB is set)")
	}
	return nil
}

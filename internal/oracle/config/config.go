// Package config is the operator's configuration surface and its startup validation.
package config

import (
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"beaconoracle.com/internal/oracle/domain"
	pkgconfig "beaconoracle.com/pkg/config"
	"beaconoracle.com/pkg/xerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	ServiceName = "oracle-operator"
	EnvPrefix   = "ORACLE"
)

type Config struct {
	Name string `yaml:"name" mapstructure:"name"`

	// Mode is direct or relay. SelfRelay=true forces relay, matching the legacy flag.
	Mode      string `yaml:"mode" mapstructure:"mode"`
	SelfRelay bool   `yaml:"self_relay" mapstructure:"self_relay"`

	PollInterval    time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BlockInterval   uint64        `yaml:"block_interval" mapstructure:"block_interval"`
	Lookback        uint64        `yaml:"lookback" mapstructure:"lookback"`
	ContractAddress string        `yaml:"contract_address" mapstructure:"contract_address"`

	Chain   Chain   `yaml:"chain" mapstructure:"chain"`
	Signer  Signer  `yaml:"signer" mapstructure:"signer"`
	Relay   Relay   `yaml:"relay" mapstructure:"relay"`
	Redis   Redis   `yaml:"redis" mapstructure:"redis"`
	Nats    Nats    `yaml:"nats" mapstructure:"nats"`
	Metrics Metrics `yaml:"metrics" mapstructure:"metrics"`
	Pprof   Pprof   `yaml:"pprof" mapstructure:"pprof"`
	Trace   Trace   `yaml:"trace" mapstructure:"trace"`
	Log     Log     `yaml:"log" mapstructure:"log"`
}

type Chain struct {
	RPCURL  string `yaml:"rpc_url" mapstructure:"rpc_url"`
	ChainID uint64 `yaml:"chain_id" mapstructure:"chain_id"`
	// RPCTimeout bounds a single RPC call, ReadTimeout a whole read step of a cycle.
	RPCTimeout  time.Duration `yaml:"rpc_timeout" mapstructure:"rpc_timeout"`
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	// RateLimit is requests per second, 0 disables throttling.
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

type Signer struct {
	PrivateKey       string        `yaml:"private_key" mapstructure:"private_key"`
	Mnemonic         string        `yaml:"mnemonic" mapstructure:"mnemonic"`
	AccountIndex     uint32        `yaml:"account_index" mapstructure:"account_index"`
	GasLimit         uint64        `yaml:"gas_limit" mapstructure:"gas_limit"`
	MaxFeeGwei       string        `yaml:"max_fee_gwei" mapstructure:"max_fee_gwei"`
	InclusionTimeout time.Duration `yaml:"inclusion_timeout" mapstructure:"inclusion_timeout"`
	ReceiptPoll      time.Duration `yaml:"receipt_poll" mapstructure:"receipt_poll"`
}

type Relay struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	HTTPTimeout  time.Duration `yaml:"http_timeout" mapstructure:"http_timeout"`
	Breaker      Breaker       `yaml:"breaker" mapstructure:"breaker"`
}

type Breaker struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
}

// Redis enables leader election between replicas when Addr is set.
type Redis struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password" mapstructure:"password"`
	DB       int           `yaml:"db" mapstructure:"db"`
	LeaseTTL time.Duration `yaml:"lease_ttl" mapstructure:"lease_ttl"`
}

// Nats enables outcome events when URL is set.
type Nats struct {
	URL           string `yaml:"url" mapstructure:"url"`
	SubjectPrefix string `yaml:"subject_prefix" mapstructure:"subject_prefix"`
}

type Metrics struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type Pprof struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type Trace struct {
	// Endpoint: "" off, "stdout", or an OTLP gRPC host:port.
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

type Log struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// Defaults registers every key, so each one can also come from the environment.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"name":                               ServiceName,
		"mode":                               string(domain.ModeDirect),
		"self_relay":                         false,
		"poll_interval":                      "5m",
		"block_interval":                     0,
		"lookback":                           32,
		"contract_address":                   "",
		"chain.rpc_url":                      "",
		"chain.chain_id":                     0,
		"chain.rpc_timeout":                  "10s",
		"chain.read_timeout":                 "1m",
		"chain.rate_limit":                   10,
		"chain.rate_burst":                   5,
		"signer.private_key":                 "",
		"signer.mnemonic":                    "",
		"signer.account_index":               0,
		"signer.gas_limit":                   100000,
		"signer.max_fee_gwei":                "",
		"signer.inclusion_timeout":           "3m",
		"signer.receipt_poll":                "3s",
		"relay.url":                          "",
		"relay.api_key":                      "",
		"relay.poll_interval":                "5s",
		"relay.http_timeout":                 "15s",
		"relay.breaker.consecutive_failures": 5,
		"relay.breaker.open_timeout":         "1m",
		"redis.addr":                         "",
		"redis.password":                     "",
		"redis.db":                           0,
		"redis.lease_ttl":                    "15m",
		"nats.url":                           "",
		"nats.subject_prefix":                "beacon-oracle",
		"metrics.addr":                       ":9464",
		"pprof.addr":                         "",
		"trace.endpoint":                     "",
		"log.level":                          "info",
		"log.file":                           "",
	}
}

// EnvAliases are the unprefixed variable names older deployments use.
func EnvAliases() map[string][]string {
	return map[string][]string{
		"self_relay":         {"SELF_RELAY"},
		"block_interval":     {"BLOCK_INTERVAL"},
		"chain.rpc_url":      {"RPC_URL"},
		"chain.chain_id":     {"CHAIN_ID"},
		"contract_address":   {"CONTRACT_ADDRESS"},
		"signer.private_key": {"PRIVATE_KEY"},
	}
}

// Load reads file (or ./config/oracle-operator.yaml when empty) plus the environment
// and validates the result.
func Load(file string) (*Config, *viper.Viper, error) {
	cfg := &Config{}
	v, err := pkgconfig.Load(pkgconfig.Options{
		Name:       ServiceName,
		File:       file,
		EnvPrefix:  EnvPrefix,
		Defaults:   Defaults(),
		EnvAliases: EnvAliases(),
	}, cfg)
	if err != nil {
		return nil, nil, xerr.Wrap(xerr.ConfigInvalid, err, "load config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// SubmissionMode resolves Mode and the legacy SelfRelay flag.
func (c *Config) SubmissionMode() domain.Mode {
	if c.SelfRelay {
		return domain.ModeRelay
	}
	return domain.Mode(strings.ToLower(strings.TrimSpace(c.Mode)))
}

// Validate rejects anything that would make every cycle fail. All errors are ConfigInvalid.
func (c *Config) Validate() error {
	if c.BlockInterval == 0 {
		return xerr.New(xerr.ConfigInvalid, "block_interval must be greater than zero")
	}
	if c.PollInterval <= 0 {
		return xerr.New(xerr.ConfigInvalid, "poll_interval must be positive")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return xerr.Newf(xerr.ConfigInvalid, "contract_address %q is not a 20 byte hex address", c.ContractAddress)
	}
	if c.Chain.RPCURL == "" {
		return xerr.New(xerr.ConfigInvalid, "chain.rpc_url is required")
	}
	if _, err := url.ParseRequestURI(c.Chain.RPCURL); err != nil {
		return xerr.Wrap(xerr.ConfigInvalid, err, "chain.rpc_url")
	}
	if c.Chain.ChainID == 0 {
		return xerr.New(xerr.ConfigInvalid, "chain.chain_id is required")
	}
	if _, err := c.MaxFeeCapWei(); err != nil {
		return err
	}
	// the holder renews once per cycle, so the lease must outlive a whole cycle plus the sleep
	if c.Redis.Addr != "" && c.Redis.LeaseTTL <= c.MinLeaseTTL() {
		return xerr.Newf(xerr.ConfigInvalid, "redis.lease_ttl %s must exceed %s (poll_interval + inclusion_timeout + 5*read_timeout)",
			c.Redis.LeaseTTL, c.MinLeaseTTL())
	}

	switch c.SubmissionMode() {
	case domain.ModeDirect:
		if c.Signer.PrivateKey == "" && c.Signer.Mnemonic == "" {
			return xerr.New(xerr.ConfigInvalid, "direct mode requires signer.private_key or signer.mnemonic")
		}
	case domain.ModeRelay:
		if c.Relay.URL == "" || c.Relay.APIKey == "" {
			return xerr.New(xerr.ConfigInvalid, "relay mode requires relay.url and relay.api_key")
		}
	default:
		return xerr.Newf(xerr.ConfigInvalid, "mode %q is neither direct nor relay", c.Mode)
	}
	return nil
}

// MinLeaseTTL is the longest a leader can go between two renewals: the sleep, four
// bounded read steps and a submission bounded by inclusion_timeout + read_timeout.
func (c *Config) MinLeaseTTL() time.Duration {
	return c.PollInterval + c.Signer.InclusionTimeout + 5*c.Chain.ReadTimeout
}

// ContractAddr is the parsed oracle address. Only meaningful after Validate.
func (c *Config) ContractAddr() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// MaxFeeCapWei converts signer.max_fee_gwei to wei; nil when unset.
func (c *Config) MaxFeeCapWei() (*big.Int, error) {
	raw := strings.TrimSpace(c.Signer.MaxFeeGwei)
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, xerr.Wrap(xerr.ConfigInvalid, err, "signer.max_fee_gwei")
	}
	if !d.IsPositive() {
		return nil, xerr.Newf(xerr.ConfigInvalid, "signer.max_fee_gwei must be positive, got %s", raw)
	}
	return d.Shift(9).BigInt(), nil
}

// LeaderKey is the Redis lease shared by replicas anchoring the same contract.
func (c *Config) LeaderKey() string {
	return fmt.Sprintf("oracle:leader:%d:%s", c.Chain.ChainID, strings.ToLower(c.ContractAddr().Hex()))
}

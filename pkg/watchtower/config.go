package watchtower

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/crossgate/crossgate/pkg/common"
	"github.com/crossgate/crossgate/pkg/transfer"
)

type ChainKind string

const (
	ChainKindEVM    ChainKind = "evm"
	ChainKindCosmos ChainKind = "cosmos"
)

type (
	// ChainConfig is one typed chain descriptor from the config file. The
	// endpoint set required depends on the kind.
	ChainConfig struct {
		Name    string    `mapstructure:"name"`
		Kind    ChainKind `mapstructure:"kind"`
		ChainID uint32    `mapstructure:"chainId"`

		// EVM: json-rpc endpoint.
		Rpc string `mapstructure:"rpc"`

		// Cosmos: tendermint websocket, LCD and gRPC endpoints, plus the
		// account prefix and the network's own chain id string used when
		// signing transactions.
		Ws           string `mapstructure:"ws"`
		Lcd          string `mapstructure:"lcd"`
		Grpc         string `mapstructure:"grpc"`
		Bech32Prefix string `mapstructure:"bech32Prefix"`
		NetworkID    string `mapstructure:"networkId"`

		// Bridge contract address on this chain.
		Contract string `mapstructure:"contract"`

		// Path to the canceler signing key. The key itself is loaded by
		// the chain-specific submitter and never logged.
		KeyPath string `mapstructure:"keyPath"`

		PollInterval time.Duration `mapstructure:"pollInterval"`
	}

	FileConfig struct {
		SafetyMargin time.Duration `mapstructure:"safetyMargin"`
		Chains       []ChainConfig `mapstructure:"chains"`
	}
)

// ID returns the descriptor's chain id as the protocol type.
func (c *ChainConfig) ID() transfer.ChainID {
	return transfer.ChainID(c.ChainID)
}

const defaultPollInterval = 5 * time.Second

// LoadConfig reads and validates the watchtower config file. An invalid
// descriptor refuses the whole file; a watchtower that silently skips a
// chain is worse than one that fails to start.
func LoadConfig(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &FileConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f *FileConfig) Validate() error {
	if len(f.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	if f.SafetyMargin < 0 {
		return fmt.Errorf("safetyMargin must not be negative")
	}

	seenIDs := map[uint32]bool{}
	seenNames := map[string]bool{}
	for i := range f.Chains {
		c := &f.Chains[i]
		if err := c.validate(); err != nil {
			return fmt.Errorf("chain %q: %w", c.Name, err)
		}
		if seenIDs[c.ChainID] {
			return fmt.Errorf("chain %q: duplicate chain id %d", c.Name, c.ChainID)
		}
		if seenNames[c.Name] {
			return fmt.Errorf("duplicate chain name %q", c.Name)
		}
		seenIDs[c.ChainID] = true
		seenNames[c.Name] = true
	}
	return nil
}

func (c *ChainConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chainId 0 is reserved")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("keyPath is required")
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("pollInterval must be positive")
	}

	switch c.Kind {
	case ChainKindEVM:
		if !common.ValidateURL(c.Rpc, []string{"http", "https", "ws", "wss"}) {
			return fmt.Errorf("rpc must be a http, https, ws or wss URL")
		}
	case ChainKindCosmos:
		if !common.ValidateURL(c.Ws, []string{"ws", "wss"}) {
			return fmt.Errorf("ws must be a ws or wss URL")
		}
		if !common.ValidateURL(c.Lcd, []string{"http", "https"}) {
			return fmt.Errorf("lcd must be a http or https URL")
		}
		if !common.ValidateURL(c.Grpc, []string{""}) {
			return fmt.Errorf("grpc must be a bare host:port")
		}
		if c.Bech32Prefix == "" {
			return fmt.Errorf("bech32Prefix is required")
		}
		if c.NetworkID == "" {
			return fmt.Errorf("networkId is required")
		}
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	return nil
}

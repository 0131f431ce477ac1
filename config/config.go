package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	FeePolicyFixed     = "fixed"
	FeePolicySuggested = "suggested"
	FeePolicyEip1559   = "eip1559"

	OnFailureAbort    = "abort"
	OnFailureContinue = "continue"
)

type Network struct {
	RpcUrls   []string `toml:"rpc_urls"`
	ChainId   int64    `toml:"chain_id"`
	BlockTime int      `toml:"block_time"` // in milliseconds
}

type Fee struct {
	Policy          string  `toml:"policy"`
	GasPriceGwei    float64 `toml:"gas_price_gwei"`     // fixed policy only
	MinGasPriceGwei float64 `toml:"min_gas_price_gwei"` // floor for the suggested policy
	TokenGasLimit   uint64  `toml:"token_gas_limit"`    // 0 means estimate
}

type Distribution struct {
	Concurrency         int     `toml:"concurrency"`
	Confirmations       uint64  `toml:"confirmations"`
	OnFailure           string  `toml:"on_failure"`
	ConfirmationTimeout int     `toml:"confirmation_timeout"` // in seconds
	PollInterval        int     `toml:"poll_interval"`        // in milliseconds
	MaxSubmitRate       float64 `toml:"max_submit_rate"`      // txs per second, 0 means no limit
}

type Disperse struct {
	Network      string             `toml:"network"`
	Networks     map[string]Network `toml:"networks"`
	Fee          Fee                `toml:"fee"`
	Distribution Distribution       `toml:"distribution"`
}

func DefaultDistribution() Distribution {
	return Distribution{
		Concurrency:         1,
		Confirmations:       1,
		OnFailure:           OnFailureContinue,
		ConfirmationTimeout: 120,
		PollInterval:        2000,
	}
}

func Default() *Disperse {
	return &Disperse{
		Network: "bsc-testnet",
		Networks: map[string]Network{
			"mainnet": {
				RpcUrls:   []string{"https://mainnet.era.zksync.io"},
				ChainId:   324,
				BlockTime: 1000,
			},
			"bsc-testnet": {
				RpcUrls:   []string{"https://data-seed-prebsc-1-s1.binance.org:8545/"},
				ChainId:   97,
				BlockTime: 3000,
			},
			"hardhat": {
				RpcUrls:   []string{"http://127.0.0.1:8545"},
				ChainId:   31337,
				BlockTime: 1000,
			},
		},
		Fee: Fee{
			Policy:          FeePolicySuggested,
			MinGasPriceGwei: 1,
		},
		Distribution: DefaultDistribution(),
	}
}

// Load reads a toml file on top of the defaults.
func Load(path string) (*Disperse, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Write encodes cfg as toml.
func Write(w io.Writer, cfg *Disperse) error {
	return toml.NewEncoder(w).Encode(cfg)
}

func WriteFile(path string, cfg *Disperse) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	return Write(f, cfg)
}

func (c *Disperse) Validate() error {
	if _, err := c.SelectedNetwork(c.Network); err != nil {
		return err
	}

	switch c.Fee.Policy {
	case FeePolicySuggested, FeePolicyEip1559:
	case FeePolicyFixed:
		if c.Fee.GasPriceGwei <= 0 {
			return fmt.Errorf("fee policy %s requires gas_price_gwei > 0", FeePolicyFixed)
		}
	default:
		return fmt.Errorf("unknown fee policy %q", c.Fee.Policy)
	}

	return c.Distribution.Validate()
}

// SelectedNetwork returns the network with the given name, or the default one if name is empty.
func (c *Disperse) SelectedNetwork(name string) (Network, error) {
	if name == "" {
		name = c.Network
	}

	network, ok := c.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("unknown network %q", name)
	}

	if len(network.RpcUrls) == 0 {
		return Network{}, fmt.Errorf("network %q has no rpc_urls", name)
	}

	if network.ChainId <= 0 {
		return Network{}, fmt.Errorf("network %q has invalid chain_id %d", name, network.ChainId)
	}

	return network, nil
}

func (d Distribution) Validate() error {
	if d.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", d.Concurrency)
	}

	if d.OnFailure != OnFailureAbort && d.OnFailure != OnFailureContinue {
		return fmt.Errorf("on_failure must be %q or %q, got %q", OnFailureAbort, OnFailureContinue, d.OnFailure)
	}

	if d.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation_timeout must be positive, got %d", d.ConfirmationTimeout)
	}

	if d.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %d", d.PollInterval)
	}

	if d.MaxSubmitRate < 0 {
		return fmt.Errorf("max_submit_rate cannot be negative")
	}

	return nil
}

func (d Distribution) AbortOnFailure() bool {
	return d.OnFailure == OnFailureAbort
}

func (d Distribution) ConfirmationTimeoutDuration() time.Duration {
	return time.Duration(d.ConfirmationTimeout) * time.Second
}

func (d Distribution) PollIntervalDuration() time.Duration {
	return time.Duration(d.PollInterval) * time.Millisecond
}

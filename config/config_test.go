package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	s := `network = "hardhat"

[networks.hardhat]
rpc_urls = ["http://localhost:8545", "http://localhost:8546"]
chain_id = 31337
block_time = 500

[fee]
policy = "fixed"
gas_price_gwei = 3.5

[distribution]
concurrency = 4
confirmations = 2
on_failure = "abort"
`
	path := filepath.Join(t.TempDir(), "disperse.toml")
	require.NoError(t, os.WriteFile(path, []byte(s), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	network, err := cfg.SelectedNetwork("")
	require.NoError(t, err)
	require.Equal(t, 2, len(network.RpcUrls))
	require.Equal(t, int64(31337), network.ChainId)
	require.Equal(t, 500, network.BlockTime)

	require.Equal(t, FeePolicyFixed, cfg.Fee.Policy)
	require.Equal(t, 3.5, cfg.Fee.GasPriceGwei)

	require.Equal(t, 4, cfg.Distribution.Concurrency)
	require.Equal(t, uint64(2), cfg.Distribution.Confirmations)
	require.True(t, cfg.Distribution.AbortOnFailure())
	// Not set in the file, so the default stays.
	require.Equal(t, 120, cfg.Distribution.ConfirmationTimeout)

	// Presets survive a partial file.
	_, err = cfg.SelectedNetwork("bsc-testnet")
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("default_is_valid", func(t *testing.T) {
		require.NoError(t, Default().Validate())
		require.False(t, Default().Distribution.AbortOnFailure())
	})

	t.Run("unknown_network", func(t *testing.T) {
		cfg := Default()
		cfg.Network = "ropsten"
		require.Error(t, cfg.Validate())
	})

	t.Run("fixed_fee_without_price", func(t *testing.T) {
		cfg := Default()
		cfg.Fee.Policy = FeePolicyFixed
		require.Error(t, cfg.Validate())
	})

	t.Run("zero_concurrency", func(t *testing.T) {
		cfg := Default()
		cfg.Distribution.Concurrency = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("bad_on_failure", func(t *testing.T) {
		cfg := Default()
		cfg.Distribution.OnFailure = "retry"
		require.Error(t, cfg.Validate())
	})

	t.Run("on_failure_is_lowercase", func(t *testing.T) {
		cfg := Default()
		cfg.Distribution.OnFailure = "ABORT"
		require.Error(t, cfg.Validate())
		require.False(t, cfg.Distribution.AbortOnFailure())
	})
}

func TestWriteRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, Write(buf, Default()))

	path := filepath.Join(t.TempDir(), "disperse.toml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

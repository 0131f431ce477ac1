package main

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sisu-network/disperse/config"
	"github.com/sisu-network/disperse/types"
	"github.com/sisu-network/disperse/utils"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	bob   = "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"
	token = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

type mockDecimalsReader struct {
	decimals uint8
	err      error
	calls    int
}

func (r *mockDecimalsReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	r.calls++
	return r.decimals, r.err
}

func TestBuildRequests(t *testing.T) {
	lines := []utils.RecipientLine{
		{Line: 1, Address: alice, Amount: "0.01"},
		{Line: 2, Address: bob, Amount: "abc"},
	}

	t.Run("native", func(t *testing.T) {
		reader := &mockDecimalsReader{}
		requests, err := buildRequests(context.Background(), lines, "", reader)
		require.NoError(t, err)
		require.Len(t, requests, 2)
		require.Equal(t, 0, reader.calls)

		require.Equal(t, types.AssetNative, requests[0].Asset().Kind)
		require.Equal(t, big.NewInt(10_000_000_000_000_000), requests[0].Amount())
		require.NoError(t, requests[0].Validate())

		// Unparsable amounts are kept so the report shows them as invalid.
		require.Nil(t, requests[1].Amount())
		require.Equal(t, types.FailureInvalidRequest, types.FailureKindOf(requests[1].Validate()))
	})

	t.Run("token", func(t *testing.T) {
		reader := &mockDecimalsReader{decimals: 6}
		requests, err := buildRequests(context.Background(), lines[:1], token, reader)
		require.NoError(t, err)
		require.Equal(t, 1, reader.calls)
		require.Equal(t, types.TokenAsset(token), requests[0].Asset())
		require.Equal(t, big.NewInt(10_000), requests[0].Amount())
	})

	t.Run("decimals_error", func(t *testing.T) {
		reader := &mockDecimalsReader{err: errors.New("execution reverted")}
		_, err := buildRequests(context.Background(), lines, token, reader)
		require.Error(t, err)
	})

	t.Run("bad_token", func(t *testing.T) {
		_, err := buildRequests(context.Background(), lines, "0x12", &mockDecimalsReader{})
		require.Error(t, err)
	})
}

func TestApplyDistributionFlags(t *testing.T) {
	newCmd := func() (*cobra.Command, *distributeFlags) {
		flags := &distributeFlags{}
		cmd := &cobra.Command{}
		cmd.Flags().IntVar(&flags.concurrency, FlagConcurrency, 1, "")
		cmd.Flags().Uint64Var(&flags.confirmations, FlagConfirmations, 1, "")
		cmd.Flags().StringVar(&flags.onFailure, FlagOnFailure, config.OnFailureContinue, "")
		return cmd, flags
	}

	t.Run("override", func(t *testing.T) {
		cmd, flags := newCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--concurrency", "4", "--on-failure", "abort"}))

		cfg := config.Default()
		cfg.Distribution.Confirmations = 3
		require.NoError(t, applyDistributionFlags(cmd, cfg, flags))
		require.Equal(t, 4, cfg.Distribution.Concurrency)
		require.Equal(t, config.OnFailureAbort, cfg.Distribution.OnFailure)
		// Not set on the command line.
		require.Equal(t, uint64(3), cfg.Distribution.Confirmations)
	})

	t.Run("invalid", func(t *testing.T) {
		cmd, flags := newCmd()
		require.NoError(t, cmd.ParseFlags([]string{"--concurrency", "0"}))
		require.Error(t, applyDistributionFlags(cmd, config.Default(), flags))
	})
}

func TestPollInterval(t *testing.T) {
	cfg := config.DefaultDistribution()
	require.Equal(t, time.Second, pollInterval(cfg, config.Network{BlockTime: 1000}))
	require.Equal(t, 2*time.Second, pollInterval(cfg, config.Network{BlockTime: 3000}))
	require.Equal(t, 2*time.Second, pollInterval(cfg, config.Network{}))
}

func TestPrintReport(t *testing.T) {
	report := types.NewBatchReport([]*types.TransferRequest{
		types.NewNativeTransfer(alice, big.NewInt(5)),
		types.NewNativeTransfer(bob, big.NewInt(0)),
	})
	report.Outcomes[0].MarkSubmitted(common.HexToHash("0xabcd"), 9)
	report.Outcomes[0].MarkConfirmed(77)
	report.Outcomes[1].MarkFailed(types.FailureInvalidRequest, errors.New("amount must be greater than 0"))

	buf := &bytes.Buffer{}
	printReport(buf, report)

	out := buf.String()
	require.Contains(t, out, alice)
	require.Contains(t, out, common.HexToHash("0xabcd").Hex())
	require.Contains(t, out, "77")
	require.Contains(t, out, "InvalidRequest: amount must be greater than 0")
	require.Contains(t, out, "2 requests, 1 confirmed, 1 failed")
}

func TestLoadConfig_Default(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

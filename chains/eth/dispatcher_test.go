package eth

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sisu-network/disperse/types"
	"github.com/stretchr/testify/require"
)

var (
	testRecipient = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testToken     = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

func newTestSigner(t *testing.T) Signer {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return NewPrivateKeySigner(key, big.NewInt(31337))
}

type failingSigner struct {
	Signer
}

func (s *failingSigner) SignTx(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return nil, errors.New("key is locked")
}

// nodeError is an error answered by the node, like the json rpc errors of ethclient.
type nodeError struct {
	msg string
}

func (e *nodeError) Error() string {
	return e.msg
}

func (e *nodeError) ErrorCode() int {
	return -32000
}

func TestDispatcher_Native(t *testing.T) {
	signer := newTestSigner(t)

	var sent *ethtypes.Transaction
	client := &MockEthClient{
		SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return nil
		},
	}

	dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
	request := types.NewNativeTransfer(testRecipient, big.NewInt(1000))

	hash, err := dispatcher.Dispatch(context.Background(), signer, request, 7)
	require.NoError(t, err)
	require.NotNil(t, sent)
	require.Equal(t, sent.Hash(), hash)

	require.Equal(t, uint8(ethtypes.LegacyTxType), sent.Type())
	require.Equal(t, uint64(7), sent.Nonce())
	require.Equal(t, common.HexToAddress(testRecipient), *sent.To())
	require.Equal(t, big.NewInt(1000), sent.Value())
	require.Equal(t, NativeTransferGas, sent.Gas())
	require.Equal(t, big.NewInt(DefaultGasPrice), sent.GasPrice())
	require.Empty(t, sent.Data())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(31337)), sent)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), from)
}

func TestDispatcher_Token(t *testing.T) {
	signer := newTestSigner(t)

	t.Run("estimated_gas", func(t *testing.T) {
		var sent *ethtypes.Transaction
		client := &MockEthClient{
			EstimateGasFunc: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
				require.Equal(t, signer.Address(), msg.From)
				require.Equal(t, common.HexToAddress(testToken), *msg.To)
				return 50_000, nil
			},
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				sent = tx
				return nil
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		request := types.NewTokenTransfer(testToken, testRecipient, big.NewInt(500))

		_, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.NoError(t, err)

		expectedData, err := PackTransfer(common.HexToAddress(testRecipient), big.NewInt(500))
		require.NoError(t, err)
		require.Equal(t, expectedData, sent.Data())
		require.Equal(t, common.HexToAddress(testToken), *sent.To())
		require.Equal(t, 0, sent.Value().Sign())
		require.Equal(t, uint64(60_000), sent.Gas())
	})

	t.Run("configured_gas", func(t *testing.T) {
		var sent *ethtypes.Transaction
		client := &MockEthClient{
			EstimateGasFunc: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
				t.Fatal("gas should not be estimated")
				return 0, nil
			},
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				sent = tx
				return nil
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 80_000)
		request := types.NewTokenTransfer(testToken, testRecipient, big.NewInt(500))

		_, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(80_000), sent.Gas())
	})

	t.Run("estimate_failed", func(t *testing.T) {
		client := &MockEthClient{
			EstimateGasFunc: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
				return 0, errors.New("execution reverted")
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		request := types.NewTokenTransfer(testToken, testRecipient, big.NewInt(500))

		_, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.Error(t, err)
		require.Equal(t, types.FailureSubmissionRejected, types.FailureKindOf(err))
	})

	t.Run("cancelled_during_estimate", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := &MockEthClient{
			EstimateGasFunc: func(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
				cancel()
				return 0, ctx.Err()
			},
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				t.Fatal("nothing should be sent")
				return nil
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		request := types.NewTokenTransfer(testToken, testRecipient, big.NewInt(500))

		_, err := dispatcher.Dispatch(ctx, signer, request, 0)
		require.Error(t, err)
		require.Equal(t, types.FailureAborted, types.FailureKindOf(err))
	})
}

func TestDispatcher_DynamicFee(t *testing.T) {
	signer := newTestSigner(t)

	var sent *ethtypes.Transaction
	client := &MockEthClient{
		SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
			sent = tx
			return nil
		},
	}

	dispatcher := NewEthDispatcher(client, &dynamicFeePolicy{client: client}, 0)
	request := types.NewNativeTransfer(testRecipient, big.NewInt(1000))

	_, err := dispatcher.Dispatch(context.Background(), signer, request, 3)
	require.NoError(t, err)
	require.Equal(t, uint8(ethtypes.DynamicFeeTxType), sent.Type())
	require.Equal(t, big.NewInt(31337), sent.ChainId())
	require.Equal(t, big.NewInt(DefaultTip), sent.GasTipCap())
	require.Equal(t, big.NewInt(2*DefaultBaseFee+DefaultTip), sent.GasFeeCap())

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(31337)), sent)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), from)
}

func TestDispatcher_SendErrors(t *testing.T) {
	signer := newTestSigner(t)
	request := types.NewNativeTransfer(testRecipient, big.NewInt(1000))

	t.Run("rejected", func(t *testing.T) {
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				return &nodeError{msg: "insufficient funds for gas * price + value"}
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		_, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.Error(t, err)
		require.Equal(t, types.FailureSubmissionRejected, types.FailureKindOf(err))
		require.Contains(t, err.Error(), "insufficient funds")
	})

	t.Run("already_known", func(t *testing.T) {
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				return errors.New("already known")
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		hash, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.NoError(t, err)
		require.NotEqual(t, common.Hash{}, hash)
	})

	t.Run("tx_found_after_error", func(t *testing.T) {
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				return errors.New("connection reset by peer")
			},
			TransactionByHashFunc: func(ctx context.Context, txHash common.Hash) (*ethtypes.Transaction, bool, error) {
				return &ethtypes.Transaction{}, true, nil
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		_, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.NoError(t, err)
	})

	t.Run("cancelled_caller_still_sends", func(t *testing.T) {
		var sendErr error
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				sendErr = ctx.Err()
				return nil
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		_, err := dispatcher.Dispatch(ctx, signer, request, 0)
		require.NoError(t, err)
		require.NoError(t, sendErr)
	})

	t.Run("sign_error", func(t *testing.T) {
		dispatcher := NewEthDispatcher(&MockEthClient{}, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		_, err := dispatcher.Dispatch(context.Background(), &failingSigner{Signer: signer}, request, 0)

		var signErr *SignError
		require.True(t, errors.As(err, &signErr))
		require.Equal(t, types.FailureNone, types.FailureKindOf(err))
	})

	t.Run("send_timeout_tx_found", func(t *testing.T) {
		var sent *ethtypes.Transaction
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				// The node takes the tx but the reply never arrives.
				sent = tx
				<-ctx.Done()
				return ctx.Err()
			},
			TransactionByHashFunc: func(ctx context.Context, txHash common.Hash) (*ethtypes.Transaction, bool, error) {
				if ctx.Err() != nil {
					return nil, false, ctx.Err()
				}
				if sent != nil && sent.Hash() == txHash {
					return sent, true, nil
				}
				return nil, false, ethereum.NotFound
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		dispatcher.sendTimeout = 20 * time.Millisecond

		hash, err := dispatcher.Dispatch(context.Background(), signer, request, 0)
		require.NoError(t, err)
		require.Equal(t, sent.Hash(), hash)
	})

	t.Run("send_timeout_tx_unknown", func(t *testing.T) {
		var sent *ethtypes.Transaction
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				sent = tx
				<-ctx.Done()
				return ctx.Err()
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		dispatcher.sendTimeout = 20 * time.Millisecond

		hash, err := dispatcher.Dispatch(context.Background(), signer, request, 0)

		var unknownErr *SubmissionUnknownError
		require.True(t, errors.As(err, &unknownErr))
		require.Equal(t, sent.Hash(), hash)
		require.Equal(t, sent.Hash(), unknownErr.TxHash)
		require.True(t, errors.Is(err, context.DeadlineExceeded))
		require.NotEqual(t, types.FailureSubmissionRejected, types.FailureKindOf(err))
	})

	t.Run("transport_error_tx_unknown", func(t *testing.T) {
		client := &MockEthClient{
			SendTransactionFunc: func(ctx context.Context, tx *ethtypes.Transaction) error {
				return NewNoHealthyClientErr("hardhat", errors.New("connection reset by peer"))
			},
		}

		dispatcher := NewEthDispatcher(client, NewFixedFeePolicy(big.NewInt(DefaultGasPrice)), 0)
		hash, err := dispatcher.Dispatch(context.Background(), signer, request, 0)

		var unknownErr *SubmissionUnknownError
		require.True(t, errors.As(err, &unknownErr))
		require.NotEqual(t, common.Hash{}, hash)
	})
}

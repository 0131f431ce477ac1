package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sisu-network/disperse/types"
	"github.com/sisu-network/lib/log"
)

const (
	NativeTransferGas = uint64(21_000)

	// Extra gas on top of the node estimate for token transfers, in percent.
	GasEstimateMargin = 20
)

// Dispatcher turns a transfer request into a signed transaction and submits it.
type Dispatcher interface {
	PendingNonce(ctx context.Context, account common.Address) (uint64, error)
	Dispatch(ctx context.Context, signer Signer, request *types.TransferRequest, nonce uint64) (common.Hash, error)
}

// SubmissionUnknownError is returned when sending failed without an answer from the node and the
// transaction could not be found afterwards. The node may still have it, so its nonce must not be
// reused.
type SubmissionUnknownError struct {
	TxHash common.Hash
	Err    error
}

func (e *SubmissionUnknownError) Error() string {
	return fmt.Sprintf("submission of tx %s is unknown: %v", e.TxHash.Hex(), e.Err)
}

func (e *SubmissionUnknownError) Unwrap() error {
	return e.Err
}

type EthDispatcher struct {
	client        EthClient
	fee           FeePolicy
	tokenGasLimit uint64
	sendTimeout   time.Duration
}

// NewEthDispatcher creates a dispatcher. A zero tokenGasLimit means token transfers use the node's
// gas estimate.
func NewEthDispatcher(client EthClient, fee FeePolicy, tokenGasLimit uint64) *EthDispatcher {
	return &EthDispatcher{
		client:        client,
		fee:           fee,
		tokenGasLimit: tokenGasLimit,
		sendTimeout:   RpcTimeOut,
	}
}

func (d *EthDispatcher) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	return d.client.PendingNonceAt(ctx, account)
}

// Dispatch builds, signs and sends the transaction for request with the given nonce. Failures
// before the node accepts the transaction are SubmissionRejected, or Aborted when ctx is done
// before anything is sent. Signing failures are returned as *SignError. A send whose outcome
// cannot be told returns the tx hash with a *SubmissionUnknownError.
func (d *EthDispatcher) Dispatch(ctx context.Context, signer Signer, request *types.TransferRequest, nonce uint64) (common.Hash, error) {
	to, value, data, err := d.buildCall(request)
	if err != nil {
		return common.Hash{}, types.NewTransferError(types.FailureSubmissionRejected, err)
	}

	gas, err := d.gasLimit(ctx, signer.Address(), request, to, data)
	if err != nil {
		return common.Hash{}, preSendError(ctx, fmt.Errorf("cannot estimate gas: %w", err))
	}

	fee, err := d.fee.Fees(ctx)
	if err != nil {
		return common.Hash{}, preSendError(ctx, fmt.Errorf("cannot get fees: %w", err))
	}

	tx := newTx(signer.ChainID(), nonce, to, value, gas, fee, data)
	signed, err := signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, &SignError{Err: err}
	}

	if err := d.tryDispatchTx(ctx, signed); err != nil {
		if _, ok := err.(*SubmissionUnknownError); ok {
			return signed.Hash(), err
		}
		return common.Hash{}, types.NewTransferError(types.FailureSubmissionRejected, err)
	}

	log.Verbose("Tx is dispatched successfully, nonce = ", nonce, " request = ", request, " txHash = ", signed.Hash())

	return signed.Hash(), nil
}

// preSendError is the failure of a step before the transaction is sent.
func preSendError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.NewTransferError(types.FailureAborted, err)
	}

	return types.NewTransferError(types.FailureSubmissionRejected, err)
}

func (d *EthDispatcher) buildCall(request *types.TransferRequest) (common.Address, *big.Int, []byte, error) {
	switch request.Asset().Kind {
	case types.AssetNative:
		return request.RecipientAddress(), request.Amount(), nil, nil

	case types.AssetToken:
		data, err := PackTransfer(request.RecipientAddress(), request.Amount())
		if err != nil {
			return common.Address{}, nil, nil, fmt.Errorf("cannot pack token transfer: %w", err)
		}

		return request.TokenAddress(), big.NewInt(0), data, nil
	}

	return common.Address{}, nil, nil, fmt.Errorf("unknown asset kind %s", request.Asset().Kind)
}

func (d *EthDispatcher) gasLimit(ctx context.Context, from common.Address, request *types.TransferRequest,
	to common.Address, data []byte) (uint64, error) {
	if request.Asset().Kind == types.AssetNative {
		return NativeTransferGas, nil
	}

	if d.tokenGasLimit > 0 {
		return d.tokenGasLimit, nil
	}

	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	gas, err := d.client.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		return 0, err
	}

	return gas + gas*GasEstimateMargin/100, nil
}

func newTx(chainId *big.Int, nonce uint64, to common.Address, value *big.Int, gas uint64, fee *Fee, data []byte) *ethtypes.Transaction {
	if fee.IsDynamic() {
		return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
			ChainID:   chainId,
			Nonce:     nonce,
			GasTipCap: fee.GasTipCap,
			GasFeeCap: fee.GasFeeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	}

	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: fee.GasPrice,
		Gas:      gas,
		To:       &to,
		Value:    value,
		Data:     data,
	})
}

// tryDispatchTx sends tx on a context that is detached from the caller's cancellation: once we
// start sending we want to know whether the node has the transaction.
func (d *EthDispatcher) tryDispatchTx(ctx context.Context, tx *ethtypes.Transaction) error {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	err := d.client.SendTransaction(sendCtx, tx)
	if err == nil {
		return nil
	}

	if strings.Contains(err.Error(), "already known") {
		// Ethereum does not return error code in its JSON RPC for this, so we have to rely on string
		// matching.
		log.Info("The transaction is already known by the node. Tx hash = ", tx.Hash().String())
		return nil
	}

	// The send could have failed after the node received it. Check if the tx is there, on a new
	// context since the send one may have expired.
	checkCtx, cancelCheck := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancelCheck()

	if _, _, err2 := d.client.TransactionByHash(checkCtx, tx.Hash()); err2 == nil {
		log.Info("The transaction has been submitted before. Tx hash = ", tx.Hash().String())
		return nil
	}

	if !isNodeAnswer(err) {
		log.Error("Cannot tell if tx ", tx.Hash().String(), " reached the node, err = ", err)
		return &SubmissionUnknownError{TxHash: tx.Hash(), Err: err}
	}

	log.Error("Failed to dispatch tx, hash = ", tx.Hash().String(), " err = ", err)

	return err
}

package core

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sisu-network/disperse/chains/eth"
	"github.com/sisu-network/disperse/types"
)

var (
	_ eth.Dispatcher    = (*MockDispatcher)(nil)
	_ eth.ReceiptWaiter = (*MockReceiptWaiter)(nil)
)

type MockDispatcher struct {
	PendingNonceFunc func(ctx context.Context, account common.Address) (uint64, error)
	DispatchFunc     func(ctx context.Context, signer eth.Signer, request *types.TransferRequest, nonce uint64) (common.Hash, error)
}

func (m *MockDispatcher) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	if m.PendingNonceFunc != nil {
		return m.PendingNonceFunc(ctx, account)
	}

	return 0, nil
}

func (m *MockDispatcher) Dispatch(ctx context.Context, signer eth.Signer, request *types.TransferRequest, nonce uint64) (common.Hash, error) {
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, signer, request, nonce)
	}

	return common.BigToHash(new(big.Int).SetUint64(nonce + 1)), nil
}

type MockReceiptWaiter struct {
	WaitForConfirmationFunc func(ctx context.Context, txHash common.Hash, confirmations uint64) (*ethtypes.Receipt, error)
}

func (m *MockReceiptWaiter) WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*ethtypes.Receipt, error) {
	if m.WaitForConfirmationFunc != nil {
		return m.WaitForConfirmationFunc(ctx, txHash, confirmations)
	}

	return &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(1),
	}, nil
}

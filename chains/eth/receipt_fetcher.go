package eth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	chaincommon "github.com/sisu-network/disperse/chains/common"
	"github.com/sisu-network/disperse/types"
	"github.com/sisu-network/lib/log"
)

var (
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrTxReverted          = errors.New("transaction reverted")
)

// ReceiptWaiter waits until a submitted transaction is deep enough in the chain.
type ReceiptWaiter interface {
	WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*ethtypes.Receipt, error)
}

type defaultReceiptFetcher struct {
	client  EthClient
	timeout time.Duration

	// Sleep time between polls, shared by all waits since they all follow the same chain head.
	blockTime *chaincommon.BlockTimeTracker

	lock     *sync.Mutex
	lastHead uint64
}

// NewReceiptFetcher creates a ReceiptWaiter. Each wait gives up after timeout. pollInterval is the
// initial sleep between polls and also its lower bound.
func NewReceiptFetcher(client EthClient, timeout, pollInterval time.Duration) ReceiptWaiter {
	poll := int(pollInterval / time.Millisecond)
	if poll <= 0 {
		poll = 1
	}

	return &defaultReceiptFetcher{
		client:    client,
		timeout:   timeout,
		blockTime: chaincommon.NewBlockTimeTracker(poll, poll, poll*4),
		lock:      &sync.Mutex{},
	}
}

// WaitForConfirmation returns the receipt once the transaction is included and the head is at
// least confirmations blocks past the inclusion block. A reorg that moves or drops the
// transaction restarts the count. Errors are *types.TransferError of kind Reverted or
// ConfirmationTimeout.
func (rf *defaultReceiptFetcher) WaitForConfirmation(ctx context.Context, txHash common.Hash, confirmations uint64) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, rf.timeout)
	defer cancel()

	var receipt *ethtypes.Receipt
	for {
		head, headErr := rf.getHead(ctx)

		if receipt == nil {
			r, err := rf.getReceipt(ctx, txHash)
			switch {
			case err == nil:
				log.Verbose("Tx ", txHash.String(), " is included in block ", blockNumberOf(r))
				receipt = r
			case !errors.Is(err, ethereum.NotFound):
				log.Verbose("Cannot get receipt for tx ", txHash.String(), ", err = ", err)
			}

			if receipt != nil && receipt.Status == ethtypes.ReceiptStatusFailed {
				return receipt, types.NewTransferError(types.FailureReverted,
					fmt.Errorf("%w in block %d", ErrTxReverted, blockNumberOf(receipt)))
			}
		}

		if receipt != nil && headErr == nil && head >= blockNumberOf(receipt)+confirmations {
			if confirmations == 0 {
				return receipt, nil
			}

			latest, err := rf.getReceipt(ctx, txHash)
			switch {
			case err == nil && latest.BlockHash == receipt.BlockHash:
				return latest, nil

			case err == nil:
				log.Warn("Tx ", txHash.String(), " moved from block ", blockNumberOf(receipt), " to block ",
					blockNumberOf(latest), " after a reorg")
				receipt = latest
				if receipt.Status == ethtypes.ReceiptStatusFailed {
					return receipt, types.NewTransferError(types.FailureReverted,
						fmt.Errorf("%w in block %d", ErrTxReverted, blockNumberOf(receipt)))
				}

			case errors.Is(err, ethereum.NotFound):
				log.Warn("Tx ", txHash.String(), " is no longer in block ", blockNumberOf(receipt), " after a reorg")
				receipt = nil
			}
		}

		select {
		case <-ctx.Done():
			if receipt != nil {
				return receipt, types.NewTransferError(types.FailureConfirmationTimeout,
					fmt.Errorf("%w: tx %s has %d of %d confirmations", ErrConfirmationTimeout, txHash.String(),
						confirmationsOf(receipt, head), confirmations))
			}

			return nil, types.NewTransferError(types.FailureConfirmationTimeout,
				fmt.Errorf("%w: tx %s is not included: %v", ErrConfirmationTimeout, txHash.String(), ctx.Err()))

		case <-time.After(rf.blockTime.GetSleepDuration()):
		}
	}
}

func (rf *defaultReceiptFetcher) getReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	return rf.client.TransactionReceipt(ctx, txHash)
}

// getHead returns the latest block number and feeds the poll time tracker.
func (rf *defaultReceiptFetcher) getHead(ctx context.Context) (uint64, error) {
	rpcCtx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	head, err := rf.client.BlockNumber(rpcCtx)
	if err != nil {
		log.Verbose("Cannot get latest block, err = ", err)
		return 0, err
	}

	rf.lock.Lock()
	switch {
	case head > rf.lastHead+1:
		rf.blockTime.HitBlock()
	case head == rf.lastHead+1:
		rf.blockTime.HitBlockWithMinorDelay()
	case head == rf.lastHead:
		rf.blockTime.MissBlock()
	}
	if head > rf.lastHead {
		rf.lastHead = head
	}
	rf.lock.Unlock()

	return head, nil
}

func blockNumberOf(receipt *ethtypes.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}

	return receipt.BlockNumber.Uint64()
}

func confirmationsOf(receipt *ethtypes.Receipt, head uint64) uint64 {
	included := blockNumberOf(receipt)
	if head < included {
		return 0
	}

	return head - included
}

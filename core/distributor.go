package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sisu-network/disperse/chains/eth"
	"github.com/sisu-network/disperse/config"
	"github.com/sisu-network/disperse/types"
	"github.com/sisu-network/lib/log"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Option func(d *Distributor)

func WithDispatcher(dispatcher eth.Dispatcher) Option {
	return func(d *Distributor) {
		d.dispatcher = dispatcher
	}
}

func WithReceiptWaiter(waiter eth.ReceiptWaiter) Option {
	return func(d *Distributor) {
		d.waiter = waiter
	}
}

// WithTokenGasLimit sets a fixed gas limit for token transfers instead of estimating it.
func WithTokenGasLimit(limit uint64) Option {
	return func(d *Distributor) {
		d.tokenGasLimit = limit
	}
}

// Distributor sends a batch of transfers from one sender, keeping its nonces gap free and at most
// cfg.Concurrency transfers waiting for confirmation at a time.
type Distributor struct {
	cfg           config.Distribution
	dispatcher    eth.Dispatcher
	waiter        eth.ReceiptWaiter
	limiter       *rate.Limiter
	tokenGasLimit uint64

	inFlight *atomic.Int32
}

func NewDistributor(client eth.EthClient, fee eth.FeePolicy, cfg config.Distribution, opts ...Option) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Distributor{
		cfg:      cfg,
		inFlight: atomic.NewInt32(0),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.dispatcher == nil {
		d.dispatcher = eth.NewEthDispatcher(client, fee, d.tokenGasLimit)
	}
	if d.waiter == nil {
		d.waiter = eth.NewReceiptFetcher(client, cfg.ConfirmationTimeoutDuration(), cfg.PollIntervalDuration())
	}
	if cfg.MaxSubmitRate > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.MaxSubmitRate), 1)
	}

	return d, nil
}

// InFlight returns how many transfers are submitted and not yet terminal.
func (d *Distributor) InFlight() int {
	return int(d.inFlight.Load())
}

// Distribute sends every request from sender and returns one outcome per request, in input
// order. The returned error is a *types.SenderContextError when the sender cannot be used or a
// send left its nonce in an unknown state, or ctx.Err() when the caller cancelled. A report is returned alongside the error whenever
// submission started.
func (d *Distributor) Distribute(ctx context.Context, sender *Sender, requests []*types.TransferRequest) (*types.BatchReport, error) {
	if err := sender.acquire(); err != nil {
		return nil, err
	}
	defer sender.release()

	report := types.NewBatchReport(requests)

	valid := 0
	for i, outcome := range report.Outcomes {
		if err := outcome.Request.Validate(); err != nil {
			log.Warnf("Request %d (%s) is invalid, err = %v", i, outcome.Request, err)
			outcome.MarkFailed(types.FailureInvalidRequest, err)
			continue
		}
		valid++
	}

	if valid == 0 {
		log.Info("No valid request to distribute")
		return report, nil
	}

	if err := ctx.Err(); err != nil {
		for _, outcome := range report.Outcomes {
			if !outcome.Status.IsTerminal() {
				outcome.MarkFailed(types.FailureAborted, err)
			}
		}
		return report, err
	}

	nonce, err := d.dispatcher.PendingNonce(ctx, sender.Address())
	if err != nil {
		return nil, types.NewSenderContextError(sender.Address(), fmt.Errorf("cannot fetch nonce: %w", err))
	}
	sender.nonce.Store(nonce)

	log.Infof("Distributing %d requests from %s, starting nonce = %d, concurrency = %d, confirmations = %d",
		len(requests), sender.Address().Hex(), nonce, d.cfg.Concurrency, d.cfg.Confirmations)

	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	wg := &sync.WaitGroup{}
	abort := d.cfg.AbortOnFailure()
	aborted := atomic.NewBool(false)

	// Set once submission stops for good. Every remaining request fails with it.
	var stopErr, retErr error

	for i, outcome := range report.Outcomes {
		if outcome.Status.IsTerminal() {
			if abort {
				aborted.Store(true)
			}
			continue
		}

		if stopErr == nil {
			stopErr = d.waitForSlot(ctx, sem, aborted)
		}
		if stopErr != nil {
			outcome.MarkFailed(types.FailureAborted, stopErr)
			continue
		}

		hash, err := d.dispatcher.Dispatch(ctx, sender.signer, outcome.Request, nonce)

		var unknownErr *eth.SubmissionUnknownError
		if errors.As(err, &unknownErr) {
			// The node may hold this nonce. Wait for the tx like any other and stop submitting, the
			// next nonce is not known anymore.
			log.Error("Submission of request ", i, " is unknown, stopping. err = ", err)
			retErr = types.NewSenderContextError(sender.Address(), err)
			stopErr = types.ErrAborted
			hash = unknownErr.TxHash
			err = nil
		}

		if err != nil {
			sem.Release(1)

			var signErr *eth.SignError
			if errors.As(err, &signErr) {
				log.Error("Cannot sign tx for request ", i, ", stopping. err = ", err)
				retErr = types.NewSenderContextError(sender.Address(), err)
				stopErr = types.ErrAborted
				outcome.MarkFailed(types.FailureAborted, err)
				continue
			}

			// The node did not take this nonce, the next request reuses it.
			log.Warnf("Request %d (%s) is not submitted, err = %v", i, outcome.Request, err)
			outcome.MarkFailed(types.FailureSubmissionRejected, err)
			if abort {
				aborted.Store(true)
			}
			continue
		}

		log.Infof("Request %d submitted, nonce = %d, txHash = %s", i, nonce, hash.Hex())
		outcome.MarkSubmitted(hash, nonce)
		nonce++
		sender.nonce.Store(nonce)

		d.inFlight.Inc()
		wg.Add(1)
		go func(i int, outcome *types.TransferOutcome) {
			defer wg.Done()
			defer sem.Release(1)
			defer d.inFlight.Dec()

			d.confirm(ctx, i, outcome)
			if abort && outcome.Status == types.StatusFailed {
				aborted.Store(true)
			}
		}(i, outcome)
	}

	wg.Wait()

	log.Info("Distribution from ", sender.Address().Hex(), " is done: ", report.Summary())

	if retErr == nil && ctx.Err() != nil {
		retErr = ctx.Err()
	}

	return report, retErr
}

// waitForSlot blocks until a new submission may start. A non nil error is the reason every
// remaining request fails instead.
func (d *Distributor) waitForSlot(ctx context.Context, sem *semaphore.Weighted, aborted *atomic.Bool) error {
	if aborted.Load() {
		return types.ErrAborted
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}

	// A confirmation may have failed while we were waiting.
	if aborted.Load() {
		sem.Release(1)
		return types.ErrAborted
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", types.ErrAborted, err)
		}
	}

	return nil
}

// confirm waits for the submitted outcome to become terminal. It ignores caller cancellation: the
// tx is already out, so the wait is only bounded by the confirmation timeout.
func (d *Distributor) confirm(ctx context.Context, i int, outcome *types.TransferOutcome) {
	receipt, err := d.waiter.WaitForConfirmation(context.WithoutCancel(ctx), outcome.TxHash, d.cfg.Confirmations)
	if err != nil {
		log.Warnf("Request %d (txHash = %s) failed, err = %v", i, outcome.TxHash.Hex(), err)
		outcome.MarkFailed(types.FailureConfirmationTimeout, err)
		return
	}

	log.Infof("Request %d confirmed in block %d, txHash = %s", i, receipt.BlockNumber.Uint64(), outcome.TxHash.Hex())
	outcome.MarkConfirmed(receipt.BlockNumber.Uint64())
}

package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type TransferStatus int

const (
	StatusPending TransferStatus = iota
	StatusSubmitted
	StatusConfirmed
	StatusFailed
)

func (s TransferStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSubmitted:
		return "Submitted"
	case StatusConfirmed:
		return "Confirmed"
	case StatusFailed:
		return "Failed"
	}

	return fmt.Sprintf("TransferStatus(%d)", int(s))
}

func (s TransferStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// TransferOutcome tracks one request through Pending -> Submitted -> Confirmed | Failed.
// Only the distributor moves it between states.
type TransferOutcome struct {
	Request *TransferRequest
	Status  TransferStatus

	// Set once submitted.
	TxHash common.Hash
	Nonce  uint64

	// Inclusion block, set once confirmed.
	BlockNumber uint64

	Failure FailureKind
	Err     error
}

func NewTransferOutcome(request *TransferRequest) *TransferOutcome {
	return &TransferOutcome{
		Request: request,
		Status:  StatusPending,
	}
}

func (o *TransferOutcome) MarkSubmitted(hash common.Hash, nonce uint64) {
	o.mustBe(StatusPending)
	o.Status = StatusSubmitted
	o.TxHash = hash
	o.Nonce = nonce
}

func (o *TransferOutcome) MarkConfirmed(blockNumber uint64) {
	o.mustBe(StatusSubmitted)
	o.Status = StatusConfirmed
	o.BlockNumber = blockNumber
}

// MarkFailed moves a pending or submitted outcome to Failed. The kind comes from err when it is a
// TransferError, otherwise from fallback.
func (o *TransferOutcome) MarkFailed(fallback FailureKind, err error) {
	if o.Status.IsTerminal() {
		panic(fmt.Errorf("outcome for %s is already %s", o.Request, o.Status))
	}

	kind := FailureKindOf(err)
	if kind == FailureNone {
		kind = fallback
	}

	o.Status = StatusFailed
	o.Failure = kind
	o.Err = err
}

func (o *TransferOutcome) Submitted() bool {
	return o.TxHash != (common.Hash{})
}

func (o *TransferOutcome) mustBe(status TransferStatus) {
	if o.Status != status {
		panic(fmt.Errorf("outcome for %s is %s, expected %s", o.Request, o.Status, status))
	}
}

// BatchReport holds one outcome per input request, in input order.
type BatchReport struct {
	Outcomes []*TransferOutcome
}

func NewBatchReport(requests []*TransferRequest) *BatchReport {
	outcomes := make([]*TransferOutcome, len(requests))
	for i, request := range requests {
		outcomes[i] = NewTransferOutcome(request)
	}

	return &BatchReport{Outcomes: outcomes}
}

func (r *BatchReport) Len() int {
	return len(r.Outcomes)
}

func (r *BatchReport) Confirmed() int {
	return r.count(StatusConfirmed)
}

func (r *BatchReport) Failed() int {
	return r.count(StatusFailed)
}

// Succeeded returns true when every outcome is confirmed.
func (r *BatchReport) Succeeded() bool {
	return r.Confirmed() == len(r.Outcomes)
}

func (r *BatchReport) Summary() string {
	return fmt.Sprintf("%d requests, %d confirmed, %d failed", len(r.Outcomes), r.Confirmed(), r.Failed())
}

func (r *BatchReport) count(status TransferStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}

	return n
}

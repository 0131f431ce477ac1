package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

type FailureKind int

const (
	FailureNone FailureKind = iota // no failure
	FailureInvalidRequest
	FailureSubmissionRejected
	FailureConfirmationTimeout
	FailureReverted
	FailureAborted
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "None"
	case FailureInvalidRequest:
		return "InvalidRequest"
	case FailureSubmissionRejected:
		return "SubmissionRejected"
	case FailureConfirmationTimeout:
		return "ConfirmationTimeout"
	case FailureReverted:
		return "Reverted"
	case FailureAborted:
		return "Aborted"
	}

	return fmt.Sprintf("FailureKind(%d)", int(k))
}

var (
	// ErrAborted is recorded for requests that were never submitted because the batch stopped.
	ErrAborted = errors.New("aborted")
)

// TransferError is the per-request failure surface.
type TransferError struct {
	Kind FailureKind
	Err  error
}

func NewTransferError(kind FailureKind, err error) error {
	return &TransferError{Kind: kind, Err: err}
}

func (e *TransferError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}

	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// SenderContextError means the funding account itself is unusable. It fails the whole batch.
type SenderContextError struct {
	Address common.Address
	Err     error
}

func NewSenderContextError(addr common.Address, err error) error {
	return &SenderContextError{Address: addr, Err: err}
}

func (e *SenderContextError) Error() string {
	return fmt.Sprintf("sender %s: %v", e.Address.Hex(), e.Err)
}

func (e *SenderContextError) Unwrap() error {
	return e.Err
}

// FailureKindOf extracts the failure kind carried by err, or FailureNone when there is none.
func FailureKindOf(err error) FailureKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}

	return FailureNone
}

package core

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sisu-network/disperse/chains/eth"
	"github.com/sisu-network/disperse/types"
	"go.uber.org/atomic"
)

var (
	ErrSenderInUse = errors.New("sender is used by another distribution")
)

// Sender is the funding account of a distribution: its signer and the next nonce it will use.
// A Sender can only be used by one Distribute call at a time.
type Sender struct {
	signer eth.Signer
	inUse  *atomic.Bool
	nonce  *atomic.Uint64
}

func NewSender(signer eth.Signer) *Sender {
	return &Sender{
		signer: signer,
		inUse:  atomic.NewBool(false),
		nonce:  atomic.NewUint64(0),
	}
}

func (s *Sender) Address() common.Address {
	return s.signer.Address()
}

// Nonce returns the next unused nonce as known after the last distribution.
func (s *Sender) Nonce() uint64 {
	return s.nonce.Load()
}

func (s *Sender) acquire() error {
	if !s.inUse.CAS(false, true) {
		return types.NewSenderContextError(s.Address(), ErrSenderInUse)
	}

	return nil
}

func (s *Sender) release() {
	s.inUse.Store(false)
}

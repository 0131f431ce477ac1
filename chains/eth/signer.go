package eth

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the signing capability of the funding account.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *ethtypes.Transaction) (*ethtypes.Transaction, error)
}

// SignError is returned by the dispatcher when the signer refuses to sign. It means the sender
// cannot be used anymore.
type SignError struct {
	Err error
}

func (e *SignError) Error() string {
	return fmt.Sprintf("cannot sign transaction: %v", e.Err)
}

func (e *SignError) Unwrap() error {
	return e.Err
}

type privateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainId *big.Int
	signer  ethtypes.Signer
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey, chainId *big.Int) Signer {
	return &privateKeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainId: new(big.Int).Set(chainId),
		signer:  ethtypes.LatestSignerForChainID(chainId),
	}
}

func (s *privateKeySigner) Address() common.Address {
	return s.address
}

func (s *privateKeySigner) ChainID() *big.Int {
	return new(big.Int).Set(s.chainId)
}

func (s *privateKeySigner) SignTx(tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, s.signer, s.key)
}

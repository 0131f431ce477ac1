package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type AssetKind int

const (
	AssetNative AssetKind = iota
	AssetToken
)

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	}

	return fmt.Sprintf("AssetKind(%d)", int(k))
}

// Asset identifies what a transfer moves. Contract is only meaningful for AssetToken.
type Asset struct {
	Kind     AssetKind
	Contract string
}

func NativeAsset() Asset {
	return Asset{Kind: AssetNative}
}

func TokenAsset(contract string) Asset {
	return Asset{Kind: AssetToken, Contract: contract}
}

func (a Asset) String() string {
	if a.Kind == AssetToken {
		return fmt.Sprintf("token(%s)", a.Contract)
	}

	return a.Kind.String()
}

// TransferRequest is a single (recipient, amount) pair. It cannot be changed after construction.
type TransferRequest struct {
	recipient string
	amount    *big.Int
	asset     Asset
}

func NewNativeTransfer(recipient string, amount *big.Int) *TransferRequest {
	return NewTransfer(recipient, amount, NativeAsset())
}

func NewTokenTransfer(token, recipient string, amount *big.Int) *TransferRequest {
	return NewTransfer(recipient, amount, TokenAsset(token))
}

func NewTransfer(recipient string, amount *big.Int, asset Asset) *TransferRequest {
	var amt *big.Int
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}

	return &TransferRequest{
		recipient: strings.TrimSpace(recipient),
		amount:    amt,
		asset:     asset,
	}
}

func (r *TransferRequest) Recipient() string {
	return r.recipient
}

// RecipientAddress returns the parsed recipient. Only call it on a validated request.
func (r *TransferRequest) RecipientAddress() common.Address {
	return common.HexToAddress(r.recipient)
}

// Amount returns a copy of the amount in the smallest denomination.
func (r *TransferRequest) Amount() *big.Int {
	if r.amount == nil {
		return nil
	}

	return new(big.Int).Set(r.amount)
}

func (r *TransferRequest) Asset() Asset {
	return r.asset
}

// TokenAddress returns the parsed token contract. Only call it on a validated token request.
func (r *TransferRequest) TokenAddress() common.Address {
	return common.HexToAddress(r.asset.Contract)
}

func (r *TransferRequest) String() string {
	if r == nil {
		return "<nil>"
	}

	return fmt.Sprintf("%s -> %s (%s)", r.amount, r.recipient, r.asset)
}

// Validate checks the request without touching the network.
func (r *TransferRequest) Validate() error {
	if r == nil {
		return NewTransferError(FailureInvalidRequest, fmt.Errorf("missing request"))
	}

	if r.amount == nil || r.amount.Sign() <= 0 {
		return NewTransferError(FailureInvalidRequest, fmt.Errorf("amount must be greater than 0, got %v", r.amount))
	}

	if err := validateAddress(r.recipient); err != nil {
		return NewTransferError(FailureInvalidRequest, fmt.Errorf("invalid recipient: %w", err))
	}

	switch r.asset.Kind {
	case AssetNative:
	case AssetToken:
		if r.asset.Contract == "" {
			return NewTransferError(FailureInvalidRequest, fmt.Errorf("token transfer has no token contract"))
		}
		if err := validateAddress(r.asset.Contract); err != nil {
			return NewTransferError(FailureInvalidRequest, fmt.Errorf("invalid token contract: %w", err))
		}
	default:
		return NewTransferError(FailureInvalidRequest, fmt.Errorf("unknown asset kind %d", r.asset.Kind))
	}

	return nil
}

func validateAddress(s string) error {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("address %q must be 0x prefixed", s)
	}

	if !common.IsHexAddress(s) {
		return fmt.Errorf("malformed address %q", s)
	}

	if common.HexToAddress(s) == (common.Address{}) {
		return fmt.Errorf("zero address is not allowed")
	}

	return nil
}

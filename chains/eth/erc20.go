package eth

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang/groupcache/lru"
)

const (
	Erc20ABI = `[
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

	TokenCacheSize = 256
)

var (
	erc20ABI abi.ABI
)

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(Erc20ABI))
	if err != nil {
		panic(err)
	}
}

// PackTransfer encodes the call data of ERC20 transfer(to, amount).
func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

// TokenReader reads token metadata. Decimals never change so they are cached per contract.
type TokenReader struct {
	client EthClient
	cache  *lru.Cache
	lock   *sync.Mutex
}

func NewTokenReader(client EthClient) *TokenReader {
	return &TokenReader{
		client: client,
		cache:  lru.New(TokenCacheSize),
		lock:   &sync.Mutex{},
	}
}

func (r *TokenReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	r.lock.Lock()
	cached, ok := r.cache.Get(token)
	r.lock.Unlock()
	if ok {
		return cached.(uint8), nil
	}

	var decimals uint8
	if err := r.call(ctx, token, "decimals", &decimals); err != nil {
		return 0, err
	}

	r.lock.Lock()
	r.cache.Add(token, decimals)
	r.lock.Unlock()

	return decimals, nil
}

func (r *TokenReader) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if err := r.call(ctx, token, "balanceOf", &balance, owner); err != nil {
		return nil, err
	}

	return balance, nil
}

func (r *TokenReader) call(ctx context.Context, token common.Address, method string, out interface{}, args ...interface{}) error {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	bz, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return fmt.Errorf("cannot call %s on token %s: %w", method, token.Hex(), err)
	}

	if len(bz) == 0 {
		return fmt.Errorf("token %s returned no data for %s, is it a contract?", token.Hex(), method)
	}

	return erc20ABI.UnpackIntoInterface(out, method, bz)
}

package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sisu-network/lib/log"
)

const (
	RpcTimeOut = time.Second * 10
)

type NoHealthyClientErr struct {
	chain string
	err   error
}

func NewNoHealthyClientErr(chain string, err error) error {
	return &NoHealthyClientErr{chain: chain, err: err}
}

func (e *NoHealthyClientErr) Error() string {
	if e.err == nil {
		return fmt.Sprintf("No healthy client for chain %s", e.chain)
	}

	return fmt.Sprintf("No healthy client for chain %s, last err = %v", e.chain, e.err)
}

func (e *NoHealthyClientErr) Unwrap() error {
	return e.err
}

// A wrapper around eth.client so that we can mock in distributor tests.
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*ethtypes.Transaction, bool, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type endpoint struct {
	rpc     string
	client  *ethclient.Client
	healthy bool
}

type defaultEthClient struct {
	chain     string
	endpoints []*endpoint
	lock      *sync.RWMutex
}

// NewEthClients dials all rpcs of a chain and keeps the ones that answer. Every call is tried on
// the healthy endpoints in random order until one of them gets an answer from its node.
func NewEthClients(chain string, rpcs []string) (EthClient, error) {
	c := &defaultEthClient{
		chain: chain,
		lock:  &sync.RWMutex{},
	}

	c.endpoints = c.getRpcsHealthiness(rpcs)
	if len(c.endpoints) == 0 {
		return nil, NewNoHealthyClientErr(chain, fmt.Errorf("none of the rpcs works, rpcs = %v", rpcs))
	}

	return c, nil
}

func (c *defaultEthClient) getRpcsHealthiness(allRpcs []string) []*endpoint {
	endpoints := make([]*endpoint, 0, len(allRpcs))

	for _, url := range allRpcs {
		client, err := ethclient.Dial(url)
		if err != nil {
			log.Errorf("Cannot dial chain %s at endpoint %s, err = %v", c.chain, url, err)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), RpcTimeOut)
		_, err = client.BlockNumber(ctx)
		cancel()

		if err != nil {
			log.Infof("RPC %s is NOT healthy, err = %v", url, err)
			client.Close()
			continue
		}

		log.Infof("RPC %s is healthy", url)
		endpoints = append(endpoints, &endpoint{rpc: url, client: client, healthy: true})
	}

	return endpoints
}

// shuffle returns the healthy endpoints in random order. When every endpoint has been marked
// unhealthy all of them are returned so that a transient outage does not stick.
func (c *defaultEthClient) shuffle() []*endpoint {
	c.lock.RLock()
	defer c.lock.RUnlock()

	ret := make([]*endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		if e.healthy {
			ret = append(ret, e)
		}
	}

	if len(ret) == 0 {
		ret = append(ret, c.endpoints...)
	}

	rand.Shuffle(len(ret), func(i, j int) {
		ret[i], ret[j] = ret[j], ret[i]
	})

	return ret
}

func (c *defaultEthClient) setHealthy(e *endpoint, healthy bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	e.healthy = healthy
}

func (c *defaultEthClient) execute(f func(client *ethclient.Client) error) error {
	var lastErr error
	for _, e := range c.shuffle() {
		err := f(e.client)
		if err == nil || isNodeAnswer(err) {
			c.setHealthy(e, true)
			return err
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// The caller gave up, the endpoint may be fine.
			break
		}

		log.Verbosef("RPC %s failed for chain %s, err = %v", e.rpc, c.chain, err)
		c.setHealthy(e, false)
	}

	return NewNoHealthyClientErr(c.chain, lastErr)
}

// isNodeAnswer returns true when err was produced by the node itself, i.e. the request reached it
// and trying another endpoint would give the same answer.
func isNodeAnswer(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}

	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

func call[T any](c *defaultEthClient, f func(client *ethclient.Client) (T, error)) (T, error) {
	var ret T
	err := c.execute(func(client *ethclient.Client) error {
		var err error
		ret, err = f(client)
		return err
	})

	return ret, err
}

func (c *defaultEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return call(c, func(client *ethclient.Client) (*big.Int, error) {
		return client.ChainID(ctx)
	})
}

func (c *defaultEthClient) BlockNumber(ctx context.Context) (uint64, error) {
	return call(c, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (c *defaultEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	return call(c, func(client *ethclient.Client) (*ethtypes.Header, error) {
		return client.HeaderByNumber(ctx, number)
	})
}

func (c *defaultEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return call(c, func(client *ethclient.Client) (*ethtypes.Receipt, error) {
		return client.TransactionReceipt(ctx, txHash)
	})
}

func (c *defaultEthClient) TransactionByHash(ctx context.Context, txHash common.Hash) (*ethtypes.Transaction, bool, error) {
	var pending bool
	tx, err := call(c, func(client *ethclient.Client) (*ethtypes.Transaction, error) {
		tx, isPending, err := client.TransactionByHash(ctx, txHash)
		pending = isPending
		return tx, err
	})

	return tx, pending, err
}

func (c *defaultEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return call(c, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasPrice(ctx)
	})
}

func (c *defaultEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return call(c, func(client *ethclient.Client) (*big.Int, error) {
		return client.SuggestGasTipCap(ctx)
	})
}

func (c *defaultEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return call(c, func(client *ethclient.Client) (uint64, error) {
		return client.PendingNonceAt(ctx, account)
	})
}

func (c *defaultEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return call(c, func(client *ethclient.Client) (uint64, error) {
		return client.EstimateGas(ctx, msg)
	})
}

func (c *defaultEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(c, func(client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, msg, blockNumber)
	})
}

func (c *defaultEthClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return c.execute(func(client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
}

func (c *defaultEthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return call(c, func(client *ethclient.Client) (*big.Int, error) {
		balance, err := client.BalanceAt(ctx, account, blockNumber)
		if err == nil && balance != nil && balance.Sign() == 0 {
			log.Verbosef("Balance of %s is 0 on chain %s", account.Hex(), c.chain)
		}

		return balance, err
	})
}

package eth

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sisu-network/disperse/config"
	"github.com/sisu-network/disperse/utils"
	"github.com/sisu-network/lib/log"
)

const (
	DefaultBaseFee  = int64(15_000_000_000) // 15 gwei
	DefaultGasPrice = int64(20_000_000_000) // 20 gwei
	DefaultTip      = int64(1_000_000_000)
)

var (
	GasPriceUpdateInterval = time.Second * 60
)

// Fee carries either a legacy gas price or EIP 1559 fee cap & tip.
type Fee struct {
	GasPrice *big.Int

	GasFeeCap *big.Int
	GasTipCap *big.Int
}

func (f *Fee) IsDynamic() bool {
	return f.GasFeeCap != nil
}

// FeePolicy decides the fee of every submitted transaction.
type FeePolicy interface {
	Fees(ctx context.Context) (*Fee, error)
}

func NewFeePolicy(cfg config.Fee, client EthClient) (FeePolicy, error) {
	switch cfg.Policy {
	case config.FeePolicyFixed:
		return NewFixedFeePolicy(utils.GweiToWei(cfg.GasPriceGwei)), nil
	case config.FeePolicySuggested:
		return newGasCalculator(client, utils.GweiToWei(cfg.MinGasPriceGwei), GasPriceUpdateInterval), nil
	case config.FeePolicyEip1559:
		return &dynamicFeePolicy{client: client}, nil
	}

	return nil, fmt.Errorf("unknown fee policy %q", cfg.Policy)
}

type fixedFeePolicy struct {
	gasPrice *big.Int
}

func NewFixedFeePolicy(gasPrice *big.Int) FeePolicy {
	return &fixedFeePolicy{gasPrice: gasPrice}
}

func (p *fixedFeePolicy) Fees(ctx context.Context) (*Fee, error) {
	return &Fee{GasPrice: new(big.Int).Set(p.gasPrice)}, nil
}

// gasCalculator returns the node's suggested legacy gas price, refreshed at most once per
// gasPriceUpdateInterval and never below minGasPrice.
type gasCalculator struct {
	client                 EthClient
	minGasPrice            *big.Int
	gasPriceUpdateInterval time.Duration

	gasPrice           *big.Int
	lastUpdateGasPrice time.Time
	lock               *sync.RWMutex
}

func newGasCalculator(client EthClient, minGasPrice *big.Int, gasPriceUpdateInterval time.Duration) *gasCalculator {
	return &gasCalculator{
		client:                 client,
		minGasPrice:            minGasPrice,
		gasPriceUpdateInterval: gasPriceUpdateInterval,
		lock:                   &sync.RWMutex{},
	}
}

func (g *gasCalculator) Fees(ctx context.Context) (*Fee, error) {
	gasPrice, err := g.GetGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	return &Fee{GasPrice: gasPrice}, nil
}

// GetGasPrice returns estimated gas price.
func (g *gasCalculator) GetGasPrice(ctx context.Context) (*big.Int, error) {
	g.lock.RLock()
	lastUpdate := g.lastUpdateGasPrice
	g.lock.RUnlock()

	if time.Now().After(lastUpdate.Add(g.gasPriceUpdateInterval)) {
		g.updateGasPrice(ctx)
	}

	g.lock.RLock()
	defer g.lock.RUnlock()

	if g.gasPrice == nil {
		return nil, fmt.Errorf("gas price is not available")
	}

	gasPrice := new(big.Int).Set(g.gasPrice)
	if g.minGasPrice != nil && gasPrice.Cmp(g.minGasPrice) < 0 {
		gasPrice.Set(g.minGasPrice)
	}

	return gasPrice, nil
}

func (g *gasCalculator) updateGasPrice(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	cancel()

	if err != nil || gasPrice == nil {
		log.Errorf("Failed to get gas price, err = %v", err)
		return
	}

	g.lock.Lock()
	g.gasPrice = gasPrice
	g.lastUpdateGasPrice = time.Now()
	g.lock.Unlock()
}

// dynamicFeePolicy builds EIP 1559 fees: feeCap = 2 * baseFee + tip.
type dynamicFeePolicy struct {
	client EthClient
}

func (p *dynamicFeePolicy) Fees(ctx context.Context) (*Fee, error) {
	ctx, cancel := context.WithTimeout(ctx, RpcTimeOut)
	defer cancel()

	tip, err := p.client.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		log.Warnf("Cannot get gas tip cap, using default. err = %v", err)
		tip = big.NewInt(DefaultTip)
	}

	baseFee := big.NewInt(DefaultBaseFee)
	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil || header == nil || header.BaseFee == nil {
		log.Warnf("Cannot get base fee from latest header, using default. err = %v", err)
	} else {
		baseFee = header.BaseFee
	}

	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap = feeCap.Add(feeCap, tip)

	return &Fee{
		GasFeeCap: feeCap,
		GasTipCap: tip,
	}, nil
}

package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Execute submits opp.Route.Legs in order as router swaps. A leg that
// reverts or cannot be sent stops the run and is reported through a result
// with Success=false. Realized profit is measured from the wallet balance of
// the final asset.
func (c *Connector) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	b, chainID, err := c.session()
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	if c.signer == nil {
		return domain.ExecutionResult{}, fmt.Errorf("evm: execute without wallet: %w", domain.ErrNotSupported)
	}
	legs := opp.Route.Legs
	if len(legs) == 0 {
		return domain.ExecutionResult{}, fmt.Errorf("evm: opportunity %s has no legs: %w", opp.ID, domain.ErrValidation)
	}

	start := time.Now()
	res := domain.ExecutionResult{
		OpportunityID: opp.ID,
		LedgerID:      c.cfg.ID,
		Strategy:      opp.Strategy,
	}

	finalAsset := legs[len(legs)-1].AssetOut
	before, err := c.Balance(ctx, finalAsset)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	for i, leg := range legs {
		lr := domain.LegResult{Index: i, LedgerID: c.cfg.ID, RouteID: leg.RouteID}
		txIDs, fee, err := c.executeLeg(ctx, b, chainID, leg, opp.Deadline)
		res.FeeConsumed += fee
		res.TxIDs = append(res.TxIDs, txIDs...)
		if len(txIDs) > 0 {
			lr.TxID = txIDs[len(txIDs)-1]
		}
		if err != nil {
			lr.Error = err.Error()
			res.Legs = append(res.Legs, lr)
			res.Reason = domain.ReasonExecutionFailed
			res.Error = fmt.Sprintf("leg %d: %v", i, err)
			res.Duration = time.Since(start)
			res.CompletedAt = time.Now().UTC()
			return res, nil
		}
		lr.Success = true
		res.Legs = append(res.Legs, lr)
	}

	res.Success = true
	after, err := c.Balance(ctx, finalAsset)
	if err != nil {
		c.logger.WarnContext(ctx, "post-trade balance unavailable, reporting expected profit",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		res.RealizedProfit = opp.ExpectedProfit
	} else {
		actualOut := after - before
		if finalAsset == legs[0].AssetIn {
			actualOut += legs[0].AmountIn
		}
		res.RealizedProfit = opp.RealizedProfit(actualOut)
	}
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()
	return res, nil
}

// executeLeg approves the router when needed and sends the swap. It returns
// every transaction hash it sent and the native fee paid.
func (c *Connector) executeLeg(ctx context.Context, b Backend, chainID *big.Int, leg domain.RouteLeg, deadline time.Time) ([]string, float64, error) {
	in, err := c.cfg.Asset(leg.AssetIn)
	if err != nil {
		return nil, 0, err
	}
	out, err := c.cfg.Asset(leg.AssetOut)
	if err != nil {
		return nil, 0, err
	}
	router := common.HexToAddress(leg.RouteID)
	tokenIn := common.HexToAddress(in.Address)
	owner := c.signer.Address()

	amt := toBaseUnits(leg.AmountIn, in.Decimals)
	minOut := toBaseUnits(leg.ExpectedOut*(1-c.cfg.SlippageBps/10_000), out.Decimals)

	var (
		hashes []string
		fee    float64
	)

	allowance, err := c.callUint(ctx, b, tokenIn, "allowance", owner, router)
	if err != nil {
		return nil, 0, fmt.Errorf("evm: allowance: %w", err)
	}
	if allowance.Cmp(amt) < 0 {
		data, err := erc20ABI.Pack("approve", router, amt)
		if err != nil {
			return nil, 0, fmt.Errorf("evm: pack approve: %w", err)
		}
		hash, f, err := c.transact(ctx, b, chainID, tokenIn, data)
		fee += f
		if hash != "" {
			hashes = append(hashes, hash)
		}
		if err != nil {
			return hashes, fee, fmt.Errorf("evm: approve: %w", err)
		}
	}

	data, err := routerABI.Pack("swapExactTokensForTokens",
		amt, minOut,
		[]common.Address{tokenIn, common.HexToAddress(out.Address)},
		owner, big.NewInt(deadline.Unix()),
	)
	if err != nil {
		return hashes, fee, fmt.Errorf("evm: pack swap: %w", err)
	}
	hash, f, err := c.transact(ctx, b, chainID, router, data)
	fee += f
	if hash != "" {
		hashes = append(hashes, hash)
	}
	if err != nil {
		return hashes, fee, fmt.Errorf("evm: swap: %w", err)
	}
	return hashes, fee, nil
}

// transact signs, sends and waits for one legacy transaction.
func (c *Connector) transact(ctx context.Context, b Backend, chainID *big.Int, to common.Address, data []byte) (string, float64, error) {
	from := c.signer.Address()
	nonce, err := b.PendingNonceAt(ctx, from)
	if err != nil {
		return "", 0, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := b.SuggestGasPrice(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("gas price: %w", err)
	}
	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return "", 0, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas * gasLimitBuffer / 10,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, chainID)
	if err != nil {
		return "", 0, err
	}
	if err := b.SendTransaction(ctx, signed); err != nil {
		return "", 0, fmt.Errorf("send: %w", err)
	}
	hash := signed.Hash()

	rcpt, err := c.waitReceipt(ctx, b, hash)
	if err != nil {
		return hash.Hex(), 0, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	price := rcpt.EffectiveGasPrice
	if price == nil {
		price = gasPrice
	}
	fee := fromBaseUnits(new(big.Int).Mul(new(big.Int).SetUint64(rcpt.GasUsed), price), nativeDecimals)
	if rcpt.Status != types.ReceiptStatusSuccessful {
		return hash.Hex(), fee, fmt.Errorf("tx %s reverted", hash.Hex())
	}
	return hash.Hex(), fee, nil
}

func (c *Connector) waitReceipt(ctx context.Context, b Backend, hash common.Hash) (*types.Receipt, error) {
	for {
		rcpt, err := b.TransactionReceipt(ctx, hash)
		if err == nil {
			return rcpt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.receiptEvery):
		}
	}
}

// Package tasks is the Moc deployment manifest.
package tasks

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/moc-protocol/protocol/publish/contracts/moccacoinbase"
	"github.com/moc-protocol/protocol/publish/contracts/mocrc20"
	"github.com/moc-protocol/protocol/publish/contracts/priceprovidermock"
	"github.com/moc-protocol/protocol/publish/params"
	"github.com/moc-protocol/protocol/publish/task"
)

const (
	MocToken                = "MocToken"
	CollateralTokenCoinbase = "CollateralTokenCoinbase"
	FeeTokenPriceProvider   = "FeeTokenPriceProvider"
	MocCACoinbase           = "MocCACoinbase"
	RegisterPeggedTokens    = "register_PeggedTokens"

	TagPeggedTokens   = "PeggedTokens"
	TagPriceProviders = "PriceProviders"
)

func PeggedTokenName(symbol string) string   { return "PeggedToken" + symbol }
func PriceProviderName(symbol string) string { return "PriceProvider" + symbol }

// Moc returns the full manifest. Pegged token tasks are generated from the
// bundle's token list.
func Moc(bundle params.Bundle) []task.Task {
	out := []task.Task{
		task.Deploy(task.DeploySpec{
			Name:     MocToken,
			Contract: mocrc20.Name(),
			Tags:     []string{MocToken},
			Args:     mocrc20.ConstructorArgs{Name: "MocToken", Symbol: "MocToken"}.Values(),
			GasLimit: mocrc20.GasLimit,
		}),
		task.Deploy(task.DeploySpec{
			Name:     CollateralTokenCoinbase,
			Contract: mocrc20.Name(),
			Tags:     []string{CollateralTokenCoinbase},
			GasLimit: mocrc20.GasLimit,
			ArgsFunc: func(_ context.Context, env *task.Env) ([]any, error) {
				tc := env.Params.CollateralToken
				return mocrc20.ConstructorArgs{Name: tc.Name, Symbol: tc.Symbol}.Values(), nil
			},
		}),
		task.Deploy(task.DeploySpec{
			Name:     FeeTokenPriceProvider,
			Contract: priceprovidermock.Name(),
			Tags:     []string{FeeTokenPriceProvider, TagPriceProviders},
			GasLimit: priceprovidermock.GasLimit,
			ArgsFunc: func(_ context.Context, env *task.Env) ([]any, error) {
				return []any{env.Params.FeeToken.InitialPrice}, nil
			},
		}),
	}

	for _, tp := range bundle.PeggedTokens {
		out = append(out,
			task.Deploy(task.DeploySpec{
				Name:     PeggedTokenName(tp.Symbol),
				Contract: mocrc20.Name(),
				Tags:     []string{TagPeggedTokens},
				Args:     mocrc20.ConstructorArgs{Name: tp.Name, Symbol: tp.Symbol}.Values(),
				GasLimit: mocrc20.GasLimit,
			}),
			task.Deploy(task.DeploySpec{
				Name:     PriceProviderName(tp.Symbol),
				Contract: priceprovidermock.Name(),
				Tags:     []string{TagPriceProviders},
				Args:     []any{new(big.Int).Set(tp.InitialPrice)},
				GasLimit: priceprovidermock.GasLimit,
			}),
		)
	}

	out = append(out,
		task.Deploy(task.DeploySpec{
			Name:         MocCACoinbase,
			Contract:     moccacoinbase.Name(),
			Tags:         []string{MocCACoinbase},
			Dependencies: []string{MocToken, CollateralTokenCoinbase, FeeTokenPriceProvider},
			GasLimit:     bundle.GasLimit,
			Proxy:        coreProxy,
		}),
		task.Task{
			ID:           RegisterPeggedTokens,
			Tags:         []string{RegisterPeggedTokens},
			Dependencies: []string{MocCACoinbase, TagPeggedTokens, TagPriceProviders},
			Run:          registerPeggedTokens,
		},
	)
	return out
}

func coreProxy(ctx context.Context, env *task.Env) (*task.ProxyOptions, error) {
	p := env.Params
	addr := make(map[string]common.Address)
	for _, name := range []string{MocToken, FeeTokenPriceProvider, CollateralTokenCoinbase} {
		rec, err := env.Deployments.Get(ctx, name)
		if err != nil {
			return nil, err
		}
		addr[name] = rec.Address
	}

	initData, err := moccacoinbase.EncodeInit(moccacoinbase.InitArgs{
		GovernorAddress:                   p.Addresses.Governor,
		PauserAddress:                     p.Addresses.Pauser,
		FeeTokenAddress:                   addr[MocToken],
		FeeTokenPriceProviderAddress:      addr[FeeTokenPriceProvider],
		TcTokenAddress:                    addr[CollateralTokenCoinbase],
		MocFeeFlowAddress:                 p.Addresses.MocFeeFlow,
		MocAppreciationBeneficiaryAddress: p.Addresses.AppreciationBeneficiary,
		ProtThrld:                         p.Core.ProtThrld,
		LiqThrld:                          p.Core.LiqThrld,
		FeeRetainer:                       p.Fees.FeeRetainer,
		TcMintFee:                         p.Fees.TcMintFee,
		TcRedeemFee:                       p.Fees.TcRedeemFee,
		SwapTPforTPFee:                    p.Fees.SwapTPforTPFee,
		SwapTPforTCFee:                    p.Fees.SwapTPforTCFee,
		SwapTCforTPFee:                    p.Fees.SwapTCforTPFee,
		RedeemTCandTPFee:                  p.Fees.RedeemTCandTPFee,
		MintTCandTPFee:                    p.Fees.MintTCandTPFee,
		FeeTokenPct:                       p.Fees.FeeTokenPct,
		SuccessFee:                        p.Core.SuccessFee,
		AppreciationFactor:                p.Core.AppreciationFactor,
		Bes:                               new(big.Int).SetUint64(p.Settlement.BlocksBetweenSettlements),
		EmaCalculationBlockSpan:           new(big.Int).SetUint64(p.Core.EmaCalculationBlockSpan),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s init: %w", MocCACoinbase, err)
	}
	return &task.ProxyOptions{Admin: p.Addresses.Governor, InitData: initData}, nil
}

// registerPeggedTokens adds every pegged token to the core contract. Each
// registration is marked against the core record's address and run id, so a
// rerun skips tokens already added to the same proxy while a proxy redeployed
// after a chain reset gets all of them again.
func registerPeggedTokens(ctx context.Context, env *task.Env) (task.Completion, error) {
	sender, err := env.Accounts.Resolve(task.DefaultSender)
	if err != nil {
		return task.AlwaysRerun, err
	}
	core, err := env.Deployments.Get(ctx, MocCACoinbase)
	if err != nil {
		return task.AlwaysRerun, err
	}
	store := env.Deployments.Registry()

	for _, tp := range env.Params.PeggedTokens {
		mark := fmt.Sprintf("%s:%s@%s/%s", RegisterPeggedTokens, tp.Symbol, core.Address.Hex(), core.RunID)
		done, err := store.IsComplete(ctx, mark)
		if err != nil {
			return task.AlwaysRerun, err
		}
		if done {
			env.Log.Info("pegged token already registered", "symbol", tp.Symbol)
			continue
		}

		token, err := env.Deployments.Get(ctx, PeggedTokenName(tp.Symbol))
		if err != nil {
			return task.AlwaysRerun, err
		}
		provider, err := env.Deployments.Get(ctx, PriceProviderName(tp.Symbol))
		if err != nil {
			return task.AlwaysRerun, err
		}
		data, err := moccacoinbase.EncodeAddPeggedToken(moccacoinbase.PeggedTokenArgs{
			TpTokenAddress:       token.Address,
			PriceProviderAddress: provider.Address,
			TpCtarg:              tp.Ctarg,
			TpMintFee:            tp.MintFee,
			TpRedeemFee:          tp.RedeemFee,
			TpEma:                tp.InitialEma,
			TpEmaSf:              tp.SmoothingFactor,
		})
		if err != nil {
			return task.AlwaysRerun, fmt.Errorf("encode addPeggedToken %s: %w", tp.Symbol, err)
		}
		if _, err := env.Deployments.Execute(ctx, MocCACoinbase, sender, moccacoinbase.AddPeggedTokenGasLimit, data); err != nil {
			return task.AlwaysRerun, fmt.Errorf("register %s: %w", tp.Symbol, err)
		}
		if err := store.MarkComplete(ctx, mark); err != nil {
			return task.AlwaysRerun, err
		}
		env.Log.Info("pegged token registered", "symbol", tp.Symbol, "token", token.Address.Hex())
	}
	return task.CompletionFor(env.Network), nil
}

// Package params holds the per-network protocol parameters used to
// initialize the Moc contracts.
//
// Rates and ratios are fixed-point values scaled by Base (10^18): a fee of
// 5% is Pct(5), a protection threshold of 2 is Frac(2, 1).
package params

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

const Decimals = 18

var ErrUnknownNetwork = errors.New("no parameter profile for network")

var (
	base     = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
	validate = validator.New()
)

// Base returns 10^18.
func Base() *big.Int { return new(big.Int).Set(base) }

// Pct returns n percent of Base.
func Pct(n int64) *big.Int { return Frac(n, 100) }

// Frac returns num/den scaled by Base.
func Frac(num, den int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(num), base)
	return v.Quo(v, big.NewInt(den))
}

type (
	Bundle struct {
		Core            Core          `mapstructure:"core" json:"core"`
		Fees            Fees          `mapstructure:"fees" json:"fees"`
		Settlement      Settlement    `mapstructure:"settlement" json:"settlement"`
		CollateralToken Token         `mapstructure:"collateral_token" json:"collateral_token"`
		FeeToken        FeeToken      `mapstructure:"fee_token" json:"fee_token"`
		PeggedTokens    []PeggedToken `mapstructure:"pegged_tokens" json:"pegged_tokens" validate:"required,min=1,dive"`
		Addresses       Addresses     `mapstructure:"addresses" json:"addresses"`
		GasLimit        uint64        `mapstructure:"gas_limit" json:"gas_limit" validate:"gt=0"`
	}

	Core struct {
		ProtThrld               *big.Int `mapstructure:"prot_thrld" json:"prot_thrld" validate:"required"`
		LiqThrld                *big.Int `mapstructure:"liq_thrld" json:"liq_thrld" validate:"required"`
		EmaCalculationBlockSpan uint64   `mapstructure:"ema_calculation_block_span" json:"ema_calculation_block_span" validate:"gt=0"`
		SuccessFee              *big.Int `mapstructure:"success_fee" json:"success_fee" validate:"required"`
		AppreciationFactor      *big.Int `mapstructure:"appreciation_factor" json:"appreciation_factor" validate:"required"`
	}

	Fees struct {
		FeeRetainer      *big.Int `mapstructure:"fee_retainer" json:"fee_retainer" validate:"required"`
		TcMintFee        *big.Int `mapstructure:"tc_mint_fee" json:"tc_mint_fee" validate:"required"`
		TcRedeemFee      *big.Int `mapstructure:"tc_redeem_fee" json:"tc_redeem_fee" validate:"required"`
		SwapTPforTPFee   *big.Int `mapstructure:"swap_tp_for_tp_fee" json:"swap_tp_for_tp_fee" validate:"required"`
		SwapTPforTCFee   *big.Int `mapstructure:"swap_tp_for_tc_fee" json:"swap_tp_for_tc_fee" validate:"required"`
		SwapTCforTPFee   *big.Int `mapstructure:"swap_tc_for_tp_fee" json:"swap_tc_for_tp_fee" validate:"required"`
		RedeemTCandTPFee *big.Int `mapstructure:"redeem_tc_and_tp_fee" json:"redeem_tc_and_tp_fee" validate:"required"`
		MintTCandTPFee   *big.Int `mapstructure:"mint_tc_and_tp_fee" json:"mint_tc_and_tp_fee" validate:"required"`
		FeeTokenPct      *big.Int `mapstructure:"fee_token_pct" json:"fee_token_pct" validate:"required"`
	}

	Settlement struct {
		// BlocksBetweenSettlements is passed to the core contract as bes.
		BlocksBetweenSettlements uint64 `mapstructure:"blocks_between_settlements" json:"blocks_between_settlements" validate:"gt=0"`
	}

	Token struct {
		Name   string `mapstructure:"name" json:"name" validate:"required"`
		Symbol string `mapstructure:"symbol" json:"symbol" validate:"required"`
	}

	FeeToken struct {
		Name         string   `mapstructure:"name" json:"name" validate:"required"`
		Symbol       string   `mapstructure:"symbol" json:"symbol" validate:"required"`
		InitialPrice *big.Int `mapstructure:"initial_price" json:"initial_price" validate:"required"`
	}

	PeggedToken struct {
		Name            string   `mapstructure:"name" json:"name" validate:"required"`
		Symbol          string   `mapstructure:"symbol" json:"symbol" validate:"required,alphanum"`
		Ctarg           *big.Int `mapstructure:"ctarg" json:"ctarg" validate:"required"`
		MintFee         *big.Int `mapstructure:"mint_fee" json:"mint_fee" validate:"required"`
		RedeemFee       *big.Int `mapstructure:"redeem_fee" json:"redeem_fee" validate:"required"`
		InitialEma      *big.Int `mapstructure:"initial_ema" json:"initial_ema" validate:"required"`
		SmoothingFactor *big.Int `mapstructure:"smoothing_factor" json:"smoothing_factor" validate:"required"`
		InitialPrice    *big.Int `mapstructure:"initial_price" json:"initial_price" validate:"required"`
	}

	Addresses struct {
		Governor                common.Address `mapstructure:"governor" json:"governor" validate:"required"`
		Pauser                  common.Address `mapstructure:"pauser" json:"pauser" validate:"required"`
		MocFeeFlow              common.Address `mapstructure:"moc_fee_flow" json:"moc_fee_flow" validate:"required"`
		AppreciationBeneficiary common.Address `mapstructure:"appreciation_beneficiary" json:"appreciation_beneficiary" validate:"required"`
	}
)

// Validate checks required fields and the fixed-point ranges of every rate.
func (b *Bundle) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	var errs []error
	unit := func(field string, v *big.Int) {
		if v.Sign() < 0 || v.Cmp(base) > 0 {
			errs = append(errs, fmt.Errorf("%s %s out of range [0, %s]", field, v, base))
		}
	}

	unit("core.success_fee", b.Core.SuccessFee)
	unit("core.appreciation_factor", b.Core.AppreciationFactor)
	unit("fees.fee_retainer", b.Fees.FeeRetainer)
	unit("fees.tc_mint_fee", b.Fees.TcMintFee)
	unit("fees.tc_redeem_fee", b.Fees.TcRedeemFee)
	unit("fees.swap_tp_for_tp_fee", b.Fees.SwapTPforTPFee)
	unit("fees.swap_tp_for_tc_fee", b.Fees.SwapTPforTCFee)
	unit("fees.swap_tc_for_tp_fee", b.Fees.SwapTCforTPFee)
	unit("fees.redeem_tc_and_tp_fee", b.Fees.RedeemTCandTPFee)
	unit("fees.mint_tc_and_tp_fee", b.Fees.MintTCandTPFee)
	unit("fees.fee_token_pct", b.Fees.FeeTokenPct)

	if b.Core.LiqThrld.Cmp(base) < 0 {
		errs = append(errs, fmt.Errorf("core.liq_thrld %s below %s", b.Core.LiqThrld, base))
	}
	if b.Core.ProtThrld.Cmp(b.Core.LiqThrld) <= 0 {
		errs = append(errs, fmt.Errorf("core.prot_thrld %s must exceed liq_thrld %s", b.Core.ProtThrld, b.Core.LiqThrld))
	}
	if b.FeeToken.InitialPrice.Sign() <= 0 {
		errs = append(errs, errors.New("fee_token.initial_price must be positive"))
	}

	seen := make(map[string]bool, len(b.PeggedTokens))
	for i, tp := range b.PeggedTokens {
		prefix := fmt.Sprintf("pegged_tokens[%d]", i)
		if seen[tp.Symbol] {
			errs = append(errs, fmt.Errorf("%s: duplicate symbol %q", prefix, tp.Symbol))
		}
		seen[tp.Symbol] = true
		unit(prefix+".mint_fee", tp.MintFee)
		unit(prefix+".redeem_fee", tp.RedeemFee)
		unit(prefix+".smoothing_factor", tp.SmoothingFactor)
		if tp.Ctarg.Cmp(b.Core.ProtThrld) <= 0 {
			errs = append(errs, fmt.Errorf("%s.ctarg %s must exceed prot_thrld %s", prefix, tp.Ctarg, b.Core.ProtThrld))
		}
		if tp.InitialPrice.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("%s.initial_price must be positive", prefix))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy; the *big.Int fields are not shared.
func (b Bundle) Clone() Bundle {
	c := b
	c.Core.ProtThrld = cp(b.Core.ProtThrld)
	c.Core.LiqThrld = cp(b.Core.LiqThrld)
	c.Core.SuccessFee = cp(b.Core.SuccessFee)
	c.Core.AppreciationFactor = cp(b.Core.AppreciationFactor)
	c.Fees = Fees{
		FeeRetainer:      cp(b.Fees.FeeRetainer),
		TcMintFee:        cp(b.Fees.TcMintFee),
		TcRedeemFee:      cp(b.Fees.TcRedeemFee),
		SwapTPforTPFee:   cp(b.Fees.SwapTPforTPFee),
		SwapTPforTCFee:   cp(b.Fees.SwapTPforTCFee),
		SwapTCforTPFee:   cp(b.Fees.SwapTCforTPFee),
		RedeemTCandTPFee: cp(b.Fees.RedeemTCandTPFee),
		MintTCandTPFee:   cp(b.Fees.MintTCandTPFee),
		FeeTokenPct:      cp(b.Fees.FeeTokenPct),
	}
	c.FeeToken.InitialPrice = cp(b.FeeToken.InitialPrice)
	c.PeggedTokens = make([]PeggedToken, len(b.PeggedTokens))
	for i, tp := range b.PeggedTokens {
		c.PeggedTokens[i] = PeggedToken{
			Name:            tp.Name,
			Symbol:          tp.Symbol,
			Ctarg:           cp(tp.Ctarg),
			MintFee:         cp(tp.MintFee),
			RedeemFee:       cp(tp.RedeemFee),
			InitialEma:      cp(tp.InitialEma),
			SmoothingFactor: cp(tp.SmoothingFactor),
			InitialPrice:    cp(tp.InitialPrice),
		}
	}
	return c
}

func cp(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

// Lookup returns a copy of the built-in profile for network.
func Lookup(network string) (Bundle, error) {
	b, ok := profiles[network]
	if !ok {
		return Bundle{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	return b.Clone(), nil
}

// Networks lists the built-in profiles.
func Networks() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

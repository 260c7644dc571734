package params

import (
	"github.com/ethereum/go-ethereum/common"
)

// Hardhat is the local development profile. Privileged roles are the first
// accounts of the default hardhat/anvil mnemonic.
const Hardhat = "hardhat"

var profiles = map[string]Bundle{
	Hardhat: {
		Core: Core{
			ProtThrld:               Frac(2, 1),
			LiqThrld:                Frac(104, 100),
			EmaCalculationBlockSpan: 2880,
			SuccessFee:              Pct(10),
			AppreciationFactor:      Pct(50),
		},
		Fees: Fees{
			FeeRetainer:      Pct(0),
			TcMintFee:        Pct(5),
			TcRedeemFee:      Pct(5),
			SwapTPforTPFee:   Pct(1),
			SwapTPforTCFee:   Pct(1),
			SwapTCforTPFee:   Pct(1),
			RedeemTCandTPFee: Pct(8),
			MintTCandTPFee:   Pct(8),
			FeeTokenPct:      Pct(50),
		},
		Settlement: Settlement{
			BlocksBetweenSettlements: 86400,
		},
		CollateralToken: Token{
			Name:   "CollateralToken",
			Symbol: "CT",
		},
		FeeToken: FeeToken{
			Name:         "MocToken",
			Symbol:       "MocToken",
			InitialPrice: Frac(1, 1),
		},
		PeggedTokens: []PeggedToken{
			{
				Name:            "PeggedToken",
				Symbol:          "TP",
				Ctarg:           Frac(4, 1),
				MintFee:         Pct(5),
				RedeemFee:       Pct(5),
				InitialEma:      Frac(235, 1),
				SmoothingFactor: Frac(47619048, 10_000_000_000),
				InitialPrice:    Frac(235, 1),
			},
		},
		Addresses: Addresses{
			Governor:                common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			Pauser:                  common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
			MocFeeFlow:              common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"),
			AppreciationBeneficiary: common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906"),
		},
		GasLimit: 30_000_000,
	},
}

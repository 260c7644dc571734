// Package moccacoinbase binds MocCACoinbase, the protocol core for a
// coinbase-collateralized deployment. It is deployed behind an ERC1967
// proxy and configured through initialize.
package moccacoinbase

import (
	_ "embed"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"

	"github.com/moc-protocol/protocol/publish"
)

const (
	name                   = "MocCACoinbase"
	version                = "0.1.0"
	license                = "GPL-3.0"
	solidityVersion        = "0.8.20"
	evmFork                = "paris"
	ImplGasLimit           = 30_000_000
	AddPeggedTokenGasLimit = 2_000_000
)

//go:embed MocCACoinbase.abi.json
var abiJSON []byte

var (
	funcInitialize = w3.MustNewFunc(
		"initialize((address governorAddress,address pauserAddress,address feeTokenAddress,address feeTokenPriceProviderAddress,"+
			"address tcTokenAddress,address mocFeeFlowAddress,address mocAppreciationBeneficiaryAddress,"+
			"uint256 protThrld,uint256 liqThrld,uint256 feeRetainer,uint256 tcMintFee,uint256 tcRedeemFee,"+
			"uint256 swapTPforTPFee,uint256 swapTPforTCFee,uint256 swapTCforTPFee,uint256 redeemTCandTPFee,"+
			"uint256 mintTCandTPFee,uint256 feeTokenPct,uint256 successFee,uint256 appreciationFactor,"+
			"uint256 bes,uint256 emaCalculationBlockSpan) initializeParams_)", "",
	)
	funcAddPeggedToken = w3.MustNewFunc(
		"addPeggedToken((address tpTokenAddress,address priceProviderAddress,uint256 tpCtarg,uint256 tpMintFee,"+
			"uint256 tpRedeemFee,uint256 tpEma,uint256 tpEmaSf) peggedTokenParams_)", "",
	)
)

// Bytecode is resolved from the compiled artifacts at deploy time.
var descriptor = publish.MustDescriptor(name, abiJSON, nil)

// InitArgs mirrors the initializeParams_ tuple field for field.
type InitArgs struct {
	GovernorAddress                   common.Address
	PauserAddress                     common.Address
	FeeTokenAddress                   common.Address
	FeeTokenPriceProviderAddress      common.Address
	TcTokenAddress                    common.Address
	MocFeeFlowAddress                 common.Address
	MocAppreciationBeneficiaryAddress common.Address
	ProtThrld                         *big.Int
	LiqThrld                          *big.Int
	FeeRetainer                       *big.Int
	TcMintFee                         *big.Int
	TcRedeemFee                       *big.Int
	SwapTPforTPFee                    *big.Int
	SwapTPforTCFee                    *big.Int
	SwapTCforTPFee                    *big.Int
	RedeemTCandTPFee                  *big.Int
	MintTCandTPFee                    *big.Int
	FeeTokenPct                       *big.Int
	SuccessFee                        *big.Int
	AppreciationFactor                *big.Int
	Bes                               *big.Int
	EmaCalculationBlockSpan           *big.Int
}

// PeggedTokenArgs mirrors the peggedTokenParams_ tuple.
type PeggedTokenArgs struct {
	TpTokenAddress       common.Address
	PriceProviderAddress common.Address
	TpCtarg              *big.Int
	TpMintFee            *big.Int
	TpRedeemFee          *big.Int
	TpEma                *big.Int
	TpEmaSf              *big.Int
}

func Name() string            { return name }
func Version() string         { return version }
func License() string         { return license }
func SolidityVersion() string { return solidityVersion }
func EVMFork() string         { return evmFork }
func MaxGasLimit() uint64     { return ImplGasLimit }

func Descriptor() *publish.Descriptor { return descriptor }

func EncodeInit(args InitArgs) ([]byte, error) {
	return funcInitialize.EncodeArgs(&args)
}

func EncodeAddPeggedToken(args PeggedTokenArgs) ([]byte, error) {
	return funcAddPeggedToken.EncodeArgs(&args)
}

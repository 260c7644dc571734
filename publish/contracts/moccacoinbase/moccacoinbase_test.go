package moccacoinbase

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func word(data []byte, i int) []byte {
	return data[4+32*i : 4+32*(i+1)]
}

func TestFuncsMatchInterface(t *testing.T) {
	iface := Descriptor().Interface()

	initialize, ok := iface.Methods["initialize"]
	require.True(t, ok)
	assert.Equal(t, initialize.ID, funcInitialize.Selector[:])

	addPeggedToken, ok := iface.Methods["addPeggedToken"]
	require.True(t, ok)
	assert.Equal(t, addPeggedToken.ID, funcAddPeggedToken.Selector[:])

	assert.Empty(t, iface.Constructor.Inputs)
}

func TestEncodeInit(t *testing.T) {
	governor := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	one := big.NewInt(1)
	args := InitArgs{
		GovernorAddress:                   governor,
		PauserAddress:                     common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		FeeTokenAddress:                   common.HexToAddress("0x01"),
		FeeTokenPriceProviderAddress:      common.HexToAddress("0x02"),
		TcTokenAddress:                    common.HexToAddress("0x03"),
		MocFeeFlowAddress:                 common.HexToAddress("0x04"),
		MocAppreciationBeneficiaryAddress: common.HexToAddress("0x05"),
		ProtThrld:                         big.NewInt(2_000),
		LiqThrld:                          one,
		FeeRetainer:                       one,
		TcMintFee:                         one,
		TcRedeemFee:                       one,
		SwapTPforTPFee:                    one,
		SwapTPforTCFee:                    one,
		SwapTCforTPFee:                    one,
		RedeemTCandTPFee:                  one,
		MintTCandTPFee:                    one,
		FeeTokenPct:                       one,
		SuccessFee:                        one,
		AppreciationFactor:                one,
		Bes:                               one,
		EmaCalculationBlockSpan:           big.NewInt(2880),
	}

	data, err := EncodeInit(args)
	require.NoError(t, err)
	require.Len(t, data, 4+22*32)
	assert.Equal(t, funcInitialize.Selector[:], data[:4])
	assert.Equal(t, common.LeftPadBytes(governor.Bytes(), 32), word(data, 0))
	assert.Equal(t, common.LeftPadBytes(big.NewInt(2_000).Bytes(), 32), word(data, 7))
	assert.Equal(t, common.LeftPadBytes(big.NewInt(2880).Bytes(), 32), word(data, 21))
}

func TestEncodeAddPeggedToken(t *testing.T) {
	tp := common.HexToAddress("0x0a")
	data, err := EncodeAddPeggedToken(PeggedTokenArgs{
		TpTokenAddress:       tp,
		PriceProviderAddress: common.HexToAddress("0x0b"),
		TpCtarg:              big.NewInt(4),
		TpMintFee:            big.NewInt(5),
		TpRedeemFee:          big.NewInt(5),
		TpEma:                big.NewInt(1),
		TpEmaSf:              big.NewInt(2),
	})
	require.NoError(t, err)
	require.Len(t, data, 4+7*32)
	assert.Equal(t, common.LeftPadBytes(tp.Bytes(), 32), word(data, 0))
	assert.Equal(t, common.LeftPadBytes([]byte{4}, 32), word(data, 2))
}

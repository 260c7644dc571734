package erc1967factory

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-protocol/protocol/publish"
)

func TestDeployAndCallSelector(t *testing.T) {
	m, ok := Descriptor().Interface().Methods["deployAndCall"]
	require.True(t, ok)
	assert.Equal(t, crypto.Keccak256([]byte("deployAndCall(address,address,bytes)"))[:4], m.ID)
}

func TestDeployedEventDecodes(t *testing.T) {
	ev, ok := Descriptor().Interface().Events["Deployed"]
	require.True(t, ok)

	factory := common.HexToAddress("0x0c")
	proxy := common.HexToAddress("0x0d")
	log := publish.DeployedLog(factory, proxy, common.HexToAddress("0x0e"), common.HexToAddress("0x0f"))
	assert.Equal(t, ev.ID, log.Topics[0])

	got, err := publish.ProxyAddressFromReceipt(&types.Receipt{Logs: []*types.Log{log}})
	require.NoError(t, err)
	assert.Equal(t, proxy, got)
}

package contracts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-protocol/protocol/publish"
	"github.com/moc-protocol/protocol/publish/artifacts"
	"github.com/moc-protocol/protocol/publish/contracts/mocrc20"
	"github.com/moc-protocol/protocol/publish/contracts/priceprovidermock"
)

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"ERC1967Factory", "MocCACoinbase", "MocRC20", "PriceProviderMock"}, Names())
}

func TestLookupWithoutArtifacts(t *testing.T) {
	c := NewCatalog(nil)

	d, err := c.Lookup("PriceProviderMock")
	require.NoError(t, err)
	assert.Equal(t, priceprovidermock.Bytecode(), d.Bytecode())

	_, err = c.Lookup("MocRC20")
	assert.ErrorIs(t, err, publish.ErrNoBytecode)

	_, err = c.Lookup("Nope")
	assert.ErrorIs(t, err, ErrUnknownContract)
}

func TestLookupBindsArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := `{"contractName":"MocRC20","abi":` + string(mocrc20.Descriptor().ABIJSON()) + `,"bytecode":"0x60806040"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MocRC20.json"), []byte(artifact), 0o644))

	store, err := artifacts.Open(dir)
	require.NoError(t, err)
	c := NewCatalog(store)

	d, err := c.Lookup("MocRC20")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, d.Bytecode())

	// embedded bytecode is used when no artifact exists
	_, err = c.Lookup("PriceProviderMock")
	require.NoError(t, err)

	results := c.Verify()
	require.Len(t, results, 4)
	byName := map[string]VerifyResult{}
	for _, r := range results {
		byName[r.Contract] = r
	}
	assert.True(t, byName["MocRC20"].OK)
	assert.True(t, byName["PriceProviderMock"].OK)
	assert.False(t, byName["MocCACoinbase"].OK)
}

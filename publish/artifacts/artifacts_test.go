package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moc-protocol/protocol/publish"
)

const tokenABI = `[
  {"type":"constructor","inputs":[{"name":"name_","type":"string"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

const otherABI = `[
  {"type":"constructor","inputs":[{"name":"name_","type":"string"},{"name":"symbol_","type":"string"}],"stateMutability":"nonpayable"},
  {"type":"function","name":"name","inputs":[],"outputs":[{"name":"","type":"string"}],"stateMutability":"view"}
]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadHardhat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "contracts", "Token.sol", "Token.json"),
		`{"contractName":"Token","abi":`+tokenABI+`,"bytecode":"0x6001"}`)
	writeFile(t, filepath.Join(dir, "contracts", "Token.sol", "Token.dbg.json"), `{}`)
	writeFile(t, filepath.Join(dir, "build-info", "abc.json"), `{}`)

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Token"}, s.Names())

	a, err := s.Load("Token")
	require.NoError(t, err)
	assert.Equal(t, "Token", a.ContractName)
	assert.Equal(t, []byte{0x60, 0x01}, []byte(a.Bytecode))
}

func TestLoadFoundry(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Token.sol", "Token.json"),
		`{"abi":`+tokenABI+`,"bytecode":{"object":"0x6002","linkReferences":{}}}`)

	s, err := Open(dir)
	require.NoError(t, err)
	a, err := s.Load("Token")
	require.NoError(t, err)
	assert.Equal(t, "Token", a.ContractName)
	assert.Equal(t, []byte{0x60, 0x02}, []byte(a.Bytecode))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "Token.json"), `{"abi":[],"bytecode":"0x"}`)
	writeFile(t, filepath.Join(dir, "b", "Token.json"), `{"abi":[],"bytecode":"0x"}`)

	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Load("Missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Load("Token")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestBind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Token.json"), `{"abi":`+tokenABI+`,"bytecode":"0x60016002"}`)
	writeFile(t, filepath.Join(dir, "Empty.json"), `{"abi":`+tokenABI+`,"bytecode":"0x"}`)
	s, err := Open(dir)
	require.NoError(t, err)

	d := publish.MustDescriptor("Token", []byte(tokenABI), nil)
	bound, err := s.Bind(d)
	require.NoError(t, err)
	assert.False(t, d.HasBytecode())
	assert.Equal(t, []byte{0x60, 0x01, 0x60, 0x02}, bound.Bytecode())

	embedded := publish.MustDescriptor("Token", []byte(tokenABI), []byte{0xfe})
	bound, err = s.Bind(embedded)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe}, bound.Bytecode())

	_, err = s.Bind(publish.MustDescriptor("Empty", []byte(tokenABI), nil))
	assert.Error(t, err)
}

func TestBindABIMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Token.json"), `{"abi":`+otherABI+`,"bytecode":"0x6001"}`)
	s, err := Open(dir)
	require.NoError(t, err)

	_, err = s.Bind(publish.MustDescriptor("Token", []byte(tokenABI), nil))
	assert.ErrorIs(t, err, ErrABIMismatch)
}

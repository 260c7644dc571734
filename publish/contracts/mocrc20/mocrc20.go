package mocrc20

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"

	"github.com/moc-protocol/protocol/publish"
)

const (
	name            = "MocRC20"
	version         = "0.1.0"
	license         = "GPL-3.0"
	solidityVersion = "0.8.20"
	evmFork         = "paris"
	GasLimit        = 4_000_000
)

//go:embed MocRC20.abi.json
var abiJSON []byte

var (
	funcName        = w3.MustNewFunc("name()", "string")
	funcSymbol      = w3.MustNewFunc("symbol()", "string")
	funcDecimals    = w3.MustNewFunc("decimals()", "uint8")
	funcTotalSupply = w3.MustNewFunc("totalSupply()", "uint256")
	funcBalanceOf   = w3.MustNewFunc("balanceOf(address)", "uint256")
)

// Bytecode is resolved from the compiled artifacts at deploy time.
var descriptor = publish.MustDescriptor(name, abiJSON, nil)

type ConstructorArgs struct {
	Name   string
	Symbol string
}

func Name() string            { return name }
func Version() string         { return version }
func License() string         { return license }
func SolidityVersion() string { return solidityVersion }
func EVMFork() string         { return evmFork }
func MaxGasLimit() uint64     { return GasLimit }

func Descriptor() *publish.Descriptor { return descriptor }

func (a ConstructorArgs) Values() []any {
	return []any{a.Name, a.Symbol}
}

// Token is a typed read handle on a deployed MocRC20.
type Token struct {
	inst *publish.Instance
}

func Attach(address common.Address, b publish.Backend) *Token {
	return &Token{inst: publish.Attach(descriptor, address, b)}
}

func (t *Token) Address() common.Address { return t.inst.Address() }

func (t *Token) Name(ctx context.Context) (string, error) {
	var v string
	if err := t.read(ctx, funcName, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (t *Token) Symbol(ctx context.Context) (string, error) {
	var v string
	if err := t.read(ctx, funcSymbol, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	var v uint8
	if err := t.read(ctx, funcDecimals, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (t *Token) TotalSupply(ctx context.Context) (*big.Int, error) {
	v := new(big.Int)
	if err := t.read(ctx, funcTotalSupply, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *Token) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	v := new(big.Int)
	if err := t.read(ctx, funcBalanceOf, v, account); err != nil {
		return nil, err
	}
	return v, nil
}

func (t *Token) read(ctx context.Context, fn *w3.Func, ret any, args ...any) error {
	input, err := fn.EncodeArgs(args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", fn.Signature, err)
	}
	out, err := t.inst.CallData(ctx, input)
	if err != nil {
		return err
	}
	if err := fn.DecodeReturns(out, ret); err != nil {
		return fmt.Errorf("decode %s: %w", fn.Signature, err)
	}
	return nil
}

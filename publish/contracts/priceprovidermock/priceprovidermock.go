// Package priceprovidermock binds the PriceProviderMock oracle stub used on
// development networks in place of a live price feed.
package priceprovidermock

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
	name         = "PriceProviderMock"
	version      = "0.1.0"
	GasLimit     = 1_000_000
	PokeGasLimit = 100_000
)

//go:embed PriceProviderMock.bin
var bytecodeHex string

//go:embed PriceProviderMock.abi.json
var abiJSON []byte

var (
	funcPoke                   = w3.MustNewFunc("poke(uint256)", "")
	funcPeek                   = w3.MustNewFunc("peek()", "bytes32,bool")
	funcHas                    = w3.MustNewFunc("has()", "bool")
	funcMocPrice               = w3.MustNewFunc("mocPrice()", "bytes32")
	funcDeprecatePriceProvider = w3.MustNewFunc("deprecatePriceProvider()", "")
)

var descriptor = publish.MustDescriptor(name, abiJSON, publish.MustHexDecode(bytecodeHex))

func Name() string        { return name }
func Version() string     { return version }
func MaxGasLimit() uint64 { return GasLimit }

func Descriptor() *publish.Descriptor { return descriptor }

func Bytecode() []byte { return descriptor.Bytecode() }

// PriceProviderMock is a typed handle on a deployed mock.
type PriceProviderMock struct {
	inst *publish.Instance
}

func Deploy(ctx context.Context, b publish.Backend, price *big.Int) (*PriceProviderMock, publish.DeployResult, error) {
	inst, res, err := publish.Deploy(ctx, b, descriptor, GasLimit, price)
	if err != nil {
		return nil, res, err
	}
	return &PriceProviderMock{inst: inst}, res, nil
}

func Attach(address common.Address, b publish.Backend) *PriceProviderMock {
	return &PriceProviderMock{inst: publish.Attach(descriptor, address, b)}
}

func (p *PriceProviderMock) Connect(b publish.Backend) *PriceProviderMock {
	return &PriceProviderMock{inst: publish.Connect(p.inst, b)}
}

func (p *PriceProviderMock) Address() common.Address { return p.inst.Address() }

func (p *PriceProviderMock) Peek(ctx context.Context) (common.Hash, bool, error) {
	out, err := p.call(ctx, funcPeek)
	if err != nil {
		return common.Hash{}, false, err
	}
	var (
		price [32]byte
		has   bool
	)
	if err := funcPeek.DecodeReturns(out, &price, &has); err != nil {
		return common.Hash{}, false, fmt.Errorf("decode peek: %w", err)
	}
	return price, has, nil
}

func (p *PriceProviderMock) Has(ctx context.Context) (bool, error) {
	out, err := p.call(ctx, funcHas)
	if err != nil {
		return false, err
	}
	var has bool
	if err := funcHas.DecodeReturns(out, &has); err != nil {
		return false, fmt.Errorf("decode has: %w", err)
	}
	return has, nil
}

func (p *PriceProviderMock) MocPrice(ctx context.Context) (common.Hash, error) {
	out, err := p.call(ctx, funcMocPrice)
	if err != nil {
		return common.Hash{}, err
	}
	var price [32]byte
	if err := funcMocPrice.DecodeReturns(out, &price); err != nil {
		return common.Hash{}, fmt.Errorf("decode mocPrice: %w", err)
	}
	return price, nil
}

func (p *PriceProviderMock) Poke(ctx context.Context, price *big.Int) error {
	input, err := funcPoke.EncodeArgs(price)
	if err != nil {
		return fmt.Errorf("encode poke: %w", err)
	}
	_, err = p.inst.TransactData(ctx, PokeGasLimit, input)
	return err
}

func (p *PriceProviderMock) DeprecatePriceProvider(ctx context.Context) error {
	input, err := funcDeprecatePriceProvider.EncodeArgs()
	if err != nil {
		return fmt.Errorf("encode deprecatePriceProvider: %w", err)
	}
	_, err = p.inst.TransactData(ctx, PokeGasLimit, input)
	return err
}

func (p *PriceProviderMock) call(ctx context.Context, fn *w3.Func) ([]byte, error) {
	input, err := fn.EncodeArgs()
	if err != nil {
		return nil, err
	}
	return p.inst.CallData(ctx, input)
}

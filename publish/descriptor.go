package publish

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrNoBytecode is returned when deploying a descriptor whose bytecode
	// was neither embedded nor bound from an artifact.
	ErrNoBytecode = errors.New("descriptor has no bytecode")
	// ErrConstructorArgs is returned when constructor arguments do not match
	// the ABI.
	ErrConstructorArgs = errors.New("constructor arguments do not match abi")
)

// Descriptor pairs a contract ABI with its creation bytecode. It is never
// mutated after construction; WithBytecode returns a copy.
type Descriptor struct {
	name     string
	abi      abi.ABI
	rawABI   []byte
	bytecode []byte
}

func NewDescriptor(name string, abiJSON, bytecode []byte) (*Descriptor, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}
	return &Descriptor{
		name:     name,
		abi:      parsed,
		rawABI:   bytes.Clone(abiJSON),
		bytecode: bytes.Clone(bytecode),
	}, nil
}

func MustDescriptor(name string, abiJSON, bytecode []byte) *Descriptor {
	d, err := NewDescriptor(name, abiJSON, bytecode)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Descriptor) Name() string { return d.name }

// Interface returns the parsed ABI.
func (d *Descriptor) Interface() abi.ABI { return d.abi }

func (d *Descriptor) ABIJSON() []byte { return bytes.Clone(d.rawABI) }

func (d *Descriptor) Bytecode() []byte { return bytes.Clone(d.bytecode) }

func (d *Descriptor) HasBytecode() bool { return len(d.bytecode) > 0 }

func (d *Descriptor) BytecodeHash() common.Hash { return crypto.Keccak256Hash(d.bytecode) }

func (d *Descriptor) WithBytecode(bytecode []byte) *Descriptor {
	return &Descriptor{
		name:     d.name,
		abi:      d.abi,
		rawABI:   d.rawABI,
		bytecode: bytes.Clone(bytecode),
	}
}

// EncodeConstructor ABI-encodes constructor arguments without the bytecode
// prefix.
func (d *Descriptor) EncodeConstructor(args ...any) ([]byte, error) {
	if len(d.abi.Constructor.Inputs) != len(args) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d",
			ErrConstructorArgs, d.name, len(d.abi.Constructor.Inputs), len(args))
	}
	packed, err := d.abi.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConstructorArgs, d.name, err)
	}
	return packed, nil
}

// CreationData returns bytecode followed by the encoded constructor args.
func (d *Descriptor) CreationData(args ...any) ([]byte, error) {
	if !d.HasBytecode() {
		return nil, fmt.Errorf("%w: %s", ErrNoBytecode, d.name)
	}
	packed, err := d.EncodeConstructor(args...)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(d.bytecode)+len(packed))
	data = append(data, d.bytecode...)
	return append(data, packed...), nil
}

// Instance is a descriptor bound to an address and a backend.
type Instance struct {
	desc    *Descriptor
	address common.Address
	backend Backend
}

// Deploy sends the creation transaction, waits for it to be mined and
// returns the bound instance.
func Deploy(ctx context.Context, b Backend, d *Descriptor, gasLimit uint64, args ...any) (*Instance, DeployResult, error) {
	data, err := d.CreationData(args...)
	if err != nil {
		return nil, DeployResult{}, err
	}
	result, err := b.DeployImplementation(ctx, data, gasLimit)
	if err != nil {
		return nil, DeployResult{}, fmt.Errorf("deploy %s: %w", d.name, err)
	}
	receipt, err := b.WaitForReceipt(ctx, result.TxHash)
	if err != nil {
		return nil, result, fmt.Errorf("wait %s: %w", d.name, err)
	}
	result.Receipt = receipt
	if err := CheckReceipt(receipt); err != nil {
		return nil, result, fmt.Errorf("deploy %s: %w", d.name, err)
	}
	if receipt.ContractAddress != (common.Address{}) {
		result.ContractAddress = receipt.ContractAddress
	}
	return Attach(d, result.ContractAddress, b), result, nil
}

// DeployTransaction builds the unsigned creation transaction without
// sending it.
func DeployTransaction(d *Descriptor, chainID *big.Int, nonce uint64, gasFeeCap, gasTipCap *big.Int, gasLimit uint64, args ...any) (*types.Transaction, error) {
	data, err := d.CreationData(args...)
	if err != nil {
		return nil, err
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasFeeCap: gasFeeCap,
		GasTipCap: gasTipCap,
		Gas:       gasLimit,
		Data:      data,
	}), nil
}

// Attach binds a descriptor to an already deployed address.
func Attach(d *Descriptor, address common.Address, b Backend) *Instance {
	return &Instance{desc: d, address: address, backend: b}
}

// Connect rebinds an instance to another backend, e.g. a different signer.
func Connect(inst *Instance, b Backend) *Instance {
	return &Instance{desc: inst.desc, address: inst.address, backend: b}
}

func (i *Instance) Address() common.Address { return i.address }

func (i *Instance) Descriptor() *Descriptor { return i.desc }

func (i *Instance) Backend() Backend { return i.backend }

// Call runs a read-only method and returns the unpacked outputs.
func (i *Instance) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	input, err := i.desc.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", i.desc.name, method, err)
	}
	output, err := i.CallData(ctx, input)
	if err != nil {
		return nil, err
	}
	values, err := i.desc.abi.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("unpack %s.%s: %w", i.desc.name, method, err)
	}
	return values, nil
}

func (i *Instance) CallData(ctx context.Context, input []byte) ([]byte, error) {
	return i.backend.Call(ctx, i.address, input)
}

// Transact sends a state-changing method call and waits for a successful
// receipt.
func (i *Instance) Transact(ctx context.Context, gasLimit uint64, method string, args ...any) (*types.Receipt, error) {
	input, err := i.desc.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s.%s: %w", i.desc.name, method, err)
	}
	return i.TransactData(ctx, gasLimit, input)
}

func (i *Instance) TransactData(ctx context.Context, gasLimit uint64, input []byte) (*types.Receipt, error) {
	txHash, err := i.backend.Transact(ctx, i.address, input, gasLimit)
	if err != nil {
		return nil, err
	}
	receipt, err := i.backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if err := CheckReceipt(receipt); err != nil {
		return receipt, err
	}
	return receipt, nil
}

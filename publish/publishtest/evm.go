package publishtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/moc-protocol/protocol/publish"
)

const evmGasLimit = 30_000_000

// EVM executes creation and call data against go-ethereum's in-memory
// interpreter. Proxies and CREATE2 are not supported.
type EVM struct {
	mu       sync.Mutex
	cfg      *runtime.Config
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
}

var _ publish.Backend = (*EVM)(nil)

func NewEVM(from common.Address) (*EVM, error) {
	statedb, err := state.New(types.EmptyRootHash, state.NewDatabaseForTesting())
	if err != nil {
		return nil, fmt.Errorf("new state: %w", err)
	}
	return &EVM{
		cfg: &runtime.Config{
			Origin:   from,
			GasLimit: evmGasLimit,
			State:    statedb,
		},
		receipts: make(map[common.Hash]*types.Receipt),
	}, nil
}

func (e *EVM) Address() common.Address { return e.cfg.Origin }

func (e *EVM) txHash(data []byte) common.Hash {
	e.nonce++
	return crypto.Keccak256Hash(new(big.Int).SetUint64(e.nonce).Bytes(), data)
}

func (e *EVM) DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (publish.DeployResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash := e.txHash(bytecode)
	_, addr, left, err := runtime.Create(bytecode, e.cfg)
	r := &types.Receipt{TxHash: hash, GasUsed: evmGasLimit - left, BlockNumber: big.NewInt(1)}
	if err != nil {
		r.Status = types.ReceiptStatusFailed
	} else {
		r.Status = types.ReceiptStatusSuccessful
		r.ContractAddress = addr
	}
	e.receipts[hash] = r
	return publish.DeployResult{TxHash: hash, ContractAddress: addr}, nil
}

func (e *EVM) DeployDeterministicViaArachnid(context.Context, [32]byte, []byte, uint64) (publish.DeployResult, error) {
	return publish.DeployResult{}, errors.New("evm backend: create2 deployer not available")
}

func (e *EVM) DeployProxy(context.Context, common.Address, common.Address, common.Address, []byte, uint64) (common.Hash, error) {
	return common.Hash{}, errors.New("evm backend: proxy factory not available")
}

func (e *EVM) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hash := e.txHash(data)
	_, left, err := runtime.Call(to, data, e.cfg)
	r := &types.Receipt{TxHash: hash, GasUsed: evmGasLimit - left, BlockNumber: big.NewInt(1)}
	if err != nil {
		r.Status = types.ReceiptStatusFailed
	} else {
		r.Status = types.ReceiptStatusSuccessful
	}
	e.receipts[hash] = r
	return hash, nil
}

func (e *EVM) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.cfg.State.Snapshot()
	defer e.cfg.State.RevertToSnapshot(snapshot)
	out, _, err := runtime.Call(to, data, e.cfg)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return out, nil
}

func (e *EVM) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.State.GetCode(addr), nil
}

func (e *EVM) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash.Hex())
	}
	return r, nil
}

// Package publishtest provides in-process backends for tests.
package publishtest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/moc-protocol/protocol/publish"
)

// Tx is a transaction recorded by Chain.
type Tx struct {
	Hash     common.Hash
	To       *common.Address
	Data     []byte
	GasLimit uint64
}

// Chain is a bookkeeping backend: it assigns addresses, stores code and
// answers receipts, but does not execute anything.
type Chain struct {
	mu       sync.Mutex
	from     common.Address
	nonce    uint64
	code     map[common.Address][]byte
	receipts map[common.Hash]*types.Receipt
	txs      []Tx
	calls    map[string][]byte
	revert   map[common.Address]bool
	block    uint64
}

var _ publish.Backend = (*Chain)(nil)

func NewChain(from common.Address) *Chain {
	return &Chain{
		from:     from,
		code:     make(map[common.Address][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
		calls:    make(map[string][]byte),
		revert:   make(map[common.Address]bool),
	}
}

// WithArachnid installs code at the CREATE2 deployer address.
func (c *Chain) WithArachnid() *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[publish.ArachnidCreate2Factory] = []byte{0x01}
	return c
}

// RevertNextCreate makes the next deployment mine with a failed status.
func (c *Chain) RevertNextCreate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revert[common.Address{}] = true
}

// RevertCallsTo makes every transaction sent to addr fail.
func (c *Chain) RevertCallsTo(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revert[addr] = true
}

// SetCallResult stubs the eth_call output for (to, input).
func (c *Chain) SetCallResult(to common.Address, input, output []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[callKey(to, input)] = output
}

// ClearCode removes code, simulating a chain reset under a stale registry.
func (c *Chain) ClearCode(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.code, addr)
}

// Txs returns every transaction sent so far.
func (c *Chain) Txs() []Tx {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Tx(nil), c.txs...)
}

// Creations counts contract creation transactions.
func (c *Chain) Creations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tx := range c.txs {
		if tx.To == nil {
			n++
		}
	}
	return n
}

func (c *Chain) Address() common.Address { return c.from }

func (c *Chain) record(to *common.Address, data []byte, gasLimit uint64) (common.Hash, uint64) {
	nonce := c.nonce
	c.nonce++
	c.block++
	hash := crypto.Keccak256Hash(c.from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), data)
	c.txs = append(c.txs, Tx{Hash: hash, To: to, Data: bytes.Clone(data), GasLimit: gasLimit})
	return hash, nonce
}

func (c *Chain) receipt(hash common.Hash, status uint64) *types.Receipt {
	r := &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(c.block),
		GasUsed:     21_000,
	}
	c.receipts[hash] = r
	return r
}

func (c *Chain) DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (publish.DeployResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, nonce := c.record(nil, bytecode, gasLimit)
	addr := crypto.CreateAddress(c.from, nonce)
	if c.revert[common.Address{}] {
		delete(c.revert, common.Address{})
		c.receipt(hash, types.ReceiptStatusFailed)
		return publish.DeployResult{TxHash: hash, ContractAddress: addr}, nil
	}
	c.code[addr] = bytes.Clone(bytecode)
	r := c.receipt(hash, types.ReceiptStatusSuccessful)
	r.ContractAddress = addr
	return publish.DeployResult{TxHash: hash, ContractAddress: addr}, nil
}

func (c *Chain) DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, bytecode []byte, gasLimit uint64) (publish.DeployResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	to := publish.ArachnidCreate2Factory
	data := append(append([]byte{}, salt[:]...), bytecode...)
	hash, _ := c.record(&to, data, gasLimit)
	addr := publish.PredictCreate2Address(publish.ArachnidCreate2Factory, salt, bytecode)
	// without the deployer the transaction is a plain transfer: it
	// succeeds and creates nothing
	if len(c.code[publish.ArachnidCreate2Factory]) > 0 {
		c.code[addr] = bytes.Clone(bytecode)
	}
	c.receipt(hash, types.ReceiptStatusSuccessful)
	return publish.DeployResult{TxHash: hash, ContractAddress: addr}, nil
}

func (c *Chain) DeployProxy(ctx context.Context, factory, implementation, admin common.Address, initData []byte, gasLimit uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.code[factory]) == 0 {
		return common.Hash{}, fmt.Errorf("factory %s has no code", factory.Hex())
	}
	hash, nonce := c.record(&factory, initData, gasLimit)
	if c.revert[factory] {
		c.receipt(hash, types.ReceiptStatusFailed)
		return hash, nil
	}
	proxy := crypto.CreateAddress(factory, nonce)
	c.code[proxy] = []byte{0x60, 0x00}
	r := c.receipt(hash, types.ReceiptStatusSuccessful)
	r.Logs = []*types.Log{publish.DeployedLog(factory, proxy, implementation, admin)}
	return hash, nil
}

func (c *Chain) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, _ := c.record(&to, data, gasLimit)
	status := types.ReceiptStatusSuccessful
	if c.revert[to] || len(c.code[to]) == 0 {
		status = types.ReceiptStatusFailed
	}
	c.receipt(hash, status)
	return hash, nil
}

func (c *Chain) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.calls[callKey(to, data)]
	if !ok {
		return nil, fmt.Errorf("no call result stubbed for %s", to.Hex())
	}
	return bytes.Clone(out), nil
}

func (c *Chain) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.code[addr]), nil
}

func (c *Chain) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("unknown transaction %s", txHash.Hex())
	}
	return r, nil
}

func callKey(to common.Address, input []byte) string {
	return to.Hex() + common.Bytes2Hex(input)
}

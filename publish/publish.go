package publish

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"github.com/lmittmann/w3/module/eth"
	"github.com/lmittmann/w3/w3types"
)

const (
	ProxyGasLimit uint64 = 500_000

	receiptPollInterval = 2 * time.Second
)

var (
	funcDeployAndCall = w3.MustNewFunc(
		"deployAndCall(address,address,bytes)", "address",
	)
	eventDeployed = w3.MustNewEvent(
		"Deployed(address indexed,address indexed,address indexed)",
	)
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

type (
	DeployResult struct {
		TxHash          common.Hash
		ContractAddress common.Address
		// Receipt is set once the creation transaction has been mined.
		Receipt *types.Receipt
	}

	// Backend is the chain connection used by descriptors, bound contracts
	// and the deployment tasks. Deployer is the RPC implementation.
	Backend interface {
		Address() common.Address
		DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (DeployResult, error)
		DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, bytecode []byte, gasLimit uint64) (DeployResult, error)
		DeployProxy(ctx context.Context, factory, implementation, admin common.Address, initData []byte, gasLimit uint64) (common.Hash, error)
		Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error)
		Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
		CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
		WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	}

	Deployer struct {
		client    *w3.Client
		signer    types.Signer
		chainID   int64
		key       *ecdsa.PrivateKey
		address   common.Address
		gasFeeCap *big.Int
		gasTipCap *big.Int
		logger    *slog.Logger
	}
)

var _ Backend = (*Deployer)(nil)

func NewDeployer(rpcURL string, chainID int64, privateKey *ecdsa.PrivateKey, gasFeeCap, gasTipCap *big.Int, logger *slog.Logger) (*Deployer, error) {
	client, err := w3.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{
		client:    client,
		signer:    types.NewLondonSigner(big.NewInt(chainID)),
		chainID:   chainID,
		key:       privateKey,
		address:   crypto.PubkeyToAddress(privateKey.PublicKey),
		gasFeeCap: gasFeeCap,
		gasTipCap: gasTipCap,
		logger:    logger,
	}, nil
}

func (d *Deployer) Address() common.Address {
	return d.address
}

func (d *Deployer) Close() error {
	return d.client.Close()
}

// CheckChainID fails when the RPC endpoint serves a different chain than the
// one transactions are signed for.
func (d *Deployer) CheckChainID(ctx context.Context) error {
	var chainID uint64
	if err := d.client.CallCtx(ctx, eth.ChainID().Returns(&chainID)); err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if chainID != uint64(d.chainID) {
		return fmt.Errorf("rpc chain id %d does not match configured chain id %d", chainID, d.chainID)
	}
	return nil
}

func (d *Deployer) getNonce(ctx context.Context) (uint64, error) {
	var nonce uint64
	if err := d.client.CallCtx(ctx, eth.Nonce(d.address, nil).Returns(&nonce)); err != nil {
		return 0, fmt.Errorf("get nonce: %w", err)
	}
	return nonce, nil
}

func (d *Deployer) sendTx(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	signedTx, err := types.SignTx(tx, d.signer, d.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	var txHash common.Hash
	if err := d.client.CallCtx(ctx, eth.SendTx(signedTx).Returns(&txHash)); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	d.logger.Debug("transaction sent",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", tx.Nonce()),
		slog.Uint64("gas_limit", tx.Gas()),
	)
	return signedTx.Hash(), nil
}

func (d *Deployer) newTx(nonce uint64, to *common.Address, data []byte, gasLimit uint64) *types.Transaction {
	//  EIP-1559 only
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(d.chainID),
		Nonce:     nonce,
		To:        to,
		GasFeeCap: d.gasFeeCap,
		GasTipCap: d.gasTipCap,
		Gas:       gasLimit,
		Data:      data,
	})
}

func (d *Deployer) DeployImplementation(ctx context.Context, bytecode []byte, gasLimit uint64) (DeployResult, error) {
	nonce, err := d.getNonce(ctx)
	if err != nil {
		return DeployResult{}, err
	}

	contractAddr := crypto.CreateAddress(d.address, nonce)

	txHash, err := d.sendTx(ctx, d.newTx(nonce, nil, bytecode, gasLimit))
	if err != nil {
		return DeployResult{}, err
	}

	return DeployResult{
		TxHash:          txHash,
		ContractAddress: contractAddr,
	}, nil
}

func (d *Deployer) DeployProxy(ctx context.Context, factory, implementation, admin common.Address, initData []byte, gasLimit uint64) (common.Hash, error) {
	calldata, err := funcDeployAndCall.EncodeArgs(implementation, admin, initData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode deployAndCall: %w", err)
	}
	return d.Transact(ctx, factory, calldata, gasLimit)
}

func (d *Deployer) Transact(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := d.getNonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	return d.sendTx(ctx, d.newTx(nonce, &to, data, gasLimit))
}

func (d *Deployer) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var output []byte
	msg := &w3types.Message{From: d.address, To: &to, Input: data}
	if err := d.client.CallCtx(ctx, eth.Call(msg, nil, nil).Returns(&output)); err != nil {
		return nil, fmt.Errorf("call %s: %w", to.Hex(), err)
	}
	return output, nil
}

func (d *Deployer) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	if err := d.client.CallCtx(ctx, eth.Code(addr, nil).Returns(&code)); err != nil {
		return nil, fmt.Errorf("get code %s: %w", addr.Hex(), err)
	}
	return code, nil
}

func (d *Deployer) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		var receipt *types.Receipt
		err := d.client.CallCtx(ctx, eth.TxReceipt(txHash).Returns(&receipt))
		if err == nil && receipt != nil {
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// CheckReceipt turns a failed receipt status into ErrReverted.
func CheckReceipt(receipt *types.Receipt) error {
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s", ErrReverted, receipt.TxHash.Hex())
	}
	return nil
}

func ProxyAddressFromReceipt(receipt *types.Receipt) (common.Address, error) {
	for _, log := range receipt.Logs {
		var (
			proxy          common.Address
			implementation common.Address
			admin          common.Address
		)
		if err := eventDeployed.DecodeArgs(log, &proxy, &implementation, &admin); err == nil {
			return proxy, nil
		}
	}
	return common.Address{}, errors.New("Deployed event not found in receipt logs")
}

// DeployedLog builds the log an ERC1967 factory emits for a new proxy.
func DeployedLog(factory, proxy, implementation, admin common.Address) *types.Log {
	return &types.Log{
		Address: factory,
		Topics: []common.Hash{
			eventDeployed.Topic0,
			common.BytesToHash(proxy.Bytes()),
			common.BytesToHash(implementation.Bytes()),
			common.BytesToHash(admin.Bytes()),
		},
	}
}

func MustHexDecode(hexStr string) []byte {
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexStr), "0x"))
	if err != nil {
		panic(fmt.Sprintf("decode hex: %v", err))
	}
	return b
}

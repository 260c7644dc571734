package task

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/moc-protocol/protocol/publish"
	"github.com/moc-protocol/protocol/publish/contracts/erc1967factory"
	"github.com/moc-protocol/protocol/publish/registry"
)

// ImplementationSuffix names the logic contract behind a proxied deployment.
const ImplementationSuffix = "_Implementation"

// Resolver maps a contract type to a deployable descriptor.
type Resolver interface {
	Lookup(contract string) (*publish.Descriptor, error)
}

type (
	DeployOptions struct {
		Contract string
		From     common.Address
		GasLimit uint64
		Args     []any
		// Proxy deploys Contract as an implementation behind an ERC1967
		// proxy; Args are then the implementation constructor args.
		Proxy *ProxyOptions
	}

	ProxyOptions struct {
		Admin    common.Address
		InitData []byte
		GasLimit uint64
	}

	// FactoryOptions controls where the ERC1967 proxy factory comes from.
	// Address pins an existing factory; otherwise SaltSuffix, when set, is
	// appended to the CREATE2 salt name so a fresh factory can be deployed
	// next to one the deployer already owns.
	FactoryOptions struct {
		Address    common.Address
		SaltSuffix string
	}

	// Result is a deployment record plus whether this run created it.
	Result struct {
		registry.Record
		Deployed bool
	}
)

// Deployments is the deploy-or-skip primitive. A deployment is reused when
// the registry holds a record with the same creation bytecode and
// constructor args and the chain still has code at its address.
type Deployments struct {
	store    registry.Store
	resolver Resolver
	signers  map[common.Address]publish.Backend
	primary  common.Address
	runID    uuid.UUID
	log      *slog.Logger
	factory  FactoryOptions

	mu      sync.Mutex
	touched []registry.Record
}

// NewDeployments wires the primitive. The first backend is the default
// sender.
func NewDeployments(store registry.Store, resolver Resolver, log *slog.Logger, backends ...publish.Backend) *Deployments {
	if log == nil {
		log = slog.Default()
	}
	d := &Deployments{
		store:    store,
		resolver: resolver,
		signers:  make(map[common.Address]publish.Backend, len(backends)),
		runID:    uuid.New(),
		log:      log,
	}
	for i, b := range backends {
		if i == 0 {
			d.primary = b.Address()
		}
		d.signers[b.Address()] = b
	}
	return d
}

func (d *Deployments) RunID() uuid.UUID { return d.runID }

// UseFactory sets where proxied deployments find their factory.
func (d *Deployments) UseFactory(opts FactoryOptions) {
	opts.SaltSuffix = strings.TrimSpace(opts.SaltSuffix)
	d.factory = opts
}

func (d *Deployments) Registry() registry.Store { return d.store }

// Touched returns the records deployed or reused during this run, in order.
func (d *Deployments) Touched() []registry.Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]registry.Record(nil), d.touched...)
}

func (d *Deployments) touch(rec registry.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touched = append(d.touched, rec)
}

func (d *Deployments) signer(from common.Address) (publish.Backend, error) {
	if from == (common.Address{}) {
		from = d.primary
	}
	b, ok := d.signers[from]
	if !ok {
		return nil, fmt.Errorf("%w: no signer for %s", ErrUnknownAccount, from.Hex())
	}
	return b, nil
}

// Get returns the record saved under name.
func (d *Deployments) Get(ctx context.Context, name string) (registry.Record, error) {
	return d.store.Get(ctx, name)
}

// Deploy deploys name as opts.Contract unless an identical deployment is
// already on chain.
func (d *Deployments) Deploy(ctx context.Context, name string, opts DeployOptions) (Result, error) {
	b, err := d.signer(opts.From)
	if err != nil {
		return Result{}, err
	}
	if opts.Proxy != nil {
		return d.deployProxied(ctx, b, name, opts)
	}
	return d.deployPlain(ctx, b, name, opts)
}

func (d *Deployments) deployPlain(ctx context.Context, b publish.Backend, name string, opts DeployOptions) (Result, error) {
	desc, err := d.resolver.Lookup(opts.Contract)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}
	packed, err := desc.EncodeConstructor(opts.Args...)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrArgs, name, err)
	}
	if !desc.HasBytecode() {
		return Result{}, fmt.Errorf("%s: %w", name, publish.ErrNoBytecode)
	}

	if rec, ok, err := d.reusable(ctx, b, name, desc.BytecodeHash(), packed); err != nil {
		return Result{}, err
	} else if ok && rec.Implementation == nil {
		d.log.Info("reusing deployment", "name", name, "contract", opts.Contract, "address", rec.Address.Hex())
		d.touch(rec)
		return Result{Record: rec}, nil
	}

	d.log.Debug("deploying", "name", name, "contract", opts.Contract, "gas_limit", opts.GasLimit)
	inst, res, err := publish.Deploy(ctx, b, desc, opts.GasLimit, opts.Args...)
	if err != nil {
		return Result{}, err
	}

	rec := d.newRecord(name, opts.Contract, b.Address(), inst.Address(), res.TxHash, res.Receipt)
	rec.Args = packed
	rec.BytecodeHash = desc.BytecodeHash()
	if err := d.save(ctx, rec); err != nil {
		return Result{}, err
	}
	d.log.Info("deployed", "name", name, "contract", opts.Contract, "address", rec.Address.Hex(), "tx_hash", rec.TxHash.Hex())
	return Result{Record: rec, Deployed: true}, nil
}

func (d *Deployments) deployProxied(ctx context.Context, b publish.Backend, name string, opts DeployOptions) (Result, error) {
	implOpts := opts
	implOpts.Proxy = nil
	impl, err := d.deployPlain(ctx, b, name+ImplementationSuffix, implOpts)
	if err != nil {
		return Result{}, err
	}
	implAddr := impl.Address
	initData := opts.Proxy.InitData

	rec, ok, err := d.reusable(ctx, b, name, impl.BytecodeHash, initData)
	if err != nil {
		return Result{}, err
	}
	if ok && rec.Implementation != nil && *rec.Implementation == implAddr {
		d.log.Info("reusing proxy", "name", name, "address", rec.Address.Hex(), "implementation", implAddr.Hex())
		d.touch(rec)
		return Result{Record: rec}, nil
	}

	factory, err := d.ensureFactory(ctx, b)
	if err != nil {
		return Result{}, err
	}

	gasLimit := opts.Proxy.GasLimit
	if gasLimit == 0 {
		gasLimit = publish.ProxyGasLimit
	}
	admin := opts.Proxy.Admin
	if admin == (common.Address{}) {
		admin = b.Address()
	}

	txHash, err := b.DeployProxy(ctx, factory, implAddr, admin, initData, gasLimit)
	if err != nil {
		return Result{}, fmt.Errorf("deploy %s proxy: %w", name, err)
	}
	receipt, err := b.WaitForReceipt(ctx, txHash)
	if err != nil {
		return Result{}, fmt.Errorf("wait %s proxy: %w", name, err)
	}
	if err := publish.CheckReceipt(receipt); err != nil {
		return Result{}, fmt.Errorf("deploy %s proxy: %w", name, err)
	}
	proxyAddr, err := publish.ProxyAddressFromReceipt(receipt)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", name, err)
	}

	rec = d.newRecord(name, opts.Contract, b.Address(), proxyAddr, txHash, receipt)
	rec.Args = bytes.Clone(initData)
	rec.BytecodeHash = impl.BytecodeHash
	rec.Implementation = &implAddr
	if err := d.save(ctx, rec); err != nil {
		return Result{}, err
	}
	d.log.Info("deployed proxy", "name", name, "address", proxyAddr.Hex(), "implementation", implAddr.Hex(), "tx_hash", txHash.Hex())
	return Result{Record: rec, Deployed: true}, nil
}

// ensureFactory returns the configured ERC1967 factory, or the one at its
// deterministic CREATE2 address, deploying it through the Arachnid deployer
// when missing.
func (d *Deployments) ensureFactory(ctx context.Context, b publish.Backend) (common.Address, error) {
	if pinned := d.factory.Address; pinned != (common.Address{}) {
		code, err := b.CodeAt(ctx, pinned)
		if err != nil {
			return common.Address{}, err
		}
		if len(code) == 0 {
			return common.Address{}, fmt.Errorf("factory address %s: %w", pinned.Hex(), ErrNoCode)
		}
		return pinned, nil
	}

	desc, err := d.resolver.Lookup(erc1967factory.Name())
	if err != nil {
		return common.Address{}, err
	}
	bytecode := desc.Bytecode()
	saltName := erc1967factory.Name()
	if d.factory.SaltSuffix != "" {
		saltName += ":" + d.factory.SaltSuffix
	}
	salt := publish.GenerateSalt(b.Address(), saltName)
	predicted := publish.PredictCreate2Address(publish.ArachnidCreate2Factory, salt, bytecode)

	code, err := b.CodeAt(ctx, predicted)
	if err != nil {
		return common.Address{}, err
	}
	if len(code) > 0 {
		return predicted, nil
	}

	deployer, err := b.CodeAt(ctx, publish.ArachnidCreate2Factory)
	if err != nil {
		return common.Address{}, err
	}
	if len(deployer) == 0 {
		return common.Address{}, fmt.Errorf("deploy %s at %s: %w", erc1967factory.Name(), publish.ArachnidCreate2Factory.Hex(), publish.ErrNoCreate2Deployer)
	}

	result, err := b.DeployDeterministicViaArachnid(ctx, salt, bytecode, erc1967factory.GasLimit)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", erc1967factory.Name(), err)
	}
	receipt, err := b.WaitForReceipt(ctx, result.TxHash)
	if err != nil {
		return common.Address{}, err
	}
	if err := publish.CheckReceipt(receipt); err != nil {
		return common.Address{}, fmt.Errorf("deterministic factory deployment: %w", err)
	}
	code, err = b.CodeAt(ctx, result.ContractAddress)
	if err != nil {
		return common.Address{}, err
	}
	if len(code) == 0 {
		return common.Address{}, fmt.Errorf("deterministic factory deployment %s: %w", result.ContractAddress.Hex(), ErrNoCode)
	}

	rec := d.newRecord(erc1967factory.Name(), erc1967factory.Name(), b.Address(), result.ContractAddress, result.TxHash, receipt)
	rec.BytecodeHash = desc.BytecodeHash()
	if err := d.save(ctx, rec); err != nil {
		return common.Address{}, err
	}
	d.log.Info("deployed proxy factory", "address", result.ContractAddress.Hex(), "salt_name", saltName, "tx_hash", result.TxHash.Hex())
	return result.ContractAddress, nil
}

// Execute sends data to the contract deployed under name and waits for a
// successful receipt.
func (d *Deployments) Execute(ctx context.Context, name string, from common.Address, gasLimit uint64, data []byte) (*types.Receipt, error) {
	rec, err := d.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	b, err := d.signer(from)
	if err != nil {
		return nil, err
	}
	txHash, err := b.Transact(ctx, rec.Address, data, gasLimit)
	if err != nil {
		return nil, fmt.Errorf("execute on %s: %w", name, err)
	}
	receipt, err := b.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("wait execute on %s: %w", name, err)
	}
	if err := publish.CheckReceipt(receipt); err != nil {
		return receipt, fmt.Errorf("execute on %s: %w", name, err)
	}
	d.log.Info("executed", "name", name, "address", rec.Address.Hex(), "tx_hash", txHash.Hex())
	return receipt, nil
}

// reusable looks up name and checks it against the wanted bytecode/args and
// the code on chain.
func (d *Deployments) reusable(ctx context.Context, b publish.Backend, name string, bytecodeHash common.Hash, args []byte) (registry.Record, bool, error) {
	rec, err := d.store.Get(ctx, name)
	if errors.Is(err, registry.ErrNotFound) {
		return registry.Record{}, false, nil
	}
	if err != nil {
		return registry.Record{}, false, err
	}
	if !rec.Matches(bytecodeHash, args) {
		d.log.Info("deployment changed, redeploying", "name", name)
		return rec, false, nil
	}
	code, err := b.CodeAt(ctx, rec.Address)
	if err != nil {
		return registry.Record{}, false, err
	}
	if len(code) == 0 {
		d.log.Warn("recorded deployment has no code, redeploying", "name", name, "address", rec.Address.Hex())
		return rec, false, nil
	}
	return rec, true, nil
}

func (d *Deployments) newRecord(name, contract string, deployer, address common.Address, txHash common.Hash, receipt *types.Receipt) registry.Record {
	rec := registry.Record{
		Name:       name,
		Contract:   contract,
		Address:    address,
		TxHash:     txHash,
		Deployer:   deployer,
		RunID:      d.runID,
		DeployedAt: time.Now().UTC(),
	}
	if receipt != nil {
		if receipt.BlockNumber != nil {
			rec.BlockNumber = receipt.BlockNumber.Uint64()
		}
		rec.GasUsed = receipt.GasUsed
	}
	return rec
}

func (d *Deployments) save(ctx context.Context, rec registry.Record) error {
	if err := d.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save %s: %w", rec.Name, err)
	}
	d.touch(rec)
	return nil
}

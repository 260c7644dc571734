package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/moc-protocol/protocol/publish"
	"github.com/moc-protocol/protocol/publish/contracts/erc1967factory"
	"github.com/moc-protocol/protocol/publish/contracts/mocrc20"
	"github.com/moc-protocol/protocol/publish/contracts/priceprovidermock"
	"github.com/moc-protocol/protocol/publish/params"
	"github.com/moc-protocol/protocol/publish/publishtest"
	"github.com/moc-protocol/protocol/publish/registry"
)

var deployer = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

type catalog map[string]*publish.Descriptor

func (c catalog) Lookup(contract string) (*publish.Descriptor, error) {
	d, ok := c[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract)
	}
	return d, nil
}

func testCatalog() catalog {
	return catalog{
		mocrc20.Name():           mocrc20.Descriptor().WithBytecode([]byte{0x60, 0x80, 0x60, 0x40}),
		priceprovidermock.Name(): priceprovidermock.Descriptor(),
		erc1967factory.Name():    erc1967factory.Descriptor().WithBytecode([]byte{0x60, 0x01}),
	}
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	chain *publishtest.Chain
	store registry.Store
	env   *Env
}

func newFixture(live bool) *fixture {
	chain := publishtest.NewChain(deployer).WithArachnid()
	store := registry.NewMemoryStore()
	return newFixtureWith(chain, store, live)
}

func newFixtureWith(chain *publishtest.Chain, store registry.Store, live bool) *fixture {
	bundle, _ := params.Lookup(params.Hardhat)
	return &fixture{
		chain: chain,
		store: store,
		env: &Env{
			Network:     Network{Name: "test", ChainID: 31337, Live: live},
			Accounts:    NamedAccounts{DefaultSender: deployer},
			Deployments: NewDeployments(store, testCatalog(), discard(), chain),
			Params:      bundle,
			Log:         discard(),
		},
	}
}

func mocToken() Task {
	return Deploy(DeploySpec{
		Name:     "MocToken",
		Contract: "MocRC20",
		Tags:     []string{"MocToken"},
		Args:     []any{"MocToken", "MocToken"},
		GasLimit: 4_000_000,
	})
}

func TestCompletionFor(t *testing.T) {
	assert.Equal(t, AlwaysRerun, CompletionFor(Network{Name: "hardhat"}))
	assert.Equal(t, RunOnceMarkComplete, CompletionFor(Network{Name: "rskTestnet", Live: true}))
	assert.Equal(t, "always-rerun", AlwaysRerun.String())
	assert.Equal(t, "run-once", RunOnceMarkComplete.String())
}

func TestDeployMocTokenCompletion(t *testing.T) {
	for _, live := range []bool{false, true} {
		t.Run(fmt.Sprintf("live=%v", live), func(t *testing.T) {
			f := newFixture(live)
			completion, err := mocToken().Run(context.Background(), f.env)
			require.NoError(t, err)
			if live {
				assert.Equal(t, RunOnceMarkComplete, completion)
			} else {
				assert.Equal(t, AlwaysRerun, completion)
			}

			txs := f.chain.Txs()
			require.Len(t, txs, 1)
			assert.Nil(t, txs[0].To)
			assert.Equal(t, uint64(4_000_000), txs[0].GasLimit)

			args, err := mocrc20.Descriptor().EncodeConstructor("MocToken", "MocToken")
			require.NoError(t, err)
			rec, err := f.store.Get(context.Background(), "MocToken")
			require.NoError(t, err)
			assert.Equal(t, "MocRC20", rec.Contract)
			assert.Equal(t, args, []byte(rec.Args))
			assert.Equal(t, deployer, rec.Deployer)
		})
	}
}

func TestRunTwiceOnLiveNetwork(t *testing.T) {
	f := newFixture(true)
	r := NewRunner(discard())
	require.NoError(t, r.Register(mocToken()))

	report, err := r.Run(context.Background(), f.env)
	require.NoError(t, err)
	assert.Equal(t, []string{"MocToken"}, report.Executed)
	require.Len(t, report.Deployments, 1)

	done, err := f.store.IsComplete(context.Background(), "MocToken")
	require.NoError(t, err)
	assert.True(t, done)

	// a fresh process against the same chain and registry
	f2 := newFixtureWith(f.chain, f.store, true)
	report, err = r.Run(context.Background(), f2.env)
	require.NoError(t, err)
	assert.Empty(t, report.Executed)
	assert.Equal(t, []string{"MocToken"}, report.Skipped)
	assert.Equal(t, 1, f.chain.Creations())
}

func TestRunTwiceOnDevNetworkReuses(t *testing.T) {
	f := newFixture(false)
	r := NewRunner(discard())
	require.NoError(t, r.Register(mocToken()))

	_, err := r.Run(context.Background(), f.env)
	require.NoError(t, err)
	report, err := r.Run(context.Background(), f.env)
	require.NoError(t, err)

	assert.Equal(t, []string{"MocToken"}, report.Executed)
	assert.Equal(t, 1, f.chain.Creations())
	done, err := f.store.IsComplete(context.Background(), "MocToken")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestDeployRedeploysOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	d := f.env.Deployments

	opts := DeployOptions{Contract: "MocRC20", GasLimit: 4_000_000, Args: []any{"A", "A"}}
	first, err := d.Deploy(ctx, "Token", opts)
	require.NoError(t, err)
	assert.True(t, first.Deployed)

	again, err := d.Deploy(ctx, "Token", opts)
	require.NoError(t, err)
	assert.False(t, again.Deployed)
	assert.Equal(t, first.Address, again.Address)

	opts.Args = []any{"B", "B"}
	changed, err := d.Deploy(ctx, "Token", opts)
	require.NoError(t, err)
	assert.True(t, changed.Deployed)
	assert.NotEqual(t, first.Address, changed.Address)

	f.chain.ClearCode(changed.Address)
	reset, err := d.Deploy(ctx, "Token", opts)
	require.NoError(t, err)
	assert.True(t, reset.Deployed)
	assert.Equal(t, 3, f.chain.Creations())
	assert.Len(t, d.Touched(), 4)
}

func TestDeployErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	d := f.env.Deployments

	_, err := d.Deploy(ctx, "X", DeployOptions{Contract: "Nope"})
	assert.ErrorIs(t, err, ErrUnknownContract)

	_, err = d.Deploy(ctx, "X", DeployOptions{Contract: "MocRC20", Args: []any{"only-name"}})
	assert.ErrorIs(t, err, ErrArgs)

	_, err = d.Deploy(ctx, "X", DeployOptions{Contract: "MocRC20", Args: []any{"a", 7}})
	assert.ErrorIs(t, err, ErrArgs)

	_, err = d.Deploy(ctx, "X", DeployOptions{Contract: "MocRC20", From: common.HexToAddress("0x01"), Args: []any{"a", "b"}})
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.Empty(t, f.chain.Txs())

	f.chain.RevertNextCreate()
	_, err = d.Deploy(ctx, "X", DeployOptions{Contract: "PriceProviderMock", GasLimit: 1_000_000, Args: []any{big.NewInt(1)}})
	assert.ErrorIs(t, err, publish.ErrReverted)
	_, err = f.store.Get(ctx, "X")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestDeployTaskUnknownAccount(t *testing.T) {
	f := newFixture(false)
	task := Deploy(DeploySpec{Name: "P", Contract: "PriceProviderMock", From: "governor", Args: []any{big.NewInt(1)}})
	_, err := task.Run(context.Background(), f.env)
	assert.ErrorIs(t, err, ErrUnknownAccount)
}

func TestDeployArgsFunc(t *testing.T) {
	f := newFixture(false)
	task := Deploy(DeploySpec{
		Name:     "FeeTokenPriceProvider",
		Contract: "PriceProviderMock",
		GasLimit: priceprovidermock.GasLimit,
		ArgsFunc: func(_ context.Context, env *Env) ([]any, error) {
			return []any{env.Params.FeeToken.InitialPrice}, nil
		},
	})
	_, err := task.Run(context.Background(), f.env)
	require.NoError(t, err)

	rec, err := f.store.Get(context.Background(), "FeeTokenPriceProvider")
	require.NoError(t, err)
	assert.Equal(t, common.LeftPadBytes(params.Base().Bytes(), 32), []byte(rec.Args))

	failing := Deploy(DeploySpec{
		Name:     "Broken",
		Contract: "PriceProviderMock",
		ArgsFunc: func(context.Context, *Env) ([]any, error) { return nil, errors.New("boom") },
	})
	_, err = failing.Run(context.Background(), f.env)
	assert.ErrorIs(t, err, ErrArgs)
}

func TestDeployProxied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	d := f.env.Deployments

	admin := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	opts := DeployOptions{
		Contract: "PriceProviderMock",
		GasLimit: priceprovidermock.GasLimit,
		Args:     []any{big.NewInt(5)},
		Proxy:    &ProxyOptions{Admin: admin, InitData: []byte{0x01, 0x02}},
	}
	res, err := d.Deploy(ctx, "Core", opts)
	require.NoError(t, err)
	assert.True(t, res.Deployed)
	require.NotNil(t, res.Implementation)

	impl, err := f.store.Get(ctx, "Core"+ImplementationSuffix)
	require.NoError(t, err)
	assert.Equal(t, impl.Address, *res.Implementation)

	factory, err := f.store.Get(ctx, erc1967factory.Name())
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, factory.Address)

	txs := f.chain.Txs()
	require.Len(t, txs, 3)
	assert.Equal(t, publish.ArachnidCreate2Factory, *txs[1].To)
	assert.Equal(t, factory.Address, *txs[2].To)
	assert.Equal(t, publish.ProxyGasLimit, txs[2].GasLimit)

	again, err := d.Deploy(ctx, "Core", opts)
	require.NoError(t, err)
	assert.False(t, again.Deployed)
	assert.Equal(t, res.Address, again.Address)
	assert.Len(t, f.chain.Txs(), 3)

	// new init data reuses the implementation and the factory
	opts.Proxy = &ProxyOptions{Admin: admin, InitData: []byte{0x03}}
	changed, err := d.Deploy(ctx, "Core", opts)
	require.NoError(t, err)
	assert.True(t, changed.Deployed)
	assert.NotEqual(t, res.Address, changed.Address)
	assert.Len(t, f.chain.Txs(), 4)
}

// emptyCreate2 mines deterministic deployments without leaving code behind,
// as the Arachnid deployer does when the init code reverts.
type emptyCreate2 struct {
	*publishtest.Chain
}

func (e emptyCreate2) DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, bytecode []byte, gasLimit uint64) (publish.DeployResult, error) {
	res, err := e.Chain.DeployDeterministicViaArachnid(ctx, salt, bytecode, gasLimit)
	if err == nil {
		e.ClearCode(res.ContractAddress)
	}
	return res, err
}

func TestProxyFactory(t *testing.T) {
	ctx := context.Background()
	admin := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	proxied := DeployOptions{
		Contract: "PriceProviderMock",
		GasLimit: priceprovidermock.GasLimit,
		Args:     []any{big.NewInt(5)},
		Proxy:    &ProxyOptions{Admin: admin, InitData: []byte{0x01}},
	}

	t.Run("no create2 deployer", func(t *testing.T) {
		f := newFixtureWith(publishtest.NewChain(deployer), registry.NewMemoryStore(), false)
		_, err := f.env.Deployments.Deploy(ctx, "Core", proxied)
		assert.ErrorIs(t, err, publish.ErrNoCreate2Deployer)
		for _, tx := range f.chain.Txs() {
			assert.Nil(t, tx.To)
		}
		_, err = f.store.Get(ctx, erc1967factory.Name())
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("no code after deployment", func(t *testing.T) {
		chain := publishtest.NewChain(deployer).WithArachnid()
		store := registry.NewMemoryStore()
		d := NewDeployments(store, testCatalog(), discard(), emptyCreate2{chain})
		_, err := d.Deploy(ctx, "Core", proxied)
		assert.ErrorIs(t, err, ErrNoCode)
		_, err = store.Get(ctx, erc1967factory.Name())
		assert.ErrorIs(t, err, registry.ErrNotFound)
	})

	t.Run("pinned address", func(t *testing.T) {
		f := newFixture(false)
		d := f.env.Deployments
		existing, err := d.Deploy(ctx, "Existing", DeployOptions{Contract: "MocRC20", Args: []any{"a", "b"}})
		require.NoError(t, err)

		d.UseFactory(FactoryOptions{Address: existing.Address})
		res, err := d.Deploy(ctx, "Core", proxied)
		require.NoError(t, err)
		assert.True(t, res.Deployed)

		txs := f.chain.Txs()
		assert.Equal(t, existing.Address, *txs[len(txs)-1].To)
		for _, tx := range txs {
			if tx.To != nil {
				assert.NotEqual(t, publish.ArachnidCreate2Factory, *tx.To)
			}
		}
	})

	t.Run("pinned address without code", func(t *testing.T) {
		f := newFixture(false)
		f.env.Deployments.UseFactory(FactoryOptions{Address: common.HexToAddress("0x1234")})
		_, err := f.env.Deployments.Deploy(ctx, "Core", proxied)
		assert.ErrorIs(t, err, ErrNoCode)
	})

	t.Run("salt suffix", func(t *testing.T) {
		f := newFixture(false)
		_, err := f.env.Deployments.Deploy(ctx, "Core", proxied)
		require.NoError(t, err)
		first, err := f.store.Get(ctx, erc1967factory.Name())
		require.NoError(t, err)

		d := NewDeployments(f.store, testCatalog(), discard(), f.chain)
		d.UseFactory(FactoryOptions{SaltSuffix: " v2 "})
		_, err = d.Deploy(ctx, "Core2", proxied)
		require.NoError(t, err)
		second, err := f.store.Get(ctx, erc1967factory.Name())
		require.NoError(t, err)

		salt := publish.GenerateSalt(deployer, erc1967factory.Name()+":v2")
		bytecode := testCatalog()[erc1967factory.Name()].Bytecode()
		assert.Equal(t, publish.PredictCreate2Address(publish.ArachnidCreate2Factory, salt, bytecode), second.Address)
		assert.NotEqual(t, first.Address, second.Address)
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(false)
	d := f.env.Deployments

	res, err := d.Deploy(ctx, "P", DeployOptions{Contract: "PriceProviderMock", GasLimit: 1_000_000, Args: []any{big.NewInt(1)}})
	require.NoError(t, err)

	receipt, err := d.Execute(ctx, "P", deployer, 100_000, []byte{0xaa})
	require.NoError(t, err)
	assert.NotNil(t, receipt)
	txs := f.chain.Txs()
	assert.Equal(t, res.Address, *txs[len(txs)-1].To)

	f.chain.RevertCallsTo(res.Address)
	_, err = d.Execute(ctx, "P", common.Address{}, 100_000, []byte{0xaa})
	assert.ErrorIs(t, err, publish.ErrReverted)

	_, err = d.Execute(ctx, "Missing", deployer, 100_000, nil)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func noop(id string, tags []string, deps ...string) Task {
	return Task{
		ID:           id,
		Tags:         tags,
		Dependencies: deps,
		Run:          func(context.Context, *Env) (Completion, error) { return AlwaysRerun, nil },
	}
}

func ids(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestPlanOrdersDependencies(t *testing.T) {
	r := NewRunner(discard())
	require.NoError(t, r.Register(
		noop("core", []string{"Core"}, "Tokens", "oracle"),
		noop("tp", []string{"Tokens"}),
		noop("oracle", nil),
		noop("tc", []string{"Tokens"}),
		noop("unrelated", nil),
	))

	plan, err := r.Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"tp", "tc", "oracle", "core", "unrelated"}, ids(plan))

	plan, err = r.Plan("Core")
	require.NoError(t, err)
	assert.Equal(t, []string{"tp", "tc", "oracle", "core"}, ids(plan))

	plan, err = r.Plan("tc")
	require.NoError(t, err)
	assert.Equal(t, []string{"tc"}, ids(plan))

	_, err = r.Plan("missing")
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestPlanErrors(t *testing.T) {
	r := NewRunner(discard())
	require.NoError(t, r.Register(noop("a", nil, "b"), noop("b", nil, "a")))
	_, err := r.Plan()
	assert.ErrorIs(t, err, ErrCycle)

	r = NewRunner(discard())
	require.NoError(t, r.Register(noop("a", nil, "ghost")))
	_, err = r.Plan()
	assert.ErrorIs(t, err, ErrUnknownDependency)

	r = NewRunner(discard())
	err = r.Register(noop("a", nil), noop("a", nil))
	assert.ErrorIs(t, err, ErrDuplicateTask)

	// a task depending on its own tag is not a cycle
	r = NewRunner(discard())
	require.NoError(t, r.Register(noop("a", []string{"T"}, "T"), noop("b", []string{"T"})))
	plan, err := r.Plan()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(plan))
}

func TestRunStopsOnError(t *testing.T) {
	f := newFixture(true)
	boom := errors.New("boom")
	var ran []string
	r := NewRunner(discard())
	require.NoError(t, r.Register(
		Task{ID: "first", Run: func(context.Context, *Env) (Completion, error) {
			ran = append(ran, "first")
			return RunOnceMarkComplete, nil
		}},
		Task{ID: "second", Run: func(context.Context, *Env) (Completion, error) {
			ran = append(ran, "second")
			return AlwaysRerun, boom
		}},
		Task{ID: "third", Run: func(context.Context, *Env) (Completion, error) {
			ran = append(ran, "third")
			return AlwaysRerun, nil
		}},
	))

	report, err := r.Run(context.Background(), f.env)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "task second")
	assert.Equal(t, []string{"first", "second"}, ran)
	assert.Equal(t, []string{"first"}, report.Executed)
}

type mockStore struct {
	mock.Mock
	registry.Store
}

func (m *mockStore) IsComplete(ctx context.Context, taskID string) (bool, error) {
	args := m.Called(ctx, taskID)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) MarkComplete(ctx context.Context, taskID string) error {
	return m.Called(ctx, taskID).Error(0)
}

func TestRunRegistryErrors(t *testing.T) {
	ctx := context.Background()
	chain := publishtest.NewChain(deployer)

	store := &mockStore{}
	store.On("IsComplete", ctx, "a").Return(false, errors.New("db down"))
	f := newFixtureWith(chain, store, true)
	r := NewRunner(discard())
	require.NoError(t, r.Register(noop("a", nil)))
	_, err := r.Run(ctx, f.env)
	assert.ErrorContains(t, err, "db down")
	store.AssertExpectations(t)

	store = &mockStore{}
	store.On("IsComplete", ctx, "a").Return(false, nil)
	store.On("MarkComplete", ctx, "a").Return(errors.New("read only"))
	f = newFixtureWith(chain, store, true)
	r = NewRunner(discard())
	require.NoError(t, r.Register(Task{ID: "a", Run: func(context.Context, *Env) (Completion, error) {
		return RunOnceMarkComplete, nil
	}}))
	_, err = r.Run(ctx, f.env)
	assert.ErrorContains(t, err, "read only")
	store.AssertExpectations(t)
}

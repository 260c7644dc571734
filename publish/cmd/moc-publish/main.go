package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/moc-protocol/protocol/publish"
	"github.com/moc-protocol/protocol/publish/artifacts"
	"github.com/moc-protocol/protocol/publish/config"
	"github.com/moc-protocol/protocol/publish/contracts"
	"github.com/moc-protocol/protocol/publish/params"
	"github.com/moc-protocol/protocol/publish/registry"
	"github.com/moc-protocol/protocol/publish/task"
	"github.com/moc-protocol/protocol/publish/tasks"
)

var (
	configPath string
	network    string
	verbose    bool
	tags       []string
)

var rootCmd = &cobra.Command{
	Use:           "moc-publish",
	Short:         "Deploy the Moc protocol contracts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Run the deployment tasks against a network",
	Long: `Run the Moc deployment manifest against a network.

Tasks are run in dependency order. Deployments already recorded in the
registry with the same bytecode and constructor arguments are reused, and on
live networks completed tasks are skipped entirely.

Examples:
  # Everything, on a local hardhat/anvil node
  moc-publish deploy

  # Only the core proxy and what it depends on
  moc-publish deploy --network rskTestnet --tags MocCACoinbase`,
	RunE: runDeploy,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the tasks deploy would run, in order",
	RunE:  runPlan,
}

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List recorded deployments for a network",
	RunE:  runDeployments,
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Print the validated parameter bundle for a network",
	RunE:  runParams,
}

var verifyCmd = &cobra.Command{
	Use:   "verify-abi",
	Short: "Check the generated bindings against compiled artifacts",
	RunE:  runVerify,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default moc-publish.yaml in . or ./config)")
	rootCmd.PersistentFlags().StringVar(&network, "network", params.Hardhat, "target network")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	for _, cmd := range []*cobra.Command{deployCmd, planCmd} {
		cmd.Flags().StringSliceVar(&tags, "tags", nil, "task ids or tags to run, with their dependencies (default all)")
	}

	rootCmd.AddCommand(deployCmd, planCmd, deploymentsCmd, paramsCmd, verifyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		exitErr(err)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadNetwork() (*config.Config, config.Network, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, config.Network{}, err
	}
	n, err := cfg.Network(network)
	if err != nil {
		return nil, config.Network{}, err
	}
	return cfg, n, nil
}

func runDeploy(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg, n, err := loadNetwork()
	if err != nil {
		return err
	}
	bundle, err := cfg.Bundle(n.Name)
	if err != nil {
		return err
	}
	key, err := n.Key()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), n.Timeout)
	defer cancel()

	d, err := publish.NewDeployer(n.RPCURL, n.ChainID, key, n.GasFeeCap, n.GasTipCap, log)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.CheckChainID(ctx); err != nil {
		return err
	}

	store, err := registry.Open(ctx, n.RegistryOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	catalog, err := openCatalog(cfg.ArtifactsDir, log)
	if err != nil {
		return err
	}

	accounts := task.NamedAccounts{}
	for name, addr := range n.Accounts {
		accounts[name] = addr
	}
	accounts[task.DefaultSender] = crypto.PubkeyToAddress(key.PublicKey)

	deployments := task.NewDeployments(store, catalog, log, d)
	deployments.UseFactory(task.FactoryOptions{Address: n.Factory.Address, SaltSuffix: n.Factory.SaltSuffix})

	env := &task.Env{
		Network:     task.Network{Name: n.Name, ChainID: n.ChainID, Live: n.Live},
		Accounts:    accounts,
		Deployments: deployments,
		Params:      bundle,
		Log:         log,
	}

	runner := task.NewRunner(log)
	if err := runner.Register(tasks.Moc(bundle)...); err != nil {
		return err
	}

	log.Info("deploying", "network", n.Name, "chain_id", n.ChainID, "live", n.Live, "deployer", d.Address().Hex(), "run_id", env.Deployments.RunID())
	report, runErr := runner.Run(ctx, env, tags...)
	if err := printJSON(report); err != nil {
		return err
	}
	return runErr
}

func runPlan(_ *cobra.Command, _ []string) error {
	cfg, _, err := loadNetwork()
	if err != nil {
		return err
	}
	bundle, err := cfg.Bundle(network)
	if err != nil {
		return err
	}
	runner := task.NewRunner(newLogger())
	if err := runner.Register(tasks.Moc(bundle)...); err != nil {
		return err
	}
	plan, err := runner.Plan(tags...)
	if err != nil {
		return err
	}

	type step struct {
		ID           string   `json:"id"`
		Tags         []string `json:"tags,omitempty"`
		Dependencies []string `json:"dependencies,omitempty"`
	}
	out := make([]step, len(plan))
	for i, t := range plan {
		out[i] = step{ID: t.ID, Tags: t.Tags, Dependencies: t.Dependencies}
	}
	return printJSON(out)
}

func runDeployments(cmd *cobra.Command, _ []string) error {
	_, n, err := loadNetwork()
	if err != nil {
		return err
	}
	store, err := registry.Open(cmd.Context(), n.RegistryOptions())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	return printJSON(records)
}

func runParams(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bundle, err := cfg.Bundle(network)
	if err != nil {
		return err
	}
	return printJSON(bundle)
}

func runVerify(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	catalog, err := openCatalog(cfg.ArtifactsDir, newLogger())
	if err != nil {
		return err
	}
	results := catalog.Verify()
	if err := printJSON(results); err != nil {
		return err
	}
	for _, r := range results {
		if !r.OK {
			return fmt.Errorf("binding %s does not match its artifact", r.Contract)
		}
	}
	return nil
}

// openCatalog indexes dir when it exists; without it only bindings with
// embedded bytecode can be deployed.
func openCatalog(dir string, log *slog.Logger) (*contracts.Catalog, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		log.Debug("no artifacts directory", "dir", dir)
		return contracts.NewCatalog(nil), nil
	}
	store, err := artifacts.Open(dir)
	if err != nil {
		return nil, err
	}
	log.Debug("indexed artifacts", "dir", dir, "contracts", len(store.Names()))
	return contracts.NewCatalog(store), nil
}

func printJSON(v any) error {
	blob, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

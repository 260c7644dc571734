// Package config loads network definitions, signer keys and registry
// settings for moc-publish.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/moc-protocol/protocol/publish/params"
	"github.com/moc-protocol/protocol/publish/registry"
)

var ErrUnknownNetwork = errors.New("network not configured")

// hardhatKey is the first account of the public hardhat/anvil test mnemonic.
const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var validate = validator.New()

// Config holds all moc-publish configuration.
type Config struct {
	ArtifactsDir string                   `mapstructure:"artifacts_dir"`
	Networks     map[string]Network       `mapstructure:"networks" validate:"dive"`
	Profiles     map[string]params.Bundle `mapstructure:"profiles"`
}

// Network describes one target chain.
type Network struct {
	// Name is the canonical, lower-cased key the network was found under.
	Name          string                    `mapstructure:"-"`
	RPCURL        string                    `mapstructure:"rpc_url" validate:"required,url"`
	ChainID       int64                     `mapstructure:"chain_id" validate:"gt=0"`
	Live          bool                      `mapstructure:"live"`
	GasFeeCap     *big.Int                  `mapstructure:"gas_fee_cap" validate:"required"`
	GasTipCap     *big.Int                  `mapstructure:"gas_tip_cap" validate:"required"`
	Timeout       time.Duration             `mapstructure:"timeout" validate:"gt=0"`
	Params        string                    `mapstructure:"params"`
	PrivateKey    string                    `mapstructure:"private_key"`
	PrivateKeyEnv string                    `mapstructure:"private_key_env"`
	Accounts      map[string]common.Address `mapstructure:"accounts"`
	Registry      RegistryConfig            `mapstructure:"registry"`
	Factory       FactoryConfig             `mapstructure:"factory"`
}

// FactoryConfig pins or re-salts the ERC1967 proxy factory.
type FactoryConfig struct {
	Address    common.Address `mapstructure:"address"`
	SaltSuffix string         `mapstructure:"salt_suffix"`
}

// RegistryConfig selects where deployment records are kept.
type RegistryConfig struct {
	Backend string `mapstructure:"backend" validate:"omitempty,oneof=memory file postgres"`
	Dir     string `mapstructure:"dir"`
	DSN     string `mapstructure:"dsn"`
}

// Load reads configuration from path (or moc-publish.yaml in . and
// ./config when empty) and MOC_ environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("moc-publish")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		bigIntHook(),
		addressHook(),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("artifacts_dir", "artifacts")

	v.SetDefault("networks.hardhat.rpc_url", "http://127.0.0.1:8545")
	v.SetDefault("networks.hardhat.chain_id", 31337)
	v.SetDefault("networks.hardhat.live", false)
	v.SetDefault("networks.hardhat.gas_fee_cap", "2000000000")
	v.SetDefault("networks.hardhat.gas_tip_cap", "1000000000")
	v.SetDefault("networks.hardhat.timeout", "10m")
	v.SetDefault("networks.hardhat.private_key", hardhatKey)
	v.SetDefault("networks.hardhat.registry.backend", registry.BackendMemory)
}

// Network returns the named network. Names are matched case-insensitively
// since viper lower-cases keys, and the result carries the lower-cased name
// so every spelling maps to the same registry namespace.
func (c *Config) Network(name string) (Network, error) {
	key := strings.ToLower(name)
	n, ok := c.Networks[key]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s (have %s)", ErrUnknownNetwork, name, strings.Join(c.NetworkNames(), ", "))
	}
	n.Name = key
	return n, nil
}

func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bundle returns the validated parameter bundle for network. A profile in
// the config file takes precedence over a built-in one of the same name.
func (c *Config) Bundle(network string) (params.Bundle, error) {
	n, err := c.Network(network)
	if err != nil {
		return params.Bundle{}, err
	}
	profile := n.Params
	if profile == "" {
		profile = n.Name
	}

	var b params.Bundle
	if p, ok := c.Profiles[strings.ToLower(profile)]; ok {
		b = p.Clone()
	} else if b, err = params.Lookup(profile); err != nil {
		return params.Bundle{}, err
	}
	if err := b.Validate(); err != nil {
		return params.Bundle{}, fmt.Errorf("profile %s: %w", profile, err)
	}
	return b, nil
}

// Key returns the deployer key from private_key or the environment
// variable named by private_key_env.
func (n Network) Key() (*ecdsa.PrivateKey, error) {
	raw := n.PrivateKey
	if n.PrivateKeyEnv != "" {
		raw = os.Getenv(n.PrivateKeyEnv)
		if raw == "" {
			return nil, fmt.Errorf("%s is not set", n.PrivateKeyEnv)
		}
	}
	if raw == "" {
		return nil, errors.New("no deployer key configured (private_key or private_key_env)")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (n Network) RegistryOptions() registry.Options {
	return registry.Options{
		Backend: n.Registry.Backend,
		Network: n.Name,
		Dir:     n.Registry.Dir,
		DSN:     n.Registry.DSN,
	}
}

var (
	bigIntType  = reflect.TypeOf((*big.Int)(nil))
	addressType = reflect.TypeOf(common.Address{})
)

// bigIntHook decodes decimal or 0x-hex strings and integers into *big.Int.
func bigIntHook() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != bigIntType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			s := strings.ReplaceAll(strings.TrimSpace(v), "_", "")
			n, ok := new(big.Int).SetString(s, 0)
			if !ok {
				return nil, fmt.Errorf("invalid integer %q", v)
			}
			return n, nil
		case int:
			return big.NewInt(int64(v)), nil
		case int64:
			return big.NewInt(v), nil
		case uint64:
			return new(big.Int).SetUint64(v), nil
		case float64:
			return nil, fmt.Errorf("%v is not exact; quote large integers", v)
		}
		return data, nil
	}
}

func addressHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != addressType || from.Kind() != reflect.String {
			return data, nil
		}
		s, _ := data.(string)
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	}
}

package publish

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ArachnidCreate2Factory is the keyless CREATE2 deployer present on most
// EVM chains and preinstalled on anvil.
var ArachnidCreate2Factory = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// ErrNoCreate2Deployer is returned when the chain has no code at
// ArachnidCreate2Factory. A transaction sent there would succeed as a plain
// transfer and create nothing.
var ErrNoCreate2Deployer = errors.New("create2 deployer not present")

// GenerateSalt derives a per-deployer salt so that two operators publishing
// the same contract name never collide.
func GenerateSalt(deployer common.Address, name string) [32]byte {
	return crypto.Keccak256Hash(deployer.Bytes(), []byte(name))
}

func PredictCreate2Address(factory common.Address, salt [32]byte, initCode []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

func (d *Deployer) DeployDeterministicViaArachnid(ctx context.Context, salt [32]byte, bytecode []byte, gasLimit uint64) (DeployResult, error) {
	data := make([]byte, 0, len(salt)+len(bytecode))
	data = append(data, salt[:]...)
	data = append(data, bytecode...)

	txHash, err := d.Transact(ctx, ArachnidCreate2Factory, data, gasLimit)
	if err != nil {
		return DeployResult{}, err
	}
	return DeployResult{
		TxHash:          txHash,
		ContractAddress: PredictCreate2Address(ArachnidCreate2Factory, salt, bytecode),
	}, nil
}

package erc1967factory

import (
	_ "embed"

	"github.com/moc-protocol/protocol/publish"
)

const (
	name     = "ERC1967Factory"
	GasLimit = 1_000_000
)

//go:embed ERC1967Factory.abi.json
var abiJSON []byte

// Bytecode is resolved from the compiled artifacts at deploy time.
var descriptor = publish.MustDescriptor(name, abiJSON, nil)

func Name() string { return name }

func Descriptor() *publish.Descriptor { return descriptor }

package starknet

import (
	"strings"

	"github.com/NethermindEth/juno/core/felt"
)

var (
	ChainMainnet = ShortString("SN_MAIN")
	ChainGoerli  = ShortString("SN_GOERLI")
	ChainGoerli2 = ShortString("SN_GOERLI2")
	ChainSepolia = ShortString("SN_SEPOLIA")
)

// NetworkName maps a chain id to the key used in accounts files.
func NetworkName(chainID *felt.Felt) string {
	switch {
	case chainID.Equal(ChainMainnet):
		return "alpha-mainnet"
	case chainID.Equal(ChainGoerli):
		return "alpha-goerli"
	case chainID.Equal(ChainGoerli2):
		return "alpha-goerli2"
	case chainID.Equal(ChainSepolia):
		return "alpha-sepolia"
	}
	if s := DecodeShortString(chainID); s != "" {
		return strings.ToLower(s)
	}
	return chainID.String()
}

package starknet

import (
	"math/big"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// UDCAddress is the Universal Deployer Contract used by deploy.
	UDCAddress = MustFelt("0x041a78e741e5af2fec34b695679bc6891742439f7afb8484ecd7766661ad02bf")
	// FeeTokenAddress is the ETH fee token.
	FeeTokenAddress = MustFelt("0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7")
	// OpenZeppelinAccountClassHash is the account class used by account create.
	OpenZeppelinAccountClassHash = MustFelt("0x058d97f7d76e78f44905cc30cb65b91ea49a4b908a76703c54197bca90f81773")

	prefixInvoke          = ShortString("invoke")
	prefixDeclare         = ShortString("declare")
	prefixDeployAccount   = ShortString("deploy_account")
	prefixContractAddress = ShortString("STARKNET_CONTRACT_ADDRESS")

	mask250      = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	addressBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))
	queryBit     = new(big.Int).Lsh(big.NewInt(1), 128)
)

// Selector returns the entry point selector for a function name.
func Selector(name string) *felt.Felt {
	if name == "__default__" || name == "__l1_default__" {
		return new(felt.Felt)
	}
	h := new(big.Int).SetBytes(ethcrypto.Keccak256([]byte(name)))
	h.And(h, mask250)
	f, _ := FeltFromBig(h)
	return f
}

// ContractAddress computes the address a deployment lands at.
func ContractAddress(deployer, salt, classHash *felt.Felt, calldata []*felt.Felt) *felt.Felt {
	h := crypto.PedersenArray(
		prefixContractAddress,
		deployer,
		salt,
		classHash,
		crypto.PedersenArray(calldata...),
	)
	v := FeltToBig(h)
	v.Mod(v, addressBound)
	out, _ := FeltFromBig(v)
	return out
}

// UDCDeployAddress computes the address of a UDC deployment. With unique set
// the salt is bound to the sender, so two senders never collide.
func UDCDeployAddress(sender, classHash, salt *felt.Felt, calldata []*felt.Felt, unique bool) *felt.Felt {
	if !unique {
		return ContractAddress(new(felt.Felt), salt, classHash, calldata)
	}
	return ContractAddress(UDCAddress, crypto.Pedersen(sender, salt), classHash, calldata)
}

// TxVersion returns the transaction version felt, with the query bit set
// when the transaction is only used for fee estimation.
func TxVersion(v uint64, query bool) *felt.Felt {
	n := new(big.Int).SetUint64(v)
	if query {
		n.Add(n, queryBit)
	}
	f, _ := FeltFromBig(n)
	return f
}

func InvokeHashV1(sender *felt.Felt, calldata []*felt.Felt, maxFee, chainID, nonce *felt.Felt, query bool) *felt.Felt {
	return crypto.PedersenArray(
		prefixInvoke,
		TxVersion(1, query),
		sender,
		new(felt.Felt),
		crypto.PedersenArray(calldata...),
		maxFee,
		chainID,
		nonce,
	)
}

func DeclareHashV2(sender, classHash, compiledClassHash, maxFee, chainID, nonce *felt.Felt, query bool) *felt.Felt {
	return crypto.PedersenArray(
		prefixDeclare,
		TxVersion(2, query),
		sender,
		new(felt.Felt),
		crypto.PedersenArray(classHash),
		maxFee,
		chainID,
		nonce,
		compiledClassHash,
	)
}

func DeployAccountHashV1(address, classHash, salt *felt.Felt, constructorCalldata []*felt.Felt, maxFee, chainID, nonce *felt.Felt, query bool) *felt.Felt {
	elems := append([]*felt.Felt{classHash, salt}, constructorCalldata...)
	return crypto.PedersenArray(
		prefixDeployAccount,
		TxVersion(1, query),
		address,
		new(felt.Felt),
		crypto.PedersenArray(elems...),
		maxFee,
		chainID,
		nonce,
	)
}

package starknet

import "github.com/NethermindEth/juno/core/felt"

// Call is a single contract call executed by an account.
type Call struct {
	To       *felt.Felt   `json:"contract_address"`
	Selector *felt.Felt   `json:"entry_point_selector"`
	Calldata []*felt.Felt `json:"calldata"`
}

// ExecuteCalldata encodes calls for an account's __execute__ entry point.
func ExecuteCalldata(calls []Call) []*felt.Felt {
	out := []*felt.Felt{FeltFromUint64(uint64(len(calls)))}
	for _, c := range calls {
		out = append(out, c.To, c.Selector, FeltFromUint64(uint64(len(c.Calldata))))
		out = append(out, c.Calldata...)
	}
	return out
}

// UDCDeployCall builds the deployContract call on the Universal Deployer.
func UDCDeployCall(classHash, salt *felt.Felt, unique bool, calldata []*felt.Felt) Call {
	uniqueFlag := FeltFromUint64(0)
	if unique {
		uniqueFlag = FeltFromUint64(1)
	}
	data := []*felt.Felt{classHash, salt, uniqueFlag, FeltFromUint64(uint64(len(calldata)))}
	data = append(data, calldata...)
	return Call{To: UDCAddress, Selector: Selector("deployContract"), Calldata: data}
}

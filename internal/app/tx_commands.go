package app

import (
	"errors"
	"strings"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/ggonzalez94/sncast/internal/classfile"
	clierr "github.com/ggonzalez94/sncast/internal/errors"
	"github.com/ggonzalez94/sncast/internal/execution"
	"github.com/ggonzalez94/sncast/internal/rpc"
	"github.com/ggonzalez94/sncast/internal/starknet"
	"github.com/spf13/cobra"
)

// callResult is the data of the call command.
type callResult struct {
	ContractAddress *felt.Felt   `json:"contract_address"`
	Function        string       `json:"function"`
	Block           string       `json:"block_id"`
	Response        []*felt.Felt `json:"response"`
}

// submitRequest builds req for the resolved signer, submits it and renders
// the result.
func (s *runtimeState) submitRequest(req execution.Request, maxFeeArg string) error {
	maxFee, err := parseOptionalFelt("max-fee", maxFeeArg)
	if err != nil {
		return err
	}
	p, err := s.ensureProvider()
	if err != nil {
		return err
	}
	sgn, err := s.openSigner()
	if err != nil {
		return err
	}
	tx, err := s.newBuilder(p).Prepare(s.ctx, req, sgn.Address(), maxFee)
	if err != nil {
		return err
	}

	wait := s.settings.Wait
	progress := s.startProgress(wait)
	defer progress.stop()
	res, err := s.newOrchestrator(p, s.chain.Network, progress).Submit(s.ctx, tx, sgn, wait)
	progress.stop()
	return s.submission(res, err)
}

func (s *runtimeState) newDeclareCommand() *cobra.Command {
	var artifactPath, maxFee string
	cmd := &cobra.Command{
		Use:   "declare",
		Short: "Declare a contract class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			artifact, err := classfile.Load(artifactPath)
			if err != nil {
				return err
			}
			return s.submitRequest(execution.DeclareRequest(artifact), maxFee)
		},
	}
	cmd.Flags().StringVar(&artifactPath, "artifact", "", "Path to the compiled class artifact (class_hash, compiled_class_hash, contract_class)")
	cmd.Flags().StringVarP(&maxFee, "max-fee", "m", "", "Maximum fee; estimated when omitted")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func (s *runtimeState) newDeployCommand() *cobra.Command {
	var classHash, salt, maxFee string
	var calldata []string
	var unique bool
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a declared class through the Universal Deployer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hash, err := parseFelt("class-hash", classHash)
			if err != nil {
				return err
			}
			args, err := parseFelts("constructor-calldata", calldata)
			if err != nil {
				return err
			}
			saltFelt, err := parseOptionalFelt("salt", salt)
			if err != nil {
				return err
			}
			if saltFelt == nil {
				if saltFelt, err = execution.RandomSalt(); err != nil {
					return clierr.Wrap(clierr.CodeInternal, "generate salt", err)
				}
			}
			return s.submitRequest(execution.DeployRequest(hash, args, saltFelt, unique), maxFee)
		},
	}
	cmd.Flags().StringVarP(&classHash, "class-hash", "g", "", "Class hash to deploy")
	cmd.Flags().StringSliceVarP(&calldata, "constructor-calldata", "c", nil, "Constructor calldata (comma separated felts)")
	cmd.Flags().StringVar(&salt, "salt", "", "Deployment salt; random when omitted")
	cmd.Flags().BoolVar(&unique, "unique", false, "Mix the deployer address into the salt")
	cmd.Flags().StringVarP(&maxFee, "max-fee", "m", "", "Maximum fee; estimated when omitted")
	_ = cmd.MarkFlagRequired("class-hash")
	return cmd
}

func (s *runtimeState) newInvokeCommand() *cobra.Command {
	var contract, function, maxFee string
	var calldata []string
	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Invoke a contract function from the configured account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := parseFelt("contract-address", contract)
			if err != nil {
				return err
			}
			args, err := parseFelts("calldata", calldata)
			if err != nil {
				return err
			}
			call := starknet.Call{To: to, Selector: starknet.Selector(strings.TrimSpace(function)), Calldata: args}
			return s.submitRequest(execution.InvokeRequest(call), maxFee)
		},
	}
	cmd.Flags().StringVarP(&contract, "contract-address", "d", "", "Target contract address")
	cmd.Flags().StringVarP(&function, "function", "n", "", "Function name")
	cmd.Flags().StringSliceVarP(&calldata, "calldata", "c", nil, "Calldata (comma separated felts)")
	cmd.Flags().StringVarP(&maxFee, "max-fee", "m", "", "Maximum fee; estimated when omitted")
	_ = cmd.MarkFlagRequired("contract-address")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

func (s *runtimeState) newCallCommand() *cobra.Command {
	var contract, function, blockID string
	var calldata []string
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a view function without sending a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := parseFelt("contract-address", contract)
			if err != nil {
				return err
			}
			args, err := parseFelts("calldata", calldata)
			if err != nil {
				return err
			}
			block, err := rpc.ParseBlockID(blockID)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "invalid --block-id", err)
			}
			p, err := s.ensureProvider()
			if err != nil {
				return err
			}
			fn := strings.TrimSpace(function)
			resp, err := p.Call(s.ctx, rpc.FunctionCall{
				ContractAddress:    to,
				EntryPointSelector: starknet.Selector(fn),
				Calldata:           args,
			}, block)
			if err != nil {
				return callError(err)
			}
			return s.emitSuccess(callResult{ContractAddress: to, Function: fn, Block: blockID, Response: resp}, nil)
		},
	}
	cmd.Flags().StringVarP(&contract, "contract-address", "d", "", "Target contract address")
	cmd.Flags().StringVarP(&function, "function", "n", "", "Function name")
	cmd.Flags().StringSliceVarP(&calldata, "calldata", "c", nil, "Calldata (comma separated felts)")
	cmd.Flags().StringVarP(&blockID, "block-id", "b", "pending", "Block to call against: pending, latest, a number or a hash")
	_ = cmd.MarkFlagRequired("contract-address")
	_ = cmd.MarkFlagRequired("function")
	return cmd
}

func callError(err error) error {
	var perr *rpc.ProviderError
	if errors.As(err, &perr) {
		return clierr.Wrap(clierr.CodeSubmission, "call failed", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "call failed", err)
}

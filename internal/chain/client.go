/*

This file defines the narrow Solana JSON-RPC surface the PLM consumes and its
production implementation. Everything that talks to the chain (position
adapters, the submission engine) funnels through this one logical connection.

*/

package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/windrose-labs/plm/internal/logger"
)

// Error definitions for zero-tolerance error handling
var (
	ErrEmptyResponse    = errors.New("empty response from RPC node")
	ErrSimulationFailed = errors.New("transaction simulation failed")
)

var chainLogger = logger.GetForComponent("chain_client")

// PrioritizationFee is one slot's priority fee sample, in micro-lamports per
// compute unit.
type PrioritizationFee struct {
	Slot          uint64
	MicroLamports uint64
}

// SignatureStatus is the cluster-side processing state of a submitted
// transaction.
type SignatureStatus struct {
	Slot uint64
	// Confirmed reports whether the transaction reached at least the
	// "confirmed" commitment level.
	Confirmed bool
	// ExecutionErr is non-nil when the transaction landed on chain and its
	// execution failed.
	ExecutionErr interface{}
}

// Client is the view of the Solana RPC surface the controller depends on.
// Implementations must be safe for concurrent use.
type Client interface {
	// LatestBlockhash returns a recent blockhash for transaction assembly.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// SimulateTransaction runs the transaction against the current bank
	// without broadcasting it and returns the consumed compute units.
	// A simulation whose execution fails returns ErrSimulationFailed.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (uint64, error)

	// RecentPrioritizationFees returns recent per-slot priority fee samples.
	// An empty slice is a valid response on a quiet cluster.
	RecentPrioritizationFees(ctx context.Context) ([]PrioritizationFee, error)

	// SendTransaction broadcasts the signed transaction once, with preflight
	// checks skipped, and returns its signature.
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus looks up the processing state of a signature. A nil
	// status with a nil error means the cluster has not seen it yet.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// RPCClient implements Client on top of a solana-go JSON-RPC connection.
type RPCClient struct {
	rpc *rpc.Client
}

// Compile-time interface check.
var _ Client = (*RPCClient)(nil)

// NewRPCClient connects to the given Solana JSON-RPC endpoint.
func NewRPCClient(endpoint string) (*RPCClient, error) {
	if endpoint == "" {
		return nil, errors.New("NewRPCClient: endpoint is required")
	}

	chainLogger.Info().Str("endpoint", endpoint).Msg("Connecting to Solana RPC")
	return &RPCClient{rpc: rpc.New(endpoint)}, nil
}

// LatestBlockhash returns a finalized recent blockhash.
func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.Join(ErrEmptyResponse, errors.New("LatestBlockhash: nil result"))
	}
	return out.Value.Blockhash, nil
}

// SimulateTransaction returns the compute units the transaction consumed in
// simulation. Signature verification is skipped and the blockhash replaced so
// a trial transaction can be simulated before final assembly.
func (c *RPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	out, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentConfirmed,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to simulate transaction: %w", err)
	}
	if out == nil || out.Value == nil {
		return 0, errors.Join(ErrEmptyResponse, errors.New("SimulateTransaction: nil result"))
	}
	if out.Value.Err != nil {
		return 0, errors.Join(ErrSimulationFailed,
			fmt.Errorf("simulated execution returned error: %v", out.Value.Err))
	}
	if out.Value.UnitsConsumed == nil || *out.Value.UnitsConsumed == 0 {
		return 0, errors.Join(ErrSimulationFailed,
			errors.New("simulation reported no consumed compute units"))
	}
	return *out.Value.UnitsConsumed, nil
}

// RecentPrioritizationFees returns the node's recent priority fee samples.
func (c *RPCClient) RecentPrioritizationFees(ctx context.Context) ([]PrioritizationFee, error) {
	out, err := c.rpc.GetRecentPrioritizationFees(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent prioritization fees: %w", err)
	}

	fees := make([]PrioritizationFee, 0, len(out))
	for _, f := range out {
		fees = append(fees, PrioritizationFee{
			Slot:          uint64(f.Slot),
			MicroLamports: uint64(f.PrioritizationFee),
		})
	}
	return fees, nil
}

// SendTransaction broadcasts the transaction exactly once. Preflight is
// skipped: the plan was already simulated, and a preflight failure here would
// leave the outcome ambiguous anyway.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SignatureStatus returns the current processing state of sig, or nil if the
// cluster has no record of it yet.
func (c *RPCClient) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	st := out.Value[0]
	confirmed := st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return &SignatureStatus{
		Slot:         uint64(st.Slot),
		Confirmed:    confirmed,
		ExecutionErr: st.Err,
	}, nil
}

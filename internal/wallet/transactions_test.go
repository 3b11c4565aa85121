package wallet

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose-labs/plm/internal/chain"
	"github.com/windrose-labs/plm/internal/config"
	"github.com/windrose-labs/plm/internal/types"
)

type statusReply struct {
	status *chain.SignatureStatus
	err    error
}

// fakeChainClient scripts the RPC surface the engine drives. Context values
// are deliberately ignored: the node does not care that the caller gave up.
type fakeChainClient struct {
	blockhash      solana.Hash
	blockhashErr   error
	blockhashCalls int

	simulateUnits uint64
	simulateErr   error
	simulateCalls int
	lastSimulated *solana.Transaction

	fees    []chain.PrioritizationFee
	feesErr error

	sendSig   solana.Signature
	sendErr   error
	sendCalls int
	lastSent  *solana.Transaction

	statuses    []statusReply // consumed one per poll; empty means "not seen yet"
	statusCalls int
}

var _ chain.Client = (*fakeChainClient)(nil)

func (c *fakeChainClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	c.blockhashCalls++
	return c.blockhash, c.blockhashErr
}

func (c *fakeChainClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	c.simulateCalls++
	c.lastSimulated = tx
	return c.simulateUnits, c.simulateErr
}

func (c *fakeChainClient) RecentPrioritizationFees(ctx context.Context) ([]chain.PrioritizationFee, error) {
	return c.fees, c.feesErr
}

func (c *fakeChainClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.sendCalls++
	c.lastSent = tx
	return c.sendSig, c.sendErr
}

func (c *fakeChainClient) SignatureStatus(ctx context.Context, sig solana.Signature) (*chain.SignatureStatus, error) {
	c.statusCalls++
	if len(c.statuses) == 0 {
		return nil, nil
	}
	reply := c.statuses[0]
	c.statuses = c.statuses[1:]
	return reply.status, reply.err
}

// fakeSigner records sign calls without real key material.
type fakeSigner struct {
	key       solana.PublicKey
	signCalls int
	failFirst int // fail this many leading SignTransaction calls
}

var _ Signer = (*fakeSigner)(nil)

func (s *fakeSigner) PublicKey() solana.PublicKey { return s.key }

func (s *fakeSigner) SignTransaction(tx *solana.Transaction) error {
	s.signCalls++
	if s.signCalls <= s.failFirst {
		return errors.New("keypair unavailable")
	}
	return nil
}

func ascendingFees(n int) []chain.PrioritizationFee {
	// Reverse order so percentile selection has to sort.
	fees := make([]chain.PrioritizationFee, 0, n)
	for i := n; i >= 1; i-- {
		fees = append(fees, chain.PrioritizationFee{Slot: uint64(i), MicroLamports: uint64(i)})
	}
	return fees
}

func testPlan(payer solana.PublicKey) types.TransactionPlan {
	ix := solana.NewInstruction(
		solana.PublicKey{0x0A},
		solana.AccountMetaSlice{solana.NewAccountMeta(payer, true, true)},
		[]byte("recenter"),
	)
	return types.TransactionPlan{
		Description:  "recenter test position",
		Instructions: []solana.Instruction{ix},
		Payer:        payer,
	}
}

// newTestEngine wires an engine to the fake client with poll timing tightened
// for tests.
func newTestEngine(t *testing.T, client *fakeChainClient, signer *fakeSigner) *SubmissionEngine {
	t.Helper()
	engine, err := NewSubmissionEngine(client, signer, types.GasPriorityHigh)
	require.NoError(t, err)
	engine.pollInterval = time.Millisecond
	engine.confirmTimeout = 50 * time.Millisecond
	return engine
}

func confirmedClient() *fakeChainClient {
	return &fakeChainClient{
		blockhash:     solana.Hash{0x01},
		simulateUnits: 200_000,
		fees:          ascendingFees(100),
		sendSig:       solana.Signature{0xAA},
		statuses:      []statusReply{{status: &chain.SignatureStatus{Slot: 4242, Confirmed: true}}},
	}
}

func TestNewSubmissionEngine_RejectsBadInputs(t *testing.T) {
	signer := &fakeSigner{key: solana.PublicKey{0x01}}

	_, err := NewSubmissionEngine(nil, signer, types.GasPriorityHigh)
	assert.Error(t, err)

	_, err = NewSubmissionEngine(&fakeChainClient{}, nil, types.GasPriorityHigh)
	assert.Error(t, err)

	_, err = NewSubmissionEngine(&fakeChainClient{}, signer, types.GasPriority("ludicrous"))
	assert.ErrorIs(t, err, ErrInvalidGasPriority)
}

func TestSubmitAndConfirm_ConfirmedTransaction(t *testing.T) {
	client := confirmedClient()
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.Equal(t, solana.Signature{0xAA}.String(), result.Signature)
	assert.Equal(t, uint64(4242), result.Slot)
	assert.Equal(t, types.ErrorKindNone, result.ErrorKind)
	assert.False(t, result.SubmittedAt.IsZero())
	assert.False(t, result.FinishedAt.IsZero())

	// 200k estimate: 200k*1.3 = 260k loses to the 200k+100k floor.
	assert.Equal(t, uint32(300_000), result.ComputeUnitLimit)
	// High priority is the 95th percentile of [1..100].
	assert.Equal(t, uint64(95), result.ComputeUnitPriceMicroLamports)

	assert.Equal(t, 1, client.sendCalls, "broadcast must happen exactly once")
	assert.Equal(t, 1, client.simulateCalls)
	assert.Equal(t, 2, signer.signCalls, "trial and final transactions are both signed")
}

func TestSubmitAndConfirm_BudgetInstructionsArePrepended(t *testing.T) {
	client := confirmedClient()
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	_, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err)

	// The trial transaction carries only the plan's own instructions.
	require.NotNil(t, client.lastSimulated)
	assert.Len(t, client.lastSimulated.Message.Instructions, 1)

	require.NotNil(t, client.lastSent)
	msg := client.lastSent.Message
	require.Len(t, msg.Instructions, 3)

	programAt := func(i int) solana.PublicKey {
		return msg.AccountKeys[msg.Instructions[i].ProgramIDIndex]
	}
	assert.Equal(t, computebudget.ProgramID, programAt(0), "compute unit limit leads")
	assert.Equal(t, computebudget.ProgramID, programAt(1), "compute unit price second")
	assert.Equal(t, solana.PublicKey{0x0A}, programAt(2), "plan instructions follow the budget")
}

func TestSubmitAndConfirm_SimulationFailureFallsBackToDefaultEstimate(t *testing.T) {
	client := confirmedClient()
	client.simulateErr = chain.ErrSimulationFailed
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err, "simulation failure is recovered with the default estimate")

	assert.True(t, result.Confirmed)
	assert.Equal(t, uint32(300_000), result.ComputeUnitLimit, "default 200k estimate padded to 300k")
	assert.Equal(t, 1, client.sendCalls)
}

func TestSubmitAndConfirm_TrialSignFailureFallsBackToDefaultEstimate(t *testing.T) {
	client := confirmedClient()
	signer := &fakeSigner{key: solana.PublicKey{0x01}, failFirst: 1}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.Equal(t, uint32(300_000), result.ComputeUnitLimit)
	assert.Zero(t, client.simulateCalls, "an unsigned trial transaction is never simulated")
}

func TestSubmitAndConfirm_FinalSignFailureAborts(t *testing.T) {
	client := confirmedClient()
	signer := &fakeSigner{key: solana.PublicKey{0x01}, failFirst: 2}
	engine := newTestEngine(t, client, signer)

	_, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.Error(t, err)

	assert.Zero(t, client.sendCalls, "an unsigned transaction must never reach the cluster")
}

func TestSubmitAndConfirm_BlockhashFailureAborts(t *testing.T) {
	client := confirmedClient()
	client.blockhashErr = errors.New("node unavailable")
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.ErrorIs(t, err, ErrBlockhashFailed)

	assert.False(t, result.Confirmed)
	assert.Zero(t, client.sendCalls)
	assert.False(t, result.FinishedAt.IsZero())
}

func TestSubmitAndConfirm_BroadcastFailureAborts(t *testing.T) {
	client := confirmedClient()
	client.sendErr = errors.New("connection reset")
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.ErrorIs(t, err, ErrBroadcastFailed)

	assert.False(t, result.Confirmed)
	assert.Empty(t, result.Signature)
	assert.Zero(t, client.statusCalls, "nothing to poll for after a failed broadcast")
}

func TestSubmitAndConfirm_OnChainRevertIsTerminal(t *testing.T) {
	client := confirmedClient()
	client.statuses = []statusReply{{
		status: &chain.SignatureStatus{
			Slot:         5000,
			Confirmed:    true,
			ExecutionErr: map[string]interface{}{"InstructionError": []interface{}{2, "Custom"}},
		},
	}}
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.ErrorIs(t, err, ErrOnChainRevert)

	assert.False(t, result.Confirmed)
	assert.Equal(t, types.ErrorKindOnChainRevert, result.ErrorKind)
	assert.Equal(t, uint64(5000), result.Slot)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, 1, client.sendCalls, "a reverted transaction is never resent")
}

func TestSubmitAndConfirm_ConfirmationTimeoutIsAmbiguous(t *testing.T) {
	client := confirmedClient()
	client.statuses = nil // the cluster never reports the signature
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)
	engine.confirmTimeout = 20 * time.Millisecond

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	assert.False(t, result.Confirmed)
	assert.Equal(t, types.ErrorKindConfirmationTimeout, result.ErrorKind)
	assert.NotEmpty(t, result.Signature, "the signature is reported even when the outcome is unknown")
	assert.Equal(t, 1, client.sendCalls, "an ambiguous transaction must never be re-broadcast")
}

func TestSubmitAndConfirm_TransientStatusLookupFailuresAreTolerated(t *testing.T) {
	client := confirmedClient()
	client.statuses = []statusReply{
		{err: errors.New("rpc hiccup")},
		{status: nil},
		{status: &chain.SignatureStatus{Slot: 7, Confirmed: false}},
		{status: &chain.SignatureStatus{Slot: 9, Confirmed: true}},
	}
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.Equal(t, uint64(9), result.Slot)
	assert.Equal(t, 4, client.statusCalls)
}

func TestSubmitAndConfirm_CallerCancellationDoesNotAbandonBroadcast(t *testing.T) {
	client := confirmedClient()
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled caller context must not cut the confirmation poll short;
	// the engine owns the deadline from broadcast onward.
	result, err := engine.SubmitAndConfirm(ctx, testPlan(signer.key))
	require.NoError(t, err)
	assert.True(t, result.Confirmed)
}

func TestSubmitAndConfirm_FeeLookupFailureUsesFloor(t *testing.T) {
	client := confirmedClient()
	client.feesErr = errors.New("method not supported")
	signer := &fakeSigner{key: solana.PublicKey{0x01}}
	engine := newTestEngine(t, client, signer)

	result, err := engine.SubmitAndConfirm(context.Background(), testPlan(signer.key))
	require.NoError(t, err)

	assert.Equal(t, config.MinPriorityFeeMicroLamports, result.ComputeUnitPriceMicroLamports)
}

func TestSubmitAndConfirm_RejectsInvalidPlans(t *testing.T) {
	signerKey := solana.PublicKey{0x01}

	tests := []struct {
		name string
		plan types.TransactionPlan
	}{
		{
			name: "no instructions",
			plan: types.TransactionPlan{Description: "empty", Payer: signerKey},
		},
		{
			name: "nil instruction",
			plan: types.TransactionPlan{
				Description:  "nil ix",
				Instructions: []solana.Instruction{nil},
				Payer:        signerKey,
			},
		},
		{
			name: "zero payer",
			plan: func() types.TransactionPlan {
				p := testPlan(signerKey)
				p.Payer = solana.PublicKey{}
				return p
			}(),
		},
		{
			name: "payer is not the signing wallet",
			plan: testPlan(solana.PublicKey{0x02}),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := confirmedClient()
			engine := newTestEngine(t, client, &fakeSigner{key: signerKey})

			_, err := engine.SubmitAndConfirm(context.Background(), tc.plan)
			assert.ErrorIs(t, err, ErrInvalidPlan)
			assert.Zero(t, client.blockhashCalls, "validation happens before any RPC traffic")
		})
	}
}

func TestPaddedComputeUnitLimit(t *testing.T) {
	// The additive floor dominates small estimates, the multiplier large ones.
	assert.Equal(t, uint32(300_000), paddedComputeUnitLimit(200_000))
	assert.Equal(t, uint32(110_000), paddedComputeUnitLimit(10_000))
	assert.Equal(t, uint32(math.MaxUint32), paddedComputeUnitLimit(math.MaxUint32))

	for _, estimate := range []uint64{1, 10_000, 200_000, 350_000, 1_000_000} {
		limit := paddedComputeUnitLimit(estimate)
		assert.GreaterOrEqual(t, uint64(limit), estimate+config.ComputeUnitSafetyMargin,
			"estimate=%d: limit below the additive margin", estimate)
		assert.GreaterOrEqual(t, float64(limit), float64(estimate)*config.ComputeUnitLimitMultiplier,
			"estimate=%d: limit below the multiplied estimate", estimate)
	}
}

func TestPercentileFee(t *testing.T) {
	fees := ascendingFees(100)

	tests := []struct {
		name       string
		percentile float64
		want       uint64
	}{
		{name: "p50", percentile: 0.50, want: 50},
		{name: "p75", percentile: 0.75, want: 75},
		{name: "p95", percentile: 0.95, want: 95},
		{name: "p99", percentile: 0.99, want: 99},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, percentileFee(fees, tc.percentile))
		})
	}

	assert.Equal(t, uint64(7), percentileFee([]chain.PrioritizationFee{{MicroLamports: 7}}, 0.95),
		"a single sample is every percentile")
	assert.Equal(t, config.MinPriorityFeeMicroLamports, percentileFee(nil, 0.95),
		"no samples falls back to the floor")
}

package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	clientID     = wallet.Unsigned(common.HexToAddress("0x1000000000000000000000000000000000000001"))
	freelancerID = wallet.Unsigned(common.HexToAddress("0x2000000000000000000000000000000000000002"))
	oneUnit      = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

func TestMemoryLedger_Lifecycle(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	pid, hash, err := l.SubmitCreateProject(ctx, clientID, freelancerID.Address(), oneUnit, "Logo design", oneUnit)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)
	assert.Equal(t, oneUnit, l.Escrowed())

	for _, party := range []common.Address{clientID.Address(), freelancerID.Address()} {
		ids, err := l.ListProjectsForParty(ctx, party)
		require.NoError(t, err)
		assert.Equal(t, []model.ProjectID{pid}, ids)
	}

	mid, _, err := l.SubmitCreateMilestone(ctx, clientID, pid, "Sketches", wei("600000000000000000"))
	require.NoError(t, err)

	_, _, err = l.SubmitCreateMilestone(ctx, clientID, pid, "Final", wei("500000000000000000"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = l.GetSubmissionReference(ctx, mid)
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))

	_, err = l.SubmitSubmitMilestone(ctx, clientID, mid, "ipfs://x")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	_, err = l.SubmitSubmitMilestone(ctx, freelancerID, mid, "ipfs://proof")
	require.NoError(t, err)
	ref, err := l.GetSubmissionReference(ctx, mid)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://proof", ref)

	_, err = l.SubmitApproveMilestone(ctx, freelancerID, mid)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	_, err = l.SubmitApproveMilestone(ctx, clientID, mid)
	require.NoError(t, err)

	m, err := l.GetMilestone(ctx, mid)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePaid, m.Status)

	p, err := l.GetProject(ctx, pid)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)
	assert.Equal(t, wei("400000000000000000"), l.Escrowed())

	_, err = l.SubmitApproveMilestone(ctx, clientID, mid)
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))

	_, _, err = l.SubmitCreateMilestone(ctx, clientID, pid, "More", big.NewInt(1))
	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindIllegalTransition, Rule: "ProjectCompleted"}))
}

func TestMemoryLedger_CreateProjectRejections(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	tests := []struct {
		name       string
		freelancer common.Address
		total      *big.Int
		title      string
		funding    *big.Int
		kind       apperr.Kind
	}{
		{"zero freelancer", common.Address{}, oneUnit, "t", oneUnit, apperr.KindValidation},
		{"self dealing", clientID.Address(), oneUnit, "t", oneUnit, apperr.KindValidation},
		{"empty title", freelancerID.Address(), oneUnit, " ", oneUnit, apperr.KindValidation},
		{"zero total", freelancerID.Address(), big.NewInt(0), "t", big.NewInt(0), apperr.KindValidation},
		{"underfunded", freelancerID.Address(), oneUnit, "t", big.NewInt(1), apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := l.SubmitCreateProject(ctx, clientID, tt.freelancer, tt.total, tt.title, tt.funding)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 0, l.Escrowed().Sign())
}

func TestMemoryLedger_NotFound(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	_, err := l.GetProject(ctx, 42)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = l.GetMilestone(ctx, 42)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	_, err = l.SubmitApproveMilestone(ctx, clientID, 42)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryLedger_ReadHook(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	pid, _, err := l.SubmitCreateProject(ctx, clientID, freelancerID.Address(), oneUnit, "t", oneUnit)
	require.NoError(t, err)

	l.SetReadHook(func(ctx context.Context, op string, id uint64) error {
		if op == OpGetProject {
			return errors.New("connection refused")
		}
		return nil
	})
	_, err = l.GetProject(ctx, pid)
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))

	l.SetReadHook(nil)
	_, err = l.GetProject(ctx, pid)
	assert.NoError(t, err)
}

func TestMemoryLedger_ReceiptsAndEvents(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	pid, hash, err := l.SubmitCreateProject(ctx, clientID, freelancerID.Address(), oneUnit, "t", oneUnit)
	require.NoError(t, err)

	status, _, err := chain.CheckConfirmation(ctx, l, hash, 3)
	require.NoError(t, err)
	assert.Equal(t, chain.ReceiptPending, status)

	l.Mine(2)
	status, receipt, err := chain.CheckConfirmation(ctx, l, hash, 3)
	require.NoError(t, err)
	assert.Equal(t, chain.ReceiptConfirmed, status)

	contract, err := chain.NewContract(nil, config.EscrowContract,
		config.ContractConfig{Address: MemoryContractAddress.Hex(), Enabled: true}, 1337, EscrowABI)
	require.NoError(t, err)

	ev, ok := contract.FindEvent(receipt, EventProjectCreated)
	require.True(t, ok)
	assert.Equal(t, uint64(pid), ev["projectId"].(*big.Int).Uint64())
	assert.Equal(t, clientID.Address(), ev["client"])
	assert.Equal(t, freelancerID.Address(), ev["freelancer"])
	assert.Equal(t, 0, oneUnit.Cmp(ev["totalAmount"].(*big.Int)))

	logs, err := chain.GetBatchBlockLogs(ctx, l, []common.Address{MemoryContractAddress}, 0, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	parsed, err := contract.ParseEvent(logs[0])
	require.NoError(t, err)
	assert.Equal(t, EventProjectCreated, parsed["eventName"])
}

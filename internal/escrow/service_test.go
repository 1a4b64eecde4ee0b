package escrow

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/ledger"
	"github.com/blues/escrow/internal/lifecycle"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = wallet.Unsigned(common.HexToAddress("0x1000000000000000000000000000000000000001"))
	bob   = wallet.Unsigned(common.HexToAddress("0x2000000000000000000000000000000000000002"))
	carol = wallet.Unsigned(common.HexToAddress("0x3000000000000000000000000000000000000003"))
)

func units(s string) *big.Int {
	v, err := amount.ToBaseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

type invalidation struct {
	source  string
	parties []common.Address
}

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []invalidation
}

func (f *fakeInvalidator) Invalidate(_ context.Context, source string, parties ...common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invalidation{source: source, parties: parties})
}

type fakeJournal struct {
	mu      sync.Mutex
	records []model.CommandRecord
	err     error
}

func (f *fakeJournal) Record(_ context.Context, rec *model.CommandRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return f.err
}

func (f *fakeJournal) last() model.CommandRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[len(f.records)-1]
}

// countingLedger 统计写调用次数，可注入写失败
type countingLedger struct {
	*ledger.MemoryLedger
	mu       sync.Mutex
	writes   int
	writeErr error
	hash     common.Hash
}

func (c *countingLedger) count() (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	return c.hash, c.writeErr
}

func (c *countingLedger) SubmitCreateMilestone(ctx context.Context, identity wallet.Identity, projectID model.ProjectID, description string, amount *big.Int) (model.MilestoneID, common.Hash, error) {
	if hash, err := c.count(); err != nil {
		return 0, hash, err
	}
	return c.MemoryLedger.SubmitCreateMilestone(ctx, identity, projectID, description, amount)
}

func (c *countingLedger) SubmitApproveMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID) (common.Hash, error) {
	if hash, err := c.count(); err != nil {
		return hash, err
	}
	return c.MemoryLedger.SubmitApproveMilestone(ctx, identity, milestoneID)
}

func (c *countingLedger) SubmitSubmitMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID, reference string) (common.Hash, error) {
	if hash, err := c.count(); err != nil {
		return hash, err
	}
	return c.MemoryLedger.SubmitSubmitMilestone(ctx, identity, milestoneID, reference)
}

func newService(t *testing.T) (*Service, *countingLedger, *fakeInvalidator, *fakeJournal) {
	t.Helper()
	l := &countingLedger{MemoryLedger: ledger.NewMemoryLedger()}
	inv := &fakeInvalidator{}
	j := &fakeJournal{}
	return NewService(l, inv, j), l, inv, j
}

func TestService_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, l, inv, j := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1.0"), "Logo design")
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, created.TxHash)
	assert.Equal(t, 0, units("1.0").Cmp(l.Escrowed()))

	m1, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "Sketches", units("0.4"))
	require.NoError(t, err)
	m2, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "Final files", units("0.6"))
	require.NoError(t, err)

	_, err = svc.SubmitMilestone(ctx, bob, m1.MilestoneID, "  ipfs://sketches  ")
	require.NoError(t, err)
	ref, err := l.GetSubmissionReference(ctx, m1.MilestoneID)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://sketches", ref)

	_, err = svc.ApproveMilestone(ctx, alice, m1.MilestoneID)
	require.NoError(t, err)
	got, err := l.GetMilestone(ctx, m1.MilestoneID)
	require.NoError(t, err)
	assert.Equal(t, model.MilestonePaid, got.Status)
	assert.Equal(t, 0, units("0.6").Cmp(l.Escrowed()))

	_, err = svc.SubmitMilestone(ctx, bob, m2.MilestoneID, "ipfs://final")
	require.NoError(t, err)
	_, err = svc.ApproveMilestone(ctx, alice, m2.MilestoneID)
	require.NoError(t, err)

	p, err := l.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.True(t, p.IsCompleted)
	assert.Equal(t, 0, l.Escrowed().Sign())

	// 完成后不能再新增里程碑
	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "Extra", units("0.1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	require.Len(t, inv.calls, 7)
	for _, c := range inv.calls {
		assert.Equal(t, "command", c.source)
		assert.ElementsMatch(t, []common.Address{alice.Address(), bob.Address()}, c.parties)
	}
	require.Len(t, j.records, 8)
	assert.Equal(t, model.CommandStatusAccepted, j.records[0].Status)
	assert.Equal(t, model.CommandStatusRejected, j.last().Status)
	assert.Equal(t, string(apperr.KindIllegalTransition), j.last().ErrorKind)
}

func TestService_CeilingRejectedWithoutWrite(t *testing.T) {
	ctx := context.Background()
	svc, l, inv, j := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1.0"), "Logo design")
	require.NoError(t, err)
	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "First", units("0.7"))
	require.NoError(t, err)
	writes := l.writes

	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "Second", units("0.4"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, lifecycle.RuleEscrowCeiling, e.Rule)

	assert.Equal(t, writes, l.writes)
	ids, err := l.ListMilestonesForProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, 0, units("1.0").Cmp(l.Escrowed()))
	assert.Len(t, inv.calls, 2)
	assert.Equal(t, model.CommandStatusRejected, j.last().Status)

	// 恰好到达上限是允许的
	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "Second", units("0.3"))
	require.NoError(t, err)
}

func TestService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newService(t)

	cases := []struct {
		name       string
		freelancer common.Address
		total      *big.Int
		title      string
		rule       string
	}{
		{"same party", alice.Address(), units("1"), "t", lifecycle.RuleRoleExclusivity},
		{"zero freelancer", common.Address{}, units("1"), "t", lifecycle.RuleRequiredField},
		{"empty title", bob.Address(), units("1"), "   ", lifecycle.RuleRequiredField},
		{"zero amount", bob.Address(), big.NewInt(0), "t", lifecycle.RulePositiveAmount},
		{"nil amount", bob.Address(), nil, "t", lifecycle.RulePositiveAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateProject(ctx, alice, tc.freelancer, tc.total, tc.title)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, e.Kind)
			assert.Equal(t, tc.rule, e.Rule)
		})
	}

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "", units("0.1"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "d", big.NewInt(-1))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestService_RolesAndStates(t *testing.T) {
	ctx := context.Background()
	svc, l, _, _ := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)

	_, err = svc.CreateMilestone(ctx, bob, created.ProjectID, "d", units("0.5"))
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	m, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "d", units("0.5"))
	require.NoError(t, err)

	// 只有执行方可以提交
	_, err = svc.SubmitMilestone(ctx, alice, m.MilestoneID, "ref")
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnauthorized, e.Kind)
	assert.Equal(t, lifecycle.RuleOnlyFreelancer, e.Rule)

	// 未提交不能批准
	_, err = svc.ApproveMilestone(ctx, alice, m.MilestoneID)
	e, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIllegalTransition, e.Kind)
	assert.Equal(t, "NotSubmitted", e.State)

	_, err = svc.SubmitMilestone(ctx, bob, m.MilestoneID, "ref")
	require.NoError(t, err)

	// 已提交不能再次提交
	_, err = svc.SubmitMilestone(ctx, bob, m.MilestoneID, "ref2")
	e, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIllegalTransition, e.Kind)
	assert.Equal(t, "Submitted", e.State)

	// 执行方不能批准
	_, err = svc.ApproveMilestone(ctx, bob, m.MilestoneID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	// 第三方既不是出资方也不是执行方
	_, err = svc.ApproveMilestone(ctx, carol, m.MilestoneID)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	got, err := l.GetMilestone(ctx, m.MilestoneID)
	require.NoError(t, err)
	assert.Equal(t, model.MilestoneSubmitted, got.Status)
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, l, _, _ := newService(t)

	_, err := svc.CreateMilestone(ctx, alice, 42, "d", units("0.1"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.SubmitMilestone(ctx, bob, 42, "ref")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = svc.ApproveMilestone(ctx, alice, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, l.writes)
}

func TestService_LedgerRejectionGetsState(t *testing.T) {
	ctx := context.Background()
	svc, l, inv, j := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	m, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "d", units("0.5"))
	require.NoError(t, err)
	_, err = svc.SubmitMilestone(ctx, bob, m.MilestoneID, "ref")
	require.NoError(t, err)
	calls := len(inv.calls)

	// 本地校验通过后账本拒绝（并发批准）
	l.writeErr = ledger.ClassifyReason("already paid", nil)
	_, err = svc.ApproveMilestone(ctx, alice, m.MilestoneID)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindIllegalTransition, e.Kind)
	assert.Equal(t, lifecycle.RuleNotApprovable, e.Rule)
	assert.Equal(t, "Submitted", e.State)

	// 拒绝不重试，也不失效缓存
	assert.Equal(t, 3, l.writes)
	assert.Len(t, inv.calls, calls)
	assert.Equal(t, model.CommandStatusRejected, j.last().Status)
}

func TestService_UnknownOutcomeIsPending(t *testing.T) {
	ctx := context.Background()
	svc, l, inv, j := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	m, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "d", units("0.5"))
	require.NoError(t, err)
	calls := len(inv.calls)

	l.hash = common.HexToHash("0xabc")
	l.writeErr = apperr.Unavailable(context.DeadlineExceeded, "receipt of %s not observed", l.hash.Hex())
	_, err = svc.SubmitMilestone(ctx, bob, m.MilestoneID, "ref")
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)

	rec := j.last()
	assert.Equal(t, model.CommandStatusPending, rec.Status)
	assert.Equal(t, l.hash, rec.TxHash)
	assert.Equal(t, created.ProjectID, rec.ProjectID)
	assert.ElementsMatch(t, []common.Address{alice.Address(), bob.Address()}, rec.Parties())
	assert.Len(t, inv.calls, calls)
}

func TestService_RevertedTxIsNotPending(t *testing.T) {
	ctx := context.Background()
	svc, l, inv, j := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	m, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "d", units("0.5"))
	require.NoError(t, err)
	calls := len(inv.calls)

	// 已上链但执行失败
	l.hash = common.HexToHash("0xdef")
	l.writeErr = apperr.IllegalTransition(apperr.RuleUnknown, "", "transaction %s reverted on chain", l.hash.Hex())
	_, err = svc.SubmitMilestone(ctx, bob, m.MilestoneID, "ref")
	assert.ErrorIs(t, err, apperr.ErrIllegalTransition)

	rec := j.last()
	assert.Equal(t, model.CommandStatusReverted, rec.Status)
	assert.Equal(t, l.hash, rec.TxHash)
	assert.Equal(t, string(apperr.KindIllegalTransition), rec.ErrorKind)
	assert.Len(t, inv.calls, calls)
}

func TestService_UnreadableMilestoneBlocksCreate(t *testing.T) {
	ctx := context.Background()
	svc, l, _, _ := newService(t)

	created, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	first, err := svc.CreateMilestone(ctx, alice, created.ProjectID, "d", units("0.5"))
	require.NoError(t, err)

	l.SetReadHook(func(_ context.Context, op string, id uint64) error {
		if op == ledger.OpGetMilestone && id == uint64(first.MilestoneID) {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	_, err = svc.CreateMilestone(ctx, alice, created.ProjectID, "e", units("0.1"))
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	ids, err := l.ListMilestonesForProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestService_RequestIDAndJournalFailure(t *testing.T) {
	svc, _, _, j := newService(t)
	j.err = errors.New("database is locked")

	ctx := WithRequestID(context.Background(), "req-1")
	res, err := svc.CreateProject(ctx, alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	assert.NotZero(t, res.ProjectID)
	assert.Equal(t, "req-1", j.last().RequestID)

	_, err = svc.CreateProject(context.Background(), alice, bob.Address(), units("1"), "t")
	require.NoError(t, err)
	assert.NotEmpty(t, j.last().RequestID)
	assert.NotEqual(t, "req-1", j.last().RequestID)
}

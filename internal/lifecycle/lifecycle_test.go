package lifecycle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	freelancer = common.HexToAddress("0x2000000000000000000000000000000000000002")
	stranger   = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(100_000_000_000_000_000)) // n * 0.1
}

func project() *model.Project {
	return &model.Project{ID: 1, Client: client, Freelancer: freelancer, Title: "Logo design", TotalAmount: units(10)}
}

func TestNext_ForwardOnly(t *testing.T) {
	statuses := []model.MilestoneStatus{
		model.MilestoneNotSubmitted, model.MilestoneSubmitted, model.MilestoneApproved, model.MilestonePaid,
	}
	legal := map[model.MilestoneStatus]map[model.Action]model.MilestoneStatus{
		model.MilestoneNotSubmitted: {model.ActionSubmit: model.MilestoneSubmitted},
		model.MilestoneSubmitted:    {model.ActionApprove: model.MilestonePaid},
	}

	for _, from := range statuses {
		for _, action := range []model.Action{model.ActionSubmit, model.ActionApprove} {
			next, err := Next(from, action)
			want, ok := legal[from][action]
			if ok {
				require.NoError(t, err, "%s from %s", action, from)
				assert.Equal(t, want, next)
				assert.True(t, next > from, "status must move forward")
				continue
			}
			require.Error(t, err, "%s from %s", action, from)
			assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
			assert.Equal(t, from, next)
			e, _ := apperr.As(err)
			assert.Equal(t, from.String(), e.State)
		}
	}
}

func TestApply_LeavesStateOnFailure(t *testing.T) {
	m := &model.Milestone{ID: 1, Status: model.MilestoneApproved}
	err := Apply(m, model.ActionSubmit, "ipfs://x")

	require.Error(t, err)
	assert.Equal(t, model.MilestoneApproved, m.Status)
	assert.Empty(t, m.SubmissionHash)

	m = &model.Milestone{ID: 2}
	require.NoError(t, Apply(m, model.ActionSubmit, "ipfs://proof"))
	assert.Equal(t, model.MilestoneSubmitted, m.Status)
	assert.Equal(t, "ipfs://proof", m.SubmissionHash)

	require.NoError(t, Apply(m, model.ActionApprove, ""))
	assert.Equal(t, model.MilestonePaid, m.Status)
	assert.Equal(t, "ipfs://proof", m.SubmissionHash)
}

func TestAuthorize(t *testing.T) {
	p := project()

	assert.NoError(t, Authorize(p, client, model.ActionCreateMilestone))
	assert.NoError(t, Authorize(p, client, model.ActionApprove))
	assert.NoError(t, Authorize(p, freelancer, model.ActionSubmit))

	for _, tc := range []struct {
		caller common.Address
		action model.Action
		rule   string
	}{
		{freelancer, model.ActionApprove, RuleOnlyClient},
		{freelancer, model.ActionCreateMilestone, RuleOnlyClient},
		{client, model.ActionSubmit, RuleOnlyFreelancer},
		{stranger, model.ActionSubmit, RuleOnlyFreelancer},
	} {
		err := Authorize(p, tc.caller, tc.action)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
		e, _ := apperr.As(err)
		assert.Equal(t, tc.rule, e.Rule)
	}
}

func TestCheckCeiling(t *testing.T) {
	total := units(10)

	assert.NoError(t, CheckCeiling(total, nil, units(10)))
	assert.NoError(t, CheckCeiling(total, []*big.Int{units(6)}, units(4)))

	err := CheckCeiling(total, []*big.Int{units(6)}, units(5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindValidation, Rule: RuleEscrowCeiling}))

	err = CheckCeiling(total, nil, big.NewInt(0))
	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindValidation, Rule: RulePositiveAmount}))
}

func TestDeriveCompleted(t *testing.T) {
	ms := func(statuses ...model.MilestoneStatus) []model.Milestone {
		out := make([]model.Milestone, len(statuses))
		for i, s := range statuses {
			out[i] = model.Milestone{ID: model.MilestoneID(i + 1), Status: s, Amount: units(1)}
		}
		return out
	}

	tests := []struct {
		name       string
		milestones []model.Milestone
		want       bool
	}{
		{"no milestones", nil, false},
		{"single paid", ms(model.MilestonePaid), true},
		{"single submitted", ms(model.MilestoneSubmitted), false},
		{"all paid", ms(model.MilestonePaid, model.MilestonePaid, model.MilestonePaid), true},
		{"mixed", ms(model.MilestonePaid, model.MilestoneApproved, model.MilestoneNotSubmitted), false},
		{"one left", ms(model.MilestonePaid, model.MilestonePaid, model.MilestoneSubmitted), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveCompleted(tt.milestones))
		})
	}
}

func TestCheckCanAddMilestone(t *testing.T) {
	p := project()
	assert.NoError(t, CheckCanAddMilestone(p, nil))

	paid := []model.Milestone{{ID: 1, Status: model.MilestonePaid, Amount: units(1)}}
	err := CheckCanAddMilestone(p, paid)
	assert.True(t, errors.Is(err, apperr.ErrIllegalTransition))
}

func TestActionsRespectRole(t *testing.T) {
	assert.Equal(t, []model.Action{model.ActionSubmit}, MilestoneActions(model.RoleFreelancer, model.MilestoneNotSubmitted))
	assert.Empty(t, MilestoneActions(model.RoleClient, model.MilestoneNotSubmitted))
	assert.Equal(t, []model.Action{model.ActionApprove}, MilestoneActions(model.RoleClient, model.MilestoneSubmitted))
	assert.Empty(t, MilestoneActions(model.RoleFreelancer, model.MilestoneSubmitted))
	assert.Empty(t, MilestoneActions(model.RoleClient, model.MilestonePaid))

	assert.Equal(t, []model.Action{model.ActionCreateMilestone}, ProjectActions(model.RoleClient, false))
	assert.Empty(t, ProjectActions(model.RoleClient, true))
	assert.Empty(t, ProjectActions(model.RoleFreelancer, false))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Awaiting Review", MilestoneStatusText(model.MilestoneSubmitted))
	assert.Equal(t, "Not Submitted", MilestoneStatusText(model.MilestoneNotSubmitted))
	assert.Equal(t, "No Milestones", ProjectStatusText(false, 0))
	assert.Equal(t, "In Progress", ProjectStatusText(false, 2))
	assert.Equal(t, "Completed", ProjectStatusText(true, 2))
}

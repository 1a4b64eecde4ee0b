// Package lifecycle holds the milestone state machine and the escrow
// invariants. It performs no I/O and only ever returns ValidationError,
// Unauthorized or IllegalTransition.
package lifecycle

import (
	"math/big"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// 规则名称，出现在错误的 Rule 字段中
const (
	RulePositiveAmount   = "PositiveAmount"
	RuleEscrowCeiling    = "EscrowCeiling"
	RuleRoleExclusivity  = "RoleExclusivity"
	RuleRequiredField    = "RequiredField"
	RuleFundingMismatch  = "FundingMismatch"
	RuleOnlyClient       = "OnlyClient"
	RuleOnlyFreelancer   = "OnlyFreelancer"
	RuleNotSubmittable   = "NotSubmittable"
	RuleNotApprovable    = "NotApprovable"
	RuleProjectCompleted = "ProjectCompleted"
)

// RequiredRole 执行操作所需的角色
func RequiredRole(action model.Action) model.Role {
	if action == model.ActionSubmit {
		return model.RoleFreelancer
	}
	return model.RoleClient
}

// Authorize 校验调用方是否为操作要求的一方
func Authorize(p *model.Project, caller common.Address, action model.Action) error {
	role := RequiredRole(action)
	if p.PartyFor(role) == caller {
		return nil
	}
	if role == model.RoleClient {
		return apperr.Unauthorized(RuleOnlyClient, "only the project client can %s (project %s)", action, p.ID)
	}
	return apperr.Unauthorized(RuleOnlyFreelancer, "only the project freelancer can %s (project %s)", action, p.ID)
}

// Next 返回执行操作后的状态；批准与付款是同一个逻辑迁移
func Next(current model.MilestoneStatus, action model.Action) (model.MilestoneStatus, error) {
	switch action {
	case model.ActionSubmit:
		if current != model.MilestoneNotSubmitted {
			return current, apperr.IllegalTransition(RuleNotSubmittable, current.String(),
				"milestone can only be submitted from %s", model.MilestoneNotSubmitted)
		}
		return model.MilestoneSubmitted, nil
	case model.ActionApprove:
		if current != model.MilestoneSubmitted {
			return current, apperr.IllegalTransition(RuleNotApprovable, current.String(),
				"milestone can only be approved from %s", model.MilestoneSubmitted)
		}
		return model.MilestonePaid, nil
	default:
		return current, apperr.IllegalTransition("", current.String(), "%s is not a milestone transition", action)
	}
}

// Apply 在里程碑上执行迁移，失败时不修改里程碑
func Apply(m *model.Milestone, action model.Action, reference string) error {
	next, err := Next(m.Status, action)
	if err != nil {
		return err
	}
	m.Status = next
	if action == model.ActionSubmit {
		m.SubmissionHash = reference
	}
	return nil
}

// Total 金额合计
func Total(amounts []*big.Int) *big.Int {
	sum := new(big.Int)
	for _, a := range amounts {
		if a != nil {
			sum.Add(sum, a)
		}
	}
	return sum
}

// MilestoneTotal 里程碑金额合计
func MilestoneTotal(milestones []model.Milestone) *big.Int {
	amounts := make([]*big.Int, 0, len(milestones))
	for i := range milestones {
		amounts = append(amounts, milestones[i].Amount)
	}
	return Total(amounts)
}

// CheckAmount 金额必须大于 0
func CheckAmount(v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return apperr.Validation(RulePositiveAmount, "amount must be greater than 0")
	}
	return nil
}

// CheckCeiling 新增金额后里程碑合计不得超过项目总额
func CheckCeiling(totalAmount *big.Int, existing []*big.Int, add *big.Int) error {
	if err := CheckAmount(add); err != nil {
		return err
	}
	sum := Total(existing)
	sum.Add(sum, add)
	if sum.Cmp(totalAmount) > 0 {
		return apperr.Validation(RuleEscrowCeiling,
			"milestones would total %s base units against a project total of %s", sum, totalAmount)
	}
	return nil
}

// CheckCanAddMilestone 已完成的项目不能再增加里程碑
func CheckCanAddMilestone(p *model.Project, milestones []model.Milestone) error {
	if p.IsCompleted || DeriveCompleted(milestones) {
		return apperr.IllegalTransition(RuleProjectCompleted, "Completed",
			"project %s is completed, no milestone can be added", p.ID)
	}
	return nil
}

// DeriveCompleted 所有里程碑均已付款时项目完成；没有里程碑的项目未完成
func DeriveCompleted(milestones []model.Milestone) bool {
	if len(milestones) == 0 {
		return false
	}
	for i := range milestones {
		if milestones[i].Status != model.MilestonePaid {
			return false
		}
	}
	return true
}

// ExceedsCeiling 账本上观测到的里程碑合计是否超过总额（仅提示）
func ExceedsCeiling(p *model.Project, milestones []model.Milestone) bool {
	return MilestoneTotal(milestones).Cmp(p.TotalAmount) > 0
}

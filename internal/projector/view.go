package projector

import (
	"fmt"
	"math/big"

	"github.com/blues/escrow/internal/lifecycle"
	"github.com/blues/escrow/internal/model"
)

// assemble 组装项目视图：汇总、完成状态推导、角色可用操作
func (p *Projector) assemble(pr *model.Project, milestones []model.Milestone, degraded bool, role model.Role) model.ProjectView {
	total := lifecycle.MilestoneTotal(milestones)
	remaining := new(big.Int).Sub(pr.TotalAmount, total)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}

	view := model.ProjectView{
		Project:        *pr,
		Milestones:     make([]model.MilestoneView, 0, len(milestones)),
		MilestoneTotal: total,
		Remaining:      remaining,
		Degraded:       degraded,
	}

	// 有里程碑缺失时无法推导，沿用账本标记
	if degraded {
		view.Completed = pr.IsCompleted
	} else {
		view.Completed = lifecycle.DeriveCompleted(milestones)
		if view.Completed != pr.IsCompleted {
			view.Warnings = append(view.Warnings, fmt.Sprintf(
				"ledger completion flag (%t) disagrees with milestone states", pr.IsCompleted))
		}
	}

	if lifecycle.ExceedsCeiling(pr, milestones) {
		view.Warnings = append(view.Warnings, fmt.Sprintf(
			"milestones total %s exceeds the project total of %s", p.codec.Format(total), p.codec.Format(pr.TotalAmount)))
	}

	for _, m := range milestones {
		if m.Status == model.MilestoneApproved {
			view.Warnings = append(view.Warnings, fmt.Sprintf("milestone %s is approved but not yet paid", m.ID))
		}
		view.Milestones = append(view.Milestones, model.MilestoneView{
			Milestone:  m,
			StatusText: lifecycle.MilestoneStatusText(m.Status),
			Actions:    lifecycle.MilestoneActions(role, m.Status),
		})
	}

	view.StatusText = lifecycle.ProjectStatusText(view.Completed, len(milestones))
	view.Actions = lifecycle.ProjectActions(role, view.Completed)
	return view
}

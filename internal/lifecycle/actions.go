package lifecycle

import "github.com/blues/escrow/internal/model"

// MilestoneActions 角色在当前状态下可执行的里程碑操作
func MilestoneActions(role model.Role, status model.MilestoneStatus) []model.Action {
	switch {
	case role == model.RoleFreelancer && status == model.MilestoneNotSubmitted:
		return []model.Action{model.ActionSubmit}
	case role == model.RoleClient && status == model.MilestoneSubmitted:
		return []model.Action{model.ActionApprove}
	default:
		return nil
	}
}

// ProjectActions 角色可执行的项目级操作
func ProjectActions(role model.Role, completed bool) []model.Action {
	if role == model.RoleClient && !completed {
		return []model.Action{model.ActionCreateMilestone}
	}
	return nil
}

// MilestoneStatusText 里程碑状态展示文案
func MilestoneStatusText(status model.MilestoneStatus) string {
	switch status {
	case model.MilestonePaid:
		return "Paid"
	case model.MilestoneApproved:
		return "Approved"
	case model.MilestoneSubmitted:
		return "Awaiting Review"
	default:
		return "Not Submitted"
	}
}

// ProjectStatusText 项目状态展示文案
func ProjectStatusText(completed bool, milestoneCount int) string {
	if completed {
		return "Completed"
	}
	if milestoneCount == 0 {
		return "No Milestones"
	}
	return "In Progress"
}

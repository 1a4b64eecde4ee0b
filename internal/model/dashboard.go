package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Action 里程碑生命周期上的操作
type Action string

const (
	ActionCreateMilestone Action = "create_milestone" // 出资方新增里程碑
	ActionSubmit          Action = "submit"           // 执行方提交成果
	ActionApprove         Action = "approve"          // 出资方批准并付款
)

// MilestoneView 面向某个角色的里程碑视图
type MilestoneView struct {
	Milestone
	StatusText string   // Paid / Approved / Awaiting Review / Not Submitted
	Actions    []Action // 当前角色可执行的操作
}

// ProjectView 面向某个角色的项目视图
type ProjectView struct {
	Project
	Milestones     []MilestoneView
	MilestoneTotal *big.Int // 里程碑金额合计
	Remaining      *big.Int // 剩余未分配托管额，最小为 0
	Completed      bool     // 由里程碑状态推导
	StatusText     string   // Completed / No Milestones / In Progress
	Actions        []Action // 项目级操作
	Warnings       []string // 仅展示用的不一致提示
	Degraded       bool     // 有里程碑读取失败被排除
}

// Dashboard 某参与方在某角色下的项目投影
type Dashboard struct {
	Party       common.Address
	Role        Role
	Projects    []ProjectView
	GeneratedAt time.Time
}

// ProjectByID 在投影中查找项目
func (d *Dashboard) ProjectByID(id ProjectID) (*ProjectView, bool) {
	for i := range d.Projects {
		if d.Projects[i].ID == id {
			return &d.Projects[i], true
		}
	}
	return nil, false
}

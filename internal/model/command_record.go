package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CommandKind 写命令类型
type CommandKind string

const (
	CommandCreateProject    CommandKind = "create_project"
	CommandCreateMilestone  CommandKind = "create_milestone"
	CommandSubmitMilestone  CommandKind = "submit_milestone"
	CommandApproveMilestone CommandKind = "approve_milestone"
)

// CommandStatus 写命令结果
type CommandStatus string

const (
	CommandStatusRejected  CommandStatus = "rejected"  // 未发送或被账本拒绝
	CommandStatusPending   CommandStatus = "pending"   // 已发送，回执未知
	CommandStatusAccepted  CommandStatus = "accepted"  // 已上链，确认数不足
	CommandStatusConfirmed CommandStatus = "confirmed" // 已达到确认数
	CommandStatusReverted  CommandStatus = "reverted"  // 上链后执行失败
)

// CommandRecord 一次写命令的流水，不含实体状态
type CommandRecord struct {
	RequestID    string
	Command      CommandKind
	Party        common.Address // 发起方
	Client       common.Address // 项目出资方，确认后用于失效缓存
	Freelancer   common.Address // 项目执行方
	ProjectID    ProjectID
	MilestoneID  MilestoneID
	TxHash       common.Hash
	Status       CommandStatus
	ErrorKind    string
	ErrorMessage string
	BlockNumber  uint64
	CreatedAt    time.Time
}

// Parties 受影响的参与方
func (r *CommandRecord) Parties() []common.Address {
	var out []common.Address
	for _, a := range []common.Address{r.Client, r.Freelancer} {
		if a != (common.Address{}) {
			out = append(out, a)
		}
	}
	return out
}

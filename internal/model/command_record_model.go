package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CommandRecordModel 写命令流水表
type CommandRecordModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RequestID string        `json:"request_id" gorm:"type:varchar(36);uniqueIndex;not null"`
	Command   CommandKind   `json:"command" gorm:"type:varchar(32);not null"`
	Status    CommandStatus `json:"status" gorm:"type:varchar(16);index;not null"`

	// 参与方
	Party      string `json:"party" gorm:"type:varchar(42);index;not null"`
	Client     string `json:"client" gorm:"type:varchar(42)"`
	Freelancer string `json:"freelancer" gorm:"type:varchar(42)"`

	// 目标实体
	ProjectID   uint64 `json:"project_id"`
	MilestoneID uint64 `json:"milestone_id"`

	// 区块链信息
	TransactionHash string `json:"transaction_hash" gorm:"type:varchar(66);index"`
	BlockNumber     uint64 `json:"block_number"`

	// 失败原因
	ErrorKind    string `json:"error_kind" gorm:"type:varchar(32)"`
	ErrorMessage string `json:"error_message" gorm:"type:text"`
}

// TableName 自定义表名
func (CommandRecordModel) TableName() string {
	return "command_record"
}

// NewCommandRecordModel 由领域记录创建表记录
func NewCommandRecordModel(r *CommandRecord) *CommandRecordModel {
	m := &CommandRecordModel{
		CreatedAt:    r.CreatedAt,
		RequestID:    r.RequestID,
		Command:      r.Command,
		Status:       r.Status,
		Party:        r.Party.Hex(),
		Client:       r.Client.Hex(),
		Freelancer:   r.Freelancer.Hex(),
		ProjectID:    uint64(r.ProjectID),
		MilestoneID:  uint64(r.MilestoneID),
		BlockNumber:  r.BlockNumber,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
	}
	if r.TxHash != (common.Hash{}) {
		m.TransactionHash = r.TxHash.Hex()
	}
	return m
}

// ToRecord 转换为领域记录
func (m *CommandRecordModel) ToRecord() *CommandRecord {
	return &CommandRecord{
		RequestID:    m.RequestID,
		Command:      m.Command,
		Party:        common.HexToAddress(m.Party),
		Client:       common.HexToAddress(m.Client),
		Freelancer:   common.HexToAddress(m.Freelancer),
		ProjectID:    ProjectID(m.ProjectID),
		MilestoneID:  MilestoneID(m.MilestoneID),
		TxHash:       common.HexToHash(m.TransactionHash),
		Status:       m.Status,
		ErrorKind:    m.ErrorKind,
		ErrorMessage: m.ErrorMessage,
		BlockNumber:  m.BlockNumber,
		CreatedAt:    m.CreatedAt,
	}
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommandJournal 写命令流水仓储
type CommandJournal struct {
	db *gorm.DB
}

// NewCommandJournal 创建流水仓储
func NewCommandJournal(db *gorm.DB) *CommandJournal {
	return &CommandJournal{db: db}
}

// Record 写入流水；同一请求ID重复写入时更新结果
func (j *CommandJournal) Record(ctx context.Context, rec *model.CommandRecord) error {
	m := model.NewCommandRecordModel(rec)
	err := j.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "request_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "transaction_hash", "project_id", "milestone_id",
			"client", "freelancer", "error_kind", "error_message", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return fmt.Errorf("failed to record command %s: %w", rec.RequestID, err)
	}
	return nil
}

// Get 按请求ID查询流水
func (j *CommandJournal) Get(ctx context.Context, requestID string) (*model.CommandRecord, error) {
	var m model.CommandRecordModel
	err := j.db.WithContext(ctx).Where("request_id = ?", requestID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get command %s: %w", requestID, err)
	}
	return m.ToRecord(), nil
}

// ListAwaiting 查询已上链但未达到确认数、或结果未知的流水
func (j *CommandJournal) ListAwaiting(ctx context.Context, limit int) ([]*model.CommandRecord, error) {
	var rows []model.CommandRecordModel
	err := j.db.WithContext(ctx).
		Where("status IN ? AND transaction_hash <> ''",
			[]model.CommandStatus{model.CommandStatusPending, model.CommandStatusAccepted}).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list awaiting commands: %w", err)
	}

	out := make([]*model.CommandRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToRecord())
	}
	return out, nil
}

// UpdateStatus 回执确认后更新流水状态
func (j *CommandJournal) UpdateStatus(ctx context.Context, txHash common.Hash, status model.CommandStatus, blockNumber uint64) error {
	res := j.db.WithContext(ctx).Model(&model.CommandRecordModel{}).
		Where("transaction_hash = ?", txHash.Hex()).
		Updates(map[string]interface{}{
			"status":       status,
			"block_number": blockNumber,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update command %s: %w", txHash.Hex(), res.Error)
	}
	return nil
}

// ListByParty 查询参与方发起的流水，按时间倒序
func (j *CommandJournal) ListByParty(ctx context.Context, party common.Address, limit int) ([]*model.CommandRecord, error) {
	var rows []model.CommandRecordModel
	err := j.db.WithContext(ctx).
		Where("party = ?", party.Hex()).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list commands of %s: %w", party.Hex(), err)
	}

	out := make([]*model.CommandRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].ToRecord())
	}
	return out, nil
}

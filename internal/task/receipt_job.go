package task

import (
	"context"
	"time"

	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-co-op/gocron/v2"
)

// ReceiptJournal 回执任务依赖的流水操作
type ReceiptJournal interface {
	ListAwaiting(ctx context.Context, limit int) ([]*model.CommandRecord, error)
	UpdateStatus(ctx context.Context, txHash common.Hash, status model.CommandStatus, blockNumber uint64) error
}

// Invalidator 投影失效
type Invalidator interface {
	Invalidate(ctx context.Context, source string, parties ...common.Address)
}

// ReceiptJob 跟进已发送交易的回执与确认数
type ReceiptJob struct {
	journal       ReceiptJournal
	reader        chain.ReceiptReader
	invalidator   Invalidator
	confirmations uint64
	interval      time.Duration
	batchSize     int
}

// NewReceiptJob 创建回执确认任务
func NewReceiptJob(journal ReceiptJournal, reader chain.ReceiptReader, invalidator Invalidator, confirmations uint64, interval time.Duration) *ReceiptJob {
	if confirmations == 0 {
		confirmations = 1
	}
	return &ReceiptJob{
		journal:       journal,
		reader:        reader,
		invalidator:   invalidator,
		confirmations: confirmations,
		interval:      interval,
		batchSize:     100,
	}
}

// GetName 获取任务名称
func (j *ReceiptJob) GetName() string {
	return "command_receipt_confirmer"
}

// GetSchedule 获取调度配置
func (j *ReceiptJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *ReceiptJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.interval)
	defer cancel()
	j.Run(ctx)
}

// Run 处理一批待确认流水，返回状态变化的条数
func (j *ReceiptJob) Run(ctx context.Context) int {
	records, err := j.journal.ListAwaiting(ctx, j.batchSize)
	if err != nil {
		logger.Error("Failed to fetch awaiting commands: %v", err)
		return 0
	}

	changed := 0
	for _, rec := range records {
		status, receipt, err := chain.CheckConfirmation(ctx, j.reader, rec.TxHash, j.confirmations)
		if err != nil {
			logger.Warn("Failed to check receipt of %s: %v", rec.TxHash.Hex(), err)
			continue
		}

		next := rec.Status
		switch status {
		case chain.ReceiptConfirmed:
			next = model.CommandStatusConfirmed
		case chain.ReceiptReverted:
			next = model.CommandStatusReverted
		default:
			// 结果未知的交易已上链，但确认数不足
			if receipt != nil && rec.Status == model.CommandStatusPending {
				next = model.CommandStatusAccepted
			}
		}
		if next == rec.Status {
			continue
		}

		var block uint64
		if receipt != nil && receipt.BlockNumber != nil {
			block = receipt.BlockNumber.Uint64()
		}
		if err := j.journal.UpdateStatus(ctx, rec.TxHash, next, block); err != nil {
			logger.Error("Failed to update command %s: %v", rec.RequestID, err)
			continue
		}
		logger.Info("Command %s tx %s is now %s at block %d", rec.Command, rec.TxHash.Hex(), next, block)
		j.invalidator.Invalidate(ctx, "receipt", rec.Parties()...)
		changed++
	}
	return changed
}

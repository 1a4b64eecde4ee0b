package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilterer 区块与日志读取能力，ethclient.Client 和内存账本都实现它
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ReceiptReader 交易回执读取能力
type ReceiptReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// GetBatchBlockLogs 批量获取多个区块的日志
func GetBatchBlockLogs(ctx context.Context, client LogFilterer, contractAddresses []common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: contractAddresses,
	}

	return client.FilterLogs(ctx, query)
}

// ReceiptStatus 交易确认状态
type ReceiptStatus int

const (
	ReceiptPending   ReceiptStatus = iota // 未上链或确认数不足
	ReceiptConfirmed                      // 成功且达到确认数
	ReceiptReverted                       // 执行失败
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptConfirmed:
		return "confirmed"
	case ReceiptReverted:
		return "reverted"
	default:
		return "pending"
	}
}

// CheckConfirmation 查询交易是否达到确认数，未找到回执视为待确认
func CheckConfirmation(ctx context.Context, client ReceiptReader, txHash common.Hash, confirmations uint64) (ReceiptStatus, *types.Receipt, error) {
	receipt, err := client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return ReceiptPending, nil, nil
	}
	if err != nil {
		return ReceiptPending, nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return ReceiptReverted, receipt, nil
	}

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return ReceiptPending, receipt, err
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined || head-mined+1 < confirmations {
		return ReceiptPending, receipt, nil
	}
	return ReceiptConfirmed, receipt, nil
}

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/logger"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Contract 合约工具类
type Contract struct {
	address  common.Address      // 合约地址
	abi      abi.ABI             // 合约ABI
	name     string              // 合约名称
	blockNum int64               // 合约部署的区块号
	chainId  int64               // 链ID
	bound    *bind.BoundContract // 读写调用
}

// NewContract 创建合约实例，abi_path 为空时使用 fallbackABI
func NewContract(backend bind.ContractBackend, name string, contractCfg config.ContractConfig, chainId int64, fallbackABI string) (*Contract, error) {
	parsedABI, err := LoadABI(contractCfg.ABIPath, fallbackABI)
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(contractCfg.Address) {
		return nil, fmt.Errorf("invalid address %q for contract %s", contractCfg.Address, name)
	}
	contractAddr := common.HexToAddress(contractCfg.Address)

	return &Contract{
		address:  contractAddr,
		abi:      parsedABI,
		name:     name,
		blockNum: contractCfg.BlockNum,
		chainId:  chainId,
		bound:    bind.NewBoundContract(contractAddr, parsedABI, backend, backend, backend),
	}, nil
}

// LoadABI 加载ABI，支持完整编译输出或纯ABI数组
func LoadABI(path, fallback string) (abi.ABI, error) {
	if path == "" {
		parsed, err := abi.JSON(strings.NewReader(fallback))
		if err != nil {
			return abi.ABI{}, fmt.Errorf("failed to parse built-in ABI: %w", err)
		}
		return parsed, nil
	}

	abiData, err := os.ReadFile(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to load ABI from %s: %w", path, err)
	}

	// 首先尝试解析为完整编译输出
	var compiledOutput struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(abiData, &compiledOutput); err == nil && compiledOutput.ABI != nil {
		abiData = compiledOutput.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(abiData))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI from %s: %w", path, err)
	}
	return parsed, nil
}

// Call 只读调用
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Transact 发送交易
func (c *Contract) Transact(opts *bind.TransactOpts, method string, args ...interface{}) (*types.Transaction, error) {
	return c.bound.Transact(opts, method, args...)
}

// UnpackLog 按事件名解析日志到 map
func (c *Contract) UnpackLog(out map[string]interface{}, event string, log types.Log) error {
	return c.bound.UnpackLogIntoMap(out, event, log)
}

// FindEvent 在回执日志中查找本合约的指定事件
func (c *Contract) FindEvent(receipt *types.Receipt, event string) (map[string]interface{}, bool) {
	ev, ok := c.abi.Events[event]
	if !ok {
		return nil, false
	}
	for _, log := range receipt.Logs {
		if log.Address != c.address || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		out := make(map[string]interface{})
		if err := c.UnpackLog(out, event, *log); err != nil {
			logger.Warn("Failed to unpack %s in tx %s: %v", event, log.TxHash.Hex(), err)
			continue
		}
		return out, true
	}
	return nil, false
}

// ParseEvent 解析事件日志
func (c *Contract) ParseEvent(log types.Log) (map[string]interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log %s/%d has no topics", log.TxHash.Hex(), log.Index)
	}

	event, err := c.abi.EventByID(log.Topics[0])
	if err != nil {
		// 未知事件
		logger.Warn("Unknown event signature: %s in contract %s", log.Topics[0].Hex(), c.name)
		return map[string]interface{}{
			"eventName":   "Unknown",
			"signature":   log.Topics[0].Hex(),
			"contract":    c.name,
			"txHash":      log.TxHash.Hex(),
			"blockNumber": log.BlockNumber,
			"logIndex":    log.Index,
		}, nil
	}

	result := make(map[string]interface{})
	if err := c.UnpackLog(result, event.Name, log); err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", event.Name, err)
	}
	result["eventName"] = event.Name
	result["contract"] = c.name
	result["txHash"] = log.TxHash.Hex()
	result["blockNumber"] = log.BlockNumber
	result["logIndex"] = log.Index
	return result, nil
}

// GetAddress 获取合约地址
func (c *Contract) GetAddress() common.Address {
	return c.address
}

// GetABI 获取合约ABI
func (c *Contract) GetABI() abi.ABI {
	return c.abi
}

// GetName 获取合约名称
func (c *Contract) GetName() string {
	return c.name
}

// GetBlockNum 获取合约部署区块号
func (c *Contract) GetBlockNum() int64 {
	return c.blockNum
}

// GetChainId 获取链ID
func (c *Contract) GetChainId() int64 {
	return c.chainId
}

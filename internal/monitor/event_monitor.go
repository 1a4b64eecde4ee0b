package monitor

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/ledger"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/panjf2000/ants/v2"
)

// Invalidator 投影失效
type Invalidator interface {
	Invalidate(ctx context.Context, source string, parties ...common.Address)
}

// Options 监控参数
type Options struct {
	Interval  time.Duration
	BatchSize uint64 // 单次拉取的区块数
}

// EventMonitor 托管合约事件监控器，发现外部写入后失效相关参与方的投影
type EventMonitor struct {
	source          chain.LogFilterer
	contract        *chain.Contract
	gateway         ledger.Gateway
	invalidator     Invalidator
	pool            *ants.Pool
	opts            Options
	startBlockNum   uint64
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	retryCount      int           // 连续失败次数
	lastRetryTime   time.Time     // 上次失败时间
	backoffDuration time.Duration // 退避时间
	mu              sync.RWMutex  // 保护 startBlockNum 的并发访问
}

// NewEventMonitor 创建事件监控器
func NewEventMonitor(source chain.LogFilterer, contract *chain.Contract, gateway ledger.Gateway,
	invalidator Invalidator, pool *ants.Pool, opts Options) *EventMonitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventMonitor{
		source:      source,
		contract:    contract,
		gateway:     gateway,
		invalidator: invalidator,
		pool:        pool,
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Start 启动监控，从合约部署区块与当前区块中较大者开始
func (m *EventMonitor) Start() error {
	logger.Info("Starting escrow event monitor for %s", m.contract.GetAddress().Hex())

	head, err := m.source.BlockNumber(m.ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to blockchain: %w", err)
	}
	logger.Info("Connected to blockchain, current block: %d", head)

	start := head + 1
	if deployed := m.contract.GetBlockNum(); deployed > 0 && uint64(deployed) < start {
		start = uint64(deployed)
	}
	m.updateStartBlockNum(start)
	logger.Info("Starting monitor from block %d", start)

	go m.loop()
	return nil
}

// Stop 停止监控
func (m *EventMonitor) Stop() {
	logger.Info("Stopping escrow event monitor")
	m.cancel()
	<-m.done
}

// loop 监控循环
func (m *EventMonitor) loop() {
	defer close(m.done)
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			logger.Info("Monitor stopped")
			return
		case <-ticker.C:
			if m.retryCount > 0 && time.Since(m.lastRetryTime) < m.backoffDuration {
				continue
			}
			if _, err := m.Poll(m.ctx); err != nil {
				m.handleError(err)
				continue
			}
			m.retryCount = 0
		}
	}
}

// Poll 处理从起始区块到当前区块的全部日志，返回失效的参与方数量
func (m *EventMonitor) Poll(ctx context.Context) (int, error) {
	head, err := m.source.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current block number: %w", err)
	}

	invalidated := 0
	for from := m.getStartBlockNum(); from <= head; from += m.opts.BatchSize {
		to := from + m.opts.BatchSize - 1
		if to > head {
			to = head
		}
		n, err := m.processBatchBlocks(ctx, from, to)
		if err != nil {
			return invalidated, err
		}
		invalidated += n
		m.updateStartBlockNum(to + 1)
	}
	return invalidated, nil
}

// processBatchBlocks 批量处理区块
func (m *EventMonitor) processBatchBlocks(ctx context.Context, fromBlock, toBlock uint64) (int, error) {
	logs, err := chain.GetBatchBlockLogs(ctx, m.source, []common.Address{m.contract.GetAddress()}, fromBlock, toBlock)
	if err != nil {
		return 0, fmt.Errorf("error getting logs for blocks %d-%d: %w", fromBlock, toBlock, err)
	}
	if len(logs) == 0 {
		logger.Debug("No logs found for blocks %d-%d", fromBlock, toBlock)
		return 0, nil
	}
	logger.Debug("Found %d logs for blocks %d-%d", len(logs), fromBlock, toBlock)

	parties, projects, milestones := m.collect(logs)

	// 里程碑事件只带 ID，需要回查所属项目
	for id := range milestones {
		mst, err := m.gateway.GetMilestone(ctx, id)
		if err != nil {
			logger.Warn("Failed to resolve milestone %s from event: %v", id, err)
			continue
		}
		projects[mst.ProjectID] = struct{}{}
	}

	for _, p := range m.resolveProjects(ctx, projects) {
		parties[p.Client] = struct{}{}
		parties[p.Freelancer] = struct{}{}
	}

	list := make([]common.Address, 0, len(parties))
	for a := range parties {
		list = append(list, a)
	}
	if len(list) > 0 {
		m.invalidator.Invalidate(ctx, "monitor", list...)
	}
	return len(list), nil
}

// collect 从日志中提取参与方、项目与里程碑
func (m *EventMonitor) collect(logs []types.Log) (map[common.Address]struct{}, map[model.ProjectID]struct{}, map[model.MilestoneID]struct{}) {
	parties := make(map[common.Address]struct{})
	projects := make(map[model.ProjectID]struct{})
	milestones := make(map[model.MilestoneID]struct{})

	for _, log := range logs {
		data, err := m.contract.ParseEvent(log)
		if err != nil {
			logger.Error("Error parsing event in tx %s: %v", log.TxHash.Hex(), err)
			continue
		}

		switch data["eventName"] {
		case ledger.EventProjectCreated:
			for _, k := range []string{"client", "freelancer"} {
				if a, ok := data[k].(common.Address); ok {
					parties[a] = struct{}{}
				}
			}
		case ledger.EventMilestoneCreated, ledger.EventMilestoneSubmitted, ledger.EventMilestoneApproved:
			if id, ok := data["projectId"].(*big.Int); ok {
				projects[model.ProjectID(id.Uint64())] = struct{}{}
			}
		case ledger.EventPaymentReleased:
			if id, ok := data["milestoneId"].(*big.Int); ok {
				milestones[model.MilestoneID(id.Uint64())] = struct{}{}
			}
			if a, ok := data["freelancer"].(common.Address); ok {
				parties[a] = struct{}{}
			}
		default:
			logger.Debug("Ignoring event %v in tx %s", data["eventName"], log.TxHash.Hex())
		}
	}
	return parties, projects, milestones
}

// resolveProjects 并发读取项目以获得双方地址
func (m *EventMonitor) resolveProjects(ctx context.Context, ids map[model.ProjectID]struct{}) []*model.Project {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []*model.Project
	)
	for id := range ids {
		wg.Add(1)
		err := m.pool.Submit(func() {
			defer wg.Done()
			p, err := m.gateway.GetProject(ctx, id)
			if err != nil {
				logger.Warn("Failed to resolve project %s from event: %v", id, err)
				return
			}
			mu.Lock()
			out = append(out, p)
			mu.Unlock()
		})
		if err != nil {
			wg.Done()
			logger.Error("Failed to submit task to pool: %v", err)
		}
	}
	wg.Wait()
	return out
}

// getStartBlockNum 获取起始区块号
func (m *EventMonitor) getStartBlockNum() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startBlockNum
}

// updateStartBlockNum 更新起始区块号
func (m *EventMonitor) updateStartBlockNum(blockNum uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startBlockNum = blockNum
}

// handleError 处理错误
func (m *EventMonitor) handleError(err error) {
	m.retryCount++
	m.lastRetryTime = time.Now()

	// 指数退避
	if m.retryCount > 5 || isAPIRateLimitError(err) {
		m.backoffDuration = time.Minute * 5 // 最大退避时间5分钟
	} else {
		m.backoffDuration = time.Duration(m.retryCount) * time.Second * 10
	}

	logger.Error("Monitor encountered error (retry %d): %v", m.retryCount, err)
}

// GetStatus 获取监控状态
func (m *EventMonitor) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"contract":    m.contract.GetAddress().Hex(),
		"start_block": m.getStartBlockNum(),
		"pool_status": map[string]interface{}{
			"running": m.pool.Running(),
			"free":    m.pool.Free(),
			"cap":     m.pool.Cap(),
		},
	}
}

// isAPIRateLimitError 检查是否为API限制错误
func isAPIRateLimitError(err error) bool {
	return strings.Contains(err.Error(), "Too Many Requests")
}

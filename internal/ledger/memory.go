package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 读操作名，传给 ReadHook
const (
	OpListProjects   = "listProjects"
	OpGetProject     = "getProject"
	OpListMilestones = "listMilestones"
	OpGetMilestone   = "getMilestone"
	OpGetSubmission  = "getSubmission"
)

// MemoryContractAddress 内存账本对外暴露的合约地址
var MemoryContractAddress = common.HexToAddress("0x00000000000000000000000000000000000e5c80")

// ReadHook 每次读调用前执行，返回错误则该次读失败
type ReadHook func(ctx context.Context, op string, id uint64) error

// revertError 模拟节点返回的合约拒绝
type revertError string

func (e revertError) Error() string {
	return "execution reverted: " + string(e)
}

func reject(reason string) error {
	return Classify(revertError(reason))
}

// MemoryLedger 进程内账本，执行与托管合约相同的规则
type MemoryLedger struct {
	mu                sync.RWMutex
	abi               abi.ABI
	projects          map[model.ProjectID]*model.Project
	projectMilestones map[model.ProjectID][]model.MilestoneID
	milestones        map[model.MilestoneID]*model.Milestone
	userProjects      map[common.Address][]model.ProjectID
	escrowed          *big.Int
	lastProject       uint64
	lastMilestone     uint64
	block             uint64
	nonce             uint64
	receipts          map[common.Hash]*types.Receipt
	logs              []types.Log
	hook              ReadHook
	now               func() time.Time
}

// NewMemoryLedger 创建空账本
func NewMemoryLedger() *MemoryLedger {
	parsed, err := abi.JSON(strings.NewReader(EscrowABI))
	if err != nil {
		panic(fmt.Sprintf("built-in escrow ABI: %v", err))
	}
	return &MemoryLedger{
		abi:               parsed,
		projects:          make(map[model.ProjectID]*model.Project),
		projectMilestones: make(map[model.ProjectID][]model.MilestoneID),
		milestones:        make(map[model.MilestoneID]*model.Milestone),
		userProjects:      make(map[common.Address][]model.ProjectID),
		escrowed:          new(big.Int),
		receipts:          make(map[common.Hash]*types.Receipt),
		now:               time.Now,
	}
}

// SetReadHook 设置读调用钩子，传 nil 清除
func (l *MemoryLedger) SetReadHook(hook ReadHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// Escrowed 合约当前托管余额
func (l *MemoryLedger) Escrowed() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.escrowed)
}

// Mine 产生 n 个空块
func (l *MemoryLedger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block += n
}

func (l *MemoryLedger) before(ctx context.Context, op string, id uint64) error {
	if err := ctx.Err(); err != nil {
		return Classify(err)
	}
	l.mu.RLock()
	hook := l.hook
	l.mu.RUnlock()
	if hook == nil {
		return nil
	}
	if err := hook(ctx, op, id); err != nil {
		return Classify(err)
	}
	return nil
}

func (l *MemoryLedger) ListProjectsForParty(ctx context.Context, party common.Address) ([]model.ProjectID, error) {
	if err := l.before(ctx, OpListProjects, 0); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]model.ProjectID(nil), l.userProjects[party]...), nil
}

func (l *MemoryLedger) GetProject(ctx context.Context, id model.ProjectID) (*model.Project, error) {
	if err := l.before(ctx, OpGetProject, uint64(id)); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.projects[id]
	if !ok {
		return nil, reject("project does not exist")
	}
	cp := *p
	cp.TotalAmount = new(big.Int).Set(p.TotalAmount)
	return &cp, nil
}

func (l *MemoryLedger) ListMilestonesForProject(ctx context.Context, id model.ProjectID) ([]model.MilestoneID, error) {
	if err := l.before(ctx, OpListMilestones, uint64(id)); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.projects[id]; !ok {
		return nil, reject("project does not exist")
	}
	return append([]model.MilestoneID(nil), l.projectMilestones[id]...), nil
}

func (l *MemoryLedger) GetMilestone(ctx context.Context, id model.MilestoneID) (*model.Milestone, error) {
	if err := l.before(ctx, OpGetMilestone, uint64(id)); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.milestones[id]
	if !ok {
		return nil, reject("milestone does not exist")
	}
	cp := *m
	cp.Amount = new(big.Int).Set(m.Amount)
	// 与合约一致，里程碑记录本身不带提交引用
	cp.SubmissionHash = ""
	return &cp, nil
}

func (l *MemoryLedger) GetSubmissionReference(ctx context.Context, id model.MilestoneID) (string, error) {
	if err := l.before(ctx, OpGetSubmission, uint64(id)); err != nil {
		return "", err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	m, ok := l.milestones[id]
	if !ok {
		return "", reject("milestone does not exist")
	}
	if !m.Status.AtLeast(model.MilestoneSubmitted) {
		return "", reject("not submitted")
	}
	return m.SubmissionHash, nil
}

func (l *MemoryLedger) SubmitCreateProject(ctx context.Context, identity wallet.Identity, freelancer common.Address, totalAmount *big.Int, title string, funding *big.Int) (model.ProjectID, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Hash{}, Classify(err)
	}
	sender := identity.Address()

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case freelancer == (common.Address{}):
		return 0, common.Hash{}, reject("invalid freelancer address")
	case freelancer == sender:
		return 0, common.Hash{}, reject("freelancer cannot be client")
	case strings.TrimSpace(title) == "":
		return 0, common.Hash{}, reject("title is required")
	case totalAmount == nil || totalAmount.Sign() <= 0:
		return 0, common.Hash{}, reject("amount must be greater than 0")
	case funding == nil || funding.Cmp(totalAmount) != 0:
		return 0, common.Hash{}, reject("incorrect payment amount")
	}

	l.lastProject++
	id := model.ProjectID(l.lastProject)
	l.projects[id] = &model.Project{
		ID:          id,
		Client:      sender,
		Freelancer:  freelancer,
		Title:       title,
		TotalAmount: new(big.Int).Set(totalAmount),
		CreatedAt:   l.now().UTC().Truncate(time.Second),
	}
	l.userProjects[sender] = append(l.userProjects[sender], id)
	l.userProjects[freelancer] = append(l.userProjects[freelancer], id)
	l.escrowed.Add(l.escrowed, funding)

	hash := l.commit(methodCreateProject,
		l.event(EventProjectCreated, []common.Hash{idTopic(uint64(id)), addrTopic(sender), addrTopic(freelancer)}, totalAmount))
	return id, hash, nil
}

func (l *MemoryLedger) SubmitCreateMilestone(ctx context.Context, identity wallet.Identity, projectID model.ProjectID, description string, amount *big.Int) (model.MilestoneID, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return 0, common.Hash{}, Classify(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.projects[projectID]
	if !ok {
		return 0, common.Hash{}, reject("project does not exist")
	}
	if p.Client != identity.Address() {
		return 0, common.Hash{}, reject("only client")
	}
	if p.IsCompleted {
		return 0, common.Hash{}, reject("project completed")
	}
	if strings.TrimSpace(description) == "" {
		return 0, common.Hash{}, reject("description is required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, common.Hash{}, reject("amount must be greater than 0")
	}
	sum := new(big.Int).Set(amount)
	for _, mid := range l.projectMilestones[projectID] {
		sum.Add(sum, l.milestones[mid].Amount)
	}
	if sum.Cmp(p.TotalAmount) > 0 {
		return 0, common.Hash{}, reject("exceeds total amount")
	}

	l.lastMilestone++
	id := model.MilestoneID(l.lastMilestone)
	l.milestones[id] = &model.Milestone{
		ID:          id,
		ProjectID:   projectID,
		Description: description,
		Amount:      new(big.Int).Set(amount),
		Status:      model.MilestoneNotSubmitted,
	}
	l.projectMilestones[projectID] = append(l.projectMilestones[projectID], id)

	hash := l.commit(methodCreateMilestone,
		l.event(EventMilestoneCreated, []common.Hash{idTopic(uint64(id)), idTopic(uint64(projectID))}, amount))
	return id, hash, nil
}

func (l *MemoryLedger) SubmitSubmitMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID, reference string) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, Classify(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.milestones[milestoneID]
	if !ok {
		return common.Hash{}, reject("milestone does not exist")
	}
	p := l.projects[m.ProjectID]
	if p.Freelancer != identity.Address() {
		return common.Hash{}, reject("only freelancer")
	}
	if m.Status != model.MilestoneNotSubmitted {
		return common.Hash{}, reject("already submitted")
	}

	m.Status = model.MilestoneSubmitted
	m.SubmissionHash = reference

	return l.commit(methodSubmitMilestone,
		l.event(EventMilestoneSubmitted, []common.Hash{idTopic(uint64(m.ID)), idTopic(uint64(p.ID))})), nil
}

func (l *MemoryLedger) SubmitApproveMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, Classify(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.milestones[milestoneID]
	if !ok {
		return common.Hash{}, reject("milestone does not exist")
	}
	p := l.projects[m.ProjectID]
	if p.Client != identity.Address() {
		return common.Hash{}, reject("only client")
	}
	switch m.Status {
	case model.MilestoneNotSubmitted:
		return common.Hash{}, reject("not submitted")
	case model.MilestoneApproved:
		return common.Hash{}, reject("already approved")
	case model.MilestonePaid:
		return common.Hash{}, reject("already paid")
	}

	// 批准与付款在同一笔交易内完成
	m.Status = model.MilestonePaid
	l.escrowed.Sub(l.escrowed, m.Amount)
	p.IsCompleted = l.allPaid(p.ID)

	return l.commit(methodApproveMilestone,
		l.event(EventMilestoneApproved, []common.Hash{idTopic(uint64(m.ID)), idTopic(uint64(p.ID))}),
		l.event(EventPaymentReleased, []common.Hash{idTopic(uint64(m.ID)), addrTopic(p.Freelancer)}, m.Amount),
	), nil
}

func (l *MemoryLedger) allPaid(id model.ProjectID) bool {
	ids := l.projectMilestones[id]
	if len(ids) == 0 {
		return false
	}
	for _, mid := range ids {
		if l.milestones[mid].Status != model.MilestonePaid {
			return false
		}
	}
	return true
}

// BlockNumber 当前块高
func (l *MemoryLedger) BlockNumber(ctx context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.block, nil
}

// GetHealthStatus 健康状态，字段与链管理器一致
func (l *MemoryLedger) GetHealthStatus(ctx context.Context) map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return map[string]interface{}{
		"chain_type":    "memory",
		"client_status": "connected",
		"head_block":    l.block,
		"projects":      len(l.projects),
		"escrowed":      l.escrowed.String(),
	}
}

// TransactionReceipt 查询交易回执
func (l *MemoryLedger) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// FilterLogs 按块范围与地址过滤事件日志
func (l *MemoryLedger) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.Log
	for _, log := range l.logs {
		if q.FromBlock != nil && log.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && log.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, log.Address) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func containsAddress(list []common.Address, addr common.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

type pendingLog struct {
	topics []common.Hash
	data   []byte
}

// event 按内置 ABI 编码事件
func (l *MemoryLedger) event(name string, topics []common.Hash, data ...interface{}) pendingLog {
	ev := l.abi.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("pack %s: %v", name, err))
	}
	return pendingLog{topics: append([]common.Hash{ev.ID}, topics...), data: packed}
}

// commit 出块并生成回执，调用方持有写锁
func (l *MemoryLedger) commit(method string, events ...pendingLog) common.Hash {
	l.block++
	l.nonce++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s/%d/%d", method, l.block, l.nonce)))

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(l.block),
	}
	base := len(l.logs)
	for i, ev := range events {
		log := types.Log{
			Address:     MemoryContractAddress,
			Topics:      ev.topics,
			Data:        ev.data,
			BlockNumber: l.block,
			TxHash:      hash,
			Index:       uint(base + i),
		}
		l.logs = append(l.logs, log)
		receipt.Logs = append(receipt.Logs, &log)
	}
	l.receipts[hash] = receipt
	return hash
}

func idTopic(id uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(id))
}

func addrTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EthGatewayConfig 合约网关参数
type EthGatewayConfig struct {
	CallTimeout time.Duration // 单次读调用超时
	TxTimeout   time.Duration // 等待交易上链超时
	ReadRetries uint64        // 读调用在网关不可用时的重试次数
}

// EthGateway 基于 go-ethereum 的托管合约网关
type EthGateway struct {
	contract *chain.Contract
	backend  bind.DeployBackend
	cfg      EthGatewayConfig
}

// NewEthGateway 创建合约网关
func NewEthGateway(contract *chain.Contract, backend bind.DeployBackend, cfg EthGatewayConfig) *EthGateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 2 * time.Minute
	}
	return &EthGateway{contract: contract, backend: backend, cfg: cfg}
}

// call 只读调用，仅在网关不可用时按指数退避重试
func (g *EthGateway) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	op := func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()

		res, err := g.contract.Call(callCtx, method, args...)
		if err != nil {
			classified := Classify(err)
			if errors.Is(classified, apperr.ErrGatewayUnavailable) && ctx.Err() == nil {
				logger.Warn("Ledger read %s failed, retrying: %v", method, err)
				return classified
			}
			return backoff.Permanent(classified)
		}
		out = res
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.cfg.ReadRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

func (g *EthGateway) ListProjectsForParty(ctx context.Context, party common.Address) ([]model.ProjectID, error) {
	out, err := g.call(ctx, methodGetUserProjects, party)
	if err != nil {
		return nil, err
	}
	ids, err := decodeIDs(out)
	if err != nil {
		return nil, err
	}
	res := make([]model.ProjectID, len(ids))
	for i, id := range ids {
		res[i] = model.ProjectID(id)
	}
	return res, nil
}

func (g *EthGateway) GetProject(ctx context.Context, id model.ProjectID) (*model.Project, error) {
	out, err := g.call(ctx, methodGetProject, new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, err
	}
	return decodeProject(id, out)
}

func (g *EthGateway) ListMilestonesForProject(ctx context.Context, id model.ProjectID) ([]model.MilestoneID, error) {
	out, err := g.call(ctx, methodGetProjectMilestones, new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, err
	}
	ids, err := decodeIDs(out)
	if err != nil {
		return nil, err
	}
	res := make([]model.MilestoneID, len(ids))
	for i, mid := range ids {
		res[i] = model.MilestoneID(mid)
	}
	return res, nil
}

func (g *EthGateway) GetMilestone(ctx context.Context, id model.MilestoneID) (*model.Milestone, error) {
	out, err := g.call(ctx, methodGetMilestone, new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return nil, err
	}
	return decodeMilestone(id, out)
}

func (g *EthGateway) GetSubmissionReference(ctx context.Context, id model.MilestoneID) (string, error) {
	out, err := g.call(ctx, methodMilestoneSubmissions, new(big.Int).SetUint64(uint64(id)))
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", malformed(methodMilestoneSubmissions, out)
	}
	ref, ok := out[0].(string)
	if !ok {
		return "", malformed(methodMilestoneSubmissions, out)
	}
	return ref, nil
}

func (g *EthGateway) SubmitCreateProject(ctx context.Context, identity wallet.Identity, freelancer common.Address, totalAmount *big.Int, title string, funding *big.Int) (model.ProjectID, common.Hash, error) {
	receipt, hash, err := g.transact(ctx, identity, funding, methodCreateProject, freelancer, totalAmount, title)
	if err != nil {
		return 0, hash, err
	}

	id, err := createdID(g.contract, receipt, hash, EventProjectCreated, "projectId")
	return model.ProjectID(id), hash, err
}

func (g *EthGateway) SubmitCreateMilestone(ctx context.Context, identity wallet.Identity, projectID model.ProjectID, description string, amount *big.Int) (model.MilestoneID, common.Hash, error) {
	receipt, hash, err := g.transact(ctx, identity, nil, methodCreateMilestone,
		new(big.Int).SetUint64(uint64(projectID)), description, amount)
	if err != nil {
		return 0, hash, err
	}

	id, err := createdID(g.contract, receipt, hash, EventMilestoneCreated, "milestoneId")
	return model.MilestoneID(id), hash, err
}

// createdID 从回执的创建事件中取新 ID；事件缺失时结果未知，交由回执任务跟进
func createdID(contract *chain.Contract, receipt *types.Receipt, hash common.Hash, event, field string) (uint64, error) {
	if ev, ok := contract.FindEvent(receipt, event); ok {
		if id, ok := ev[field].(*big.Int); ok {
			return id.Uint64(), nil
		}
	}
	return 0, apperr.Unavailable(nil, "%s event missing from receipt of %s", event, hash.Hex())
}

func (g *EthGateway) SubmitSubmitMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID, reference string) (common.Hash, error) {
	_, hash, err := g.transact(ctx, identity, nil, methodSubmitMilestone,
		new(big.Int).SetUint64(uint64(milestoneID)), reference)
	return hash, err
}

func (g *EthGateway) SubmitApproveMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID) (common.Hash, error) {
	_, hash, err := g.transact(ctx, identity, nil, methodApproveMilestone,
		new(big.Int).SetUint64(uint64(milestoneID)))
	return hash, err
}

// transact 签名发送并等待上链；失败不重试，已发送的交易返回其哈希
func (g *EthGateway) transact(ctx context.Context, identity wallet.Identity, value *big.Int, method string, args ...interface{}) (*types.Receipt, common.Hash, error) {
	opts, err := identity.TransactOpts(ctx)
	if err != nil {
		return nil, common.Hash{}, apperr.Unauthorized(wallet.RuleNoIdentity, "identity %s cannot sign: %v", identity.Address().Hex(), err)
	}
	opts.Value = value

	// 估算 gas 时合约会执行一遍，拒绝原因在此返回
	tx, err := g.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, common.Hash{}, Classify(err)
	}
	hash := tx.Hash()
	logger.Info("Submitted %s tx %s from %s", method, hash.Hex(), identity.Address().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, g.cfg.TxTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		return nil, hash, apperr.Unavailable(err, "transaction %s was sent but not mined in time", hash.Hex())
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return receipt, hash, apperr.IllegalTransition(apperr.RuleUnknown, "", "transaction %s reverted on chain", hash.Hex())
	}
	return receipt, hash, nil
}

func malformed(method string, out []interface{}) error {
	return apperr.Unavailable(fmt.Errorf("unexpected %s output: %v", method, out), "malformed ledger response")
}

func decodeIDs(out []interface{}) ([]uint64, error) {
	if len(out) != 1 {
		return nil, malformed("id list", out)
	}
	raw, ok := abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int)
	if !ok {
		return nil, malformed("id list", out)
	}
	ids := make([]uint64, 0, len(*raw))
	seen := make(map[uint64]struct{}, len(*raw))
	for _, v := range *raw {
		id := v.Uint64()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeProject(id model.ProjectID, out []interface{}) (*model.Project, error) {
	if len(out) != 7 {
		return nil, malformed(methodGetProject, out)
	}
	pid, ok1 := out[0].(*big.Int)
	client, ok2 := out[1].(common.Address)
	freelancer, ok3 := out[2].(common.Address)
	total, ok4 := out[3].(*big.Int)
	title, ok5 := out[4].(string)
	completed, ok6 := out[5].(bool)
	createdAt, ok7 := out[6].(*big.Int)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, malformed(methodGetProject, out)
	}
	// 不存在的项目返回零值记录
	if client == (common.Address{}) {
		return nil, apperr.NotFound("project %s does not exist", id)
	}
	return &model.Project{
		ID:          model.ProjectID(pid.Uint64()),
		Client:      client,
		Freelancer:  freelancer,
		Title:       title,
		TotalAmount: total,
		IsCompleted: completed,
		CreatedAt:   time.Unix(createdAt.Int64(), 0).UTC(),
	}, nil
}

func decodeMilestone(id model.MilestoneID, out []interface{}) (*model.Milestone, error) {
	if len(out) != 7 {
		return nil, malformed(methodGetMilestone, out)
	}
	mid, ok1 := out[0].(*big.Int)
	projectID, ok2 := out[1].(*big.Int)
	description, ok3 := out[2].(string)
	amount, ok4 := out[3].(*big.Int)
	submitted, ok5 := out[4].(bool)
	approved, ok6 := out[5].(bool)
	paid, ok7 := out[6].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return nil, malformed(methodGetMilestone, out)
	}
	// 不存在的里程碑返回零值记录
	if amount.Sign() == 0 && description == "" {
		return nil, apperr.NotFound("milestone %s does not exist", id)
	}
	return &model.Milestone{
		ID:          model.MilestoneID(mid.Uint64()),
		ProjectID:   model.ProjectID(projectID.Uint64()),
		Description: description,
		Amount:      amount,
		Status:      model.StatusFromFlags(submitted, approved, paid),
	}, nil
}

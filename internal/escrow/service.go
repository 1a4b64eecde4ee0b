// Package escrow validates and issues the state-changing escrow commands.
// Every command validates against fresh ledger reads, never the projection
// cache. Ledger rejections are returned classified and are not retried.
package escrow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/ledger"
	"github.com/blues/escrow/internal/lifecycle"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/metrics"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Invalidator 写入成功后失效投影
type Invalidator interface {
	Invalidate(ctx context.Context, source string, parties ...common.Address)
}

// Journal 写命令流水
type Journal interface {
	Record(ctx context.Context, rec *model.CommandRecord) error
}

// Result 命令结果
type Result struct {
	ProjectID   model.ProjectID   `json:"project_id,omitempty"`
	MilestoneID model.MilestoneID `json:"milestone_id,omitempty"`
	TxHash      common.Hash       `json:"tx_hash"`
}

// Service 托管命令服务
type Service struct {
	gateway     ledger.Gateway
	invalidator Invalidator
	journal     Journal
	readLimit   int
	now         func() time.Time
}

// NewService 创建命令服务；journal 可为 nil
func NewService(gateway ledger.Gateway, invalidator Invalidator, journal Journal) *Service {
	return &Service{
		gateway:     gateway,
		invalidator: invalidator,
		journal:     journal,
		readLimit:   16,
		now:         time.Now,
	}
}

// CreateProject 出资方创建项目并注资 totalAmount
func (s *Service) CreateProject(ctx context.Context, identity wallet.Identity, freelancer common.Address, totalAmount *big.Int, title string) (*Result, error) {
	caller := identity.Address()
	rec := s.newRecord(ctx, model.CommandCreateProject, caller)
	rec.Client, rec.Freelancer = caller, freelancer

	return s.execute(ctx, rec, func() (*Result, error) {
		switch {
		case freelancer == (common.Address{}):
			return nil, apperr.Validation(lifecycle.RuleRequiredField, "freelancer address is required")
		case freelancer == caller:
			return nil, apperr.Validation(lifecycle.RuleRoleExclusivity, "client and freelancer must be different parties")
		case strings.TrimSpace(title) == "":
			return nil, apperr.Validation(lifecycle.RuleRequiredField, "title is required")
		}
		if err := lifecycle.CheckAmount(totalAmount); err != nil {
			return nil, err
		}

		id, hash, err := s.gateway.SubmitCreateProject(ctx, identity, freelancer, totalAmount, title, totalAmount)
		rec.ProjectID, rec.TxHash = id, hash
		if err != nil {
			return nil, err
		}
		logger.Info("Project %s created by %s for freelancer %s in tx %s", id, caller.Hex(), freelancer.Hex(), hash.Hex())
		return &Result{ProjectID: id, TxHash: hash}, nil
	})
}

// CreateMilestone 出资方为项目新增里程碑
func (s *Service) CreateMilestone(ctx context.Context, identity wallet.Identity, projectID model.ProjectID, description string, amount *big.Int) (*Result, error) {
	rec := s.newRecord(ctx, model.CommandCreateMilestone, identity.Address())
	rec.ProjectID = projectID

	return s.execute(ctx, rec, func() (*Result, error) {
		if strings.TrimSpace(description) == "" {
			return nil, apperr.Validation(lifecycle.RuleRequiredField, "description is required")
		}
		if err := lifecycle.CheckAmount(amount); err != nil {
			return nil, err
		}

		p, err := s.gateway.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		rec.Client, rec.Freelancer = p.Client, p.Freelancer

		if err := lifecycle.Authorize(p, identity.Address(), model.ActionCreateMilestone); err != nil {
			return nil, err
		}
		milestones, err := s.freshMilestones(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if err := lifecycle.CheckCanAddMilestone(p, milestones); err != nil {
			return nil, err
		}
		existing := make([]*big.Int, len(milestones))
		for i := range milestones {
			existing[i] = milestones[i].Amount
		}
		if err := lifecycle.CheckCeiling(p.TotalAmount, existing, amount); err != nil {
			return nil, err
		}

		id, hash, err := s.gateway.SubmitCreateMilestone(ctx, identity, projectID, description, amount)
		rec.MilestoneID, rec.TxHash = id, hash
		if err != nil {
			return nil, withState(err, "")
		}
		logger.Info("Milestone %s added to project %s in tx %s", id, projectID, hash.Hex())
		return &Result{ProjectID: projectID, MilestoneID: id, TxHash: hash}, nil
	})
}

// SubmitMilestone 执行方提交里程碑成果
func (s *Service) SubmitMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID, reference string) (*Result, error) {
	return s.transition(ctx, identity, model.CommandSubmitMilestone, model.ActionSubmit, milestoneID,
		func(ctx context.Context) (common.Hash, error) {
			return s.gateway.SubmitSubmitMilestone(ctx, identity, milestoneID, strings.TrimSpace(reference))
		})
}

// ApproveMilestone 出资方批准里程碑并放款
func (s *Service) ApproveMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID) (*Result, error) {
	return s.transition(ctx, identity, model.CommandApproveMilestone, model.ActionApprove, milestoneID,
		func(ctx context.Context) (common.Hash, error) {
			return s.gateway.SubmitApproveMilestone(ctx, identity, milestoneID)
		})
}

// transition 里程碑状态迁移：先校验角色，再校验状态
func (s *Service) transition(ctx context.Context, identity wallet.Identity, kind model.CommandKind, action model.Action,
	milestoneID model.MilestoneID, submit func(ctx context.Context) (common.Hash, error)) (*Result, error) {
	rec := s.newRecord(ctx, kind, identity.Address())
	rec.MilestoneID = milestoneID

	return s.execute(ctx, rec, func() (*Result, error) {
		m, err := s.gateway.GetMilestone(ctx, milestoneID)
		if err != nil {
			return nil, err
		}
		rec.ProjectID = m.ProjectID

		p, err := s.gateway.GetProject(ctx, m.ProjectID)
		if err != nil {
			return nil, err
		}
		rec.Client, rec.Freelancer = p.Client, p.Freelancer

		if err := lifecycle.Authorize(p, identity.Address(), action); err != nil {
			return nil, err
		}
		if _, err := lifecycle.Next(m.Status, action); err != nil {
			return nil, err
		}

		hash, err := submit(ctx)
		rec.TxHash = hash
		if err != nil {
			return nil, withState(err, m.Status.String())
		}
		logger.Info("Milestone %s %s by %s in tx %s", milestoneID, action, identity.Address().Hex(), hash.Hex())
		return &Result{ProjectID: m.ProjectID, MilestoneID: milestoneID, TxHash: hash}, nil
	})
}

// freshMilestones 读取项目全部里程碑，任一读取失败则整体不可用
func (s *Service) freshMilestones(ctx context.Context, projectID model.ProjectID) ([]model.Milestone, error) {
	ids, err := s.gateway.ListMilestonesForProject(ctx, projectID)
	if err != nil {
		return nil, unavailable(err, projectID)
	}

	out := make([]model.Milestone, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.readLimit)
	for i, id := range ids {
		g.Go(func() error {
			m, err := s.gateway.GetMilestone(gctx, id)
			if err != nil {
				return err
			}
			out[i] = *m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, unavailable(err, projectID)
	}
	return out, nil
}

func unavailable(err error, projectID model.ProjectID) error {
	if apperr.KindOf(err) == apperr.KindGatewayUnavailable {
		return err
	}
	return apperr.Unavailable(err, "milestones of project %s could not all be read", projectID)
}

// withState 为账本返回的非法迁移补上读取到的当前状态
func withState(err error, state string) error {
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindIllegalTransition || e.State != "" || state == "" {
		return err
	}
	cp := *e
	cp.State = state
	return &cp
}

func (s *Service) newRecord(ctx context.Context, kind model.CommandKind, party common.Address) *model.CommandRecord {
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return &model.CommandRecord{RequestID: id, Command: kind, Party: party, CreatedAt: s.now().UTC()}
}

// execute 执行命令并统一处理流水、失效与指标
func (s *Service) execute(ctx context.Context, rec *model.CommandRecord, run func() (*Result, error)) (*Result, error) {
	start := s.now()
	res, err := run()
	metrics.RecordCommand(string(rec.Command), err, s.now().Sub(start))

	switch {
	case err == nil:
		rec.Status = model.CommandStatusAccepted
		s.invalidator.Invalidate(ctx, "command", rec.Parties()...)
	case rec.TxHash != (common.Hash{}) && errors.Is(err, apperr.ErrGatewayUnavailable):
		// 交易已发送但结果未知，由回执任务跟进
		rec.Status = model.CommandStatusPending
		logger.Warn("%s tx %s outcome unknown: %v", rec.Command, rec.TxHash.Hex(), err)
	case rec.TxHash != (common.Hash{}):
		rec.Status = model.CommandStatusReverted
		logger.Info("%s tx %s reverted: %v", rec.Command, rec.TxHash.Hex(), err)
	default:
		rec.Status = model.CommandStatusRejected
		logger.Info("%s by %s rejected: %v", rec.Command, rec.Party.Hex(), err)
	}
	if err != nil {
		rec.ErrorKind = string(apperr.KindOf(err))
		rec.ErrorMessage = err.Error()
	}

	if s.journal != nil {
		if jerr := s.journal.Record(context.WithoutCancel(ctx), rec); jerr != nil {
			logger.Error("Failed to journal %s %s: %v", rec.Command, rec.RequestID, jerr)
		}
	}
	return res, err
}

package projector

import (
	"context"
	"errors"
	"sync"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/logger"
	"github.com/blues/escrow/internal/metrics"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// fanOut 为每个下标提交一个任务并等待全部完成；每个任务只写自己的结果槽
func (p *Projector) fanOut(n int, task func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		if err := p.pool.Submit(func() {
			defer wg.Done()
			errs[i] = task(i)
		}); err != nil {
			errs[i] = apperr.Unavailable(err, "worker pool rejected read")
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

type projectSlot struct {
	project    *model.Project
	ids        []model.MilestoneID
	milestones []*model.Milestone
	degraded   bool
}

type milestoneRef struct {
	project int
	index   int
}

// build 逐层读取：项目 → 角色过滤 → 里程碑列表 → 里程碑 → 提交引用
func (p *Projector) build(ctx context.Context, party common.Address, role model.Role) (*model.Dashboard, error) {
	ids, err := p.gateway.ListProjectsForParty(ctx, party)
	metrics.RecordLedgerRead("listProjects", err)
	if err != nil {
		return nil, err
	}
	ids = dedupe(ids)

	// 第一层：项目记录
	records := make([]*model.Project, len(ids))
	errs := p.fanOut(len(ids), func(i int) error {
		pr, err := p.gateway.GetProject(ctx, ids[i])
		metrics.RecordLedgerRead("getProject", err)
		records[i] = pr
		return err
	})
	if ctx.Err() != nil {
		return nil, aborted(ctx)
	}

	// 角色过滤必须在继续展开前完成
	var slots []*projectSlot
	for i, pr := range records {
		if errs[i] != nil {
			logger.Warn("Excluding project %s from %s dashboard of %s: %v", ids[i], role, party.Hex(), errs[i])
			metrics.RecordDegraded("project")
			continue
		}
		if pr.PartyFor(role) != party {
			continue
		}
		slots = append(slots, &projectSlot{project: pr})
	}

	// 第二层：里程碑ID列表
	errs = p.fanOut(len(slots), func(i int) error {
		list, err := p.gateway.ListMilestonesForProject(ctx, slots[i].project.ID)
		metrics.RecordLedgerRead("listMilestones", err)
		slots[i].ids = dedupe(list)
		return err
	})
	if ctx.Err() != nil {
		return nil, aborted(ctx)
	}
	kept := slots[:0]
	for i, s := range slots {
		if errs[i] != nil {
			logger.Warn("Excluding project %s: milestone list unavailable: %v", s.project.ID, errs[i])
			metrics.RecordDegraded("project")
			continue
		}
		s.milestones = make([]*model.Milestone, len(s.ids))
		kept = append(kept, s)
	}
	slots = kept

	// 第三层：里程碑记录
	var refs []milestoneRef
	for pi, s := range slots {
		for mi := range s.ids {
			refs = append(refs, milestoneRef{project: pi, index: mi})
		}
	}
	errs = p.fanOut(len(refs), func(i int) error {
		r := refs[i]
		s := slots[r.project]
		m, err := p.gateway.GetMilestone(ctx, s.ids[r.index])
		metrics.RecordLedgerRead("getMilestone", err)
		s.milestones[r.index] = m
		return err
	})
	if ctx.Err() != nil {
		return nil, aborted(ctx)
	}
	var submitted []milestoneRef
	for i, r := range refs {
		s := slots[r.project]
		if errs[i] != nil {
			logger.Warn("Excluding milestone %s of project %s: %v", s.ids[r.index], s.project.ID, errs[i])
			metrics.RecordDegraded("milestone")
			s.milestones[r.index] = nil
			s.degraded = true
			continue
		}
		if s.milestones[r.index].Status.AtLeast(model.MilestoneSubmitted) {
			submitted = append(submitted, r)
		}
	}

	// 第四层：提交引用，失败只记录日志
	errs = p.fanOut(len(submitted), func(i int) error {
		r := submitted[i]
		m := slots[r.project].milestones[r.index]
		ref, err := p.gateway.GetSubmissionReference(ctx, m.ID)
		metrics.RecordLedgerRead("getSubmission", err)
		if err == nil {
			m.SubmissionHash = ref
		}
		return err
	})
	if ctx.Err() != nil {
		return nil, aborted(ctx)
	}
	for i, r := range submitted {
		if errs[i] != nil {
			m := slots[r.project].milestones[r.index]
			logger.Warn("Submission reference of milestone %s unavailable: %v", m.ID, errs[i])
			metrics.RecordDegraded("submission")
		}
	}

	d := &model.Dashboard{
		Party:       party,
		Role:        role,
		Projects:    make([]model.ProjectView, 0, len(slots)),
		GeneratedAt: p.now().UTC(),
	}
	for _, s := range slots {
		milestones := make([]model.Milestone, 0, len(s.milestones))
		for _, m := range s.milestones {
			if m != nil {
				milestones = append(milestones, *m)
			}
		}
		d.Projects = append(d.Projects, p.assemble(s.project, milestones, s.degraded, role))
	}
	return d, nil
}

// aborted 投影被取消时的错误：超时视为网关不可用，其余为被取代
func aborted(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Unavailable(ctx.Err(), "projection timed out")
	}
	return ErrSuperseded
}

func dedupe[T comparable](ids []T) []T {
	seen := make(map[T]struct{}, len(ids))
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Package ledger wraps the escrow contract's read and write operations.
// Every failure leaving this package is an *apperr.Error.
package ledger

import (
	"context"
	"math/big"

	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
)

// Gateway 账本读写接口
type Gateway interface {
	ListProjectsForParty(ctx context.Context, party common.Address) ([]model.ProjectID, error)
	GetProject(ctx context.Context, id model.ProjectID) (*model.Project, error)
	ListMilestonesForProject(ctx context.Context, id model.ProjectID) ([]model.MilestoneID, error)
	GetMilestone(ctx context.Context, id model.MilestoneID) (*model.Milestone, error)
	GetSubmissionReference(ctx context.Context, id model.MilestoneID) (string, error)

	SubmitCreateProject(ctx context.Context, identity wallet.Identity, freelancer common.Address, totalAmount *big.Int, title string, funding *big.Int) (model.ProjectID, common.Hash, error)
	SubmitCreateMilestone(ctx context.Context, identity wallet.Identity, projectID model.ProjectID, description string, amount *big.Int) (model.MilestoneID, common.Hash, error)
	SubmitSubmitMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID, reference string) (common.Hash, error)
	SubmitApproveMilestone(ctx context.Context, identity wallet.Identity, milestoneID model.MilestoneID) (common.Hash, error)
}

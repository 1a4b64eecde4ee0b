package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/chain"
	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeIDs_Dedupes(t *testing.T) {
	ids, err := decodeIDs([]interface{}{[]*big.Int{big.NewInt(3), big.NewInt(1), big.NewInt(3)}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 1}, ids)

	_, err = decodeIDs([]interface{}{"nope"})
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))
}

func TestDecodeProject(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	out := []interface{}{
		big.NewInt(7),
		clientID.Address(),
		freelancerID.Address(),
		oneUnit,
		"Logo design",
		false,
		big.NewInt(created.Unix()),
	}
	p, err := decodeProject(7, out)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectID(7), p.ID)
	assert.Equal(t, clientID.Address(), p.Client)
	assert.Equal(t, freelancerID.Address(), p.Freelancer)
	assert.Equal(t, "Logo design", p.Title)
	assert.Equal(t, created, p.CreatedAt)

	out[1] = common.Address{}
	_, err = decodeProject(7, out)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = decodeProject(7, out[:3])
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))
}

func TestDecodeMilestone(t *testing.T) {
	out := []interface{}{big.NewInt(2), big.NewInt(7), "Sketches", big.NewInt(5), true, true, false}
	m, err := decodeMilestone(2, out)
	require.NoError(t, err)
	assert.Equal(t, model.ProjectID(7), m.ProjectID)
	assert.Equal(t, model.MilestoneApproved, m.Status)

	empty := []interface{}{big.NewInt(0), big.NewInt(0), "", big.NewInt(0), false, false, false}
	_, err = decodeMilestone(9, empty)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestCreatedID(t *testing.T) {
	ctx := context.Background()
	contract, err := chain.NewContract(nil, config.EscrowContract,
		config.ContractConfig{Address: MemoryContractAddress.Hex(), Enabled: true}, 1337, EscrowABI)
	require.NoError(t, err)

	l := NewMemoryLedger()
	_, _, err = l.SubmitCreateProject(ctx, clientID, freelancerID.Address(), oneUnit, "first", oneUnit)
	require.NoError(t, err)
	pid, hash, err := l.SubmitCreateProject(ctx, clientID, freelancerID.Address(), oneUnit, "second", oneUnit)
	require.NoError(t, err)
	receipt, err := l.TransactionReceipt(ctx, hash)
	require.NoError(t, err)

	id, err := createdID(contract, receipt, hash, EventProjectCreated, "projectId")
	require.NoError(t, err)
	assert.Equal(t, uint64(pid), id)

	// 回执里没有创建事件时不猜测 ID
	bare := *receipt
	bare.Logs = nil
	_, err = createdID(contract, &bare, hash, EventProjectCreated, "projectId")
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))
	assert.Contains(t, err.Error(), hash.Hex())

	_, err = createdID(contract, receipt, hash, EventMilestoneCreated, "milestoneId")
	assert.True(t, errors.Is(err, apperr.ErrGatewayUnavailable))
}

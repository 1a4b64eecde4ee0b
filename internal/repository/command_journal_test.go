package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blues/escrow/internal/config"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	client     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	freelancer = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func newJournal(t *testing.T) *CommandJournal {
	t.Helper()
	db, err := Init(config.DatabaseConfig{
		Enabled: true,
		Driver:  "sqlite",
		Path:    filepath.Join(t.TempDir(), "journal.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewCommandJournal(db)
}

func record(id string, status model.CommandStatus, hash string) *model.CommandRecord {
	return &model.CommandRecord{
		RequestID:  id,
		Command:    model.CommandApproveMilestone,
		Party:      client,
		Client:     client,
		Freelancer: freelancer,
		ProjectID:  1,
		TxHash:     common.HexToHash(hash),
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestCommandJournal_RecordAndGet(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	rec := record("req-1", model.CommandStatusAccepted, "0x01")
	rec.MilestoneID = 7
	require.NoError(t, j.Record(ctx, rec))

	got, err := j.Get(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.CommandApproveMilestone, got.Command)
	assert.Equal(t, model.CommandStatusAccepted, got.Status)
	assert.Equal(t, rec.TxHash, got.TxHash)
	assert.Equal(t, model.MilestoneID(7), got.MilestoneID)
	assert.ElementsMatch(t, []common.Address{client, freelancer}, got.Parties())

	missing, err := j.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// 同一请求重复写入只更新结果
	rec.Status = model.CommandStatusRejected
	rec.ErrorKind = "IllegalTransition"
	require.NoError(t, j.Record(ctx, rec))
	got, err = j.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusRejected, got.Status)
	assert.Equal(t, "IllegalTransition", got.ErrorKind)
}

func TestCommandJournal_AwaitingAndUpdate(t *testing.T) {
	ctx := context.Background()
	j := newJournal(t)

	require.NoError(t, j.Record(ctx, record("a", model.CommandStatusAccepted, "0x0a")))
	require.NoError(t, j.Record(ctx, record("b", model.CommandStatusPending, "0x0b")))
	require.NoError(t, j.Record(ctx, record("c", model.CommandStatusRejected, "")))
	require.NoError(t, j.Record(ctx, record("d", model.CommandStatusConfirmed, "0x0d")))

	awaiting, err := j.ListAwaiting(ctx, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 2)
	assert.Equal(t, "a", awaiting[0].RequestID)
	assert.Equal(t, "b", awaiting[1].RequestID)

	require.NoError(t, j.UpdateStatus(ctx, common.HexToHash("0x0a"), model.CommandStatusConfirmed, 42))
	got, err := j.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.CommandStatusConfirmed, got.Status)
	assert.Equal(t, uint64(42), got.BlockNumber)

	awaiting, err = j.ListAwaiting(ctx, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, "b", awaiting[0].RequestID)

	byParty, err := j.ListByParty(ctx, client, 2)
	require.NoError(t, err)
	require.Len(t, byParty, 2)
	assert.Equal(t, "d", byParty[0].RequestID)
}

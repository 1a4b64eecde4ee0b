package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/lifecycle"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dataError 模拟节点返回的带 data 的 JSON-RPC 错误
type dataError struct {
	msg  string
	data interface{}
}

func (e dataError) Error() string          { return e.msg }
func (e dataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: strType}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return hexutil.Encode(append(selector, packed...))
}

func TestRevertReason(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
		ok     bool
	}{
		{"rpc data", dataError{msg: "execution reverted", data: revertData(t, "Only client")}, "Only client", true},
		{"message form", errors.New("execution reverted: already approved"), "already approved", true},
		{"hardhat form", errors.New("VM Exception: reverted with reason string 'not submitted'"), "not submitted", true},
		{"quoted form", errors.New(`Error: revert "only freelancer"`), "only freelancer", true},
		{"bare revert", errors.New("execution reverted"), "", true},
		{"transport", errors.New("dial tcp 127.0.0.1:8545: connection refused"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := RevertReason(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperr.Kind
		rule string
	}{
		{"only client", errors.New("execution reverted: Only client"), apperr.KindUnauthorized, lifecycle.RuleOnlyClient},
		{"not the freelancer", errors.New("execution reverted: not the freelancer"), apperr.KindUnauthorized, lifecycle.RuleOnlyFreelancer},
		{"already submitted", errors.New("execution reverted: already submitted"), apperr.KindIllegalTransition, lifecycle.RuleNotSubmittable},
		{"already approved", errors.New("execution reverted: Already Approved"), apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
		{"does not exist", errors.New("execution reverted: milestone does not exist"), apperr.KindNotFound, ""},
		{"ceiling", errors.New("execution reverted: exceeds total amount"), apperr.KindValidation, lifecycle.RuleEscrowCeiling},
		{"unknown", errors.New("execution reverted: paused"), apperr.KindIllegalTransition, apperr.RuleUnknown},
		{"transport", errors.New("connection reset by peer"), apperr.KindGatewayUnavailable, ""},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), apperr.KindGatewayUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := apperr.As(Classify(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.rule, e.Rule)
		})
	}
}

func TestClassifyReason_FullSentences(t *testing.T) {
	tests := []struct {
		reason string
		kind   apperr.Kind
		rule   string
	}{
		{"Only client can approve milestones", apperr.KindUnauthorized, lifecycle.RuleOnlyClient},
		{"Only freelancer can submit milestones", apperr.KindUnauthorized, lifecycle.RuleOnlyFreelancer},
		{"Caller is not the client of this project", apperr.KindUnauthorized, lifecycle.RuleOnlyClient},
		{"Milestone already submitted", apperr.KindIllegalTransition, lifecycle.RuleNotSubmittable},
		{"Milestone not submitted yet", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
		{"Milestone already approved", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
		{"Payment already paid out", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
		{"Milestone does not exist", apperr.KindNotFound, ""},
		{"Milestone amount exceeds total amount of project", apperr.KindValidation, lifecycle.RuleEscrowCeiling},
		{"Freelancer cannot be client", apperr.KindValidation, lifecycle.RuleRoleExclusivity},
		{"Contract paused", apperr.KindIllegalTransition, apperr.RuleUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			e := ClassifyReason(tt.reason, nil)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.rule, e.Rule)
			assert.Equal(t, tt.reason, e.Message)
		})
	}

	e, ok := apperr.As(Classify(errors.New("execution reverted: Only client can approve milestones")))
	require.True(t, ok)
	assert.Equal(t, apperr.KindUnauthorized, e.Kind)
	assert.Equal(t, lifecycle.RuleOnlyClient, e.Rule)

	e, ok = apperr.As(Classify(dataError{msg: "execution reverted", data: revertData(t, "Only freelancer can submit milestones")}))
	require.True(t, ok)
	assert.Equal(t, lifecycle.RuleOnlyFreelancer, e.Rule)
}

func TestClassify_UnknownKeepsMessage(t *testing.T) {
	e, ok := apperr.As(Classify(errors.New("execution reverted: contract is paused for upgrade")))
	require.True(t, ok)
	assert.True(t, e.Unknown())
	assert.Equal(t, "contract is paused for upgrade", e.Message)

	e, ok = apperr.As(Classify(errors.New("execution reverted")))
	require.True(t, ok)
	assert.True(t, e.Unknown())
	assert.Equal(t, "execution reverted", e.Message)
}

func TestClassify_PassesThroughAppErrors(t *testing.T) {
	orig := apperr.NotFound("project 7 does not exist")
	assert.Same(t, orig, Classify(orig))
	assert.Nil(t, Classify(nil))
}

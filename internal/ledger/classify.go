package ledger

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/lifecycle"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

type rejection struct {
	phrase string
	kind   apperr.Kind
	rule   string
}

// knownRejections 合约已知的拒绝原因短语，按顺序对小写原因做子串匹配，具体的在前
var knownRejections = []rejection{
	{"only client", apperr.KindUnauthorized, lifecycle.RuleOnlyClient},
	{"not the client", apperr.KindUnauthorized, lifecycle.RuleOnlyClient},
	{"only freelancer", apperr.KindUnauthorized, lifecycle.RuleOnlyFreelancer},
	{"not the freelancer", apperr.KindUnauthorized, lifecycle.RuleOnlyFreelancer},
	{"freelancer cannot be client", apperr.KindValidation, lifecycle.RuleRoleExclusivity},
	{"invalid freelancer address", apperr.KindValidation, lifecycle.RuleRoleExclusivity},
	{"already submitted", apperr.KindIllegalTransition, lifecycle.RuleNotSubmittable},
	{"not submitted", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
	{"already approved", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
	{"already paid", apperr.KindIllegalTransition, lifecycle.RuleNotApprovable},
	{"project completed", apperr.KindIllegalTransition, lifecycle.RuleProjectCompleted},
	{"project does not exist", apperr.KindNotFound, ""},
	{"milestone does not exist", apperr.KindNotFound, ""},
	{"does not exist", apperr.KindNotFound, ""},
	{"amount must be greater than 0", apperr.KindValidation, lifecycle.RulePositiveAmount},
	{"exceeds total amount", apperr.KindValidation, lifecycle.RuleEscrowCeiling},
	{"incorrect payment amount", apperr.KindValidation, lifecycle.RuleFundingMismatch},
	{"title is required", apperr.KindValidation, lifecycle.RuleRequiredField},
	{"description is required", apperr.KindValidation, lifecycle.RuleRequiredField},
}

var revertPatterns = []*regexp.Regexp{
	regexp.MustCompile(`execution reverted:\s*(.*)$`),
	regexp.MustCompile(`reverted with reason string '([^']*)'`),
	regexp.MustCompile(`revert(?:ed)?\s+"([^"]*)"`),
}

// RevertReason 提取合约拒绝原因，优先解码 RPC 错误中的 Error(string) 数据
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(data); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	msg := err.Error()
	for _, p := range revertPatterns {
		if m := p.FindStringSubmatch(msg); m != nil {
			return strings.TrimSpace(m[1]), true
		}
	}
	if strings.Contains(msg, "execution reverted") {
		return "", true
	}
	return "", false
}

// Classify 把账本错误映射为业务错误；非拒绝类错误视为网关不可用
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := apperr.As(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperr.Unavailable(err, "ledger call timed out")
	}

	reason, reverted := RevertReason(err)
	if !reverted {
		return apperr.Unavailable(err, "ledger call failed")
	}
	return ClassifyReason(reason, err)
}

// ClassifyReason 按已知拒绝原因短语分类，未知原因原样保留
func ClassifyReason(reason string, cause error) *apperr.Error {
	lower := strings.ToLower(strings.TrimSpace(reason))
	if lower != "" {
		for _, r := range knownRejections {
			if strings.Contains(lower, r.phrase) {
				return &apperr.Error{Kind: r.kind, Rule: r.rule, Message: reason, Cause: cause}
			}
		}
	}

	message := reason
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &apperr.Error{Kind: apperr.KindIllegalTransition, Rule: apperr.RuleUnknown, Message: message, Cause: cause}
}

package model

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// MilestoneID 账本分配的里程碑ID
type MilestoneID uint64

func (id MilestoneID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseMilestoneID 解析里程碑ID
func ParseMilestoneID(s string) (MilestoneID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid milestone id %q: %w", s, err)
	}
	return MilestoneID(v), nil
}

// MilestoneStatus 里程碑状态，只能前进
type MilestoneStatus uint8

const (
	MilestoneNotSubmitted MilestoneStatus = iota // 初始
	MilestoneSubmitted                           // 已提交
	MilestoneApproved                            // 已批准
	MilestonePaid                                // 已付款（终态）
)

var milestoneStatusNames = [...]string{"NotSubmitted", "Submitted", "Approved", "Paid"}

func (s MilestoneStatus) String() string {
	if int(s) < len(milestoneStatusNames) {
		return milestoneStatusNames[s]
	}
	return fmt.Sprintf("MilestoneStatus(%d)", uint8(s))
}

// MarshalText JSON 中以名称输出
func (s MilestoneStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 按名称解析
func (s *MilestoneStatus) UnmarshalText(b []byte) error {
	for i, name := range milestoneStatusNames {
		if name == string(b) {
			*s = MilestoneStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown milestone status %q", b)
}

// AtLeast 状态是否已到达 other
func (s MilestoneStatus) AtLeast(other MilestoneStatus) bool {
	return s >= other
}

// StatusFromFlags 合约以三个布尔位记录状态
func StatusFromFlags(submitted, approved, paid bool) MilestoneStatus {
	switch {
	case paid:
		return MilestonePaid
	case approved:
		return MilestoneApproved
	case submitted:
		return MilestoneSubmitted
	default:
		return MilestoneNotSubmitted
	}
}

// Milestone 项目里程碑
type Milestone struct {
	ID             MilestoneID
	ProjectID      ProjectID
	Description    string
	Amount         *big.Int
	Status         MilestoneStatus
	SubmissionHash string // 提交凭证，提交前为空
}

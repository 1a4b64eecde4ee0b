package model

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProjectID 账本分配的项目ID
type ProjectID uint64

func (id ProjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseProjectID 解析项目ID
func ParseProjectID(s string) (ProjectID, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid project id %q: %w", s, err)
	}
	return ProjectID(v), nil
}

// Role 参与方角色
type Role string

const (
	RoleClient     Role = "client"     // 出资方
	RoleFreelancer Role = "freelancer" // 执行方
)

// Roles 全部角色
var Roles = []Role{RoleClient, RoleFreelancer}

// ParseRole 解析角色
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient, nil
	case RoleFreelancer:
		return RoleFreelancer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Project 托管项目（聚合根）
type Project struct {
	ID          ProjectID
	Client      common.Address
	Freelancer  common.Address
	Title       string
	TotalAmount *big.Int // 托管上限，基础单位
	IsCompleted bool     // 账本上记录的完成标记
	CreatedAt   time.Time
}

// PartyFor 返回指定角色的参与方地址
func (p *Project) PartyFor(role Role) common.Address {
	if role == RoleClient {
		return p.Client
	}
	return p.Freelancer
}

// RoleOf 返回参与方在项目中的角色
func (p *Project) RoleOf(party common.Address) (Role, bool) {
	switch party {
	case p.Client:
		return RoleClient, true
	case p.Freelancer:
		return RoleFreelancer, true
	default:
		return "", false
	}
}

// Parties 项目双方
func (p *Project) Parties() []common.Address {
	return []common.Address{p.Client, p.Freelancer}
}

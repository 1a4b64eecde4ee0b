package handler

import (
	"math/big"
	"time"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Kind  string `json:"kind"`
	Rule  string `json:"rule,omitempty"`
	State string `json:"state,omitempty"`
}

// 命令请求模型，金额为显示单位的十进制字符串

// CreateProjectRequest 创建项目请求
type CreateProjectRequest struct {
	Freelancer  string `json:"freelancer"`
	TotalAmount string `json:"totalAmount"`
	Title       string `json:"title"`
}

// CreateMilestoneRequest 新增里程碑请求
type CreateMilestoneRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// SubmitMilestoneRequest 提交里程碑请求
type SubmitMilestoneRequest struct {
	Reference string `json:"reference"`
}

// AmountResponse 金额，同时给出基础单位与显示单位
type AmountResponse struct {
	Base    string `json:"base"`
	Display string `json:"display"`
}

// MilestoneResponse 里程碑响应模型
type MilestoneResponse struct {
	ID          uint64         `json:"id"`
	ProjectID   uint64         `json:"projectId"`
	Description string         `json:"description"`
	Amount      AmountResponse `json:"amount"`
	Status      string         `json:"status"`
	StatusText  string         `json:"statusText"`
	Reference   string         `json:"reference,omitempty"`
	Actions     []model.Action `json:"actions"`
}

// ProjectResponse 项目响应模型
type ProjectResponse struct {
	ID             uint64              `json:"id"`
	Client         string              `json:"client"`
	Freelancer     string              `json:"freelancer"`
	Title          string              `json:"title"`
	TotalAmount    AmountResponse      `json:"totalAmount"`
	MilestoneTotal AmountResponse      `json:"milestoneTotal"`
	Remaining      AmountResponse      `json:"remaining"`
	Completed      bool                `json:"completed"`
	StatusText     string              `json:"statusText"`
	Actions        []model.Action      `json:"actions"`
	Warnings       []string            `json:"warnings"`
	Degraded       bool                `json:"degraded"`
	CreatedAt      time.Time           `json:"createdAt"`
	Milestones     []MilestoneResponse `json:"milestones"`
}

// DashboardResponse 投影响应模型
type DashboardResponse struct {
	Party       string            `json:"party"`
	Role        model.Role        `json:"role"`
	Projects    []ProjectResponse `json:"projects"`
	GeneratedAt time.Time         `json:"generatedAt"`
}

// CommandResponse 命令响应模型
type CommandResponse struct {
	RequestID   string `json:"requestId"`
	ProjectID   uint64 `json:"projectId,omitempty"`
	MilestoneID uint64 `json:"milestoneId,omitempty"`
	TxHash      string `json:"txHash"`
}

// CommandRecordResponse 命令流水响应模型
type CommandRecordResponse struct {
	RequestID    string              `json:"requestId"`
	Command      model.CommandKind   `json:"command"`
	Status       model.CommandStatus `json:"status"`
	ProjectID    uint64              `json:"projectId,omitempty"`
	MilestoneID  uint64              `json:"milestoneId,omitempty"`
	TxHash       string              `json:"txHash,omitempty"`
	BlockNumber  uint64              `json:"blockNumber,omitempty"`
	ErrorKind    string              `json:"errorKind,omitempty"`
	ErrorMessage string              `json:"errorMessage,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
}

func newAmount(codec *amount.Codec, v *big.Int) AmountResponse {
	if v == nil {
		v = new(big.Int)
	}
	return AmountResponse{Base: v.String(), Display: codec.Format(v)}
}

func newDashboardResponse(codec *amount.Codec, d *model.Dashboard) DashboardResponse {
	out := DashboardResponse{
		Party:       d.Party.Hex(),
		Role:        d.Role,
		Projects:    make([]ProjectResponse, 0, len(d.Projects)),
		GeneratedAt: d.GeneratedAt,
	}
	for i := range d.Projects {
		out.Projects = append(out.Projects, newProjectResponse(codec, &d.Projects[i]))
	}
	return out
}

func newProjectResponse(codec *amount.Codec, p *model.ProjectView) ProjectResponse {
	resp := ProjectResponse{
		ID:             uint64(p.ID),
		Client:         p.Client.Hex(),
		Freelancer:     p.Freelancer.Hex(),
		Title:          p.Title,
		TotalAmount:    newAmount(codec, p.TotalAmount),
		MilestoneTotal: newAmount(codec, p.MilestoneTotal),
		Remaining:      newAmount(codec, p.Remaining),
		Completed:      p.Completed,
		StatusText:     p.StatusText,
		Actions:        nonNil(p.Actions),
		Warnings:       p.Warnings,
		Degraded:       p.Degraded,
		CreatedAt:      p.CreatedAt,
		Milestones:     make([]MilestoneResponse, 0, len(p.Milestones)),
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}
	for _, m := range p.Milestones {
		resp.Milestones = append(resp.Milestones, MilestoneResponse{
			ID:          uint64(m.ID),
			ProjectID:   uint64(m.ProjectID),
			Description: m.Description,
			Amount:      newAmount(codec, m.Amount),
			Status:      m.Status.String(),
			StatusText:  m.StatusText,
			Reference:   m.SubmissionHash,
			Actions:     nonNil(m.Actions),
		})
	}
	return resp
}

func newCommandRecordResponse(r *model.CommandRecord) CommandRecordResponse {
	resp := CommandRecordResponse{
		RequestID:    r.RequestID,
		Command:      r.Command,
		Status:       r.Status,
		ProjectID:    uint64(r.ProjectID),
		MilestoneID:  uint64(r.MilestoneID),
		BlockNumber:  r.BlockNumber,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}
	if r.TxHash != (common.Hash{}) {
		resp.TxHash = r.TxHash.Hex()
	}
	return resp
}

func nonNil(actions []model.Action) []model.Action {
	if actions == nil {
		return []model.Action{}
	}
	return actions
}

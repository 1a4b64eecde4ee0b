package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/escrow"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// IdentitySource 按调用方地址取签名身份
type IdentitySource interface {
	Identity(address common.Address) (wallet.Identity, error)
}

// CommandLog 命令流水查询，未启用流水库时为 nil
type CommandLog interface {
	Get(ctx context.Context, requestID string) (*model.CommandRecord, error)
	ListByParty(ctx context.Context, party common.Address, limit int) ([]*model.CommandRecord, error)
}

type CommandHandler struct {
	service    *escrow.Service
	identities IdentitySource
	journal    CommandLog
	codec      *amount.Codec
}

func NewCommandHandler(service *escrow.Service, identities IdentitySource, journal CommandLog, codec *amount.Codec) *CommandHandler {
	return &CommandHandler{service: service, identities: identities, journal: journal, codec: codec}
}

// CreateProject 创建项目并注资
func (h *CommandHandler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if !bind(c, &req) {
		return
	}
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	var freelancer common.Address
	if s := strings.TrimSpace(req.Freelancer); s != "" {
		if !common.IsHexAddress(s) {
			FailResponse(c, apperr.Validation(ruleInvalidAddress, "invalid freelancer address %q", s))
			return
		}
		freelancer = common.HexToAddress(s)
	}
	total, err := h.codec.ToBaseUnits(req.TotalAmount)
	if err != nil {
		FailResponse(c, err)
		return
	}

	res, err := h.service.CreateProject(c.Request.Context(), identity, freelancer, total, req.Title)
	h.respond(c, http.StatusCreated, "project created", res, err)
}

// CreateMilestone 为项目新增里程碑
func (h *CommandHandler) CreateMilestone(c *gin.Context) {
	id, err := model.ParseProjectID(c.Param("id"))
	if err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidID, "%v", err))
		return
	}
	var req CreateMilestoneRequest
	if !bind(c, &req) {
		return
	}
	identity, ok := h.identity(c)
	if !ok {
		return
	}
	amt, err := h.codec.ToBaseUnits(req.Amount)
	if err != nil {
		FailResponse(c, err)
		return
	}

	res, err := h.service.CreateMilestone(c.Request.Context(), identity, id, req.Description, amt)
	h.respond(c, http.StatusCreated, "milestone created", res, err)
}

// SubmitMilestone 执行方提交里程碑
func (h *CommandHandler) SubmitMilestone(c *gin.Context) {
	id, err := model.ParseMilestoneID(c.Param("id"))
	if err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidID, "%v", err))
		return
	}
	var req SubmitMilestoneRequest
	if !bind(c, &req) {
		return
	}
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	res, err := h.service.SubmitMilestone(c.Request.Context(), identity, id, req.Reference)
	h.respond(c, http.StatusOK, "milestone submitted", res, err)
}

// ApproveMilestone 出资方批准并放款
func (h *CommandHandler) ApproveMilestone(c *gin.Context) {
	id, err := model.ParseMilestoneID(c.Param("id"))
	if err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidID, "%v", err))
		return
	}
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	res, err := h.service.ApproveMilestone(c.Request.Context(), identity, id)
	h.respond(c, http.StatusOK, "milestone approved and paid", res, err)
}

// ListCommands 调用方最近的命令流水
func (h *CommandHandler) ListCommands(c *gin.Context) {
	if h.journal == nil {
		ErrorResponse(c, http.StatusNotFound, "command journal is disabled")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 20
	}
	party := c.MustGet(PartyKey).(common.Address)

	records, err := h.journal.ListByParty(c.Request.Context(), party, limit)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]CommandRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, newCommandRecordResponse(r))
	}
	SuccessResponse(c, http.StatusOK, "ok", out)
}

// GetCommand 按请求ID查询命令流水
func (h *CommandHandler) GetCommand(c *gin.Context) {
	if h.journal == nil {
		ErrorResponse(c, http.StatusNotFound, "command journal is disabled")
		return
	}
	rec, err := h.journal.Get(c.Request.Context(), c.Param("requestId"))
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil || rec.Party != c.MustGet(PartyKey).(common.Address) {
		ErrorResponse(c, http.StatusNotFound, "command not found")
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", newCommandRecordResponse(rec))
}

func (h *CommandHandler) identity(c *gin.Context) (wallet.Identity, bool) {
	identity, err := h.identities.Identity(c.MustGet(PartyKey).(common.Address))
	if err != nil {
		FailResponse(c, err)
		return nil, false
	}
	return identity, true
}

func (h *CommandHandler) respond(c *gin.Context, status int, message string, res *escrow.Result, err error) {
	if err != nil {
		FailResponse(c, err)
		return
	}
	SuccessResponse(c, status, message, CommandResponse{
		RequestID:   escrow.RequestID(c.Request.Context()),
		ProjectID:   uint64(res.ProjectID),
		MilestoneID: uint64(res.MilestoneID),
		TxHash:      res.TxHash.Hex(),
	})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidBody, "invalid request body: %v", err))
		return false
	}
	return true
}

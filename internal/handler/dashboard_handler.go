package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/blues/escrow/internal/amount"
	"github.com/blues/escrow/internal/apperr"
	"github.com/blues/escrow/internal/model"
	"github.com/blues/escrow/internal/projector"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// PartyKey 认证中间件写入的调用方地址
const PartyKey = "party"

// 请求参数校验规则
const (
	ruleInvalidID      = "InvalidID"
	ruleInvalidRole    = "InvalidRole"
	ruleInvalidAddress = "InvalidAddress"
	ruleInvalidBody    = "InvalidBody"
)

// DashboardSource 投影读取
type DashboardSource interface {
	Dashboard(ctx context.Context, party common.Address, role model.Role) (*model.Dashboard, error)
	Refresh(ctx context.Context, party common.Address, role model.Role) (*model.Dashboard, error)
}

type DashboardHandler struct {
	source DashboardSource
	codec  *amount.Codec
}

func NewDashboardHandler(source DashboardSource, codec *amount.Codec) *DashboardHandler {
	return &DashboardHandler{source: source, codec: codec}
}

// GetDashboard 获取调用方在某角色下的项目投影，refresh=true 时丢弃缓存重新构建
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	d, ok := h.load(c, c.Param("role"), c.Query("refresh") == "true")
	if !ok {
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", newDashboardResponse(h.codec, d))
}

// GetProject 在调用方投影中获取单个项目
func (h *DashboardHandler) GetProject(c *gin.Context) {
	id, err := model.ParseProjectID(c.Param("id"))
	if err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidID, "%v", err))
		return
	}
	d, ok := h.load(c, c.DefaultQuery("role", string(model.RoleClient)), false)
	if !ok {
		return
	}
	p, found := d.ProjectByID(id)
	if !found {
		FailResponse(c, apperr.NotFound("project %s is not visible to %s as %s", id, d.Party.Hex(), d.Role))
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", newProjectResponse(h.codec, p))
}

func (h *DashboardHandler) load(c *gin.Context, roleParam string, refresh bool) (*model.Dashboard, bool) {
	party := c.MustGet(PartyKey).(common.Address)
	role, err := model.ParseRole(roleParam)
	if err != nil {
		FailResponse(c, apperr.Validation(ruleInvalidRole, "%v", err))
		return nil, false
	}

	ctx := c.Request.Context()
	fetch := h.source.Dashboard
	if refresh {
		fetch = h.source.Refresh
	}
	d, err := fetch(ctx, party, role)
	// 构建中被写入失效时重试一次，拿到失效之后的视图
	if errors.Is(err, projector.ErrSuperseded) {
		d, err = h.source.Dashboard(ctx, party, role)
	}
	if errors.Is(err, projector.ErrSuperseded) {
		err = apperr.Unavailable(err, "projection for %s kept being invalidated", party.Hex())
	}
	if err != nil {
		FailResponse(c, err)
		return nil, false
	}
	return d, true
}

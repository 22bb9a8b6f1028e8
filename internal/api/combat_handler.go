package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/combat"
)

// CombatHandler 战斗操作接口
type CombatHandler struct {
	engine *combat.Engine
}

// NewCombatHandler 创建战斗处理器
func NewCombatHandler(engine *combat.Engine) *CombatHandler {
	return &CombatHandler{engine: engine}
}

// PostponeRequest 推迟回合请求
type PostponeRequest struct {
	EntityID      string `json:"entity_id" binding:"required"`
	PredecessorID string `json:"predecessor_id" binding:"required"`
}

// Turns 先攻顺序
// @Summary 当前先攻顺序
// @Tags Turns
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id}/turns [get]
func (h *CombatHandler) Turns(c *gin.Context) {
	state, err := h.engine.Turns(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, state)
}

// EndTurn 结束当前回合
// @Summary 结束当前回合
// @Tags Turns
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id}/turns/end [post]
func (h *CombatHandler) EndTurn(c *gin.Context) {
	state, err := h.engine.EndTurn(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, state)
}

// PostponeTurn 推迟回合
// @Summary 当前实体推迟到另一实体之后
// @Tags Turns
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body PostponeRequest true "推迟参数"
// @Router /api/v1/sessions/{id}/turns/postpone [post]
func (h *CombatHandler) PostponeTurn(c *gin.Context) {
	var req PostponeRequest
	if !bindJSON(c, &req) {
		return
	}
	state, err := h.engine.PostponeTurn(c.Request.Context(), c.Param("id"), caller(c), req.EntityID, req.PredecessorID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, state)
}

// Attack 发起攻击
//
// 需要玩家掷骰时请求会等待回复或超时后才返回。
// @Summary 近战或法术攻击
// @Tags Combat
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.AttackCommand true "攻击参数"
// @Router /api/v1/sessions/{id}/attacks [post]
func (h *CombatHandler) Attack(c *gin.Context) {
	var cmd combat.AttackCommand
	if !bindJSON(c, &cmd) {
		return
	}
	res, err := h.engine.Attack(c.Request.Context(), c.Param("id"), caller(c), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// SavingThrow 发起豁免检定
// @Summary 豁免检定
// @Tags Combat
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.SavingThrowCommand true "检定参数"
// @Router /api/v1/sessions/{id}/saving-throws [post]
func (h *CombatHandler) SavingThrow(c *gin.Context) {
	var cmd combat.SavingThrowCommand
	if !bindJSON(c, &cmd) {
		return
	}
	res, err := h.engine.RequestSavingThrow(c.Request.Context(), c.Param("id"), caller(c), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// AddEffect 添加或清除状态效果
// @Summary 状态效果
// @Tags Combat
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.EffectCommand true "效果参数"
// @Router /api/v1/sessions/{id}/effects [post]
func (h *CombatHandler) AddEffect(c *gin.Context) {
	var cmd combat.EffectCommand
	if !bindJSON(c, &cmd) {
		return
	}
	res, err := h.engine.AddEffect(c.Request.Context(), c.Param("id"), caller(c), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// LongRest 长休
// @Summary 长休，恢复法术位与反应
// @Tags Combat
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.RestCommand true "目标"
// @Router /api/v1/sessions/{id}/rests [post]
func (h *CombatHandler) LongRest(c *gin.Context) {
	var cmd combat.RestCommand
	if !bindJSON(c, &cmd) {
		return
	}
	res, err := h.engine.LongRest(c.Request.Context(), c.Param("id"), caller(c), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

// EnableReaction 询问反应
// @Summary 询问目标是否使用反应
// @Tags Combat
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.ReactionCommand true "目标"
// @Router /api/v1/sessions/{id}/reactions [post]
func (h *CombatHandler) EnableReaction(c *gin.Context) {
	var cmd combat.ReactionCommand
	if !bindJSON(c, &cmd) {
		return
	}
	res, err := h.engine.EnableReaction(c.Request.Context(), c.Param("id"), caller(c), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, res)
}

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/combat"
	"github.com/wfunc/combat-table/internal/combat/entity"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/repository"
)

// SessionHandler 会话与参战实体接口
type SessionHandler struct {
	engine *combat.Engine
	store  *repository.Store
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(engine *combat.Engine, store *repository.Store) *SessionHandler {
	return &SessionHandler{engine: engine, store: store}
}

// CreateSession 创建会话
// @Summary 创建战斗会话
// @Tags Sessions
// @Security Bearer
// @Param request body combat.CreateSessionRequest true "会话参数"
// @Success 201 {object} SuccessResponse
// @Router /api/v1/sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req combat.CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.engine.CreateSession(c.Request.Context(), caller(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, session)
}

// ListSessions 当前玩家创建的会话
// @Summary 列出我的会话
// @Tags Sessions
// @Security Bearer
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Router /api/v1/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	p := repository.NewPagination(queryInt(c, "page", 1), queryInt(c, "page_size", 10))
	sessions, err := h.store.ListSessions(c.Request.Context(), caller(c), p)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"sessions": sessions, "pagination": p})
}

// GetSession 会话详情
// @Summary 会话详情
// @Tags Sessions
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.engine.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, session)
}

// DeleteSession 删除会话
// @Summary 删除会话
// @Tags Sessions
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id} [delete]
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.engine.DeleteSession(c.Request.Context(), c.Param("id"), caller(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Transition 返回执行指定生命周期命令的处理函数
// @Summary 开始、暂停、恢复或结束会话
// @Tags Sessions
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id}/start [post]
// @Router /api/v1/sessions/{id}/pause [post]
// @Router /api/v1/sessions/{id}/resume [post]
// @Router /api/v1/sessions/{id}/stop [post]
func (h *SessionHandler) Transition(cmd combat.Command) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, err := h.engine.Transition(c.Request.Context(), c.Param("id"), caller(c), cmd)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, session)
	}
}

// ListCombatants 会话中的实体
// @Summary 列出参战实体
// @Tags Combatants
// @Security Bearer
// @Param id path string true "会话ID"
// @Router /api/v1/sessions/{id}/combatants [get]
func (h *SessionHandler) ListCombatants(c *gin.Context) {
	list, err := h.engine.ListCombatants(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, list)
}

// AddCombatant 加入实体
// @Summary 加入参战实体
// @Tags Combatants
// @Security Bearer
// @Param id path string true "会话ID"
// @Param request body combat.CombatantSpec true "实体参数"
// @Router /api/v1/sessions/{id}/combatants [post]
func (h *SessionHandler) AddCombatant(c *gin.Context) {
	var spec combat.CombatantSpec
	if !bindJSON(c, &spec) {
		return
	}
	ent, err := h.engine.AddCombatant(c.Request.Context(), c.Param("id"), caller(c), spec)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, combatantView(ent))
}

// RemoveCombatant 移除实体
// @Summary 移除参战实体
// @Tags Combatants
// @Security Bearer
// @Param id path string true "会话ID"
// @Param eid path string true "实体ID"
// @Router /api/v1/sessions/{id}/combatants/{eid} [delete]
func (h *SessionHandler) RemoveCombatant(c *gin.Context) {
	if err := h.engine.RemoveCombatant(c.Request.Context(), c.Param("id"), caller(c), c.Param("eid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEvents 会话事件回放
// @Summary 按时间顺序列出会话事件
// @Tags Sessions
// @Security Bearer
// @Param id path string true "会话ID"
// @Param type query string false "事件类型"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Router /api/v1/sessions/{id}/events [get]
func (h *SessionHandler) ListEvents(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.store.GetSession(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	p := repository.NewPagination(queryInt(c, "page", 1), queryInt(c, "page_size", 50))
	events, err := h.store.ListEvents(ctx, id, c.Query("type"), p)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"events": events, "pagination": p})
}

// combatantView 带类型标记的实体输出
func combatantView(e entity.Entity) gin.H {
	return gin.H{"kind": e.Kind(), "entity": e, "dead": e.IsDead()}
}

// SpellHandler 法术目录接口
type SpellHandler struct {
	store *repository.Store
}

// NewSpellHandler 创建法术处理器
func NewSpellHandler(store *repository.Store) *SpellHandler {
	return &SpellHandler{store: store}
}

// CreateSpell 新增或更新法术
// @Summary 新增法术
// @Tags Spells
// @Security Bearer
// @Param request body entity.Spell true "法术"
// @Router /api/v1/spells [post]
func (h *SpellHandler) CreateSpell(c *gin.Context) {
	var spell entity.Spell
	if !bindJSON(c, &spell) {
		return
	}
	if spell.ID == "" || spell.Name == "" {
		respondError(c, errors.New(errors.ErrInvalidParam, "法术ID和名称不能为空"))
		return
	}
	if !spell.Kind.Valid() {
		respondError(c, errors.Newf(errors.ErrWrongParamType, "未知的法术类别: %q", spell.Kind))
		return
	}
	if spell.Tier < 0 || spell.Tier > entity.MaxSlotTier {
		respondError(c, errors.Newf(errors.ErrInvalidNumber, "法术环数必须在0到%d之间", entity.MaxSlotTier))
		return
	}
	if err := h.store.CreateSpell(c.Request.Context(), &spell); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, spell)
}

// GetSpell 法术详情
// @Summary 法术详情
// @Tags Spells
// @Security Bearer
// @Param id path string true "法术ID"
// @Router /api/v1/spells/{id} [get]
func (h *SpellHandler) GetSpell(c *gin.Context) {
	spell, err := h.store.GetSpell(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, spell)
}

// ProfileHandler 长期角色档案接口
type ProfileHandler struct {
	store *repository.Store
}

// NewProfileHandler 创建档案处理器
func NewProfileHandler(store *repository.Store) *ProfileHandler {
	return &ProfileHandler{store: store}
}

// profileView 档案响应
type profileView struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	AuthorID  uint   `json:"author_id"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"created_at"`
}

// GetProfile 档案详情
// @Summary 角色档案
// @Tags Profiles
// @Security Bearer
// @Param id path int true "档案ID"
// @Router /api/v1/profiles/{id} [get]
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, errors.Newf(errors.ErrInvalidParam, "无效的档案ID: %q", c.Param("id")))
		return
	}
	profile, err := h.store.GetProfile(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, profileView{
		ID:        profile.ID,
		Name:      profile.Name,
		AuthorID:  profile.AuthorID,
		Kind:      profile.Kind,
		CreatedAt: profile.CreatedAt.Unix(),
	})
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat"
	"github.com/wfunc/combat-table/internal/config"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/repository"
	"github.com/wfunc/combat-table/internal/utils"
	ws "github.com/wfunc/combat-table/internal/websocket"
	"go.uber.org/zap"
)

const (
	gm     uint = 1
	player uint = 2
	other  uint = 3
)

// RouterTestSuite 完整装配的HTTP接口测试
type RouterTestSuite struct {
	suite.Suite
	router *Router
	jwt    *utils.JWTManager
	broker *broker.Broker
	server *httptest.Server
	cancel context.CancelFunc
	deps   Deps
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	db := repository.SetupTestDB(s.T())
	store := repository.NewStore(db)
	hub := ws.NewHub(ws.NewDirectory(), log)
	s.broker = broker.New(hub, broker.Config{DefaultTimeout: 2 * time.Second, MaxTimeout: 5 * time.Second}, log)
	ws.NewCombatHandler(hub, s.broker, store, log)
	engine := combat.New(store, s.broker, combat.NewEventRecorder(store, hub, log), log)
	s.jwt = utils.NewJWTManager("test-secret", "combat-table", time.Hour)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go hub.Run(ctx)

	s.deps = Deps{
		DB:        db,
		Store:     store,
		Engine:    engine,
		Broker:    s.broker,
		Hub:       hub,
		Validator: s.jwt,
		Logger:    log,
	}
	s.router = NewRouter(s.deps)
	s.server = httptest.NewServer(s.router.Handler())
}

func (s *RouterTestSuite) TearDownTest() {
	s.server.Close()
	s.cancel()
	s.broker.Close()
}

func (s *RouterTestSuite) token(party uint) string {
	token, err := s.jwt.GenerateAccessToken(party, "tester")
	s.Require().NoError(err)
	return token
}

// do 发起请求，party 为0时不带令牌
func (s *RouterTestSuite) do(method, path string, party uint, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if party != 0 {
		req.Header.Set("Authorization", "Bearer "+s.token(party))
	}
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	return w
}

// data 解出成功响应的 data 字段
func (s *RouterTestSuite) data(w *httptest.ResponseRecorder, out interface{}) {
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	s.Require().True(resp.Success, w.Body.String())
	s.Require().NoError(json.Unmarshal(resp.Data, out))
}

func (s *RouterTestSuite) errorCode(w *httptest.ResponseRecorder) errors.ErrorCode {
	var resp errors.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	s.Require().False(resp.Success)
	s.Require().NotNil(resp.Error)
	return resp.Error.Code
}

// createSession 创建并开始一场会话，返回会话ID
func (s *RouterTestSuite) createSession() string {
	w := s.do(http.MethodPost, "/api/v1/sessions", gm, combat.CreateSessionRequest{Name: "桥头伏击", MapWidth: 20, MapHeight: 20})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var session struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	s.data(w, &session)
	s.Equal("created", session.Status)

	w = s.do(http.MethodPost, "/api/v1/sessions/"+session.ID+"/start", gm, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	return session.ID
}

func (s *RouterTestSuite) addCombatant(sessionID string, party uint, spec combat.CombatantSpec) string {
	w := s.do(http.MethodPost, "/api/v1/sessions/"+sessionID+"/combatants", party, spec)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var view struct {
		Kind   string `json:"kind"`
		Entity struct {
			ID string `json:"id"`
		} `json:"entity"`
	}
	s.data(w, &view)
	s.Equal(string(spec.Kind), view.Kind)
	return view.Entity.ID
}

func heroSpec() combat.CombatantSpec {
	return combat.CombatantSpec{
		Kind: "character", OwnerID: player, Name: "艾琳",
		HP: 20, MaxHP: 20, ArmorClass: 15, Speed: 30,
		Weapons: []string{"longsword"}, Slots: []int{2},
	}
}

func orcSpec() combat.CombatantSpec {
	return combat.CombatantSpec{Kind: "monster", Name: "兽人", HP: 12, MaxHP: 12, ArmorClass: 12, Speed: 30, Weapons: []string{"club"}}
}

func (s *RouterTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", 0, nil)
	s.Equal(http.StatusOK, w.Code)

	var body map[string]interface{}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal("healthy", body["status"])
	s.EqualValues(0, body["connections"])
	s.EqualValues(0, body["parties"])
	s.Contains(body, "interactions")
	s.NotEmpty(w.Header().Get("X-Request-ID"))
}

func (s *RouterTestSuite) TestAuthentication() {
	w := s.do(http.MethodGet, "/api/v1/sessions", 0, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal(errors.ErrAuthentication, s.errorCode(w))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w = httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	s.Equal(http.StatusUnauthorized, w.Code)
	s.Equal(errors.ErrTokenMalformed, s.errorCode(w))

	// 令牌也可以放在 query 中
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions?token="+s.token(gm), nil)
	w = httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterTestSuite) TestNotFound() {
	w := s.do(http.MethodGet, "/api/v2/nothing", 0, nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal(errors.ErrNotFound, s.errorCode(w))

	w = s.do(http.MethodGet, "/api/v1/sessions/missing", gm, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestSessionLifecycle() {
	w := s.do(http.MethodPost, "/api/v1/sessions", gm, combat.CreateSessionRequest{Name: "过小", MapWidth: 5, MapHeight: 20})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(errors.ErrInvalidNumber, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/sessions", gm, map[string]int{"map_width": 20})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(errors.ErrInvalidParam, s.errorCode(w))

	id := s.createSession()

	// 只有作者可以转换状态
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/pause", player, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/pause", gm, nil)
	s.Equal(http.StatusOK, w.Code)
	// 暂停中不能再次暂停
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/pause", gm, nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal(errors.ErrWrongModelState, s.errorCode(w))

	w = s.do(http.MethodGet, "/api/v1/sessions?page=1&page_size=5", gm, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var list struct {
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	}
	s.data(w, &list)
	s.Require().Len(list.Sessions, 1)
	s.Equal(id, list.Sessions[0].ID)

	w = s.do(http.MethodGet, "/api/v1/sessions/"+id+"/events?type=session_status", player, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var events struct {
		Events []struct {
			Type string                 `json:"type"`
			Data map[string]interface{} `json:"data"`
		} `json:"events"`
	}
	s.data(w, &events)
	s.Require().Len(events.Events, 2)
	s.Equal("ongoing", events.Events[0].Data["to"])
	s.Equal("paused", events.Events[1].Data["to"])

	// 暂停后 start 与 resume 都能继续战斗
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/start", gm, nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/stop", gm, nil)
	s.Equal(http.StatusOK, w.Code, w.Body.String())

	// 结束后不能重新开始
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/start", gm, nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal(errors.ErrWrongModelState, s.errorCode(w))
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/resume", gm, nil)
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/sessions/"+id, player, nil)
	s.Equal(http.StatusForbidden, w.Code)
	w = s.do(http.MethodDelete, "/api/v1/sessions/"+id, gm, nil)
	s.Equal(http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/api/v1/sessions/"+id, gm, nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestCombatantsAndTurns() {
	id := s.createSession()
	hero := s.addCombatant(id, gm, heroSpec())
	orc := s.addCombatant(id, gm, orcSpec())

	// 玩家不能替别人添加实体
	spec := orcSpec()
	spec.OwnerID = other
	w := s.do(http.MethodPost, "/api/v1/sessions/"+id+"/combatants", player, spec)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/sessions/"+id+"/combatants", player, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var list []map[string]interface{}
	s.data(w, &list)
	s.Len(list, 2)

	w = s.do(http.MethodGet, "/api/v1/sessions/"+id+"/turns", player, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var state combat.TurnState
	s.data(w, &state)
	s.Equal(hero, state.Current)
	s.Equal([]string{hero, orc}, state.Order)

	// 不是自己的回合
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/turns/end", other, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/turns/postpone", player, PostponeRequest{EntityID: hero, PredecessorID: orc})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.data(w, &state)
	s.Equal(orc, state.Current)
	s.Equal([]string{orc, hero}, state.Order)

	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/turns/end", gm, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.data(w, &state)
	s.Equal(hero, state.Current)

	w = s.do(http.MethodDelete, "/api/v1/sessions/"+id+"/combatants/"+orc, gm, nil)
	s.Equal(http.StatusNoContent, w.Code)
	w = s.do(http.MethodGet, "/api/v1/sessions/"+id+"/turns", gm, nil)
	s.data(w, &state)
	s.Equal([]string{hero}, state.Order)
}

func (s *RouterTestSuite) TestLongRestAndProfile() {
	id := s.createSession()
	w := s.do(http.MethodPost, "/api/v1/sessions/"+id+"/combatants", gm, heroSpec())
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var view struct {
		Entity struct {
			ID        string `json:"id"`
			ProfileID uint   `json:"profile_id"`
		} `json:"entity"`
	}
	s.data(w, &view)
	hero := view.Entity.ID
	s.Require().NotZero(view.Entity.ProfileID)

	// 新实体自动建档，作者是控制者
	w = s.do(http.MethodGet, "/api/v1/profiles/"+strconv.FormatUint(uint64(view.Entity.ProfileID), 10), player, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var profile map[string]interface{}
	s.data(w, &profile)
	s.Equal("艾琳", profile["name"])
	s.EqualValues(player, profile["author_id"])
	s.Equal("character", profile["kind"])

	w = s.do(http.MethodGet, "/api/v1/profiles/abc", player, nil)
	s.Equal(errors.ErrInvalidParam, s.errorCode(w))
	w = s.do(http.MethodGet, "/api/v1/profiles/9999", player, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/rests", other, combat.RestCommand{Targets: []string{hero}})
	s.Equal(http.StatusForbidden, w.Code)

	// 暂停中也可以长休
	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/sessions/"+id+"/pause", gm, nil).Code)
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/rests", player, combat.RestCommand{Targets: []string{hero}})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var res combat.RestResult
	s.data(w, &res)
	s.Equal([]string{hero}, res.Rested)

	s.Require().Equal(http.StatusOK, s.do(http.MethodPost, "/api/v1/sessions/"+id+"/stop", gm, nil).Code)
	w = s.do(http.MethodPost, "/api/v1/sessions/"+id+"/rests", player, combat.RestCommand{Targets: []string{hero}})
	s.Equal(http.StatusConflict, w.Code)
	s.Equal(errors.ErrWrongModelState, s.errorCode(w))
}

func (s *RouterTestSuite) TestSpells() {
	w := s.do(http.MethodPost, "/api/v1/spells", gm, map[string]interface{}{"id": "fireball", "name": "火球术", "tier": 3, "kind": "damage"})
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1/spells/fireball", player, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var spell map[string]interface{}
	s.data(w, &spell)
	s.Equal("火球术", spell["name"])

	w = s.do(http.MethodPost, "/api/v1/spells", gm, map[string]interface{}{"id": "x", "name": "x", "tier": 1, "kind": "summon"})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(errors.ErrWrongParamType, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/spells", gm, map[string]interface{}{"id": "x", "name": "x", "tier": 10, "kind": "damage"})
	s.Equal(errors.ErrInvalidNumber, s.errorCode(w))
}

func (s *RouterTestSuite) TestAttackValidation() {
	id := s.createSession()
	hero := s.addCombatant(id, gm, heroSpec())
	orc := s.addCombatant(id, gm, orcSpec())

	cases := []struct {
		name   string
		party  uint
		cmd    combat.AttackCommand
		status int
		code   errors.ErrorCode
	}{
		{"非控制者", other, combat.AttackCommand{AttackerID: hero, Kind: combat.AttackMelee, Weapon: "longsword", Targets: []string{orc}, Attempt: 18}, http.StatusForbidden, errors.ErrPermissionDenied},
		{"没有武器", player, combat.AttackCommand{AttackerID: hero, Kind: combat.AttackMelee, Weapon: "axe", Targets: []string{orc}, Attempt: 18}, http.StatusBadRequest, errors.ErrInventoryAbsence},
		{"未知类型", player, combat.AttackCommand{AttackerID: hero, Kind: "kick", Targets: []string{orc}}, http.StatusBadRequest, errors.ErrWrongParamType},
		{"不是当前回合", gm, combat.AttackCommand{AttackerID: orc, Kind: combat.AttackMelee, Weapon: "club", Targets: []string{hero}, Attempt: 18}, http.StatusConflict, errors.ErrWrongTurn},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			w := s.do(http.MethodPost, "/api/v1/sessions/"+id+"/attacks", tc.party, tc.cmd)
			s.Equal(tc.status, w.Code, w.Body.String())
			s.Equal(tc.code, s.errorCode(w))
		})
	}

	// 未命中不需要询问玩家
	w := s.do(http.MethodPost, "/api/v1/sessions/"+id+"/attacks", player,
		combat.AttackCommand{AttackerID: hero, Kind: combat.AttackMelee, Weapon: "longsword", Targets: []string{orc}, Attempt: 10})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var res combat.AttackResult
	s.data(w, &res)
	s.Empty(res.Hits)
	s.Equal([]string{orc}, res.Misses)
}

// TestAttackOverWebSocket 命中后通过 WebSocket 向攻击者的玩家要伤害骰
func (s *RouterTestSuite) TestAttackOverWebSocket() {
	id := s.createSession()
	hero := s.addCombatant(id, gm, heroSpec())
	orc := s.addCombatant(id, gm, orcSpec())

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + s.token(player)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	var msg ws.Message
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Require().Equal(ws.MessageTypeConnected, msg.Type)

	s.Require().NoError(conn.WriteJSON(ws.Message{Type: ws.MessageTypeJoinSession, SessionID: id}))
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Require().Equal(ws.MessageTypeJoined, msg.Type)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- s.do(http.MethodPost, "/api/v1/sessions/"+id+"/attacks", player,
			combat.AttackCommand{AttackerID: hero, Kind: combat.AttackMelee, Weapon: "longsword", Targets: []string{orc}, Attempt: 18})
	}()

	// 跳过事件消息，直到收到交互请求
	var env broker.Envelope
	for {
		_, raw, err := conn.ReadMessage()
		s.Require().NoError(err)
		var head struct {
			Type string `json:"type"`
		}
		s.Require().NoError(json.Unmarshal(raw, &head))
		if head.Type == broker.EnvelopeType {
			s.Require().NoError(json.Unmarshal(raw, &env))
			break
		}
	}
	s.Equal(combat.PromptDamageRoll, env.Kind)
	s.Equal(id, env.SessionID)

	s.Require().NoError(conn.WriteJSON(ws.Message{
		Type:          ws.MessageTypeInteractionReply,
		CorrelationID: env.CorrelationID,
		Data:          json.RawMessage(`{"value":12}`),
	}))

	select {
	case w := <-done:
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
		var res combat.AttackResult
		s.data(w, &res)
		s.Equal([]string{orc}, res.Hits)
		s.Equal(12, res.Damage)
		s.Equal([]string{orc}, res.Died)
		s.False(res.TimedOut)
	case <-time.After(5 * time.Second):
		s.Fail("攻击请求没有返回")
	}
}

// TestWebSocketConfig 路径与来源白名单取自配置
func (s *RouterTestSuite) TestWebSocketConfig() {
	deps := s.deps
	deps.WebSocket = config.WebSocketConfig{
		Path: "/live", ReadBufferSize: 2048, WriteBufferSize: 2048,
		AllowedOrigins: []string{"https://table.example"},
	}
	server := httptest.NewServer(NewRouter(deps).Handler())
	defer server.Close()
	base := "ws" + strings.TrimPrefix(server.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws?token="+s.token(player), nil)
	s.Require().Error(err)
	s.Equal(http.StatusNotFound, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"/live?token="+s.token(player),
		http.Header{"Origin": []string{"https://evil.example"}})
	s.Require().Error(err)
	s.Equal(http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/live?token="+s.token(player),
		http.Header{"Origin": []string{"https://table.example"}})
	s.Require().NoError(err)
	defer conn.Close()
	var msg ws.Message
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(3 * time.Second)))
	s.Require().NoError(conn.ReadJSON(&msg))
	s.Equal(ws.MessageTypeConnected, msg.Type)
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://table.example")

	assert.True(t, originChecker(nil)(req))
	assert.True(t, originChecker([]string{"*"})(req))
	assert.True(t, originChecker([]string{"https://table.example"})(req))
	assert.False(t, originChecker([]string{"https://other.example"})(req))
}

func TestQueryInt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=3&size=x", nil)

	require.Equal(t, 3, queryInt(c, "page", 1))
	require.Equal(t, 10, queryInt(c, "size", 10))
	require.Equal(t, 7, queryInt(c, "missing", 7))
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat"
	"github.com/wfunc/combat-table/internal/config"
	"github.com/wfunc/combat-table/internal/middleware"
	"github.com/wfunc/combat-table/internal/repository"
	ws "github.com/wfunc/combat-table/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps 路由依赖
type Deps struct {
	DB        *gorm.DB
	Store     *repository.Store
	Engine    *combat.Engine
	Broker    *broker.Broker
	Hub       *ws.Hub
	Validator middleware.TokenValidator
	Logger    *zap.Logger

	// WebSocket 路径、缓冲与来源白名单，来源为空表示不限制
	WebSocket config.WebSocketConfig
}

// Router API路由器
type Router struct {
	engine *gin.Engine
	deps   Deps
	log    *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.WebSocket.Path == "" {
		deps.WebSocket.Path = "/ws"
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestLogger())

	r := &Router{engine: engine, deps: deps, log: deps.Logger}
	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	auth := middleware.NewAuthMiddleware(r.deps.Validator)
	sessions := NewSessionHandler(r.deps.Engine, r.deps.Store)
	combatH := NewCombatHandler(r.deps.Engine)
	spells := NewSpellHandler(r.deps.Store)
	profiles := NewProfileHandler(r.deps.Store)
	wsH := NewWebSocketHandler(r.deps.Hub, r.deps.WebSocket, r.log)

	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	v1.Use(auth.RequireAuth())
	{
		s := v1.Group("/sessions")
		{
			s.POST("", sessions.CreateSession)
			s.GET("", sessions.ListSessions)
			s.GET("/:id", sessions.GetSession)
			s.DELETE("/:id", sessions.DeleteSession)
			s.GET("/:id/events", sessions.ListEvents)

			s.POST("/:id/start", sessions.Transition(combat.CommandStart))
			s.POST("/:id/pause", sessions.Transition(combat.CommandPause))
			s.POST("/:id/resume", sessions.Transition(combat.CommandResume))
			s.POST("/:id/stop", sessions.Transition(combat.CommandStop))

			s.GET("/:id/combatants", sessions.ListCombatants)
			s.POST("/:id/combatants", sessions.AddCombatant)
			s.DELETE("/:id/combatants/:eid", sessions.RemoveCombatant)

			s.GET("/:id/turns", combatH.Turns)
			s.POST("/:id/turns/end", combatH.EndTurn)
			s.POST("/:id/turns/postpone", combatH.PostponeTurn)

			s.POST("/:id/attacks", combatH.Attack)
			s.POST("/:id/saving-throws", combatH.SavingThrow)
			s.POST("/:id/effects", combatH.AddEffect)
			s.POST("/:id/reactions", combatH.EnableReaction)
			s.POST("/:id/rests", combatH.LongRest)
		}

		v1.POST("/spells", spells.CreateSpell)
		v1.GET("/spells/:id", spells.GetSpell)
		v1.GET("/profiles/:id", profiles.GetProfile)
	}

	// WebSocket 握手无法带 Header，令牌走 query
	r.engine.GET(r.deps.WebSocket.Path, auth.RequireAuth(), wsH.Connect)

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	r.engine.NoRoute(noRoute)
	r.engine.NoMethod(noMethod)
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":  "healthy",
		"message": "服务运行正常",
	}

	if r.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx, r.deps.DB); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["message"] = "数据库不可用"
			r.log.Warn("健康检查失败", zap.Error(err))
		}
	}
	if r.deps.Hub != nil {
		body["connections"] = r.deps.Hub.GetOnlineCount()
		body["parties"] = len(r.deps.Hub.OnlineParties())
	}
	if r.deps.Broker != nil {
		body["interactions"] = gin.H{
			"pending": r.deps.Broker.Pending(),
			"stats":   r.deps.Broker.Stats(),
		}
	}

	c.JSON(status, body)
}

func ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Handler 返回 http.Handler，供 http.Server 使用
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

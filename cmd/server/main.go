package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/combat-table/internal/api"
	"github.com/wfunc/combat-table/internal/broker"
	"github.com/wfunc/combat-table/internal/combat"
	"github.com/wfunc/combat-table/internal/config"
	"github.com/wfunc/combat-table/internal/database"
	"github.com/wfunc/combat-table/internal/errors"
	"github.com/wfunc/combat-table/internal/logger"
	"github.com/wfunc/combat-table/internal/repository"
	"github.com/wfunc/combat-table/internal/utils"
	ws "github.com/wfunc/combat-table/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	hub    *ws.Hub
	broker *broker.Broker
	engine *combat.Engine
	store  *repository.Store
	http   *http.Server
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	setupSystem(&cfg.System)

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("服务器初始化失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.Error("服务器异常退出", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务器已安全关闭")
}

// NewServer 装配数据库、交互代理、WebSocket 与 HTTP 路由
func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.GetLogger()

	if err := database.Init(&cfg.Database); err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	db := database.GetDB()
	store := repository.NewStore(db)

	hub := ws.NewHub(ws.NewDirectory(), logger.WithModule("websocket"))
	hub.SetOptions(ws.Options{
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		SendBufferSize: cfg.WebSocket.SendBufferSize,
	})
	b := broker.New(hub, broker.Config{
		DefaultTimeout: cfg.Combat.InteractionTimeout,
		MaxTimeout:     cfg.Combat.MaxInteractionTimeout,
	}, logger.WithModule("broker"))
	ws.NewCombatHandler(hub, b, store, logger.WithModule("websocket"))

	events := combat.NewEventRecorder(store, hub, logger.WithModule("combat"))
	engine := combat.New(store, b, events, logger.WithModule("combat"),
		combat.WithInteractionTimeout(cfg.Combat.InteractionTimeout),
		combat.WithResolutionTimeout(cfg.Combat.ResolutionTimeout))

	jwt := utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour)

	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		DB:             db,
		Store:          store,
		Engine:         engine,
		Broker:         b,
		Hub:            hub,
		Validator:      jwt,
		Logger:         logger.WithModule("api"),
		WebSocket:      cfg.WebSocket,
	})

	return &Server{
		cfg:    cfg,
		logger: log,
		hub:    hub,
		broker: b,
		engine: engine,
		store:  store,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router.Handler(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

// Run 运行直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("正在启动战斗桌服务器",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("config", config.ConfigFile()))

	config.Watch(s.reloadConfig)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.hub.Run(gctx)
	})

	g.Go(func() error {
		s.logger.Info("HTTP服务监听", zap.String("address", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, errors.ErrUnknown, "HTTP服务异常")
		}
		return nil
	})

	g.Go(func() error {
		s.cleanupEvents(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

// shutdown 停止接收请求，结束等待中的交互，关闭数据库
func (s *Server) shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先结束交互，阻塞在掷骰上的请求才能返回
	s.broker.Close()

	var err error
	if e := s.http.Shutdown(ctx); e != nil {
		s.logger.Warn("HTTP服务关闭超时", zap.Error(e))
		err = errors.Wrap(e, errors.ErrTimeout, "关闭超时")
	}

	// Hub 注销连接时还要写在线状态，等它停下再关数据库
	select {
	case <-s.hub.Done():
	case <-ctx.Done():
		s.logger.Warn("等待WebSocket Hub停止超时")
	}
	if e := database.Close(); e != nil {
		s.logger.Error("关闭数据库失败", zap.Error(e))
	}
	return err
}

// cleanupEvents 每小时清理过期的战斗事件
func (s *Server) cleanupEvents(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if retention := config.Get().Combat.EventRetention; retention > 0 {
			n, err := s.store.CleanupEvents(ctx, time.Now().Add(-retention))
			if err != nil {
				s.logger.Warn("清理战斗事件失败", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("已清理过期战斗事件", zap.Int64("count", n))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reloadConfig 应用可热更新的配置
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)
	s.broker.SetTimeouts(newCfg.Combat.InteractionTimeout, newCfg.Combat.MaxInteractionTimeout)
	s.engine.SetTimeouts(newCfg.Combat.InteractionTimeout, newCfg.Combat.ResolutionTimeout)
	s.logger.Info("配置重新加载完成",
		zap.String("log_level", newCfg.Log.Level),
		zap.Duration("interaction_timeout", newCfg.Combat.InteractionTimeout),
		zap.Duration("resolution_timeout", newCfg.Combat.ResolutionTimeout))
}

// setupSystem 设置系统参数
func setupSystem(cfg *config.SystemConfig) {
	if cfg.Timezone != "" {
		if loc, err := time.LoadLocation(cfg.Timezone); err == nil {
			time.Local = loc
		}
	}
	if cfg.MaxProcs > 0 {
		runtime.GOMAXPROCS(cfg.MaxProcs)
	}
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("战斗桌服务器\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

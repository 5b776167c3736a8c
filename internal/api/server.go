package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ziyic8/mp3/internal/api/middleware"
	"github.com/ziyic8/mp3/internal/config"
	"github.com/ziyic8/mp3/internal/model"
	"github.com/ziyic8/mp3/internal/pkg/doclock"
	"github.com/ziyic8/mp3/internal/pkg/metrics"
	"github.com/ziyic8/mp3/internal/relation"
	"github.com/ziyic8/mp3/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有文档存储、文档租约管理器、关系同步引擎以及 Gin 路由引擎。
// Redis 始终在场：即便文档落在 MySQL，租约也统一放在 Redis，
// 保证加锁顺序全局一致。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	rdb    *redis.Client
	db     *gorm.DB // 仅 mysql 后端使用
	docs   store.Store
	engine *relation.Engine
	router *gin.Engine
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 Redis（文档租约；redis 后端时也承载文档）
// 2. 按配置连接 MySQL 并执行自动迁移
// 3. 组装存储、租约管理器与关系引擎
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	var docs store.Store
	var db *gorm.DB
	switch cfg.Store.Backend {
	case "mysql":
		var err error
		db, err = gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		})
		if err != nil {
			return nil, err
		}
		docs, err = store.NewMySQLStore(db)
		if err != nil {
			return nil, err
		}
	default:
		docs = store.NewRedisStore(rdb)
	}

	locks := doclock.NewManager(rdb, logger, cfg.App.LockTTL, cfg.App.LockWait)
	engine := relation.NewEngine(docs, locks, logger)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		rdb:    rdb,
		db:     db,
		docs:   docs,
		engine: engine,
		router: r,
	}
	s.registerRoutes()
	return s, nil
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与 Redis 连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	api := s.router.Group("/api")
	api.GET("/users", s.handleList(model.CollectionUsers))
	api.GET("/users/:id", s.handleGetOne(model.CollectionUsers))
	api.POST("/users", s.handleCreate(model.CollectionUsers))
	api.PUT("/users/:id", s.handleReplace(model.CollectionUsers))
	api.DELETE("/users/:id", s.handleDelete(model.CollectionUsers))

	api.GET("/tasks", s.handleList(model.CollectionTasks))
	api.GET("/tasks/:id", s.handleGetOne(model.CollectionTasks))
	api.POST("/tasks", s.handleCreate(model.CollectionTasks))
	api.PUT("/tasks/:id", s.handleReplace(model.CollectionTasks))
	api.DELETE("/tasks/:id", s.handleDelete(model.CollectionTasks))
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.db != nil {
		var one int
		if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App   AppConfig   `json:"app"`
	Store StoreConfig `json:"store"`
	MySQL MySQLConfig `json:"mysql"`
	Redis RedisConfig `json:"redis"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string        `json:"env"`       // 运行环境: local / prod
	LogLevel string        `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string        `json:"http_addr"` // API 服务监听地址
	LockTTL  time.Duration `json:"lock_ttl"`  // 文档租约存活时间（如 "5s"）
	LockWait time.Duration `json:"lock_wait"` // 文档租约等待上限（如 "2s"）
	SeedDemo bool          `json:"seed_demo"` // 启动时写入演示数据
}

// StoreConfig 文档存储配置。
type StoreConfig struct {
	Backend string `json:"backend"` // 后端: redis / mysql
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 环境变量始终优先覆盖。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json"）
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "info",
			HTTPAddr: ":3000",
			LockTTL:  5 * time.Second,
			LockWait: 2 * time.Second,
			SeedDemo: false,
		},
		Store: StoreConfig{
			Backend: "redis",
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/mp3?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.LockTTL == 0 {
		cfg.App.LockTTL = defaults.App.LockTTL
	}
	if cfg.App.LockWait == 0 {
		cfg.App.LockWait = defaults.App.LockWait
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = defaults.Store.Backend
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_dsn", "DB_DSN")
	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.LockTTL = d
		}
	}
	if v := os.Getenv("APP_LOCK_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.LockWait = d
		}
	}
	if v := os.Getenv("APP_SEED_DEMO"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.App.SeedDemo = b
		}
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}

	if v := viper.GetString("db_dsn"); v != "" {
		cfg.MySQL.DSN = v
	} else if viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := "3306"
			if v2 := os.Getenv("DB_PORT"); v2 != "" {
				port = v2
			}
			parsed.Addr = v + ":" + port
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "mp3",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		LockTTL  string `json:"lock_ttl"`
		LockWait string `json:"lock_wait"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.LockTTL != "" {
		duration, err := time.ParseDuration(aux.LockTTL)
		if err != nil {
			return fmt.Errorf("invalid lock_ttl format: %w", err)
		}
		a.LockTTL = duration
	}
	if aux.LockWait != "" {
		duration, err := time.ParseDuration(aux.LockWait)
		if err != nil {
			return fmt.Errorf("invalid lock_wait format: %w", err)
		}
		a.LockWait = duration
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		LockTTL  string `json:"lock_ttl"`
		LockWait string `json:"lock_wait"`
		*Alias
	}{
		LockTTL:  a.LockTTL.String(),
		LockWait: a.LockWait.String(),
		Alias:    (*Alias)(&a),
	})
}

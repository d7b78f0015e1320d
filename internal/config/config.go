package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（通知推送通道）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// ReasoningConfig 外部决策服务配置
type ReasoningConfig struct {
	Enabled    bool
	BaseURL    string
	APIKey     string
	Model      string
	TimeoutSec int
}

// Config 协调服务配置
type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	MQTT      MQTTConfig
	Reasoning ReasoningConfig

	HTTP struct {
		Addr string
	}

	// 调度配置（跨Agent触发队列）
	Dispatch struct {
		Stream        string // 触发消息流，如 "bloodlink:triggers"
		ConsumerGroup string
		ConsumerName  string
		BatchSize     int
		Workers       int
	}

	// 事件日志配置
	EventLog struct {
		Stream string // 事件广播流，如 "bloodlink:events"
	}

	// 缺血检测配置
	Hospital struct {
		ThresholdDays     float64 // 库存告警天数阈值，默认 3
		AutoAlertPercent  float64 // 自动告警阈值（占配置最低库存比例），默认 0.40
		AutoAlertDedupHr  int     // 同类型告警去重窗口（小时），默认 4
		AutoAlertSweepSec int     // 自动告警巡检间隔（秒），默认 300
	}

	// 献血者匹配配置
	Matching struct {
		MaxCandidates int // 单次通知上限，默认 50
	}

	// 协调器配置
	Coordinator struct {
		ResponseWindowMin int // 献血者响应窗口（分钟），默认 30
		SweepIntervalSec  int // 超时巡检间隔（秒），默认 60
		TokenTTLHours     int // 响应令牌有效期（小时），默认 4
	}

	// 库存调拨配置
	Inventory struct {
		MinShelfLifeDays int     // 最短剩余保质期（天），默认 7
		NetworkRadiusKm  float64 // 合作机构检索半径，默认 100
	}

	// 物流配置
	Logistics struct {
		AvgSpeedKmh       float64 // 城区平均车速，默认 40
		ColdChainLimitMin float64 // 冷链运输时限（分钟），默认 360
	}

	// 资格审核配置
	Verification struct {
		MaxAttempts    int // 重试预算，默认 3
		SuspensionDays int // 冷却期（天），默认 90
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（环境变量 + 默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "bloodlink")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "bloodlink-coordinator")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	cfg.Reasoning.Enabled = getEnv("REASONING_ENABLED", "true") == "true"
	cfg.Reasoning.BaseURL = getEnv("REASONING_BASE_URL", "http://localhost:8088")
	cfg.Reasoning.APIKey = getEnv("REASONING_API_KEY", "")
	cfg.Reasoning.Model = getEnv("REASONING_MODEL", "decision-v1")
	cfg.Reasoning.TimeoutSec = getEnvInt("REASONING_TIMEOUT_SEC", 15)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Dispatch.Stream = getEnv("DISPATCH_STREAM", "bloodlink:triggers")
	cfg.Dispatch.ConsumerGroup = getEnv("DISPATCH_GROUP", "bloodlink-agents")
	cfg.Dispatch.ConsumerName = getEnv("DISPATCH_CONSUMER", "worker-1")
	cfg.Dispatch.BatchSize = getEnvInt("DISPATCH_BATCH_SIZE", 10)
	cfg.Dispatch.Workers = getEnvInt("DISPATCH_WORKERS", 4)

	cfg.EventLog.Stream = getEnv("EVENTLOG_STREAM", "bloodlink:events")

	cfg.Hospital.ThresholdDays = getEnvFloat("HOSPITAL_THRESHOLD_DAYS", 3)
	cfg.Hospital.AutoAlertPercent = getEnvFloat("HOSPITAL_AUTO_ALERT_PERCENT", 0.40)
	cfg.Hospital.AutoAlertDedupHr = getEnvInt("HOSPITAL_AUTO_ALERT_DEDUP_HOURS", 4)
	cfg.Hospital.AutoAlertSweepSec = getEnvInt("HOSPITAL_AUTO_ALERT_SWEEP_SEC", 300)

	cfg.Matching.MaxCandidates = getEnvInt("MATCHING_MAX_CANDIDATES", 50)

	cfg.Coordinator.ResponseWindowMin = getEnvInt("COORDINATOR_RESPONSE_WINDOW_MIN", 30)
	cfg.Coordinator.SweepIntervalSec = getEnvInt("COORDINATOR_SWEEP_INTERVAL_SEC", 60)
	cfg.Coordinator.TokenTTLHours = getEnvInt("COORDINATOR_TOKEN_TTL_HOURS", 4)

	cfg.Inventory.MinShelfLifeDays = getEnvInt("INVENTORY_MIN_SHELF_LIFE_DAYS", 7)
	cfg.Inventory.NetworkRadiusKm = getEnvFloat("INVENTORY_NETWORK_RADIUS_KM", 100)

	cfg.Logistics.AvgSpeedKmh = getEnvFloat("LOGISTICS_AVG_SPEED_KMH", 40)
	cfg.Logistics.ColdChainLimitMin = getEnvFloat("LOGISTICS_COLD_CHAIN_LIMIT_MIN", 360)

	cfg.Verification.MaxAttempts = getEnvInt("VERIFICATION_MAX_ATTEMPTS", 3)
	cfg.Verification.SuspensionDays = getEnvInt("VERIFICATION_SUSPENSION_DAYS", 90)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

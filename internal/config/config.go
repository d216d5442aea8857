package config

import (
	"os"
	"strconv"
	"time"

	commoncfg "fleetguard/common/config"
)

// Config 调度服务配置
type Config struct {
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig

	// 外部平台
	Gateway  commoncfg.PlatformConfig // 遥测网关（设备命令）
	Tracking commoncfg.PlatformConfig // 追踪后端（用户 / Realm）

	HTTP struct {
		Addr string
	}

	Telemetry struct {
		IdentityCacheTTL time.Duration // 设备身份缓存 TTL
		LiveStateTTL     time.Duration // 设备实时状态 TTL
		TelemetryStream  string        // 遥测数据输出流
		NotifyStream     string        // 报警/事件通知输出流
		StreamMaxLen     int64
	}

	Geofence struct {
		RadiusMeters float64 // 默认半径（米）
	}

	UsageControl struct {
		Cooldown        time.Duration // 下发命令后的冷却时间（仅提示）
		PendingTimeout  time.Duration // 命令待确认超时，超时后允许再次切换
		LockTTL         time.Duration // 设备锁 TTL
		CommandTTL      time.Duration // 网关命令 TTL
		ConfirmInterval time.Duration // 命令确认轮询间隔
		MinReasonLength int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "fleetguard"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 20
	cfg.Database.MaxIdle = 5
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "fleetguard-dispatch"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Topics = []string{"flespi/state/gw/devices/#", "flespi/message/gw/devices/#"}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Gateway.BaseURL = "https://flespi.io"
	cfg.Gateway.Timeout = 15 * time.Second
	cfg.Gateway.RetryCount = 2
	cfg.Gateway.LoadFromEnv("GATEWAY")

	cfg.Tracking.BaseURL = "http://localhost:8082"
	cfg.Tracking.Timeout = 10 * time.Second
	cfg.Tracking.RetryCount = 2
	cfg.Tracking.LoadFromEnv("TRACKING")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Telemetry.IdentityCacheTTL = getSeconds("IDENTITY_CACHE_TTL_SECONDS", 600)
	cfg.Telemetry.LiveStateTTL = getSeconds("LIVE_STATE_TTL_SECONDS", 86400)
	cfg.Telemetry.TelemetryStream = getEnv("TELEMETRY_STREAM", "fleet:telemetry:stream")
	cfg.Telemetry.NotifyStream = getEnv("NOTIFICATION_STREAM", "fleet:notifications:stream")
	cfg.Telemetry.StreamMaxLen = int64(getInt("STREAM_MAX_LEN", 10000))

	cfg.Geofence.RadiusMeters = getFloat("GEOFENCE_RADIUS_METERS", 100)

	cfg.UsageControl.Cooldown = getSeconds("USAGE_CONTROL_COOLDOWN_SECONDS", 30)
	cfg.UsageControl.PendingTimeout = getSeconds("USAGE_CONTROL_PENDING_TIMEOUT_SECONDS", 120)
	cfg.UsageControl.LockTTL = getSeconds("USAGE_CONTROL_LOCK_TTL_SECONDS", 20)
	cfg.UsageControl.CommandTTL = getSeconds("COMMAND_TTL_SECONDS", 300)
	cfg.UsageControl.ConfirmInterval = getSeconds("CONFIRMATION_POLL_INTERVAL_SECONDS", 15)
	cfg.UsageControl.MinReasonLength = getInt("USAGE_CONTROL_MIN_REASON_LENGTH", 3)

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

func getInt(key string, def int) int {
	i, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return i
}

func getFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func getSeconds(key string, def int) time.Duration {
	secs := getInt(key, def)
	if secs <= 0 {
		secs = def
	}
	return time.Duration(secs) * time.Second
}

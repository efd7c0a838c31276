package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Log      LogConfig
	AI       AIConfig
	Dialogue DialogueConfig
	Persona  PersonaConfig
	History  HistoryConfig
	Ambient  AmbientConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	dialogue, err := loadDialogueConfig()
	if err != nil {
		return nil, err
	}

	history, err := loadHistoryConfig()
	if err != nil {
		return nil, err
	}

	ambient, err := loadAmbientConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Log:      logCfg,
		AI:       ai,
		Dialogue: dialogue,
		Persona:  PersonaConfig{File: strings.TrimSpace(os.Getenv("PERSONA_FILE"))},
		History:  history,
		Ambient:  ambient,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level slog.Level
	JSON  bool
	File  string
}

func loadLogConfig() (LogConfig, error) {
	// 生产环境默认 JSON，可用 LOG_JSON 覆盖
	production := strings.EqualFold(getEnvOrDefault("ENVIRONMENT", "development"), "production")
	jsonOutput, err := parseBoolEnv("LOG_JSON", production)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		Level: parseLogLevel(getEnvOrDefault("LOG_LEVEL", "info")),
		JSON:  jsonOutput,
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DialogueConfig 控制提示词编译。
type DialogueConfig struct {
	HistoryWindow   int
	MaxParticipants int
}

func loadDialogueConfig() (DialogueConfig, error) {
	window, err := parseIntEnv("DIALOGUE_HISTORY_WINDOW", 6)
	if err != nil {
		return DialogueConfig{}, err
	}
	// 0 使用编译器默认窗口
	if window < 0 {
		window = 0
	}

	maxParticipants, err := parseIntEnv("DIALOGUE_MAX_PARTICIPANTS", 6)
	if err != nil {
		return DialogueConfig{}, err
	}
	if maxParticipants < 2 {
		maxParticipants = 2
	}

	return DialogueConfig{HistoryWindow: window, MaxParticipants: maxParticipants}, nil
}

// PersonaConfig 指定角色目录文件；为空时使用内置角色。
type PersonaConfig struct {
	File string
}

// HistoryConfig 描述对话历史存储。
type HistoryConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxTurns      int
	MaxScenes     int
	TTL           time.Duration
}

// UseRedis 表示是否配置了 Redis。
func (c HistoryConfig) UseRedis() bool {
	return c.RedisAddr != ""
}

func loadHistoryConfig() (HistoryConfig, error) {
	db, err := parseIntEnv("REDIS_DB", 0)
	if err != nil {
		return HistoryConfig{}, err
	}

	maxTurns, err := parseIntEnv("HISTORY_MAX_TURNS", 200)
	if err != nil {
		return HistoryConfig{}, err
	}
	if maxTurns < 1 {
		maxTurns = 1
	}

	maxScenes, err := parseIntEnv("HISTORY_MAX_SCENES", 128)
	if err != nil {
		return HistoryConfig{}, err
	}
	if maxScenes < 1 {
		maxScenes = 1
	}

	ttl, err := parseDurationEnv("HISTORY_TTL", 0)
	if err != nil {
		return HistoryConfig{}, err
	}

	return HistoryConfig{
		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       db,
		MaxTurns:      maxTurns,
		MaxScenes:     maxScenes,
		TTL:           ttl,
	}, nil
}

// AmbientConfig 控制后台闲聊。
type AmbientConfig struct {
	Interval    time.Duration
	Scene       string
	Atmosphere  string
	MaxInFlight int
}

// Enabled 表示是否开启后台闲聊。
func (c AmbientConfig) Enabled() bool {
	return c.Interval > 0
}

func loadAmbientConfig() (AmbientConfig, error) {
	interval, err := parseDurationEnv("AMBIENT_INTERVAL", 0)
	if err != nil {
		return AmbientConfig{}, err
	}

	inFlight, err := parseIntEnv("AMBIENT_MAX_IN_FLIGHT", 4)
	if err != nil {
		return AmbientConfig{}, err
	}
	if inFlight < 1 {
		inFlight = 1
	}

	return AmbientConfig{
		Interval:    interval,
		Scene:       getEnvOrDefault("AMBIENT_SCENE", "The Common Room"),
		Atmosphere:  getEnvOrDefault("AMBIENT_ATMOSPHERE", "lively, smoky, a fire crackling in the hearth"),
		MaxInFlight: inFlight,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

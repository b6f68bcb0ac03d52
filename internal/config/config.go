package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/z-parlor/backend/internal/service/gateway"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Memory    MemoryConfig
	Retrieval RetrievalConfig
	Turn      TurnConfig
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

	memory, err := loadMemoryConfig()
	if err != nil {
		return nil, err
	}

	retrieval, err := loadRetrievalConfig()
	if err != nil {
		return nil, err
	}

	turn, err := loadTurnConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Memory: memory, Retrieval: retrieval, Turn: turn}, nil
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

// AIConfig 描述大模型相关配置。Provider 决定走火山Ark还是
// OpenAI兼容端点。
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Timeout     time.Duration
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	switch c.Provider {
	case "openai":
		return gateway.NewOpenAIChatModel(c.APIKey, c.BaseURL, c.Model)
	case "", "ark":
		return c.newArkChatModel(ctx)
	default:
		return nil, fmt.Errorf("unknown AI_PROVIDER %q, expected ark or openai", c.Provider)
	}
}

func (c AIConfig) newArkChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	timeout, err := parseDurationEnv("AI_TIMEOUT", 60*time.Second)
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("AI_PROVIDER", "ark"))

	apiKey := strings.TrimSpace(os.Getenv("ARK_API_KEY"))
	baseURL := getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3")
	if provider == "openai" {
		apiKey = getEnvOrDefault("OPENAI_API_KEY", apiKey)
		baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	}

	return AIConfig{
		Provider:    provider,
		APIKey:      apiKey,
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("Model")),
		BaseURL:     baseURL,
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
	}, nil
}

// MemoryConfig 描述会话历史的两级存储配置。
type MemoryConfig struct {
	// BadgerPath 为空时使用纯内存的持久层，适合本地开发。
	BadgerPath   string
	TTL          time.Duration
	FlushRetries int
	FlushBackoff time.Duration
}

func loadMemoryConfig() (MemoryConfig, error) {
	ttl, err := parseDurationEnv("MEMORY_TTL", 48*time.Hour)
	if err != nil {
		return MemoryConfig{}, err
	}

	backoff, err := parseDurationEnv("MEMORY_FLUSH_BACKOFF", 100*time.Millisecond)
	if err != nil {
		return MemoryConfig{}, err
	}

	retries := 5
	if override, err := parseOptionalIntEnv("MEMORY_FLUSH_RETRIES"); err != nil {
		return MemoryConfig{}, err
	} else if override != nil && *override > 0 {
		retries = *override
	}

	return MemoryConfig{
		BadgerPath:   strings.TrimSpace(os.Getenv("MEMORY_BADGER_PATH")),
		TTL:          ttl,
		FlushRetries: retries,
		FlushBackoff: backoff,
	}, nil
}

// RetrievalConfig 描述知识检索配置。
type RetrievalConfig struct {
	Enabled bool
	Timeout time.Duration
	TopK    int
}

func loadRetrievalConfig() (RetrievalConfig, error) {
	enabled, err := parseBoolEnv("RETRIEVAL_ENABLED", true)
	if err != nil {
		return RetrievalConfig{}, err
	}

	timeout, err := parseDurationEnv("RETRIEVAL_TIMEOUT", 2*time.Second)
	if err != nil {
		return RetrievalConfig{}, err
	}

	topK := 3
	if override, err := parseOptionalIntEnv("RETRIEVAL_TOP_K"); err != nil {
		return RetrievalConfig{}, err
	} else if override != nil && *override > 0 {
		topK = *override
	}

	return RetrievalConfig{Enabled: enabled, Timeout: timeout, TopK: topK}, nil
}

// TurnConfig 描述对话编排配置。
type TurnConfig struct {
	HistoryLimit int
	StreamBuffer int
}

func loadTurnConfig() (TurnConfig, error) {
	historyLimit := 10
	if override, err := parseOptionalIntEnv("TURN_HISTORY_LIMIT"); err != nil {
		return TurnConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	streamBuffer := 16
	if override, err := parseOptionalIntEnv("TURN_STREAM_BUFFER"); err != nil {
		return TurnConfig{}, err
	} else if override != nil && *override > 0 {
		streamBuffer = *override
	}

	return TurnConfig{HistoryLimit: historyLimit, StreamBuffer: streamBuffer}, nil
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

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
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

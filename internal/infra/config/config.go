package config

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Env  string
	Port string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	EmbedderURL     string
	EmbedderModel   string
	EmbedderTimeout int // seconds
	EmbedCacheSize  int

	GatewayURL            string
	GatewayAPIKey         string
	GatewayModel          string
	GatewayFallbackModels []string
	GatewayTimeout        int // seconds, whole-stream budget
	GatewayAttemptTimeout int // seconds, per fallback attempt to first byte
	GatewayRPS            float64

	RetrievalMode      string
	RetrievalCount     int
	RetrievalThreshold float64
	HybridAlpha        float64

	HistoryWindow   int
	ExcerptRunes    int
	AnswerMaxTokens int
	Temperature     float64

	ProfilesPath   string
	DefaultProfile string
}

func Load() *Config {
	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "9020"),

		DBHost:     getEnv("DB_HOST", "knowledge-db"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "ziwei_user"),
		DBPassword: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "ziwei_password"),
		DBName:     getEnv("DB_NAME", "ziwei_kb"),

		EmbedderURL:     getEnv("EMBEDDER_URL", "http://embedder:11434"),
		EmbedderModel:   getEnv("EMBEDDER_MODEL", "bge-m3"),
		EmbedderTimeout: getEnvInt("EMBEDDER_TIMEOUT", 30),
		EmbedCacheSize:  getEnvInt("EMBED_CACHE_SIZE", 512),

		GatewayURL:            getEnv("GATEWAY_URL", "http://llm-gateway:8000"),
		GatewayAPIKey:         getSecret("GATEWAY_API_KEY", "GATEWAY_API_KEY_FILE", ""),
		GatewayModel:          getEnv("GATEWAY_MODEL", "qwen-max"),
		GatewayFallbackModels: getEnvList("GATEWAY_FALLBACK_MODELS", "qwen-plus"),
		GatewayTimeout:        getEnvInt("GATEWAY_TIMEOUT", 120),
		GatewayAttemptTimeout: getEnvInt("GATEWAY_ATTEMPT_TIMEOUT", 15),
		GatewayRPS:            getEnvFloat("GATEWAY_RPS", 10),

		RetrievalMode:      getEnv("RETRIEVAL_MODE", "hybrid"),
		RetrievalCount:     getEnvInt("RETRIEVAL_COUNT", 5),
		RetrievalThreshold: getEnvFloat("RETRIEVAL_THRESHOLD", 0.5),
		HybridAlpha:        getEnvFloat("HYBRID_ALPHA", 0.7),

		HistoryWindow:   getEnvInt("HISTORY_WINDOW", 10),
		ExcerptRunes:    getEnvInt("EXCERPT_RUNES", 300),
		AnswerMaxTokens: getEnvInt("ANSWER_MAX_TOKENS", 2048),
		Temperature:     getEnvFloat("TEMPERATURE", 0.7),

		ProfilesPath:   getEnv("PERSONA_PROFILES_PATH", ""),
		DefaultProfile: getEnv("PERSONA_DEFAULT_PROFILE", "master"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

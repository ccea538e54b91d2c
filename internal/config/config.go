package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies an inference backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"

	// ProviderHash embeds locally with a deterministic hash; for development without a model server.
	ProviderHash Provider = "hash"
)

// StoreBackend identifies the memory store implementation.
type StoreBackend string

const (
	// StoreSurrealDB keeps memories in SurrealDB, one table per channel.
	StoreSurrealDB StoreBackend = "surrealdb"

	// StoreChromem keeps memories in an in-process chromem-go database.
	StoreChromem StoreBackend = "chromem"
)

// Config holds all configuration values.
type Config struct {
	// Memory store
	Store              StoreBackend
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Inference
	LLMProvider     Provider
	LLMModel        string
	EmbedProvider   Provider
	EmbedModel      string
	EmbedDimension  int
	EmbedCacheSize  int
	OllamaHost      string
	KeepAlive       string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Collaborators
	TTSHost   string
	RVCHost   string
	ToolsHost string

	// Behaviour
	PersonalitiesFile string
	VoiceDebounce     time.Duration
	MergeToolResults  bool
	SynthesizeAudio   bool

	// Front ends
	ServerPort      string
	RateLimitRPM    int
	RateLimitBurst  int
	DiscordToken    string
	DiscordChannels []string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Store:              StoreBackend(getEnv("TEMPEST_STORE", string(StoreSurrealDB))),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "tempest"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "memory"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     Provider(getEnv("TEMPEST_LLM_PROVIDER", string(ProviderOllama))),
		LLMModel:        getEnv("TEMPEST_LLM_MODEL", "llama3.3"),
		EmbedProvider:   Provider(getEnv("TEMPEST_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:      getEnv("TEMPEST_EMBED_MODEL", "mxbai-embed-large"),
		EmbedDimension:  getEnvInt("TEMPEST_EMBED_DIMENSION", 1024),
		EmbedCacheSize:  getEnvInt("TEMPEST_EMBED_CACHE_SIZE", 512),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		KeepAlive:       getEnv("TEMPEST_KEEP_ALIVE", "60m"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),

		TTSHost:   getEnv("TEMPEST_TTS_HOST", "http://localhost:8080"),
		RVCHost:   getEnv("TEMPEST_RVC_HOST", "http://localhost:8081"),
		ToolsHost: getEnv("TEMPEST_TOOLS_HOST", "http://localhost:8000"),

		PersonalitiesFile: getEnv("TEMPEST_PERSONALITIES_FILE", ""),
		VoiceDebounce:     getEnvDuration("TEMPEST_VOICE_DEBOUNCE", 2*time.Second),
		MergeToolResults:  getEnv("TEMPEST_MERGE_TOOL_RESULTS", "false") == "true",
		SynthesizeAudio:   getEnv("TEMPEST_SYNTHESIZE_AUDIO", "true") == "true",

		ServerPort:      getEnv("TEMPEST_SERVER_PORT", "3000"),
		RateLimitRPM:    getEnvInt("TEMPEST_RATE_LIMIT_RPM", 60),
		RateLimitBurst:  getEnvInt("TEMPEST_RATE_LIMIT_BURST", 5),
		DiscordToken:    getEnv("DISCORD_TOKEN", ""),
		DiscordChannels: splitList(getEnv("TEMPEST_DISCORD_CHANNELS", "")),

		LogFile:  getEnv("TEMPEST_LOG_FILE", "/tmp/tempest.log"),
		LogLevel: parseLogLevel(getEnv("TEMPEST_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

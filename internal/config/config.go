package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

// DevAuthSecret signs tokens when AUTH_HMAC_SECRET is unset. Offline only.
const DevAuthSecret = "supersecret-dev-key"

var ErrInsecureSecret = errors.New("AUTH_HMAC_SECRET must be set to a non-default value in online mode")

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	LogLevel  string
	LogFormat string

	AuthSecret            string
	EnableTokenHeaderAuth bool // X-User-Token: <user id>

	CORSOrigins []string

	// per client IP on /evaluate
	EvalRateRPS   float64
	EvalRateBurst int

	LLM LLM
}

// LLM describes the OpenAI-compatible endpoint used for scoring and rubric generation.
type LLM struct {
	Provider     string // openai | openrouter
	BaseURL      string
	APIKey       string
	Model        string
	ModelVersion string
	Referer      string // OpenRouter HTTP-Referer
	Title        string // OpenRouter X-Title
	MaxRetries   int
	Timeout      time.Duration
}

// Load reads .env files when present and then builds the config from the environment.
func Load() Config {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	defOrigins := "http://localhost:3000,http://localhost:8501"
	if mode == ModeOnline {
		defOrigins = ""
	}
	return Config{
		Mode:                  mode,
		HTTPAddr:              envOr("HTTP_ADDR", ":8080"),
		DBDriver:              envOr("DB_DRIVER", "sqlite"),
		DBDSN:                 firstEnv("DB_DSN", "DB_URL"),
		LogLevel:              envOr("LOG_LEVEL", "info"),
		LogFormat:             envOr("LOG_FORMAT", "json"),
		AuthSecret:            envOr("AUTH_HMAC_SECRET", DevAuthSecret),
		EnableTokenHeaderAuth: envBool("ENABLE_TOKEN_HEADER_AUTH", true),
		CORSOrigins:           csvOr("CORS_ORIGINS", defOrigins),
		EvalRateRPS:           envFloat("EVAL_RATE_RPS", 2),
		EvalRateBurst:         envInt("EVAL_RATE_BURST", 5),
		LLM:                   llmFromEnv(),
	}
}

func llmFromEnv() LLM {
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	provider := DetectProvider(os.Getenv("LLM_PROVIDER"), baseURL)
	model := firstEnv("MODEL_ID", "MODEL_NAME")
	if model == "" {
		model = "gpt-4o-mini"
	}
	version := os.Getenv("MODEL_VERSION")
	if version == "" {
		version = provider + ":" + model
	}
	return LLM{
		Provider:     provider,
		BaseURL:      baseURL,
		APIKey:       firstEnv("OPENAI_API_KEY", "OPENROUTER_API_KEY"),
		Model:        model,
		ModelVersion: version,
		Referer:      firstEnv("OPENROUTER_REFERER", "OR_HTTP_REFERER"),
		Title:        firstEnv("OPENROUTER_TITLE", "OR_X_TITLE"),
		MaxRetries:   envInt("LLM_MAX_RETRIES", 2),
		Timeout:      time.Duration(envInt("LLM_TIMEOUT_SECONDS", 60)) * time.Second,
	}
}

// Validate rejects settings that are only safe on a developer machine.
func (c Config) Validate() error {
	if c.Mode == ModeOnline && (c.AuthSecret == "" || c.AuthSecret == DevAuthSecret) {
		return ErrInsecureSecret
	}
	return nil
}

// DetectProvider prefers an explicit provider, then sniffs the base URL.
func DetectProvider(explicit, baseURL string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return strings.ToLower(p)
	}
	if strings.Contains(strings.ToLower(baseURL), "openrouter") {
		return "openrouter"
	}
	return "openai"
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return def
	}
	return i
}

func envFloat(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"counsel-bot/internal/integrations/paramstore"
	"counsel-bot/internal/repository"
)

// DefaultPersona is the counselor system prompt used when none is configured.
const DefaultPersona = "あなたは感情に寄り添う優しいカウンセラーです。ユーザーの話に共感し、安心させるような返答をしてください。"

const (
	DefaultModel                 = "gpt-3.5-turbo"
	DefaultMemoryWindow          = 3
	DefaultCallTimeout           = 8 * time.Second
	DefaultCompletionMaxAttempts = 3
	DefaultDispatchMaxAttempts   = 2
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config contains all runtime settings of the relay. It is read once at
// startup.
type Config struct {
	MemoryBackend string
	StateTable    string
	DatabaseURL   string
	Retention     time.Duration

	ParamPrefix string

	OpenAIModel     string
	OpenAIBaseURL   string
	LineAPIBaseURL  string
	PersonaPrompt   string
	MemoryWindow    int
	CallTimeout     time.Duration
	CompletionTries int
	DispatchTries   int

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         slog.Level
}

// Credentials are the secrets the relay needs. They are held in memory only.
type Credentials struct {
	ChannelSecret      string
	ChannelAccessToken string
	OpenAIKey          string
}

// Load reads environment variables through lookup and applies defaults.
// A nil lookup reads the process environment.
func Load(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	cfg := Config{
		MemoryBackend:    strings.ToLower(env.orDefault("MEMORY_BACKEND", repository.BackendDynamoDB)),
		StateTable:       env.trimmed("STATE_TABLE"),
		DatabaseURL:      env.trimmed("DATABASE_URL"),
		ParamPrefix:      strings.TrimRight(env.trimmed("PARAM_PREFIX"), "/"),
		OpenAIModel:      env.orDefault("OPENAI_MODEL", DefaultModel),
		OpenAIBaseURL:    env.trimmed("OPENAI_BASE_URL"),
		LineAPIBaseURL:   env.trimmed("LINE_API_BASE_URL"),
		PersonaPrompt:    env.orDefault("PERSONA_PROMPT", DefaultPersona),
		BindAddr:         env.orDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: env.orDefault("APP_METRICS_NAMESPACE", "counsel_bot"),
	}

	var err error
	if cfg.MemoryWindow, err = env.integer("MEMORY_WINDOW", DefaultMemoryWindow); err != nil {
		return Config{}, err
	}
	if cfg.CompletionTries, err = env.integer("COMPLETION_MAX_ATTEMPTS", DefaultCompletionMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.DispatchTries, err = env.integer("DISPATCH_MAX_ATTEMPTS", DefaultDispatchMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.CallTimeout, err = env.duration("CALL_TIMEOUT", DefaultCallTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Retention, err = env.duration("RETENTION", 0); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = env.duration("APP_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return Config{}, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(env.orDefault("LOG_LEVEL", "INFO"))); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL parse error: %w", err)
	}

	switch cfg.MemoryBackend {
	case repository.BackendDynamoDB:
		if cfg.StateTable == "" {
			return Config{}, errors.New("STATE_TABLE is required for the dynamodb backend")
		}
	case repository.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required for the postgres backend")
		}
	case repository.BackendMemory:
	default:
		return Config{}, fmt.Errorf("MEMORY_BACKEND %q is not one of dynamodb, postgres, memory", cfg.MemoryBackend)
	}
	if cfg.MemoryWindow <= 0 {
		return Config{}, errors.New("MEMORY_WINDOW must be positive")
	}
	if cfg.CompletionTries <= 0 {
		return Config{}, errors.New("COMPLETION_MAX_ATTEMPTS must be positive")
	}
	if cfg.DispatchTries <= 0 {
		return Config{}, errors.New("DISPATCH_MAX_ATTEMPTS must be positive")
	}
	if cfg.CallTimeout <= 0 {
		return Config{}, errors.New("CALL_TIMEOUT must be positive")
	}
	if cfg.Retention < 0 {
		return Config{}, errors.New("RETENTION must not be negative")
	}
	return cfg, nil
}

// LoadCredentials reads the secrets from Parameter Store when cfg has a
// parameter prefix, otherwise from the environment.
func LoadCredentials(ctx context.Context, cfg Config, getter paramstore.Getter, lookup LookupFunc) (Credentials, error) {
	if cfg.ParamPrefix != "" {
		if getter == nil {
			return Credentials{}, errors.New("config: paramstore getter must not be nil")
		}
		var creds Credentials
		var err error
		if creds.ChannelSecret, err = fetchToken(ctx, getter, cfg.ParamPrefix+"/line-channel-secret"); err != nil {
			return Credentials{}, err
		}
		if creds.ChannelAccessToken, err = fetchToken(ctx, getter, cfg.ParamPrefix+"/line-channel-access-token"); err != nil {
			return Credentials{}, err
		}
		if creds.OpenAIKey, err = fetchToken(ctx, getter, cfg.ParamPrefix+"/open-ai-token"); err != nil {
			return Credentials{}, err
		}
		return creds, nil
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}
	creds := Credentials{
		ChannelSecret:      env.trimmed("LINE_CHANNEL_SECRET"),
		ChannelAccessToken: env.trimmed("LINE_ACCESS_TOKEN"),
		OpenAIKey:          env.trimmed("OPENAI_API_KEY"),
	}
	required := []struct{ key, value string }{
		{"LINE_CHANNEL_SECRET", creds.ChannelSecret},
		{"LINE_ACCESS_TOKEN", creds.ChannelAccessToken},
		{"OPENAI_API_KEY", creds.OpenAIKey},
	}
	for _, r := range required {
		if r.value == "" {
			return Credentials{}, fmt.Errorf("required environment variable %s is not set", r.key)
		}
	}
	return creds, nil
}

// LoadPersona returns the persona stored at <prefix>/persona, falling back to
// cfg.PersonaPrompt when there is no prefix or no such parameter.
func LoadPersona(ctx context.Context, cfg Config, getter paramstore.Getter) (string, error) {
	if cfg.ParamPrefix == "" || getter == nil {
		return cfg.PersonaPrompt, nil
	}
	v, err := getter.GetParameter(ctx, cfg.ParamPrefix+"/persona")
	if errors.Is(err, paramstore.ErrNotFound) {
		return cfg.PersonaPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("config: fetch persona: %w", err)
	}
	if v = strings.TrimSpace(v); v == "" {
		return cfg.PersonaPrompt, nil
	}
	return v, nil
}

// LoadEnvFiles loads .env and .env.local from the working directory without
// overwriting variables that are already set.
func LoadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

type tokenPayload struct {
	Token string `json:"token"`
}

func fetchToken(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("config: fetch %s: %w", name, err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("config: unmarshal %s as JSON: %w", name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("config: %s has an empty token", name)
	}
	return strings.TrimSpace(tp.Token), nil
}

type envReader struct {
	lookup LookupFunc
}

func (e envReader) trimmed(key string) string {
	v, _ := e.lookup(key)
	return strings.TrimSpace(v)
}

func (e envReader) orDefault(key, fallback string) string {
	if v := e.trimmed(key); v != "" {
		return v
	}
	return fallback
}

func (e envReader) integer(key string, fallback int) (int, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (e envReader) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := e.trimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

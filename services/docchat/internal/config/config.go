package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; DOCCHAT_CONFIG overrides it.
var ConfigPath = "config.yaml"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	AnalyzerProcess = "process"
	AnalyzerNative  = "native"

	ChatProviderOpenAI = "openai"
	ChatProviderOllama = "ollama"

	RevocationNone   = "none"
	RevocationMemory = "memory"
	RevocationRedis  = "redis"
)

// Sessions last exactly two hours; sessionTTL may only restate that.
const sessionLifetime = 2 * time.Hour

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	DataDir  string `yaml:"dataDir"`

	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"databaseURL"`

	RootAdminEmail    string `yaml:"rootAdminEmail"`
	RootAdminPassword string `yaml:"rootAdminPassword"`

	JWTSecret         string `yaml:"jwtSecret"`
	JWTIssuer         string `yaml:"jwtIssuer"`
	JWTAudience       string `yaml:"jwtAudience"`
	JWTLeeway         string `yaml:"jwtLeeway"`
	SessionTTL        string `yaml:"sessionTTL"`
	SessionRevocation string `yaml:"sessionRevocation"`
	CookieSecure      bool   `yaml:"cookieSecure"`

	AllowedOrigins    []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs []string `yaml:"trustedProxyCidrs"`
	MaxUploadBytes    int64    `yaml:"maxUploadBytes"`

	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	SignupRateLimitPerMinute int    `yaml:"signupRateLimitPerMinute"`
	LoginRateLimitPerMinute  int    `yaml:"loginRateLimitPerMinute"`

	Analyzer        string   `yaml:"analyzer"`
	AnalyzerCommand string   `yaml:"analyzerCommand"`
	AnalyzerArgs    []string `yaml:"analyzerArgs"`
	AnalyzerDir     string   `yaml:"analyzerDir"`
	AnalysisTimeout string   `yaml:"analysisTimeout"`

	ChatProvider string `yaml:"chatProvider"`
	ChatBaseURL  string `yaml:"chatBaseURL"`
	ChatAPIKey   string `yaml:"chatAPIKey"`
	ChatModel    string `yaml:"chatModel"`
	ChatTimeout  string `yaml:"chatTimeout"`
	SystemPrompt string `yaml:"systemPrompt"`
	HistoryLimit int    `yaml:"historyLimit"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
}

// Load reads config from path. An empty path falls back to DOCCHAT_CONFIG and
// then ConfigPath.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = os.Getenv("DOCCHAT_CONFIG")
	}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ROOT_ADMIN_EMAIL"); v != "" {
		cfg.RootAdminEmail = strings.TrimSpace(v)
	}
	if v := os.Getenv("ROOT_ADMIN_PASSWORD"); v != "" {
		cfg.RootAdminPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("DOCCHAT_SESSION_REVOCATION"); v != "" {
		cfg.SessionRevocation = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCCHAT_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.CookieSecure = b
		}
	}
	if v := os.Getenv("DOCCHAT_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("DOCCHAT_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("DOCCHAT_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DOCCHAT_SIGNUP_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SignupRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DOCCHAT_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("DOCCHAT_ANALYZER"); v != "" {
		cfg.Analyzer = strings.TrimSpace(v)
	}
	if v := os.Getenv("DOCCHAT_ANALYZER_COMMAND"); v != "" {
		cfg.AnalyzerCommand = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.ChatAPIKey = v
	}
	if v := os.Getenv("DOCCHAT_CHAT_BASE_URL"); v != "" {
		cfg.ChatBaseURL = v
	}
	if v := os.Getenv("DOCCHAT_CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Store == "" {
		cfg.Store = StorePostgres
	}
	if cfg.SessionRevocation == "" {
		cfg.SessionRevocation = RevocationNone
	}
	if cfg.Analyzer == "" {
		cfg.Analyzer = AnalyzerProcess
	}
	if cfg.ChatProvider == "" {
		cfg.ChatProvider = ChatProviderOpenAI
	}
	if cfg.ChatBaseURL == "" && cfg.ChatProvider == ChatProviderOpenAI {
		cfg.ChatBaseURL = "https://api.openai.com/v1"
	}
	if cfg.RootAdminPassword == "" {
		cfg.RootAdminPassword = "!admin123"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.MinioBucket == "" {
		cfg.MinioBucket = "docchat-uploads"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("config: dataDir is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RootAdminEmail) == "" {
		return errors.New("config: rootAdminEmail is required (set in config.yaml or ROOT_ADMIN_EMAIL)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	default:
		return fmt.Errorf("config: unknown store %q", cfg.Store)
	}
	switch cfg.SessionRevocation {
	case RevocationNone, RevocationMemory:
	case RevocationRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for redis session revocation")
		}
	default:
		return fmt.Errorf("config: unknown sessionRevocation %q", cfg.SessionRevocation)
	}
	switch cfg.Analyzer {
	case AnalyzerNative:
	case AnalyzerProcess:
		if strings.TrimSpace(cfg.AnalyzerCommand) == "" {
			return errors.New("config: analyzerCommand is required for the process analyzer")
		}
	default:
		return fmt.Errorf("config: unknown analyzer %q", cfg.Analyzer)
	}
	switch cfg.ChatProvider {
	case ChatProviderOpenAI:
		if strings.TrimSpace(cfg.ChatAPIKey) == "" {
			return errors.New("config: chatAPIKey is required for the openai provider (set in config.yaml or OPENAI_API_KEY)")
		}
	case ChatProviderOllama:
	default:
		return fmt.Errorf("config: unknown chatProvider %q", cfg.ChatProvider)
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		return errors.New("config: chatModel is required (set in config.yaml)")
	}
	if cfg.SignupRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.HistoryLimit < 0 {
		return errors.New("config: historyLimit must be >= 0")
	}
	for name, value := range map[string]string{
		"jwtLeeway":       cfg.JWTLeeway,
		"sessionTTL":      cfg.SessionTTL,
		"analysisTimeout": cfg.AnalysisTimeout,
		"chatTimeout":     cfg.ChatTimeout,
	} {
		if _, err := ParseDuration(value); err != nil {
			return fmt.Errorf("config: invalid %s: %w", name, err)
		}
	}
	if ttl, _ := ParseDuration(cfg.SessionTTL); ttl != 0 && ttl != sessionLifetime {
		return fmt.Errorf("config: sessionTTL must be %s when set", sessionLifetime)
	}
	return nil
}

// RateLimitsEnabled reports whether register/login limits can be enforced.
func (c FileConfig) RateLimitsEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != "" && (c.SignupRateLimitPerMinute > 0 || c.LoginRateLimitPerMinute > 0)
}

// MinioEnabled reports whether uploads are archived to MinIO.
func (c FileConfig) MinioEnabled() bool {
	return strings.TrimSpace(c.MinioEndpoint) != ""
}

// ParseDuration parses an optional duration string; empty means zero, which
// callers treat as "use the default".
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if dur < 0 {
		return 0, fmt.Errorf("negative duration %q", value)
	}
	return dur, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

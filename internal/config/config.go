package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// StaleAfter 是上传会话被清理前允许的最长闲置时间，固定为一小时。
const StaleAfter = time.Hour

const (
	defaultChunkSize     int64 = 1 << 20
	defaultMaxUploadSize int64 = 512 << 20
)

// Config 聚合服务启动需要的关键配置。Load 之后不再修改，按值传入各组件。
type Config struct {
	HTTPPort string
	TempDir  string // 分片、合并后的归档与解压目录的根
	MediaDir string
	// 分片与导入
	ChunkSize           int64
	MaxUploadSize       int64
	LegacyPostsPath     string // 解压目录内 HTML 导出文件的相对路径
	StructuredPostsPath string // 解压目录内 JSON 导出文件的相对路径
	ProfileBaseURL      string
	TagBaseURL          string
	// HTTP
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	// 内容存储
	DBDriver   string // "postgres"、"sqlite" 或 "memory"
	SQLitePath string
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// 鉴权配置
	AuthMode  string   // "apikey"、"jwt" 或 "none"
	APIKeys   []string // 有效的 API Keys 列表
	JWTSecret string
	JWKSURL   string
	// 媒体存储配置
	StorageDriver string // "local" 或 "s3"
	MediaBaseURL  string
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool // 是否使用 HTTPS
	S3PathStyle   bool // 是否使用路径风格访问（MinIO 需要设为 true）
	// 日志
	LogLevel  string
	LogFormat string
}

// Load 从环境变量加载配置；GRAMPORT_CONFIG 指向的 TOML 文件作为默认值来源，环境变量优先。
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("GRAMPORT_CONFIG"))
	if err != nil {
		return nil, err
	}
	return load(src)
}

func load(src *source) (*Config, error) {
	port := src.get("PORT", "8080")

	tempDir := src.get("TEMP_DIR", "./data/import-temp")
	if err := ensureDir(tempDir); err != nil {
		return nil, fmt.Errorf("ensure temp dir: %w", err)
	}

	mediaDir := src.get("MEDIA_DIR", "./data/media")

	chunkSize, err := parseSizeEnv(src, "CHUNK_SIZE", defaultChunkSize)
	if err != nil {
		return nil, err
	}

	maxUpload, err := parseSizeEnv(src, "MAX_UPLOAD_SIZE", defaultMaxUploadSize)
	if err != nil {
		return nil, err
	}
	if maxUpload < chunkSize {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE (%d) is smaller than CHUNK_SIZE (%d)", maxUpload, chunkSize)
	}

	corsOrigins := parseList(src.get("CORS_ALLOWED_ORIGINS", ""))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv(src, "RATE_LIMIT_REQUESTS", 600)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv(src, "RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv(src, "DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	dbDriver := strings.ToLower(src.get("DB_DRIVER", "postgres"))
	switch dbDriver {
	case "postgres", "sqlite", "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", dbDriver)
	}

	authMode := strings.ToLower(src.get("AUTH_MODE", "apikey"))
	switch authMode {
	case "apikey", "jwt", "none":
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", authMode)
	}

	apiKeys := parseList(src.get("API_KEYS", ""))
	if len(apiKeys) == 0 {
		// 开发环境默认 key
		apiKeys = []string{"dev-api-key-123456"}
	}

	storageDriver := strings.ToLower(src.get("STORAGE_DRIVER", "local"))
	if storageDriver == "local" {
		if err := ensureDir(mediaDir); err != nil {
			return nil, fmt.Errorf("ensure media dir: %w", err)
		}
	}

	return &Config{
		HTTPPort:            port,
		TempDir:             tempDir,
		MediaDir:            mediaDir,
		ChunkSize:           chunkSize,
		MaxUploadSize:       maxUpload,
		LegacyPostsPath:     src.get("LEGACY_POSTS_PATH", "your_instagram_activity/content/posts_1.html"),
		StructuredPostsPath: src.get("STRUCTURED_POSTS_PATH", "your_instagram_activity/content/posts_1.json"),
		ProfileBaseURL:      src.get("PROFILE_BASE_URL", "https://www.instagram.com/"),
		TagBaseURL:          src.get("TAG_BASE_URL", "/tags/"),
		CORSAllowedOrigins:  corsOrigins,
		RateLimitRequests:   rateLimitRequests,
		RateLimitWindow:     rateLimitWindow,
		DBDriver:            dbDriver,
		SQLitePath:          src.get("SQLITE_PATH", "./data/gramport.db"),
		DBHost:              src.get("DB_HOST", "127.0.0.1"),
		DBPort:              dbPort,
		DBUser:              src.get("DB_USER", "gramport"),
		DBPassword:          src.get("DB_PASSWORD", "gramport"),
		DBName:              src.get("DB_NAME", "gramport"),
		DBSSLMode:           src.get("DB_SSL_MODE", "disable"),
		AuthMode:            authMode,
		APIKeys:             apiKeys,
		JWTSecret:           src.get("JWT_SECRET", ""),
		JWKSURL:             src.get("JWKS_URL", ""),
		StorageDriver:       storageDriver,
		MediaBaseURL:        src.get("MEDIA_BASE_URL", ""),
		S3Endpoint:          src.get("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:         src.get("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         src.get("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:            src.get("S3_BUCKET", "gramport"),
		S3Region:            src.get("S3_REGION", "us-east-1"),
		S3UseSSL:            parseBoolEnv(src, "S3_USE_SSL", false),
		S3PathStyle:         parseBoolEnv(src, "S3_PATH_STYLE", true),
		LogLevel:            src.get("LOG_LEVEL", "info"),
		LogFormat:           src.get("LOG_FORMAT", "text"),
	}, nil
}

// source 先查环境变量，再查 TOML 文件中同名的小写键。
type source struct {
	file map[string]any
}

func newSource(path string) (*source, error) {
	src := &source{file: map[string]any{}}
	path = strings.TrimSpace(path)
	if path == "" {
		return src, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, &src.file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return src, nil
}

func (s *source) get(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if s == nil {
		return defaultValue
	}
	raw, ok := s.file[strings.ToLower(key)]
	if !ok || raw == nil {
		return defaultValue
	}
	switch v := raw.(type) {
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, ",")
	default:
		if value := strings.TrimSpace(fmt.Sprint(v)); value != "" {
			return value
		}
		return defaultValue
	}
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists and is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(src *source, key string, defaultValue int) (int, error) {
	raw := src.get(key, "")
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseSizeEnv(src *source, key string, defaultValue int64) (int64, error) {
	raw := src.get(key, "")
	if raw == "" {
		return defaultValue, nil
	}

	value, err := ParseSize(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func parseDurationEnv(src *source, key string, defaultValue time.Duration) (time.Duration, error) {
	raw := src.get(key, "")
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(src *source, key string, defaultValue bool) bool {
	raw := src.get(key, "")
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/shouni/image-fallback-kit/pkg/chain"
	"github.com/shouni/image-fallback-kit/pkg/providers"
)

// Config はプロセス起動時に環境変数から読み込む設定です。
type Config struct {
	ProviderOrder []string

	GeminiAPIKey      string
	FALKey            string
	ReplicateAPIToken string

	GeminiModelStandard    string
	GeminiModelPro         string
	FALModelStandard       string
	FALModelPro            string
	ReplicateModelStandard string
	ReplicateModelPro      string

	StorageBackend       string
	StorageBucket        string
	StoragePublicBaseURL string
	StorageRegion        string

	UsageDatabaseURL string

	HTTPAddr    string
	HTTPTimeout time.Duration

	ReferenceCacheTTL  time.Duration
	CompressReferences bool
	CompressionQuality int

	ReplicateRateLimitRetries int
	ReplicateRateLimitBackoff time.Duration

	FallbackOnSafetyBlock bool

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load は .env（存在すれば）と環境変数から設定を読み込みます。
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".env の読み込みに失敗しました", "error", err)
	}
	return FromEnv()
}

// FromEnv は環境変数のみから設定を組み立てます。
func FromEnv() Config {
	return Config{
		ProviderOrder: chain.ParseOrder(os.Getenv("IMAGE_PROVIDER_ORDER")),

		GeminiAPIKey:      getenv("GEMINI_API_KEY", ""),
		FALKey:            getenv("FAL_KEY", getenv("FAL_API_KEY", "")),
		ReplicateAPIToken: getenv("REPLICATE_API_TOKEN", ""),

		GeminiModelStandard:    getenv("GEMINI_MODEL_STANDARD", ""),
		GeminiModelPro:         getenv("GEMINI_MODEL_PRO", ""),
		FALModelStandard:       getenv("FAL_MODEL_STANDARD", ""),
		FALModelPro:            getenv("FAL_MODEL_PRO", ""),
		ReplicateModelStandard: getenv("REPLICATE_MODEL_STANDARD", ""),
		ReplicateModelPro:      getenv("REPLICATE_MODEL_PRO", ""),

		StorageBackend:       strings.ToLower(getenv("STORAGE_BACKEND", "gcs")),
		StorageBucket:        getenv("STORAGE_BUCKET", ""),
		StoragePublicBaseURL: getenv("STORAGE_PUBLIC_BASE_URL", ""),
		StorageRegion:        getenv("STORAGE_REGION", ""),

		UsageDatabaseURL: getenv("USAGE_DATABASE_URL", ""),

		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		HTTPTimeout: getenvDuration("HTTP_TIMEOUT", 120*time.Second),

		ReferenceCacheTTL:  getenvDuration("REFERENCE_CACHE_TTL", 30*time.Minute),
		CompressReferences: getenvBool("COMPRESS_REFERENCES", true),
		CompressionQuality: getenvInt("COMPRESSION_QUALITY", 75),

		ReplicateRateLimitRetries: getenvInt("REPLICATE_RATE_LIMIT_RETRIES", 3),
		ReplicateRateLimitBackoff: getenvDuration("REPLICATE_RATE_LIMIT_BACKOFF", 10*time.Second),

		FallbackOnSafetyBlock: getenvBool("FALLBACK_ON_SAFETY_BLOCK", false),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),
		LogFile:   getenv("LOG_FILE", ""),
	}
}

// HasCredential はプロバイダの資格情報が設定されているかどうかを返します。
func (c Config) HasCredential(name string) bool {
	switch name {
	case providers.Gemini:
		return c.GeminiAPIKey != ""
	case providers.FAL:
		return c.FALKey != ""
	case providers.Replicate:
		return c.ReplicateAPIToken != ""
	default:
		return false
	}
}

func getenv(k, fallback string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(k string, fallback bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(k string, fallback time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/uma-arai/sbcntr-ticket/internal/common/database"
)

const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"

	minSigningSecretLength = 16
)

// AdminConfig は管理者の認証情報です
// PasswordBcrypt が設定されている場合は Password より優先されます
type AdminConfig struct {
	Username       string
	Password       string
	PasswordBcrypt string
}

// TicketConfig はチケットの発行と検証に関する設定です
type TicketConfig struct {
	SigningSecret []byte
	MaxIDAttempts int
	ExpiryGrace   time.Duration
}

type Config struct {
	DB  database.Config
	SFN struct {
		TaskToken string
	}
	EnableTracing bool

	Store       string
	BoltPath    string
	HTTPAddr    string
	RabbitMQURL string
	Admin       AdminConfig
	Ticket      TicketConfig
}

// LoadConfig は設定を読み込みます
// 起動時に一度だけ呼び出し、戻り値をそれぞれのコンポーネントに明示的に渡します
func LoadConfig(taskToken string) (*Config, error) {
	// .envファイルがあれば読み込む。既に設定されている環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		DB: database.Config{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvAsIntOrDefault("DB_PORT", 5432),
			UserName: getEnvOrDefault("DB_USERNAME", "sbcntrapp"),
			Password: getEnvOrDefault("DB_PASSWORD", "password"),
			DBName:   getEnvOrDefault("DB_NAME", "sbcntrapp"),
			SSLMode:  os.Getenv("DB_SSLMODE"),
		},
		SFN: struct {
			TaskToken string
		}{
			TaskToken: taskToken,
		},
		EnableTracing: false,

		Store:       strings.ToLower(getEnvOrDefault("TICKET_STORE", StoreBolt)),
		BoltPath:    getEnvOrDefault("TICKET_BOLT_PATH", "reservations.db"),
		HTTPAddr:    getEnvOrDefault("HTTP_ADDR", ":8080"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		Admin: AdminConfig{
			Username:       os.Getenv("ADMIN_USERNAME"),
			Password:       os.Getenv("ADMIN_PASSWORD"),
			PasswordBcrypt: os.Getenv("ADMIN_PASSWORD_BCRYPT"),
		},
		Ticket: TicketConfig{
			SigningSecret: []byte(os.Getenv("TICKET_SIGNING_SECRET")),
			MaxIDAttempts: getEnvAsIntOrDefault("TICKET_MAX_ID_ATTEMPTS", 5),
			ExpiryGrace:   getEnvAsDurationOrDefault("TICKET_EXPIRY_GRACE", 2*time.Hour),
		},
	}

	// 環境変数[SBCNTR_ENABLE_TRACING]を見てトレースを有効にする。対応しているTracingはAWS_XRAYのみ。
	// 環境変数[AWS_XRAY_SDK_DISABLED]がtrueの場合は必ずトレースを無効にする。
	enableKey := os.Getenv("SBCNTR_ENABLE_TRACING")
	if !sdkDisabled() && (strings.ToLower(enableKey) == "true" || enableKey == "1") {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "FALSE")
		cfg.EnableTracing = true
	} else {
		os.Setenv("AWS_XRAY_SDK_DISABLED", "TRUE")
		cfg.EnableTracing = false
	}

	return cfg, nil
}

// ValidateServer はAPIサーバーの起動に必要な設定が揃っているかを確認します
func (c *Config) ValidateServer() error {
	var errs []error
	if len(c.Ticket.SigningSecret) < minSigningSecretLength {
		errs = append(errs, fmt.Errorf("TICKET_SIGNING_SECRET must be at least %d bytes", minSigningSecretLength))
	}
	if c.Admin.Username == "" {
		errs = append(errs, errors.New("ADMIN_USERNAME is required"))
	}
	if c.Admin.Password == "" && c.Admin.PasswordBcrypt == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_BCRYPT is required"))
	}
	if c.Ticket.MaxIDAttempts < 1 {
		errs = append(errs, errors.New("TICKET_MAX_ID_ATTEMPTS must be positive"))
	}
	if c.Store != StoreBolt && c.Store != StorePostgres {
		errs = append(errs, fmt.Errorf("unknown TICKET_STORE %q", c.Store))
	}
	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	log.Printf("Environment variable %s is not set, using default value", key)
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("Environment variable %s has invalid duration %q, using default value", key, value)
	}
	return defaultValue
}

// Check if SDK is disabled
func sdkDisabled() bool {
	disableKey := os.Getenv("AWS_XRAY_SDK_DISABLED")
	return strings.ToLower(disableKey) == "true"
}

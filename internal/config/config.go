package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvProduction はAPP_ENVの本番環境を表す値。
const EnvProduction = "production"

// 配信手段（MAIL_TRANSPORT）
const (
	MailTransportSMTP  = "smtp"
	MailTransportKafka = "kafka"
	MailTransportLog   = "log"
)

// minJWTSecretLength は本番環境で要求する署名鍵の最小バイト数。
const minJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Environment
	Env string

	// Database
	DatabaseURL string
	RedisURL    string

	// DBMaxOpenConns は接続プールの最大接続数。0の場合はdatabaseパッケージの既定値を使う。
	DBMaxOpenConns int

	// Token
	JWTSecret string
	JWTIssuer string

	// Google OAuth（未設定の場合は無効）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Firebase（未設定の場合は無効）
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Session
	SessionTTL       time.Duration
	SessionTTLGoogle time.Duration

	// OTP
	OTPTTL                   time.Duration
	OTPResendInterval        time.Duration
	OTPRollbackOnSendFailure bool
	OTPCleanupInterval       time.Duration

	// Mail
	MailTransport string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMTPFromName  string

	// Kafka
	KafkaBroker     string
	KafkaUsername   string
	KafkaPassword   string
	KafkaEmailTopic string
	KafkaSMSTopic   string
	KafkaGroupID    string

	// Rate Limit（req/min/IP）
	RateLimitAuth int
	RateLimitOTP  int

	// Logging
	LogLevel string

	// Server
	ServerPort        string
	BaseURL           string
	TrustProxyHeaders bool

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GoogleEnabled はGoogle OAuthが構成されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// FirebaseEnabled はFirebaseが構成されているかを返す。
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseProjectID != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合や、本番環境で許可されない設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	cfg.Env = strings.ToLower(getEnvString("APP_ENV", "development"))

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" && cfg.IsProduction() {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 0)
	cfg.JWTIssuer = getEnvString("JWT_ISSUER", "bizportal")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", strings.TrimRight(cfg.BaseURL, "/")+"/auth/google/callback")
	cfg.FirebaseProjectID = getEnvString("FIREBASE_PROJECT_ID", "")
	cfg.FirebaseCredentialsFile = getEnvString("FIREBASE_CREDENTIALS_FILE", "")
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 7*24*time.Hour)
	cfg.SessionTTLGoogle = getEnvDuration("SESSION_TTL_GOOGLE", 30*24*time.Hour)
	cfg.OTPTTL = getEnvDuration("OTP_TTL", 10*time.Minute)
	cfg.OTPResendInterval = getEnvDuration("OTP_RESEND_INTERVAL", time.Minute)
	cfg.OTPRollbackOnSendFailure = getEnvBool("OTP_ROLLBACK_ON_SEND_FAILURE", true)
	cfg.OTPCleanupInterval = getEnvDuration("OTP_CLEANUP_INTERVAL", 15*time.Minute)
	cfg.MailTransport = strings.ToLower(getEnvString("MAIL_TRANSPORT", MailTransportLog))
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "")
	cfg.SMTPFromName = getEnvString("SMTP_FROM_NAME", "bizportal")
	cfg.KafkaBroker = getEnvString("KAFKA_BROKER", "")
	cfg.KafkaUsername = getEnvString("KAFKA_USERNAME", "")
	cfg.KafkaPassword = getEnvString("KAFKA_PASSWORD", "")
	cfg.KafkaEmailTopic = getEnvString("KAFKA_EMAIL_TOPIC", "otp-email")
	cfg.KafkaSMSTopic = getEnvString("KAFKA_SMS_TOPIC", "otp-sms")
	cfg.KafkaGroupID = getEnvString("KAFKA_GROUP_ID", "bizportal-mail-relay")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitOTP = getEnvInt("RATE_LIMIT_OTP", 5)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.TrustProxyHeaders = getEnvBool("TRUST_PROXY_HEADERS", false)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.MailTransport {
	case MailTransportSMTP:
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return fmt.Errorf("MAIL_TRANSPORT=smtp requires SMTP_HOST and SMTP_FROM")
		}
	case MailTransportKafka:
		if c.KafkaBroker == "" {
			return fmt.Errorf("MAIL_TRANSPORT=kafka requires KAFKA_BROKER")
		}
	case MailTransportLog:
		if c.IsProduction() {
			return fmt.Errorf("MAIL_TRANSPORT=log is not allowed in production")
		}
	default:
		return fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.MailTransport)
	}

	if c.IsProduction() && len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes in production", minJWTSecretLength)
	}
	if c.FirebaseCredentialsFile != "" && c.FirebaseProjectID == "" {
		return fmt.Errorf("FIREBASE_CREDENTIALS_FILE requires FIREBASE_PROJECT_ID")
	}
	if c.OTPResendInterval > c.OTPTTL {
		return fmt.Errorf("OTP_RESEND_INTERVAL (%s) must not exceed OTP_TTL (%s)", c.OTPResendInterval, c.OTPTTL)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

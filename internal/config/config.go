package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE must resolve in minimal containers

	"github.com/joho/godotenv"
)

// DefaultReminderDays is the fee escalation ladder used when FEE_REMINDER_DAYS is unset.
var DefaultReminderDays = []int{7, 3, 1, 0, -1, -3, -7}

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns int

	// Redis config (template cache, job locks, API rate limit)
	RedisEnabled     bool
	RedisHost        string
	RedisPort        int
	RedisPassword    string
	RedisDB          int
	TemplateCacheTTL time.Duration
	JobLockTTL       time.Duration

	// Institute
	InstituteName    string
	InstituteWebsite string
	AdminPhone       string
	AdminEmail       string
	Timezone         *time.Location

	// Fee reminders
	ReminderDays        []int
	GracePeriodDays     int
	LateFeePercent      float64
	FeePhoneChannels    []string
	DefaultEmailSubject string

	// Attendance
	LowAttendanceThreshold float64
	ConsecutiveAbsenceMin  int
	AbsenceLookbackDays    int

	// Dispatch
	AttemptTimeout      time.Duration
	DispatchConcurrency int
	ChannelRatePerSec   float64
	// DryRun swaps every provider for a logging adapter.
	DryRun bool

	// WhatsApp Cloud API
	WhatsAppAPIURL  string
	WhatsAppPhoneID string
	WhatsAppToken   string

	// AWS Services
	AWSRegion    string
	SNSRegion    string // AWS region for SNS (SMS)
	SMSEnabled   bool
	SMSSenderID  string
	SESFromEmail string
	// AWSEndpoint overrides SNS/SQS endpoints, for LocalStack.
	AWSEndpoint string

	// SMTP config for email sending
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	SendGridAPIKey string
	EmailFrom      string

	// Job trigger queue and reports
	SQSRegion          string
	SQSTriggerQueueURL string
	SNSReportTopicARN  string

	// Operator API
	OperatorRateLimit int
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; values
// already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "herald",
		DBPassword: "",
		DBName:     "institute",
		DBSSLMode:  "disable",
		DBMaxConns: 20,

		// Redis defaults
		RedisHost:        "localhost",
		RedisPort:        6379,
		RedisPassword:    "",
		RedisDB:          0,
		TemplateCacheTTL: 5 * time.Minute,
		JobLockTTL:       30 * time.Minute,

		InstituteName:    "EduPrime Institute",
		InstituteWebsite: "http://localhost:3000",

		ReminderDays:        append([]int(nil), DefaultReminderDays...),
		GracePeriodDays:     7,
		LateFeePercent:      2,
		FeePhoneChannels:    []string{"whatsapp"},
		DefaultEmailSubject: "Notification",

		LowAttendanceThreshold: 75,
		ConsecutiveAbsenceMin:  3,
		AbsenceLookbackDays:    30,

		AttemptTimeout:      15 * time.Second,
		DispatchConcurrency: 8,
		ChannelRatePerSec:   10,

		WhatsAppAPIURL: "https://graph.facebook.com/v18.0",

		AWSRegion:  "ap-south-1",
		SMSEnabled: true,

		SMTPPort: 587,

		OperatorRateLimit: 60,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if err := intEnv("DB_MAX_CONNS", &cfg.DBMaxConns); err != nil {
		return nil, err
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
		cfg.RedisEnabled = true
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if err := durationEnv("TEMPLATE_CACHE_TTL", &cfg.TemplateCacheTTL); err != nil {
		return nil, err
	}
	if err := durationEnv("JOB_LOCK_TTL", &cfg.JobLockTTL); err != nil {
		return nil, err
	}

	// Institute
	if name := os.Getenv("INSTITUTE_NAME"); name != "" {
		cfg.InstituteName = name
	}
	if site := os.Getenv("INSTITUTE_WEBSITE"); site != "" {
		cfg.InstituteWebsite = strings.TrimRight(site, "/")
	}
	cfg.AdminPhone = os.Getenv("ADMIN_PHONE")
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")

	tz := "Asia/Kolkata"
	if v := os.Getenv("TIMEZONE"); v != "" {
		tz = v
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Timezone = loc

	// Fee reminders
	if days := os.Getenv("FEE_REMINDER_DAYS"); days != "" {
		ladder, err := ParseLadder(days)
		if err != nil {
			return nil, fmt.Errorf("invalid FEE_REMINDER_DAYS: %w", err)
		}
		cfg.ReminderDays = ladder
	}

	if err := intEnv("FEE_GRACE_PERIOD_DAYS", &cfg.GracePeriodDays); err != nil {
		return nil, err
	}
	if cfg.GracePeriodDays < 0 {
		return nil, fmt.Errorf("invalid FEE_GRACE_PERIOD_DAYS: must not be negative")
	}

	if err := floatEnv("LATE_FEE_PERCENT", &cfg.LateFeePercent); err != nil {
		return nil, err
	}
	if cfg.LateFeePercent < 0 {
		return nil, fmt.Errorf("invalid LATE_FEE_PERCENT: must not be negative")
	}

	if channels := os.Getenv("FEE_PHONE_CHANNELS"); channels != "" {
		list, err := parseChannels(channels)
		if err != nil {
			return nil, fmt.Errorf("invalid FEE_PHONE_CHANNELS: %w", err)
		}
		cfg.FeePhoneChannels = list
	}

	if subject := os.Getenv("DEFAULT_EMAIL_SUBJECT"); subject != "" {
		cfg.DefaultEmailSubject = subject
	}

	// Attendance
	if err := floatEnv("LOW_ATTENDANCE_THRESHOLD", &cfg.LowAttendanceThreshold); err != nil {
		return nil, err
	}
	if err := intEnv("CONSECUTIVE_ABSENCE_MIN", &cfg.ConsecutiveAbsenceMin); err != nil {
		return nil, err
	}
	if cfg.ConsecutiveAbsenceMin < 1 {
		return nil, fmt.Errorf("invalid CONSECUTIVE_ABSENCE_MIN: must be at least 1")
	}
	if err := intEnv("ABSENCE_LOOKBACK_DAYS", &cfg.AbsenceLookbackDays); err != nil {
		return nil, err
	}

	// Dispatch
	if err := durationEnv("ATTEMPT_TIMEOUT", &cfg.AttemptTimeout); err != nil {
		return nil, err
	}
	if err := intEnv("DISPATCH_CONCURRENCY", &cfg.DispatchConcurrency); err != nil {
		return nil, err
	}
	if cfg.DispatchConcurrency < 1 {
		return nil, fmt.Errorf("invalid DISPATCH_CONCURRENCY: must be at least 1")
	}
	if err := floatEnv("CHANNEL_RATE_PER_SEC", &cfg.ChannelRatePerSec); err != nil {
		return nil, err
	}

	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRY_RUN: %w", err)
		}
		cfg.DryRun = b
	}

	// WhatsApp
	if url := os.Getenv("WHATSAPP_API_URL"); url != "" {
		cfg.WhatsAppAPIURL = strings.TrimRight(url, "/")
	}
	cfg.WhatsAppPhoneID = os.Getenv("WHATSAPP_PHONE_ID")
	cfg.WhatsAppToken = os.Getenv("WHATSAPP_TOKEN")

	// AWS
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if enabled := os.Getenv("SMS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid SMS_ENABLED: %w", err)
		}
		cfg.SMSEnabled = b
	}
	cfg.SMSSenderID = os.Getenv("SMS_SENDER_ID")
	cfg.SESFromEmail = os.Getenv("SES_FROM_EMAIL")
	cfg.AWSEndpoint = os.Getenv("AWS_ENDPOINT_URL")

	// SMTP
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
		}
		cfg.SMTPPort = p
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")

	cfg.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
	cfg.EmailFrom = os.Getenv("EMAIL_FROM")

	// SQS / SNS
	if region := os.Getenv("SQS_REGION"); region != "" {
		cfg.SQSRegion = region
	} else {
		cfg.SQSRegion = cfg.AWSRegion
	}
	cfg.SQSTriggerQueueURL = os.Getenv("SQS_TRIGGER_QUEUE_URL")
	cfg.SNSReportTopicARN = os.Getenv("SNS_REPORT_TOPIC_ARN")

	if err := intEnv("OPERATOR_RATE_LIMIT", &cfg.OperatorRateLimit); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseLadder parses a comma-separated list of day offsets such as "7,3,1,0,-1".
// Order is kept; duplicates are rejected.
func ParseLadder(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ladder := make([]int, 0, len(parts))
	seen := make(map[int]bool, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("offset %q: %w", part, err)
		}
		if seen[n] {
			return nil, fmt.Errorf("duplicate offset %d", n)
		}
		seen[n] = true
		ladder = append(ladder, n)
	}
	if len(ladder) == 0 {
		return nil, errors.New("no offsets")
	}
	return ladder, nil
}

func parseChannels(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		ch := strings.ToLower(strings.TrimSpace(part))
		switch ch {
		case "":
			continue
		case "whatsapp", "sms":
			out = append(out, ch)
		default:
			return nil, fmt.Errorf("unsupported phone channel %q", ch)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no channels")
	}
	return out, nil
}

func intEnv(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func floatEnv(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func durationEnv(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

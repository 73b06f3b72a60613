package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // CLINIC_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
)

// Supported values of DELIVERY_CHANNEL.
const (
	ChannelSendGrid  = "sendgrid"
	ChannelSMTP      = "smtp"
	ChannelKavenegar = "kavenegar"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL   string
	RunMigrations bool
	HTTPAddr      string
	CronSecret    string
	LogLevel      string
	Environment   string

	SchedulerEnabled  bool
	CronSpecReminders string
	CronSpecPurge     string
	CycleTimeout      time.Duration

	DispatchConcurrency int
	ClaimLease          time.Duration
	RetentionPeriod     time.Duration

	ClinicName     string
	ClinicTimezone *time.Location

	DeliveryChannel string
	MailFromEmail   string
	MailFromName    string
	SendGridAPIKey  string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	KavenegarAPIKey string
	KavenegarSender string

	TelegramToken   string
	AdminTelegramID int64
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load does not override variables that are already set.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	if cfg.RunMigrations, err = getBool("RUN_MIGRATIONS", true); err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.CronSecret = os.Getenv("CRON_SECRET")

	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.Environment = strings.ToLower(getEnv("ENVIRONMENT", "development"))

	if cfg.SchedulerEnabled, err = getBool("SCHEDULER_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.CronSpecReminders = getEnv("CRON_SPEC_REMINDERS", "0 * * * *") // hourly
	cfg.CronSpecPurge = getEnv("CRON_SPEC_PURGE", "0 0 1 * *")         // 1st of the month, midnight

	timeoutSeconds, err := getPositiveInt("CYCLE_TIMEOUT_SECONDS", 300)
	if err != nil {
		return nil, err
	}
	cfg.CycleTimeout = time.Duration(timeoutSeconds) * time.Second

	if cfg.DispatchConcurrency, err = getPositiveInt("DISPATCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}

	leaseSeconds, err := getPositiveInt("CLAIM_LEASE_SECONDS", 600)
	if err != nil {
		return nil, err
	}
	cfg.ClaimLease = time.Duration(leaseSeconds) * time.Second

	retentionDays, err := getPositiveInt("REMINDER_RETENTION_DAYS", 182)
	if err != nil {
		return nil, err
	}
	cfg.RetentionPeriod = time.Duration(retentionDays) * 24 * time.Hour

	cfg.ClinicName = getEnv("CLINIC_NAME", "SmileFlow")
	tzName := getEnv("CLINIC_TIMEZONE", "Africa/Addis_Ababa")
	cfg.ClinicTimezone, err = time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid CLINIC_TIMEZONE %q: %w", tzName, err)
	}

	cfg.MailFromEmail = getEnv("MAIL_FROM_EMAIL", "noreply@smileflow.dental")
	cfg.MailFromName = getEnv("MAIL_FROM_NAME", cfg.ClinicName)

	cfg.DeliveryChannel = strings.ToLower(getEnv("DELIVERY_CHANNEL", ChannelSendGrid))
	switch cfg.DeliveryChannel {
	case ChannelSendGrid:
		cfg.SendGridAPIKey = os.Getenv("SENDGRID_API_KEY")
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("SENDGRID_API_KEY is not set")
		}
	case ChannelSMTP:
		cfg.SMTPHost = os.Getenv("SMTP_HOST")
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is not set")
		}
		if cfg.SMTPPort, err = getPositiveInt("SMTP_PORT", 587); err != nil {
			return nil, err
		}
		cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
		cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	case ChannelKavenegar:
		cfg.KavenegarAPIKey = os.Getenv("KAVENEGAR_API_KEY")
		if cfg.KavenegarAPIKey == "" {
			return nil, fmt.Errorf("KAVENEGAR_API_KEY is not set")
		}
		cfg.KavenegarSender = os.Getenv("KAVENEGAR_SENDER")
	default:
		return nil, fmt.Errorf("unsupported DELIVERY_CHANNEL %q", cfg.DeliveryChannel)
	}

	// The Telegram ops bot is optional.
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.AdminTelegramID == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_ID is required when TELEGRAM_TOKEN is set")
	}

	return cfg, nil
}

// TelegramEnabled reports whether the ops bot should be started.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getPositiveInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive, got %d", key, n)
	}
	return n, nil
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Telephony (Telnyx voice API)
	TelnyxAPIKey        string
	TelnyxConnectionID  string
	TelnyxWebhookSecret string
	TelnyxFromNumber    string
	VoicemailMessage    string

	// Conversational interview agent
	InterviewAgentID       string
	InterviewAgentBaseURL  string
	InterviewAgentAPIKey   string
	InterviewWebhookSecret string

	// Patient resolution policy
	FuzzyMatchThreshold float64

	// Call scheduling policy
	MaxCallAttempts    int
	ClinicTimezone     string
	BusinessHoursStart string
	BusinessHoursEnd   string
	RestDay            string
	Attempt1Window     string
	Attempt2Window     string
	Attempt3Window     string
	DispatchJitterMax  time.Duration
	SchedulerInterval  time.Duration
	DispatchWorkers    int

	// Alerting
	AlertWebhookURL       string
	AlertWebhookSecret    string
	AlertRetryMaxAttempts int
	AlertRetryBaseDelay   time.Duration
	AlertFallbackEmail    string

	// Reminder notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	ReminderSMSFrom   string

	// Extraction
	BedrockModelID    string
	GeminiAPIKey      string
	GeminiModelID     string
	ExtractionTimeout time.Duration

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ExtractionQueueURL  string
	ExtractionJobsTable string
	TranscriptBucket    string
	UseMemoryQueue      bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Admin dashboard
	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		TelnyxAPIKey:        getEnv("TELNYX_API_KEY", ""),
		TelnyxConnectionID:  getEnv("TELNYX_CONNECTION_ID", ""),
		TelnyxWebhookSecret: getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TelnyxFromNumber:    getEnv("TELNYX_FROM_NUMBER", ""),
		VoicemailMessage:    getEnv("VOICEMAIL_MESSAGE", ""),

		InterviewAgentID:       getEnv("INTERVIEW_AGENT_ID", ""),
		InterviewAgentBaseURL:  getEnv("INTERVIEW_AGENT_BASE_URL", ""),
		InterviewAgentAPIKey:   getEnv("INTERVIEW_AGENT_API_KEY", ""),
		InterviewWebhookSecret: getEnv("INTERVIEW_WEBHOOK_SECRET", ""),

		FuzzyMatchThreshold: getEnvAsFloat("FUZZY_MATCH_THRESHOLD", 0.85),

		MaxCallAttempts:    getEnvAsInt("MAX_CALL_ATTEMPTS", 3),
		ClinicTimezone:     getEnv("CLINIC_TIMEZONE", "America/Chicago"),
		BusinessHoursStart: getEnv("BUSINESS_HOURS_START", "08:00"),
		BusinessHoursEnd:   getEnv("BUSINESS_HOURS_END", "18:00"),
		RestDay:            getEnv("REST_DAY", "Sunday"),
		Attempt1Window:     getEnv("ATTEMPT1_WINDOW", "10:00-12:00"),
		Attempt2Window:     getEnv("ATTEMPT2_WINDOW", "13:00-15:00"),
		Attempt3Window:     getEnv("ATTEMPT3_WINDOW", "08:00-10:00"),
		DispatchJitterMax:  getEnvAsDuration("DISPATCH_JITTER_MAX", 90*time.Second),
		SchedulerInterval:  getEnvAsDuration("SCHEDULER_INTERVAL", 15*time.Minute),
		DispatchWorkers:    getEnvAsInt("DISPATCH_WORKERS", 4),

		AlertWebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		AlertWebhookSecret:    getEnv("ALERT_WEBHOOK_SECRET", ""),
		AlertRetryMaxAttempts: getEnvAsInt("ALERT_RETRY_MAX_ATTEMPTS", 5),
		AlertRetryBaseDelay:   getEnvAsDuration("ALERT_RETRY_BASE_DELAY", 30*time.Second),
		AlertFallbackEmail:    getEnv("ALERT_FALLBACK_EMAIL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "TSHLA Medical"),
		ReminderSMSFrom:   getEnv("REMINDER_SMS_FROM", ""),

		BedrockModelID:    getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:     getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),
		ExtractionTimeout: getEnvAsDuration("EXTRACTION_TIMEOUT", 45*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ExtractionQueueURL:  getEnv("EXTRACTION_QUEUE_URL", ""),
		ExtractionJobsTable: getEnv("EXTRACTION_JOBS_TABLE", "extraction_jobs"),
		TranscriptBucket:    getEnv("TRANSCRIPT_BUCKET", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", false),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// RestDayWeekday maps the configured rest day name to a time.Weekday.
// Unknown values default to Sunday.
func (c *Config) RestDayWeekday() time.Weekday {
	switch strings.ToLower(strings.TrimSpace(c.RestDay)) {
	case "monday":
		return time.Monday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Sunday
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

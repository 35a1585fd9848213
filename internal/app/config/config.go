package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config concentra toda a configuração do worker carregada do ambiente
type Config struct {
	App struct {
		Env  string
		Port string
		Host string
	}

	Worker struct {
		ID          string
		Endpoint    string
		MaxSessions int
		Description string
		Version     string
	}

	Backend struct {
		URL                  string
		AuthToken            string
		RegistrationEnabled  bool
		StandaloneMode       bool
		HeartbeatInterval    time.Duration
		MaxRegistrationRetry int
		RegistrationRetry    time.Duration
		StartupDelay         time.Duration
	}

	ObjectStore struct {
		Endpoint       string
		Port           string
		UseSSL         bool
		AccessKey      string
		SecretKey      string
		SessionsBucket string
		MediaBucket    string
		BackupsBucket  string
	}

	WhatsApp struct {
		SessionPath          string
		QRTimeout            time.Duration
		ReconnectInterval    time.Duration
		MaxReconnectAttempts int
		MaxQRAttempts        int
	}

	Recovery struct {
		Enabled      bool
		StartupDelay time.Duration
	}

	Database struct {
		URL string
	}

	Logging struct {
		Level          string
		Output         string
		ConsoleFormat  string
		FilePath       string
		FileMaxSize    int
		FileMaxBackups int
		FileMaxAge     int
		FileCompress   bool
		ConsoleColors  bool
	}

	RateLimit struct {
		Requests int
		Window   time.Duration
	}

	CORS struct {
		AllowedOrigins string
	}
}

// LoadConfig carrega a configuração a partir das variáveis de ambiente
func LoadConfig() (*Config, error) {
	// Carregar .env se existir
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.Port = getEnv("PORT", "8001")
	cfg.App.Host = getEnv("HOST", "0.0.0.0")

	// Worker identity
	cfg.Worker.ID = getEnv("WORKER_ID", "")
	if cfg.Worker.ID == "" {
		cfg.Worker.ID = "worker-" + uuid.NewString()[:8]
	}
	cfg.Worker.Endpoint = getEnv("WORKER_ENDPOINT", fmt.Sprintf("http://localhost:%s", cfg.App.Port))
	cfg.Worker.MaxSessions = getEnvAsInt("MAX_SESSIONS", 50)
	cfg.Worker.Description = getEnv("WORKER_DESCRIPTION", "whatsam gateway worker")
	cfg.Worker.Version = getEnv("APP_VERSION", "1.0.0")

	// Backend integration
	cfg.Backend.URL = getEnv("BACKEND_URL", "")
	cfg.Backend.AuthToken = getEnv("WORKER_AUTH_TOKEN", "")
	cfg.Backend.RegistrationEnabled = getEnvAsBool("BACKEND_REGISTRATION_ENABLED", true)
	cfg.Backend.StandaloneMode = getEnvAsBool("STANDALONE_MODE", false)
	cfg.Backend.HeartbeatInterval = getEnvAsMillis("HEARTBEAT_INTERVAL", 30000)
	cfg.Backend.MaxRegistrationRetry = getEnvAsInt("MAX_REGISTRATION_RETRIES", 5)
	cfg.Backend.RegistrationRetry = getEnvAsMillis("REGISTRATION_RETRY_INTERVAL", 5000)
	cfg.Backend.StartupDelay = getEnvAsMillis("WORKER_STARTUP_DELAY", 5000)

	// Sem URL de backend não há registro possível
	if cfg.Backend.URL == "" {
		cfg.Backend.RegistrationEnabled = false
	}

	// Object store (S3 compatível)
	cfg.ObjectStore.Endpoint = getEnv("MINIO_ENDPOINT", "localhost")
	cfg.ObjectStore.Port = getEnv("MINIO_PORT", "9000")
	cfg.ObjectStore.UseSSL = getEnvAsBool("MINIO_USE_SSL", false)
	cfg.ObjectStore.AccessKey = getEnv("MINIO_ACCESS_KEY", "minioadmin")
	cfg.ObjectStore.SecretKey = getEnv("MINIO_SECRET_KEY", "minioadmin")
	cfg.ObjectStore.SessionsBucket = getEnv("MINIO_SESSIONS_BUCKET", "whatsapp-sessions")
	cfg.ObjectStore.MediaBucket = getEnv("MINIO_MEDIA_BUCKET", "whatsapp-media")
	cfg.ObjectStore.BackupsBucket = getEnv("MINIO_BACKUPS_BUCKET", "whatsapp-backups")

	// WhatsApp
	cfg.WhatsApp.SessionPath = getEnv("WHATSAPP_SESSION_PATH", "./storage/sessions")
	cfg.WhatsApp.QRTimeout = getEnvAsMillis("WHATSAPP_QR_TIMEOUT", 60000)
	cfg.WhatsApp.ReconnectInterval = getEnvAsMillis("WHATSAPP_RECONNECT_INTERVAL", 5000)
	cfg.WhatsApp.MaxReconnectAttempts = getEnvAsInt("WHATSAPP_MAX_RECONNECT_ATTEMPTS", 5)
	cfg.WhatsApp.MaxQRAttempts = getEnvAsInt("WHATSAPP_MAX_QR_ATTEMPTS", 3)

	// Recovery
	cfg.Recovery.Enabled = getEnvAsBool("SESSION_RECOVERY_ENABLED", true)
	cfg.Recovery.StartupDelay = getEnvAsMillis("SESSION_RECOVERY_STARTUP_DELAY", 2000)

	// Database (opcional - log de mensagens)
	cfg.Database.URL = getEnv("DATABASE_URL", "")

	// Logging
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.Output = getEnv("LOG_OUTPUT", "dual")
	cfg.Logging.ConsoleFormat = getEnv("LOG_CONSOLE_FORMAT", "console")
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/worker.log")
	cfg.Logging.FileMaxSize = getEnvAsInt("LOG_FILE_MAX_SIZE", 100)
	cfg.Logging.FileMaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3)
	cfg.Logging.FileMaxAge = getEnvAsInt("LOG_FILE_MAX_AGE", 28)
	cfg.Logging.FileCompress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.Logging.ConsoleColors = getEnvAsBool("LOG_CONSOLE_COLORS", true)

	// Rate limit
	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	windowStr := getEnv("RATE_LIMIT_WINDOW", "1m")
	window, err := time.ParseDuration(windowStr)
	if err != nil {
		window = time.Minute
	}
	cfg.RateLimit.Window = window

	// CORS
	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", "*")

	return cfg, nil
}

// BackendEnabled indica se o worker deve se registrar no backend
func (c *Config) BackendEnabled() bool {
	return c.Backend.RegistrationEnabled && !c.Backend.StandaloneMode && c.Backend.URL != ""
}

// ObjectStoreAddress retorna o endereço host:porta do object store
func (c *Config) ObjectStoreAddress() string {
	return c.ObjectStore.Endpoint + ":" + c.ObjectStore.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsMillis interpreta a variável como milissegundos
func getEnvAsMillis(key string, defaultMillis int) time.Duration {
	ms := getEnvAsInt(key, defaultMillis)
	return time.Duration(ms) * time.Millisecond
}

// Implementação da interface ConfigProvider para integração com o logger
func (c *Config) GetLogLevel() string         { return c.Logging.Level }
func (c *Config) GetLogOutput() string        { return c.Logging.Output }
func (c *Config) GetLogConsoleFormat() string { return c.Logging.ConsoleFormat }
func (c *Config) GetLogFilePath() string      { return c.Logging.FilePath }
func (c *Config) GetLogFileMaxSize() int      { return c.Logging.FileMaxSize }
func (c *Config) GetLogFileMaxBackups() int   { return c.Logging.FileMaxBackups }
func (c *Config) GetLogFileMaxAge() int       { return c.Logging.FileMaxAge }
func (c *Config) GetLogFileCompress() bool    { return c.Logging.FileCompress }
func (c *Config) GetLogConsoleColors() bool   { return c.Logging.ConsoleColors }

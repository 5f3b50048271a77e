package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port      string
	AppEnv    string
	DBDSN     string
	JWTSecret string

	// Hugging Face router (OpenAI-compatible). The API key is required
	// for chat turns; its absence fails each turn with a config error.
	HFBaseURL string
	HFAPIKey  string

	// Local Ollama models.
	OllamaBaseURL string

	// Moderation / title generation run on a fixed small model.
	ModerationModel string
	TitleModel      string

	// Resumable streams; empty RedisAddr disables the registrar.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Event publishing; empty RabbitURL disables it.
	RabbitURL   string
	RabbitQueue string

	ChatContextWindowSize int
	GuestDailyLimit       int
	RegularDailyLimit     int
}

func (c Config) Production() bool { return c.AppEnv == "production" }

func Load() Config {
	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/chat_gateway?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "chat_gateway",
		)
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-secret-change-me"
	}

	hfBaseURL := os.Getenv("HF_BASE_URL")
	if hfBaseURL == "" {
		hfBaseURL = "https://router.huggingface.co/v1"
	}

	ollamaBaseURL := os.Getenv("OLLAMA_BASE_URL")
	if ollamaBaseURL == "" {
		ollamaBaseURL = "http://localhost:11434"
	}

	moderationModel := os.Getenv("MODERATION_MODEL")
	if moderationModel == "" {
		moderationModel = "meta-llama/Llama-3.1-8B-Instruct"
	}
	titleModel := os.Getenv("TITLE_MODEL")
	if titleModel == "" {
		titleModel = "meta-llama/Llama-3.1-8B-Instruct"
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "chat_events"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:      port,
		AppEnv:    os.Getenv("APP_ENV"),
		DBDSN:     dsn,
		JWTSecret: secret,

		HFBaseURL: hfBaseURL,
		HFAPIKey:  os.Getenv("HF_API_KEY"),

		OllamaBaseURL: ollamaBaseURL,

		ModerationModel: moderationModel,
		TitleModel:      titleModel,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		ChatContextWindowSize: envInt("CHAT_CONTEXT_WINDOW_SIZE", 20),
		GuestDailyLimit:       envInt("GUEST_DAILY_MESSAGE_LIMIT", 20),
		RegularDailyLimit:     envInt("REGULAR_DAILY_MESSAGE_LIMIT", 100),
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"whatsapp-relay/internal/integrations/paramstore"
	"whatsapp-relay/internal/usecase"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"

	// localParamPrefix names secrets served from the environment when no
	// SSM prefix is configured.
	localParamPrefix = "/local"
)

type WhatsApp struct {
	AccessToken   string
	PhoneNumberID string
	APIVersion    string
	VerifyToken   string
	BaseURL       string
}

type OpenAI struct {
	APIKey                string
	AssistantID           string
	BaseURL               string
	TranscriptionModel    string
	TranscriptionLanguage string
}

type Store struct {
	Backend    string
	Table      string
	SQLitePath string
}

type Log struct {
	Level  string
	Format string
	File   string
}

// Config is built once at startup and passed to constructors.
type Config struct {
	WhatsApp    WhatsApp
	OpenAI      OpenAI
	Poll        usecase.PollPolicy
	Store       Store
	Log         Log
	ParamPrefix string
	HTTPAddr    string
}

// Load reads the configuration from the environment. defaultBackend applies
// when STORE_BACKEND is unset.
func Load(defaultBackend string) (Config, error) {
	def := usecase.DefaultPollPolicy()
	cfg := Config{
		WhatsApp: WhatsApp{
			AccessToken:   os.Getenv("WHATSAPP_ACCESS_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			APIVersion:    envString("WHATSAPP_API_VERSION", "v18.0"),
			VerifyToken:   os.Getenv("WHATSAPP_VERIFY_TOKEN"),
			BaseURL:       os.Getenv("WHATSAPP_BASE_URL"),
		},
		OpenAI: OpenAI{
			APIKey:                os.Getenv("OPENAI_API_KEY"),
			AssistantID:           os.Getenv("OPENAI_ASSISTANT_ID"),
			BaseURL:               os.Getenv("OPENAI_BASE_URL"),
			TranscriptionModel:    envString("TRANSCRIPTION_MODEL", "whisper-1"),
			TranscriptionLanguage: envString("TRANSCRIPTION_LANGUAGE", "fr"),
		},
		Poll: usecase.PollPolicy{
			Interval:    envDuration("RUN_POLL_INTERVAL", def.Interval),
			MaxAttempts: envInt("RUN_POLL_MAX_ATTEMPTS", def.MaxAttempts),
			Timeout:     envDuration("RUN_POLL_TIMEOUT", def.Timeout),
		},
		Store: Store{
			Backend:    strings.ToLower(envString("STORE_BACKEND", defaultBackend)),
			Table:      os.Getenv("STATE_TABLE"),
			SQLitePath: envString("SQLITE_PATH", "data/relay.db"),
		},
		Log: Log{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
			File:   os.Getenv("LOG_FILE"),
		},
		ParamPrefix: strings.TrimRight(strings.TrimSpace(os.Getenv("PARAM_PREFIX")), "/"),
		HTTPAddr:    envString("HTTP_ADDR", ":8080"),
	}
	return cfg, cfg.Validate()
}

// Validate reports every missing or inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.WhatsApp.PhoneNumberID == "" {
		errs = append(errs, errors.New("WHATSAPP_PHONE_NUMBER_ID is required"))
	}
	if c.OpenAI.AssistantID == "" {
		errs = append(errs, errors.New("OPENAI_ASSISTANT_ID is required"))
	}
	if c.ParamPrefix == "" {
		if c.WhatsApp.AccessToken == "" {
			errs = append(errs, errors.New("WHATSAPP_ACCESS_TOKEN is required without PARAM_PREFIX"))
		}
		if c.OpenAI.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required without PARAM_PREFIX"))
		}
	}
	switch c.Store.Backend {
	case BackendDynamoDB:
		if c.Store.Table == "" {
			errs = append(errs, errors.New("STATE_TABLE is required for the dynamodb backend"))
		}
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("RUN_POLL_INTERVAL must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SecretPrefix is the parameter prefix the integrations read tokens under.
func (c Config) SecretPrefix() string {
	if c.ParamPrefix != "" {
		return c.ParamPrefix
	}
	return localParamPrefix
}

// LocalSecrets serves the tokens from the environment under SecretPrefix.
// It is used when no SSM prefix is configured.
func (c Config) LocalSecrets() paramstore.Static {
	return paramstore.Static{
		localParamPrefix + "/whatsapp-token": c.WhatsApp.AccessToken,
		localParamPrefix + "/open-ai-token":  c.OpenAI.APIKey,
	}
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
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

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/integrations/openai"
	"whatsapp-relay/internal/integrations/paramstore"
	"whatsapp-relay/internal/integrations/whatsapp"
	"whatsapp-relay/internal/repository"
	"whatsapp-relay/internal/usecase"
)

// Store is what the relay persists: profiles and thread handles.
type Store interface {
	usecase.ProfileRepository
	usecase.ThreadRepository
}

// App holds the wired services shared by the Lambda and server entrypoints.
type App struct {
	Router   *usecase.Router
	Profiles *usecase.ProfileService

	closers []io.Closer
}

// New wires every component from cfg.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}

	var (
		secrets paramstore.Getter = cfg.LocalSecrets()
		awsCfg  *awsAPIs
	)
	if cfg.ParamPrefix != "" || cfg.Store.Backend == config.BackendDynamoDB {
		apis, err := loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		awsCfg = apis
	}
	if cfg.ParamPrefix != "" {
		ssmClient, err := paramstore.New(awsCfg.ssm)
		if err != nil {
			return nil, fmt.Errorf("app: create SSM client: %w", err)
		}
		// Clients still fetch lazily, so a failed prefetch only costs a warning.
		if err := ssmClient.Prefetch(ctx, cfg.SecretPrefix()+"/whatsapp-token", cfg.SecretPrefix()+"/open-ai-token"); err != nil {
			logger.WarnContext(ctx, "secret prefetch failed", "err", err)
		}
		secrets = ssmClient
	}

	store, err := a.openStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	waClient, err := whatsapp.NewClient(secrets, cfg.SecretPrefix(), cfg.WhatsApp.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.WhatsApp.BaseURL),
		whatsapp.WithAPIVersion(cfg.WhatsApp.APIVersion),
	)
	if err != nil {
		return nil, a.fail(fmt.Errorf("app: create WhatsApp client: %w", err))
	}

	aiOpts := []openai.Option{openai.WithTranscription(cfg.OpenAI.TranscriptionModel, cfg.OpenAI.TranscriptionLanguage)}
	if cfg.OpenAI.BaseURL != "" {
		aiOpts = append(aiOpts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	aiClient, err := openai.NewClient(secrets, cfg.SecretPrefix(), cfg.OpenAI.AssistantID, aiOpts...)
	if err != nil {
		return nil, a.fail(fmt.Errorf("app: create OpenAI client: %w", err))
	}

	profiles, err := usecase.NewProfileService(store, logger)
	if err != nil {
		return nil, a.fail(err)
	}
	conversations, err := usecase.NewConversationService(aiClient, store, cfg.Poll, logger)
	if err != nil {
		return nil, a.fail(err)
	}
	audio, err := usecase.NewAudioService(waClient, aiClient, "", logger)
	if err != nil {
		return nil, a.fail(err)
	}
	router, err := usecase.NewRouter(profiles, audio, conversations, waClient, logger)
	if err != nil {
		return nil, a.fail(err)
	}

	a.Router = router
	a.Profiles = profiles
	logger.Info("relay wired",
		"store", cfg.Store.Backend,
		"secrets", secretSource(cfg),
		"poll_interval", cfg.Poll.Interval,
		"poll_max_attempts", cfg.Poll.MaxAttempts,
		"poll_timeout", cfg.Poll.Timeout,
	)
	return a, nil
}

// Close releases store handles.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) fail(err error) error {
	_ = a.Close()
	return err
}

type awsAPIs struct {
	ssm    *awsssm.Client
	dynamo *awsdynamodb.Client
}

func loadAWS(ctx context.Context) (*awsAPIs, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	return &awsAPIs{
		ssm:    awsssm.NewFromConfig(cfg),
		dynamo: awsdynamodb.NewFromConfig(cfg),
	}, nil
}

func (a *App) openStore(cfg config.Config, apis *awsAPIs) (Store, error) {
	switch cfg.Store.Backend {
	case config.BackendDynamoDB:
		s, err := repository.NewDynamoStore(apis.dynamo, cfg.Store.Table)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return s, nil
	case config.BackendSQLite:
		s, err := repository.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		a.closers = append(a.closers, s)
		return s, nil
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("app: unknown store backend %q", cfg.Store.Backend)
}

func secretSource(cfg config.Config) string {
	if cfg.ParamPrefix != "" {
		return "ssm"
	}
	return "env"
}

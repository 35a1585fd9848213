package app

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/app/config"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/authstore"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/engine"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/http/handlers"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/infra/database"
	infraprotocol "github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/infra/protocol"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/pacer"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/recovery"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/internal/registry"
	"github.com/mnofrizal/worker-whatsam-gateway-sub000/pkg/logger"
)

// Container gerencia todas as dependências do worker
type Container struct {
	Config *config.Config

	// Persistência opcional de mensagens
	DB          *bun.DB
	MessageRepo *database.MessageRepository

	// Armazenamento de credenciais
	Storage   *authstore.MinioStorage
	AuthStore *authstore.Store

	// Núcleo
	Pacer    *pacer.Pacer
	Engine   *engine.Engine
	Registry *registry.Client
	Recovery *recovery.Coordinator

	// Handlers
	SessionHandler *handlers.SessionHandler
	MessageHandler *handlers.MessageHandler
	HealthHandler  *handlers.HealthHandler

	Logger logger.Logger
}

// NewContainer monta o grafo de dependências do worker na ordem:
// banco opcional, object store, engine, registry, recovery, handlers.
func NewContainer(ctx context.Context, cfg *config.Config, log logger.Logger) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: log.WithComponent("di-container"),
	}

	if err := c.initDatabase(ctx, log); err != nil {
		return nil, err
	}

	if err := c.initAuthStore(ctx, log); err != nil {
		return nil, err
	}

	c.initEngine(log)
	c.initRegistry(log)
	c.initHandlers(log)

	c.Logger.Info().Msg("Container initialized successfully")
	return c, nil
}

// initDatabase conecta ao Postgres apenas quando DATABASE_URL está
// configurada; sem ela o log de mensagens fica desligado.
func (c *Container) initDatabase(ctx context.Context, log logger.Logger) error {
	if c.Config.Database.URL == "" {
		c.Logger.Info().Msg("Message log disabled (no DATABASE_URL)")
		return nil
	}

	db, err := database.Connect(ctx, c.Config.Database.URL, log)
	if err != nil {
		return err
	}

	c.DB = db
	c.MessageRepo = database.NewMessageRepository(db, log)
	return nil
}

func (c *Container) initAuthStore(ctx context.Context, log logger.Logger) error {
	storage, err := authstore.NewMinioStorage(authstore.MinioConfig{
		Address:   c.Config.ObjectStoreAddress(),
		AccessKey: c.Config.ObjectStore.AccessKey,
		SecretKey: c.Config.ObjectStore.SecretKey,
		UseSSL:    c.Config.ObjectStore.UseSSL,
	}, log)
	if err != nil {
		return err
	}

	c.Storage = storage
	c.AuthStore = authstore.NewStore(c.Config.WhatsApp.SessionPath, storage, authstore.Buckets{
		Sessions: c.Config.ObjectStore.SessionsBucket,
		Media:    c.Config.ObjectStore.MediaBucket,
		Backups:  c.Config.ObjectStore.BackupsBucket,
	}, log)

	// Falha aqui não derruba o worker; o espelhamento remoto é best-effort
	if err := c.AuthStore.EnsureBuckets(ctx); err != nil {
		c.Logger.WithError(err).Warn().Msg("Failed to ensure object store buckets")
	}

	return nil
}

func (c *Container) initEngine(log logger.Logger) {
	c.Pacer = pacer.New(pacer.DefaultConfig(), nil, log)

	factory := infraprotocol.NewFactory(infraprotocol.Config{
		DisplayQRInTerminal: c.Config.App.Env == "development",
	}, log)

	engineCfg := engine.DefaultConfig()
	engineCfg.MaxSessions = c.Config.Worker.MaxSessions
	engineCfg.MaxQRAttempts = c.Config.WhatsApp.MaxQRAttempts
	engineCfg.QRExpiry = c.Config.WhatsApp.QRTimeout
	engineCfg.ReconnectInterval = c.Config.WhatsApp.ReconnectInterval

	var notifier engine.Notifier
	if c.Config.BackendEnabled() {
		c.Registry = registry.NewClient(registry.Config{
			BaseURL:   c.Config.Backend.URL,
			AuthToken: c.Config.Backend.AuthToken,
			Identity: registry.WorkerIdentity{
				ID:          c.Config.Worker.ID,
				Endpoint:    c.Config.Worker.Endpoint,
				MaxSessions: c.Config.Worker.MaxSessions,
				Description: c.Config.Worker.Description,
				Version:     c.Config.Worker.Version,
				Environment: c.Config.App.Env,
			},
			HeartbeatInterval: c.Config.Backend.HeartbeatInterval,
			MaxRetries:        c.Config.Backend.MaxRegistrationRetry,
			RetryInterval:     c.Config.Backend.RegistrationRetry,
			StartupDelay:      c.Config.Backend.StartupDelay,
		}, log)
		notifier = c.Registry
	} else {
		notifier = registry.NoopNotifier{}
	}

	// Interface tipada opcional: nil explícito quando não há repositório
	var msgLog engine.MessageLog
	if c.MessageRepo != nil {
		msgLog = c.MessageRepo
	}

	c.Engine = engine.New(engineCfg, factory, c.AuthStore, notifier, c.Pacer, msgLog, log)
}

func (c *Container) initRegistry(log logger.Logger) {
	if c.Registry == nil || !c.Config.Recovery.Enabled {
		return
	}

	c.Recovery = recovery.NewCoordinator(
		c.Engine,
		c.AuthStore,
		c.Registry,
		c.Config.Recovery.StartupDelay,
		log,
	)
}

func (c *Container) initHandlers(log logger.Logger) {
	c.SessionHandler = handlers.NewSessionHandler(c.Engine, log)

	// Histórico segue o mesmo contrato tipado opcional do log de mensagens
	var history handlers.MessageHistory
	if c.MessageRepo != nil {
		history = c.MessageRepo
	}
	c.MessageHandler = handlers.NewMessageHandler(c.Engine, history, log)

	checks := map[string]handlers.Check{
		"storage": func(ctx context.Context) error {
			return c.Storage.Ping(ctx, c.Config.ObjectStore.SessionsBucket)
		},
	}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			return c.DB.PingContext(ctx)
		}
	}

	c.HealthHandler = handlers.NewHealthHandler(c.Config.Worker.ID, c.Engine, checks, log)
}

// Close encerra o container e seus recursos na ordem inversa
func (c *Container) Close() error {
	c.Logger.Info().Msg("Closing container")

	if c.Engine != nil {
		c.Engine.Shutdown()
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.WithError(err).Error().Msg("Failed to close database")
			return err
		}
	}

	c.Logger.Info().Msg("Container closed successfully")
	return nil
}

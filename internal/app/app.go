package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/tuyendl123/ComfyUI/internal/common"
	"github.com/tuyendl123/ComfyUI/internal/executor"
	"github.com/tuyendl123/ComfyUI/internal/handlers"
	"github.com/tuyendl123/ComfyUI/internal/interfaces"
	"github.com/tuyendl123/ComfyUI/internal/nodes"
	"github.com/tuyendl123/ComfyUI/internal/services/cache"
	"github.com/tuyendl123/ComfyUI/internal/services/events"
	"github.com/tuyendl123/ComfyUI/internal/services/files"
	"github.com/tuyendl123/ComfyUI/internal/services/prompts"
	"github.com/tuyendl123/ComfyUI/internal/services/sessions"
	"github.com/tuyendl123/ComfyUI/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	DB             *badger.BadgerDB
	HistoryStorage interfaces.HistoryStorage

	Sessions     *sessions.Registry
	Broadcaster  *events.Broadcaster
	Cache        *cache.Service
	Files        *files.Service
	NodeRegistry *nodes.Registry
	Executor     *executor.Executor
	Prompts      *prompts.Service

	WSHandler         *handlers.WebSocketHandler
	PromptHandler     *handlers.PromptHandler
	APIV1Handler      *handlers.APIV1Handler
	ViewHandler       *handlers.ViewHandler
	QueueHandler      *handlers.QueueHandler
	HistoryHandler    *handlers.HistoryHandler
	ObjectInfoHandler *handlers.ObjectInfoHandler
	APIHandler        *handlers.APIHandler
}

// New creates the application with all services wired, and starts the
// executor worker and event dispatch loop.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:    config,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := config.EnsureDirectories(); err != nil {
		cancel()
		return nil, err
	}

	db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.DB = db
	a.HistoryStorage = badger.NewHistoryStorage(db, logger)

	a.Sessions = sessions.NewRegistry(logger)

	var opts []events.Option
	if config.WebSocket.PreviewThrottle != "" {
		if interval, err := time.ParseDuration(config.WebSocket.PreviewThrottle); err == nil {
			opts = append(opts, events.WithPreviewThrottle(interval))
		}
	}
	a.Broadcaster = events.NewBroadcaster(a.Sessions, logger, opts...)

	cacheDir, err := config.ResolveCacheDir()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache, err = cache.NewService(cacheDir, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Files, err = files.NewService(config.Paths, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.NodeRegistry = nodes.NewRegistry(logger)
	a.NodeRegistry.LoadSources([]nodes.Source{nodes.BaseSource()})

	a.Executor = executor.New(a.NodeRegistry, a.Broadcaster, a.Sessions, a.HistoryStorage, executor.Dirs{
		Input:  a.Files.InputDir(),
		Output: a.Files.OutputDir(),
		Temp:   a.Files.RootFor("temp"),
	}, logger)
	a.Broadcaster.SetQueueInfo(a.Executor.TasksRemaining)

	a.Prompts = prompts.NewService(a.Executor, a.Cache, a.Files, a.Broadcaster, config.Queue.MaxPending, logger)

	a.WSHandler = handlers.NewWebSocketHandler(a.Sessions, a.Executor.TasksRemaining, config.WebSocket)
	a.PromptHandler = handlers.NewPromptHandler(a.Prompts)
	a.APIV1Handler = handlers.NewAPIV1Handler(a.Prompts, a.Cache, a.Files, a.HistoryStorage, config.Server.MaxUploadSize)
	a.ViewHandler = handlers.NewViewHandler(a.Files, config.Server.MaxUploadSize)
	a.QueueHandler = handlers.NewQueueHandler(a.Executor)
	a.HistoryHandler = handlers.NewHistoryHandler(a.HistoryStorage)
	a.ObjectInfoHandler = handlers.NewObjectInfoHandler(a.NodeRegistry)
	a.APIHandler = handlers.NewAPIHandler()

	go a.Broadcaster.Run(ctx)
	for i := 0; i < config.Queue.Workers; i++ {
		go a.Executor.Run(ctx)
	}

	logger.Info().
		Int("node_types", len(a.NodeRegistry.Names())).
		Int("queue_ceiling", config.Queue.MaxPending).
		Msg("Application initialized")

	return a, nil
}

// Close stops background work and releases resources.
func (a *App) Close() {
	a.cancelCtx()
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// Package app wires the gateway components together: the route loader, the
// MCP server, the cache manager, the bridge manager, and the reload
// coordinator, plus the HTTP handlers built on top of them.
package app

import (
	"context"
	"time"

	"github.com/routegate/routegate/internal/bridge"
	"github.com/routegate/routegate/internal/cache"
	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/config"
	"github.com/routegate/routegate/internal/handlers"
	"github.com/routegate/routegate/internal/mcp"
	"github.com/routegate/routegate/internal/reload"
	"github.com/routegate/routegate/internal/routes"
)

// serverName identifies the gateway in MCP handshakes.
const serverName = "routegate"

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Loader   *routes.FileLoader
	MCP      *mcp.Server
	Stream   *mcp.StreamHandler
	Cache    *cache.Manager
	Bridges  *bridge.Manager
	Reloader *reload.Coordinator

	// HTTP handlers
	HealthHandler     *handlers.HealthHandler
	VersionHandler    *handlers.VersionHandler
	ToolsHandler      *handlers.ToolsHandler
	CacheStatsHandler *handlers.CacheStatsHandler
	BridgeListHandler *handlers.BridgeListHandler
	BridgeCallHandler *handlers.BridgeCallHandler
	RouteDispatcher   *handlers.RouteDispatcher
}

// New initializes the application with all dependencies. A failed initial
// route load is downgraded to a warning: the gateway starts with an empty
// table and picks up routes when the files become readable.
func New(ctx context.Context, cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	a.Loader = routes.NewFileLoader(cfg.Routes.Dir, logger)
	a.MCP = mcp.NewServer(serverName, config.GetVersion(), logger)
	a.Stream = mcp.NewStreamHandler(a.MCP, logger)
	a.Cache = cache.NewManager(time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)
	a.MCP.SetCache(a.Cache)

	a.seedRegistries()

	table := a.loadInitialTable(ctx)
	a.MCP.SwapTable(table)
	a.Cache.Refresh(table)

	// The manager handles an empty bridge list: listings come back empty
	// and tool lookups miss, so the endpoints stay up either way.
	a.Bridges = bridge.NewManager(bridgeConfigs(cfg.Bridges), logger)
	a.MCP.SetBridges(a.Bridges)

	if cfg.Routes.Watch {
		a.Reloader = reload.NewCoordinator(
			cfg.Routes.Dir,
			time.Duration(cfg.Routes.DebounceMS)*time.Millisecond,
			a.Loader,
			a.applyTable,
			table.Generation,
			logger,
		)
	}

	a.initHandlers()

	logger.Info().
		Int("routes", table.Len()).
		Int("bridges", len(cfg.Bridges)).
		Msg("application initialization complete")

	return a, nil
}

// Start launches the background components: bridge processes and the route
// directory watcher.
func (a *App) Start(ctx context.Context) error {
	a.Bridges.Start(ctx)
	a.Bridges.ListAllTools(ctx)
	if a.Reloader != nil {
		if err := a.Reloader.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the watcher and terminates bridge processes.
func (a *App) Close() {
	if a.Reloader != nil {
		a.Reloader.Close()
	}
	a.Bridges.Close()
}

// loadInitialTable performs the startup route load.
func (a *App) loadInitialTable(ctx context.Context) *routes.Table {
	descriptors, err := a.Loader.Load(ctx)
	if err != nil {
		a.Logger.Warn().
			Str("dir", a.Config.Routes.Dir).
			Str("error", err.Error()).
			Msg("initial route load failed, starting with empty table")
		return routes.EmptyTable()
	}
	return routes.NewTable(1, descriptors)
}

// applyTable is invoked by the reload coordinator for every rebuilt table.
// The swap notifies connected clients; the cache refresh follows so cached
// listings converge on the same generation.
func (a *App) applyTable(ctx context.Context, table *routes.Table) {
	a.MCP.RefreshTable(ctx, table)
	a.Cache.Refresh(table)
}

// seedRegistries installs the statically configured resources and prompts.
func (a *App) seedRegistries() {
	for _, rc := range a.Config.Resources {
		a.MCP.Resources().Register(mcp.NewResource(rc.URI, rc.Name, rc.Description, rc.MIMEType, rc.Content))
	}
	for _, pc := range a.Config.Prompts {
		a.MCP.Prompts().Register(mcp.NewPrompt(pc.Name, pc.Description, pc.Content))
	}
}

// initHandlers initializes all HTTP handlers.
func (a *App) initHandlers() {
	a.HealthHandler = handlers.NewHealthHandler(a.Logger)
	a.VersionHandler = handlers.NewVersionHandler(a.Logger)
	a.ToolsHandler = handlers.NewToolsHandler(a.MCP, a.Logger)
	a.CacheStatsHandler = handlers.NewCacheStatsHandler(a.Cache, a.Logger)
	a.RouteDispatcher = handlers.NewRouteDispatcher(a.MCP, a.Logger)
	a.BridgeListHandler = handlers.NewBridgeListHandler(a.Bridges, a.Logger)
	a.BridgeCallHandler = handlers.NewBridgeCallHandler(a.Bridges, a.Logger)
}

// bridgeConfigs converts configured bridge entries to bridge.Config.
func bridgeConfigs(entries []config.BridgeConfig) []bridge.Config {
	out := make([]bridge.Config, 0, len(entries))
	for _, e := range entries {
		out = append(out, bridge.Config{
			ID:      e.ID,
			Command: e.Command,
			Args:    e.Args,
			Dir:     e.Dir,
			Env:     e.Env,
			Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
		})
	}
	return out
}

package main

import (
	"fmt"

	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/commands"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/config"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/events"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/httpserver"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/jupyter"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/labbridge"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/mcptools"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/plugins"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/schema"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/telemetry"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/toolkit"
	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// gateway holds the wired components. The same set serves HTTP-only and
// stdio runs, so MCP tool calls always reach connected lab frontends.
type gateway struct {
	schemas  *schema.Registry
	bus      *events.Manager
	registry *commands.Registry
	plugins  *plugins.Manager
	bridge   *labbridge.Bridge
	mcp      *mcp.Server
	http     *httpserver.Server
	upstream *jupyter.Client
}

func newGateway(cfg *config.Config, logger *zap.Logger) (*gateway, error) {
	gw := &gateway{schemas: schema.NewRegistry()}
	if _, err := gw.schemas.Register(toolkit.SchemaDocument); err != nil {
		return nil, err
	}
	for _, path := range cfg.Toolkit.Schemas {
		id, err := gw.schemas.RegisterFile(path)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", path, err)
		}
		logger.Info("event schema registered", zap.String("schema_id", id))
	}

	gw.bus = events.NewManager(logger.Named("events"), events.WithValidator(gw.schemas))

	gw.registry = commands.NewRegistry(logger.Named("commands"))
	if err := commands.RegisterBuiltins(gw.registry); err != nil {
		return nil, err
	}
	executor, err := telemetry.NewInstrumentedExecutor(gw.registry)
	if err != nil {
		return nil, err
	}

	gw.plugins = plugins.NewManager(logger.Named("plugins"), executor, map[sdk.Token]any{
		sdk.TokenEventListener: gw.bus,
	})
	if err := gw.plugins.Register(toolkit.Plugin()); err != nil {
		return nil, err
	}
	if cfg.Plugins.Manifest != "" {
		if err := gw.plugins.LoadManifest(cfg.Plugins.Manifest); err != nil {
			logger.Warn("plugin manifest", zap.Error(err))
		}
	}
	if err := gw.plugins.ActivateAll(); err != nil {
		logger.Error("plugin activation", zap.Error(err))
	}

	gw.mcp = mcptools.NewServer(gw.bus, cfg.Toolkit.EmitDelay, logger.Named("mcp"))
	gw.bridge = labbridge.NewBridge(gw.registry, logger.Named("lab"))

	deps := httpserver.Deps{
		Events:   gw.bus,
		Commands: gw.registry,
		Executor: executor,
		Schemas:  gw.schemas,
		Lab:      gw.bridge,
		Plugins:  gw.plugins.Active,
		Version:  version,
	}
	if cfg.Toolkit.MCP {
		deps.MCP = mcptools.Handler(gw.mcp)
	}
	if gw.http, err = httpserver.New(cfg, logger.Named("http"), deps); err != nil {
		return nil, err
	}

	gw.upstream = jupyter.NewClient(cfg.Upstream, logger.Named("jupyter"), gw.bus)
	return gw, nil
}

// close waits for in-flight deliveries and deactivates plugins.
func (gw *gateway) close() {
	gw.bridge.Close()
	gw.bus.Wait()
	gw.plugins.Shutdown()
}

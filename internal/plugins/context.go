package plugins

import (
	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

type pluginContext struct {
	log      *zap.Logger
	commands sdk.CommandExecutor
	services map[sdk.Token]any
	config   map[string]any
}

func newPluginContext(log *zap.Logger, commands sdk.CommandExecutor, services map[sdk.Token]any, cfg map[string]any) sdk.Context {
	return &pluginContext{log: log, commands: commands, services: services, config: cfg}
}

func (c *pluginContext) Log() *zap.Logger              { return c.log }
func (c *pluginContext) Commands() sdk.CommandExecutor { return c.commands }
func (c *pluginContext) Config() map[string]any        { return c.config }

func (c *pluginContext) Service(token sdk.Token) (any, bool) {
	svc, ok := c.services[token]
	return svc, ok
}

// Package toolkit forwards lab command events from the event bus to the host
// command registry.
package toolkit

import (
	_ "embed"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

const (
	// SchemaID is the identifier of the lab command event schema.
	SchemaID = "https://events.jupyter.org/jupyterlab_command_toolkit/lab_command/v1"

	PluginID = "jupyterlab-commands-toolkit:plugin"
)

// SchemaDocument is the event schema registered with the host schema registry.
//
//go:embed events/lab-command.yml
var SchemaDocument []byte

// Plugin returns the plugin descriptor handed to the host.
func Plugin() sdk.Plugin {
	return sdk.Plugin{
		ID:          PluginID,
		Description: "Runs JupyterLab commands requested through lab command events.",
		AutoStart:   true,
		Requires:    []sdk.Token{sdk.TokenEventListener},
		Activate: func(app sdk.Context) error {
			listener, err := sdk.Require[sdk.EventListener](app, sdk.TokenEventListener)
			if err != nil {
				return err
			}
			Activate(app.Log(), app.Commands(), listener)
			return nil
		},
	}
}

// Activate registers the forwarding callback for SchemaID on listener.
func Activate(log *zap.Logger, commands sdk.CommandExecutor, listener sdk.EventListener) {
	listener.AddListener(SchemaID, Forwarder(commands))
	log.Info("commands toolkit activated", zap.String("schema_id", SchemaID))
}

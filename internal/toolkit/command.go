package toolkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
)

// ErrInvalidCommand is returned for lab command events without a usable name.
var ErrInvalidCommand = errors.New("toolkit: invalid lab command event")

// CommandRequest is the payload of a lab command event.
type CommandRequest struct {
	Name string `json:"name"`
	Args any    `json:"args"`
}

// Data returns the request as event payload fields.
func (r CommandRequest) Data() map[string]any {
	return map[string]any{"name": r.Name, "args": r.Args}
}

// ParseCommand reads name and args from ev. args is not interpreted; a
// missing args field yields nil.
func ParseCommand(ev sdk.Event) (CommandRequest, error) {
	raw, ok := ev["name"]
	if !ok {
		return CommandRequest{}, fmt.Errorf("%w: missing name", ErrInvalidCommand)
	}
	name, ok := raw.(string)
	if !ok {
		return CommandRequest{}, fmt.Errorf("%w: name is %T, not a string", ErrInvalidCommand, raw)
	}
	if name == "" {
		return CommandRequest{}, fmt.Errorf("%w: empty name", ErrInvalidCommand)
	}
	return CommandRequest{Name: name, Args: ev["args"]}, nil
}

// Forwarder returns the listener callback that runs each lab command on
// commands. The executor error is returned as is.
func Forwarder(commands sdk.CommandExecutor) sdk.ListenerFunc {
	return func(ctx context.Context, _ sdk.EventManager, _ string, ev sdk.Event) error {
		req, err := ParseCommand(ev)
		if err != nil {
			return err
		}
		_, err = commands.Execute(ctx, req.Name, req.Args)
		return err
	}
}

package commands

import "context"

// RegisterBuiltins adds the commands served by the gateway itself.
func RegisterBuiltins(r *Registry) error {
	builtins := map[string]Command{
		"gateway:echo": {
			Label:   "Echo",
			Caption: "Returns its arguments",
			Execute: func(_ context.Context, args any) (any, error) { return args, nil },
		},
		"gateway:list-commands": {
			Label:   "List commands",
			Caption: "Lists the commands the gateway can execute",
			Execute: func(context.Context, any) (any, error) { return r.List(), nil },
		},
	}
	for id, cmd := range builtins {
		if _, err := r.AddCommand(id, cmd); err != nil {
			return err
		}
	}
	return nil
}

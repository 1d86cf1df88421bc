package sdk

import "context"

// CommandExecutor runs a registered host command by name.
type CommandExecutor interface {
	Execute(ctx context.Context, name string, args any) (any, error)
}

// ExecutorFunc adapts a function to CommandExecutor.
type ExecutorFunc func(ctx context.Context, name string, args any) (any, error)

func (fn ExecutorFunc) Execute(ctx context.Context, name string, args any) (any, error) {
	return fn(ctx, name, args)
}

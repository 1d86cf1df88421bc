package sdk

import (
	"fmt"

	"go.uber.org/zap"
)

// Context is what the host hands to Plugin.Activate.
type Context interface {
	Log() *zap.Logger
	Commands() CommandExecutor
	Service(token Token) (any, bool)
	Config() map[string]any
}

// Require resolves token from app and asserts it to T.
func Require[T any](app Context, token Token) (T, error) {
	var zero T
	svc, ok := app.Service(token)
	if !ok {
		return zero, fmt.Errorf("sdk: service %q not provided", token)
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("sdk: service %q has type %T", token, svc)
	}
	return typed, nil
}

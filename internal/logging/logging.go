package logging

import (
	"fmt"

	"go.uber.org/zap"
)

type Cfg struct {
	Level string
	JSON  bool
}

// New builds the process logger. Console encoding unless JSON is set.
func New(c Cfg) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
	}
	if c.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", c.Level, err)
		}
	}
	return cfg.Build()
}

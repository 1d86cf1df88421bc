package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Auth      Auth      `yaml:"auth"`
	Logging   Logging   `yaml:"logging"`
	Upstream  Upstream  `yaml:"upstream"`
	Toolkit   Toolkit   `yaml:"toolkit"`
	Plugins   Plugins   `yaml:"plugins"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type HTTP struct {
	Bind        string   `yaml:"bind" env:"LABCMD_HTTP_BIND"`
	Port        int      `yaml:"port" env:"LABCMD_HTTP_PORT"`
	CORSOrigins []string `yaml:"cors_origins" env:"LABCMD_HTTP_CORS_ORIGINS"`
	TLS         TLS      `yaml:"tls"`
}

type TLS struct {
	Enabled bool   `yaml:"enabled" env:"LABCMD_TLS_ENABLED"`
	Cert    string `yaml:"cert" env:"LABCMD_TLS_CERT"`
	Key     string `yaml:"key" env:"LABCMD_TLS_KEY"`
}

type Auth struct {
	JWTPublicKeys []string `yaml:"jwt_public_keys" env:"LABCMD_JWT_PUBLIC_KEYS"` // PEM files
	Issuer        string   `yaml:"issuer" env:"LABCMD_JWT_ISSUER"`
	Audience      string   `yaml:"audience" env:"LABCMD_JWT_AUDIENCE"`
}

type Logging struct {
	Level string `yaml:"level" env:"LABCMD_LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"LABCMD_LOG_JSON"`
}

// Upstream is the Jupyter server whose event stream is mirrored locally.
type Upstream struct {
	URL            string        `yaml:"url" env:"LABCMD_UPSTREAM_URL"` // http://localhost:8888
	Token          string        `yaml:"token" env:"LABCMD_UPSTREAM_TOKEN"`
	Insecure       bool          `yaml:"insecure" env:"LABCMD_UPSTREAM_INSECURE"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" env:"LABCMD_UPSTREAM_RECONNECT_DELAY"`
}

type Toolkit struct {
	EmitDelay time.Duration `yaml:"emit_delay" env:"LABCMD_EMIT_DELAY"`
	Schemas   []string      `yaml:"schemas" env:"LABCMD_SCHEMAS"` // extra event schema files
	MCP       bool          `yaml:"mcp" env:"LABCMD_MCP"`
}

type Plugins struct {
	Manifest string `yaml:"manifest" env:"LABCMD_PLUGINS_MANIFEST"`
}

type Telemetry struct {
	Endpoint    string `yaml:"endpoint" env:"LABCMD_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"LABCMD_OTEL_SERVICE_NAME"`
}

// Load reads the YAML file at path, applies LABCMD_* environment overrides
// and fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Config{Toolkit: Toolkit{MCP: true}}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if c.HTTP.Bind == "" {
		c.HTTP.Bind = "0.0.0.0"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if len(c.HTTP.CORSOrigins) == 0 {
		c.HTTP.CORSOrigins = []string{"*"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Upstream.ReconnectDelay == 0 {
		c.Upstream.ReconnectDelay = 2 * time.Second
	}
	if c.Toolkit.EmitDelay == 0 {
		c.Toolkit.EmitDelay = 100 * time.Millisecond
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "labcmd-gateway"
	}
	if c.HTTP.TLS.Enabled && (c.HTTP.TLS.Cert == "" || c.HTTP.TLS.Key == "") {
		return nil, errors.New("config: tls enabled without cert and key")
	}
	return &c, nil
}

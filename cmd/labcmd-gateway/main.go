package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/config"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/logging"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/mcptools"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/reloader"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

var errStdioDone = errors.New("mcp stdio session ended")

func main() {
	cfgPath := os.Getenv("LABCMD_CONFIG")
	if cfgPath == "" {
		cfgPath = "/etc/labcmd/config.yaml"
	}
	flag.StringVar(&cfgPath, "config", cfgPath, "path to config.yaml")
	stdio := flag.Bool("stdio", false, "serve the MCP toolkit on stdin/stdout")
	flag.Parse()

	if err := run(cfgPath, *stdio); err != nil {
		fmt.Fprintln(os.Stderr, "labcmd-gateway:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, stdio bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Cfg{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	}

	gw, err := newGateway(cfg, logger)
	if err != nil {
		return err
	}

	// With --stdio, stdout belongs to the MCP client; the HTTP listener
	// still runs so lab frontends can connect and execute the commands.
	banner := os.Stdout
	if stdio {
		banner = os.Stderr
	}
	fmt.Fprintln(banner, `
  _       _                       _ 
 | | __ _| |__   ___ _ __ ___   __| |
 | |/ _' | '_ \ / __| '_ ' _ \ / _' |
 | | (_| | |_) | (__| | | | | | (_| |
 |_|\__,_|_.__/ \___|_| |_| |_|\__,_|

labcmd gateway: JupyterLab command bridge
------------------------------------------
Config:  ` + cfgPath + `
`)

	reloader.OnSIGHUP(ctx, func() {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		gw.upstream.Reload(newCfg.Upstream)
		if err := gw.http.Reload(newCfg); err != nil {
			logger.Warn("http reload failed", zap.Error(err))
		}
		if newCfg.Plugins.Manifest != "" {
			if err := gw.plugins.Reload(newCfg.Plugins.Manifest); err != nil {
				logger.Warn("plugin reload failed", zap.Error(err))
			}
		}
		logger.Info("reloaded config and plugins")
	})

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           gw.http.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if stdio {
		g.Go(func() error {
			err := mcptools.ServeStdio(gctx, gw.mcp)
			logger.Info("mcp stdio session ended", zap.Error(err))
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp stdio: %w", err)
			}
			// The client hung up; take the gateway down with it.
			return errStdioDone
		})
	}
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	if cfg.Upstream.URL != "" {
		g.Go(func() error {
			gw.upstream.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		gw.bridge.Close()
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(ctxTimeout)
	})

	err = g.Wait()
	if errors.Is(err, errStdioDone) {
		err = nil
	}
	gw.close()
	if shutdownTelemetry != nil {
		ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctxTimeout)
	}
	logger.Info("bye")
	return err
}

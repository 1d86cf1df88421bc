package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/commands"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/config"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/events"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/jwt"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/labbridge"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/schema"
	"github.com/jupyter-ai-contrib/labcmd-gateway/pkg/sdk"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20

	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Deps are the components the HTTP surface exposes.
type Deps struct {
	Events   *events.Manager
	Commands *commands.Registry
	Executor sdk.CommandExecutor // Commands, possibly instrumented
	Schemas  *schema.Registry
	Lab      *labbridge.Bridge
	MCP      http.Handler // nil disables /mcp
	Plugins  func() []string
	Version  string
}

type Server struct {
	log  *zap.Logger
	deps Deps
	r    *chi.Mux

	mu  sync.RWMutex
	cfg *config.Config
	jwt *jwt.Validator

	pongWait   time.Duration
	pingPeriod time.Duration
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) (*Server, error) {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return nil, err
	}
	if deps.Executor == nil {
		deps.Executor = deps.Commands
	}
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Mcp-Session-Id"},
	}))
	s := &Server{cfg: cfg, log: log, deps: deps, r: r, jwt: v, pongWait: pongWait, pingPeriod: pingPeriod}
	s.routes()
	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload swaps the config and the token validator. The CORS policy is fixed
// at start.
func (s *Server) Reload(cfg *config.Config) error {
	v, err := jwt.NewValidator(cfg.Auth.JWTPublicKeys, cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg, s.jwt = cfg, v
	s.mu.Unlock()
	return nil
}

func (s *Server) routes() {
	s.r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.r.Get("/v1/info", s.auth(s.info))
	s.r.Get("/v1/schemas", s.auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Schemas.List())
	}))
	s.r.Get("/v1/commands", s.auth(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.deps.Commands.List())
	}))
	s.r.Post("/v1/commands/{id}", s.auth(s.executeCommand))
	s.r.Post("/v1/events", s.auth(s.emitEvent))
	s.r.Get("/v1/events", s.auth(s.streamEvents))
	s.r.Get("/v1/lab", s.auth(s.deps.Lab.ServeHTTP))
	if s.deps.MCP != nil {
		s.r.Handle("/mcp", s.auth(s.deps.MCP.ServeHTTP))
	}
}

func (s *Server) info(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"name":         "labcmd-gateway",
		"version":      s.deps.Version,
		"time":         time.Now().UTC(),
		"lab_sessions": s.deps.Lab.Sessions(),
	}
	if s.deps.Plugins != nil {
		resp["plugins"] = s.deps.Plugins()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) executeCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var args any
	if err := decodeBody(r, &args); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.deps.Executor.Execute(r.Context(), id, args)
	var remote *labbridge.RemoteError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"result": result})
	case errors.Is(err, commands.ErrCommandNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &remote), errors.Is(err, labbridge.ErrSessionClosed):
		writeError(w, http.StatusBadGateway, err)
	default:
		s.log.Warn("command failed", zap.String("command", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
	}
}

type emitRequest struct {
	SchemaID string         `json:"schema_id"`
	Data     map[string]any `json:"data"`
}

func (s *Server) emitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.deps.Events.Emit(r.Context(), req.SchemaID, req.Data)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, schema.ErrUnknownSchema),
		errors.Is(err, schema.ErrInvalidEvent),
		errors.Is(err, events.ErrMissingSchemaID):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	ch := s.deps.Events.Subscribe()

	// Every write happens here: events and the keepalive pings.
	go func() {
		ticker := time.NewTicker(s.pingPeriod)
		defer func() {
			ticker.Stop()
			s.deps.Events.Unsubscribe(ch)
			_ = conn.Close()
		}()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(ev); err != nil {
					s.log.Debug("ws write error", zap.Error(err))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					s.log.Debug("ws ping error", zap.Error(err))
					return
				}
			}
		}
	}()

	// Read only to notice the client going away. Pongs extend the deadline.
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.deps.Events.Unsubscribe(ch)
			return
		}
	}
}

// auth checks the bearer token, or the token query parameter for browser
// websockets. Without configured keys every request passes.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		v := s.jwt
		s.mu.RUnlock()
		if v == nil {
			next(w, r)
			return
		}

		tok := r.Header.Get("Authorization")
		if tok == "" {
			tok = r.URL.Query().Get("token")
		}
		if tok == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		tok = strings.TrimPrefix(tok, "Bearer ")
		if _, err := v.Verify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

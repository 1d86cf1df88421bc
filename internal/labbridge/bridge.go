// Package labbridge lets JupyterLab frontends connect over a websocket and
// serve the commands they register.
package labbridge

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jupyter-ai-contrib/labcmd-gateway/internal/commands"
	"go.uber.org/zap"
)

// Registrar is where sessions publish their commands.
type Registrar interface {
	AddProvider(p commands.Provider) (remove func())
}

// Bridge upgrades HTTP requests to frontend sessions.
type Bridge struct {
	registrar Registrar
	log       *zap.Logger
	upgrader  websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewBridge(registrar Registrar, log *zap.Logger) *Bridge {
	return &Bridge{
		registrar: registrar,
		log:       log,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		sessions:  make(map[string]*Session),
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("lab ws upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(1 << 20)

	s := NewSession(conn, b.log)
	remove := b.registrar.AddProvider(s)
	b.mu.Lock()
	b.sessions[s.ID()] = s
	b.mu.Unlock()
	b.log.Info("lab session opened", zap.String("session", s.ID()), zap.String("remote", r.RemoteAddr))

	err = s.Run(r.Context())

	remove()
	b.mu.Lock()
	delete(b.sessions, s.ID())
	b.mu.Unlock()
	b.log.Info("lab session closed", zap.String("session", s.ID()), zap.Error(err))
}

// Sessions returns the number of connected frontends.
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Close disconnects every frontend.
func (b *Bridge) Close() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

package labbridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrSessionClosed = errors.New("labbridge: session closed")

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Session is one connected lab frontend. It provides the commands the
// frontend registered.
type Session struct {
	id   string
	conn Conn
	log  *zap.Logger

	wmu sync.Mutex

	mu       sync.Mutex
	commands map[string]struct{}
	pending  map[string]chan Message

	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(conn Conn, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		conn:     conn,
		log:      log.With(zap.String("session", id)),
		commands: make(map[string]struct{}),
		pending:  make(map[string]chan Message),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Name() string { return "lab:" + s.id }

// Commands returns the registered command ids, sorted.
func (s *Session) Commands() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.commands))
	for id := range s.commands {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Execute asks the frontend to run id and waits for its answer.
func (s *Session) Execute(ctx context.Context, id string, args any) (any, error) {
	reqID := uuid.NewString()
	reply := make(chan Message, 1)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	default:
	}
	s.pending[reqID] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	if err := s.write(Message{Type: TypeExecute, ID: reqID, Command: id, Args: args}); err != nil {
		return nil, fmt.Errorf("labbridge: send %s: %w", id, err)
	}

	select {
	case msg := <-reply:
		if !msg.OK {
			return nil, &RemoteError{Command: id, Message: msg.Error}
		}
		return msg.Value, nil
	case <-s.done:
		return nil, ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) write(msg Message) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(msg)
}

// Run reads frames until the connection fails or ctx ends, then closes the
// session.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()
	defer s.Close()

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
				return nil
			default:
				return err
			}
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg Message) {
	switch msg.Type {
	case TypeRegister:
		s.mu.Lock()
		for _, id := range msg.Commands {
			s.commands[id] = struct{}{}
		}
		s.mu.Unlock()
		s.log.Debug("commands registered", zap.Strings("commands", msg.Commands))
	case TypeUnregister:
		s.mu.Lock()
		for _, id := range msg.Commands {
			delete(s.commands, id)
		}
		s.mu.Unlock()
	case TypeResult:
		s.mu.Lock()
		reply, ok := s.pending[msg.ID]
		s.mu.Unlock()
		if !ok {
			s.log.Debug("result for unknown request", zap.String("id", msg.ID))
			return
		}
		select {
		case reply <- msg:
		default:
		}
	default:
		s.log.Warn("unknown message type", zap.String("type", msg.Type))
	}
}

// Close ends the session. Pending executions fail with ErrSessionClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

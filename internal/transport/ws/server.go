// Package ws serves turns over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/gameerr"
	"github.com/tatianab/trainer-tales/internal/orchestrator"
)

// Turner runs turns. *orchestrator.Orchestrator implements it.
type Turner interface {
	Turn(ctx context.Context, sessionID, input string) (*orchestrator.Response, error)
}

const (
	readTimeout  = 5 * time.Minute
	writeTimeout = 5 * time.Second
	queueSize    = 8
)

type Server struct {
	turner  Turner
	logger  *zap.Logger
	timeout time.Duration

	upgrader websocket.Upgrader
	wg       sync.WaitGroup

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewServer returns a server running each turn under timeout. A zero
// timeout means no per-turn limit.
func NewServer(t Turner, timeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		conns:   make(map[*websocket.Conn]struct{}),
		turner:  t,
		logger:  logger,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close closes every open connection and refuses new ones. Turns already
// running finish before their handlers return.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.wg.Add(1)
		defer s.wg.Done()
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.logger.Debug("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan any, queueSize)
		turns := make(chan TurnMsg, queueSize)
		var workers sync.WaitGroup

		// Writer goroutine.
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-out:
					if err := writeJSON(conn, msg); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Turns on one connection run in arrival order.
		workers.Add(1)
		go func() {
			defer workers.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-turns:
					reply := s.runTurn(ctx, t)
					select {
					case out <- reply:
					case <-ctx.Done():
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := DecodeBase(msg)
			if err != nil || base.Type != TypeTurn {
				s.send(ctx, out, ErrorMsg{Type: TypeError, Kind: string(gameerr.KindInvalidInput), Message: "expected a TURN message"})
				continue
			}
			var t TurnMsg
			if err := json.Unmarshal(msg, &t); err != nil {
				s.send(ctx, out, ErrorMsg{Type: TypeError, Kind: string(gameerr.KindInvalidInput), Message: "malformed TURN message"})
				continue
			}
			select {
			case turns <- t:
			case <-ctx.Done():
			}
		}

		cancel()
		workers.Wait()
	}
}

func (s *Server) send(ctx context.Context, out chan<- any, msg any) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

func (s *Server) runTurn(ctx context.Context, t TurnMsg) any {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	resp, err := s.turner.Turn(ctx, t.SessionID, t.Input)
	if err != nil {
		s.logger.Warn("turn failed", zap.String("session_id", t.SessionID), zap.Error(err))
		msg := ErrorMsg{Type: TypeError, RequestID: t.RequestID, SessionID: t.SessionID, Message: err.Error()}
		var gerr *gameerr.Error
		if errors.As(err, &gerr) {
			msg.Kind = string(gerr.Kind)
			msg.Message = gerr.Message
			msg.Retryable = gerr.Retryable
		}
		return msg
	}
	return ResultMsg{
		Type:        TypeResult,
		RequestID:   t.RequestID,
		SessionID:   resp.SessionID,
		Narration:   resp.Narration,
		Choices:     resp.Choices,
		SafeDefault: resp.SafeDefault,
		Intent:      string(resp.Intent),
		QuickAction: string(resp.QuickAction),
		Warnings:    resp.Warnings,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

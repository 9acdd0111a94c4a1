// Package stream serves the package state to an external UI over a
// websocket: every store snapshot is pushed to connected clients, and
// clients send user actions and foreground changes back.
package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ralt/appstore/internal/client"
	"github.com/ralt/appstore/internal/messages"
	"github.com/ralt/appstore/internal/store"
)

const writeTimeout = 10 * time.Second

// Backend is the client surface exposed to UIs
type Backend interface {
	Store() *store.Store
	Messages() messages.Provider
	HandleAction(ctx context.Context, id string) (client.ActionResult, error)
	SetForeground(ctx context.Context, active bool)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server pushes snapshots to websocket clients. A connected client that
// declares itself active counts as the foreground session.
type Server struct {
	backend Backend

	mu     sync.Mutex
	active map[*conn]bool
}

func New(backend Backend) *Server {
	return &Server{backend: backend, active: map[*conn]bool{}}
}

// Handler returns the HTTP handler serving the feed at /ws
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		s.serveWS(ctx, w, r)
	})
	return mux
}

// ListenAndServe serves the feed on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("Serving package feed on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type conn struct {
	ws     *websocket.Conn
	sendMu sync.Mutex
}

func (c *conn) send(msg OutMsg) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (s *Server) serveWS(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Warnf("Websocket upgrade failed: %v", err)
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &conn{ws: ws}
	log := logrus.WithField("remote", r.RemoteAddr)
	log.Info("UI connected")

	defer func() {
		cancel()
		s.setActive(ctx, c, false)
		_ = ws.Close()
		log.Info("UI disconnected")
	}()

	msgs := s.backend.Messages()
	st := s.backend.Store()
	if err := c.send(Render(st.Snapshot(), msgs)); err != nil {
		return
	}

	go func() {
		feed := st.Subscribe()
		for {
			snap, err := feed.Wait(connCtx)
			if err != nil {
				return
			}
			if err := c.send(Render(snap, msgs)); err != nil {
				log.Debugf("Failed to push snapshot: %v", err)
				cancel()
				return
			}
		}
	}()

	for {
		var msg InMsg
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugf("Read failed: %v", err)
			}
			return
		}
		s.handle(connCtx, c, msg)
	}
}

func (s *Server) handle(ctx context.Context, c *conn, msg InMsg) {
	switch msg.Type {
	case TypeForeground:
		s.setActive(ctx, c, msg.Active)
	case TypeAction:
		res, err := s.backend.HandleAction(ctx, msg.Package)
		if err != nil {
			_ = c.send(OutMsg{Type: TypeError, Package: msg.Package, Message: s.backend.Messages().Describe(err)})
			return
		}
		if res.Message != "" {
			_ = c.send(OutMsg{Type: TypeMessage, Package: msg.Package, Message: res.Message})
		}
	default:
		_ = c.send(OutMsg{Type: TypeError, Message: "unknown message type " + msg.Type})
	}
}

// setActive records a client's foreground flag and tells the backend
// whenever the first client becomes active or the last one goes away
func (s *Server) setActive(ctx context.Context, c *conn, active bool) {
	s.mu.Lock()
	before := len(s.active) > 0
	if active {
		s.active[c] = true
	} else {
		delete(s.active, c)
	}
	after := len(s.active) > 0
	s.mu.Unlock()

	if before != after {
		s.backend.SetForeground(ctx, after)
	}
}

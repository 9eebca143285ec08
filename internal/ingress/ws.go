// Package ingress lets peers that can only speak WebSocket join a hosted
// game. Each WebSocket is turned back into the framed byte stream the TCP
// listener serves.
package ingress

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/sipsync/internal/middleware"
	"github.com/jason-s-yu/sipsync/internal/network"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// Path is where the WebSocket endpoint is mounted.
const Path = "/ws"

// Adopter takes ownership of an accepted stream. *session.Host implements it.
type Adopter interface {
	Adopt(nc net.Conn) *network.Connection
}

// NewHandler serves the WebSocket endpoint in front of host.
func NewHandler(logger logrus.FieldLogger, host Adopter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(Path, middleware.LogRequests(logger)(wsHandler(logger, host)))
	return mux
}

func wsHandler(logger logrus.FieldLogger, host Adopter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			middleware.Annotate(r.Context(), "error", err)
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		c.SetReadLimit(protocol.MaxFrameSize + 1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		conn := host.Adopt(websocket.NetConn(ctx, c, websocket.MessageText))
		middleware.Annotate(r.Context(), "conn", conn.ID)
		select {
		case <-conn.Done():
		case <-ctx.Done():
			conn.Close()
		}
	}
}

// Serve runs the ingress on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger logrus.FieldLogger, host Adopter) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, l, logger, host)
}

// ServeListener is Serve on an existing listener. The listener is closed on return.
func ServeListener(ctx context.Context, l net.Listener, logger logrus.FieldLogger, host Adopter) error {
	srv := &http.Server{
		Handler:           NewHandler(logger, host),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("websocket ingress shutdown: %v", err)
		}
	}()

	logger.WithField("addr", l.Addr().String()).Info("websocket ingress listening")
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

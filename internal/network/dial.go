package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/sipsync/internal/protocol"
)

// DefaultPort is the port hosts listen on unless told otherwise.
const DefaultPort = 25565

// DefaultConnectTimeout bounds how long a client waits for the host.
const DefaultConnectTimeout = 5 * time.Second

var (
	// ErrConnectTimeout means the host did not answer within the timeout.
	ErrConnectTimeout = errors.New("network: connect timed out")

	// ErrConnectError means the host was unreachable or refused the connection.
	ErrConnectError = errors.New("network: connect failed")
)

// Dial connects to a host. address is a host name or IP, or a ws:// or
// wss:// URL for hosts reachable only through their WebSocket ingress. A
// non-positive timeout means DefaultConnectTimeout.
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return dialWebSocket(ctx, address, port)
	}

	target := net.JoinHostPort(address, strconv.Itoa(port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, classifyDialError(target, err)
	}
	return nc, nil
}

func dialWebSocket(ctx context.Context, address string, port int) (net.Conn, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectError, address, err)
	}
	if u.Port() == "" && port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	if u.Path == "" {
		u.Path = "/ws"
	}

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, classifyDialError(u.String(), err)
	}
	c.SetReadLimit(protocol.MaxFrameSize + 1)
	// The connection outlives the dial context; Close ends it.
	return websocket.NetConn(context.Background(), c, websocket.MessageText), nil
}

func classifyDialError(target string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %v", ErrConnectTimeout, target, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnectError, target, err)
}

package session

import (
	"net"
	"testing"
	"time"

	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func quietLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

var drinkRule = models.Rule{
	PunishmentType:        models.Group,
	RuleDescription:       "Someone says the title",
	PunishmentDescription: "{0} drink {1}",
	PunishmentQuantity:    2,
}

var pointRule = models.Rule{
	PunishmentType:        models.Individual,
	RuleDescription:       "Point at someone",
	PunishmentDescription: "{0} drinks {1}",
	PunishmentQuantity:    4,
}

// startHost listens on a loopback port with a pace tick long enough never to fire.
func startHost(t *testing.T, cfg HostConfig) *Host {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	if cfg.LocalPlayer.Name == "" {
		cfg.LocalPlayer = models.NewPlayer("host")
	}
	if cfg.PaceTick == 0 {
		cfg.PaceTick = time.Hour
	}
	h, err := NewHost(cfg)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, h.Listen(l))
	t.Cleanup(h.Close)
	return h
}

func hostPort(t *testing.T, h *Host) int {
	t.Helper()
	addr, ok := h.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

// peer speaks the wire protocol directly, so tests can see exactly what the
// host sends to one connection.
type peer struct {
	conn net.Conn
	msgs chan protocol.Message
}

func dialPeer(t *testing.T, h *Host) *peer {
	t.Helper()
	nc, err := net.Dial("tcp", h.Addr().String())
	require.NoError(t, err)

	p := &peer{conn: nc, msgs: make(chan protocol.Message, 128)}
	go func() {
		defer close(p.msgs)
		dec := protocol.NewDecoder(nc)
		for {
			msg, err := dec.Next()
			if err != nil {
				return
			}
			p.msgs <- msg
		}
	}()
	t.Cleanup(func() { _ = nc.Close() })
	return p
}

func (p *peer) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	_, err = p.conn.Write(frame)
	require.NoError(t, err)
}

func (p *peer) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-p.msgs:
		require.True(t, ok, "connection closed")
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// skipSync consumes the three messages every new connection gets first.
func (p *peer) skipSync(t *testing.T) {
	t.Helper()
	for range 3 {
		p.next(t)
	}
}

// waitFor reads until match returns true and returns everything read,
// the match included.
func (p *peer) waitFor(t *testing.T, match func(protocol.Message) bool) []protocol.Message {
	t.Helper()
	var seen []protocol.Message
	for {
		msg := p.next(t)
		seen = append(seen, msg)
		if match(msg) {
			return seen
		}
	}
}

func rosterWhere(pred func([]models.PlayerInfo) bool) func(protocol.Message) bool {
	return func(msg protocol.Message) bool {
		m, ok := msg.(protocol.PlayerListUpdate)
		return ok && pred(m.Players)
	}
}

func countOf(players []models.PlayerInfo, name string) (int, bool) {
	for _, p := range players {
		if p.Name == name {
			return p.DrinkCount, true
		}
	}
	return 0, false
}

func hasPlayer(players []models.PlayerInfo, name string) bool {
	_, ok := countOf(players, name)
	return ok
}

func countType(msgs []protocol.Message, typ protocol.MessageType) int {
	n := 0
	for _, m := range msgs {
		if m.Type() == typ {
			n++
		}
	}
	return n
}

// recorder captures a session's notifications.
type recorder struct {
	punishments chan PunishmentEvent
	states      chan game.Snapshot
	disconnects chan error
}

func record(subscribe func(Listener) func()) *recorder {
	r := &recorder{
		punishments: make(chan PunishmentEvent, 64),
		states:      make(chan game.Snapshot, 256),
		disconnects: make(chan error, 8),
	}
	subscribe(Listener{
		StateUpdated: func(s game.Snapshot) {
			select {
			case r.states <- s:
			default:
			}
		},
		PunishmentTriggered: func(ev PunishmentEvent) { r.punishments <- ev },
		Disconnected:        func(err error) { r.disconnects <- err },
	})
	return r
}

func (r *recorder) punishment(t *testing.T) PunishmentEvent {
	t.Helper()
	select {
	case ev := <-r.punishments:
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a punishment")
		return PunishmentEvent{}
	}
}

func (r *recorder) noPunishment(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-r.punishments:
		t.Fatalf("unexpected punishment %q", ev.Description)
	case <-time.After(wait):
	}
}

func startClient(t *testing.T, h *Host, player models.PlayerInfo) (*Client, *recorder) {
	t.Helper()
	c, err := NewClient(ClientConfig{Logger: quietLogger(), LocalPlayer: player})
	require.NoError(t, err)
	rec := record(c.Subscribe)

	require.NoError(t, c.Start(t.Context(), hostPort(t, h), "127.0.0.1"))
	t.Cleanup(c.Disconnect)

	require.Eventually(t, func() bool { return hasPlayer(h.Players(), player.Name) }, waitTimeout, 10*time.Millisecond)
	return c, rec
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/network"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// ClientStatus is the client's connection state.
type ClientStatus int

const (
	ClientDisconnected ClientStatus = iota
	ClientConnecting
	ClientConnected
)

func (s ClientStatus) String() string {
	switch s {
	case ClientConnecting:
		return "connecting"
	case ClientConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ClientConfig wires a Client to its collaborators. Logger is required.
type ClientConfig struct {
	Logger     logrus.FieldLogger
	Profile    ProfileStore
	Dispatcher Dispatcher

	// ConnectTimeout bounds Start. Zero means network.DefaultConnectTimeout.
	ConnectTimeout time.Duration

	// LocalPlayer is used when no Profile is given.
	LocalPlayer models.PlayerInfo
}

// Client mirrors a host's rules, roster and pace clock and sends the local
// player's actions to it.
type Client struct {
	cfg    ClientConfig
	logger logrus.FieldLogger
	state  game.State
	notify *notifier

	mu       sync.Mutex
	status   ClientStatus
	conn     *network.Connection
	userData models.UserData
}

// NewClient builds a disconnected client for the local player.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("session: client needs a logger")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = network.DefaultConnectTimeout
	}

	ud := models.UserData{Player: cfg.LocalPlayer}
	if cfg.Profile != nil {
		loaded, err := cfg.Profile.Load()
		if err != nil {
			return nil, fmt.Errorf("loading profile: %w", err)
		}
		ud = loaded
	}
	if err := ud.Player.Validate(); err != nil {
		return nil, fmt.Errorf("%w: local player: %v", ErrPrecondition, err)
	}

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("role", "client"),
		notify:   newNotifier(cfg.Dispatcher),
		userData: ud,
	}, nil
}

// Subscribe registers l and returns a function that removes it.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) { return c.notify.subscribe(l) }

func (c *Client) Snapshot() game.Snapshot { return c.state.Snapshot() }

func (c *Client) Players() []models.PlayerInfo { return c.state.Players() }

func (c *Client) Rules() models.GameRules { return c.state.Rules() }

func (c *Client) ElapsedMinutes() float64 { return c.state.ElapsedMinutes() }

// LocalPlayer returns the local player, including the drink count last
// reported by the host.
func (c *Client) LocalPlayer() models.PlayerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userData.Player
}

func (c *Client) Status() ClientStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start connects to the host at address:port and announces the local
// player. On failure the client stays disconnected and the error wraps
// ErrConnectTimeout or ErrConnectError.
func (c *Client) Start(ctx context.Context, port int, address string) error {
	c.mu.Lock()
	if c.status != ClientDisconnected {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.status = ClientConnecting
	c.mu.Unlock()

	logger := c.logger.WithFields(logrus.Fields{"address": address, "port": port})
	logger.Info("connecting")

	nc, err := network.Dial(ctx, address, port, c.cfg.ConnectTimeout)
	if err != nil {
		c.setStatus(ClientDisconnected)
		logger.Warnf("connect failed: %v", err)
		return err
	}

	conn := network.NewConnection(nc, c.logger, network.Handlers{
		OnMessage:    c.handleMessage,
		OnDisconnect: c.handleDisconnect,
	})

	c.mu.Lock()
	c.conn = conn
	c.status = ClientConnected
	c.userData.LastHost, c.userData.LastPort = address, port
	announce := protocol.PlayerUpdate{Player: c.userData.Player}
	ud := c.userData
	c.mu.Unlock()

	network.LogConnect(c.logger, conn.ID, conn.RemoteAddr())
	conn.Start()

	if err := conn.Send(announce); err != nil {
		return err
	}
	c.saveProfile(ud)
	return nil
}

// Disconnect closes the connection to the host. The Disconnected
// notification fires with a nil error.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) setStatus(s ClientStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) current() (*network.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != ClientConnected || c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// TriggerRule sends rule to the host. Individual and AllButOne rules need a
// player; without one ErrPrecondition is returned and nothing is sent.
func (c *Client) TriggerRule(rule models.Rule, player *models.PlayerInfo) error {
	if err := checkTrigger(rule, player); err != nil {
		return err
	}
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := conn.Send(protocol.TriggerFor(rule, player)); err != nil {
		return err
	}
	c.notify.punishment(newPunishmentEvent(rule, player))
	return nil
}

// FinishDrink makes the local player finish their current drink.
func (c *Client) FinishDrink() error {
	p := c.LocalPlayer()
	return c.TriggerRule(game.FinishDrinkRule(p), &p)
}

// EditPlayer changes the local player's name and modifier, saves the profile
// and tells the host. The roster only changes once the host answers.
func (c *Client) EditPlayer(name string, modifier float64) error {
	c.mu.Lock()
	updated := c.userData.Player
	updated.Name, updated.DrinkModifier = name, modifier
	if err := updated.Validate(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	c.userData.Player = updated
	ud := c.userData
	conn := c.conn
	connected := c.status == ClientConnected
	c.mu.Unlock()

	var saveErr error
	if c.cfg.Profile != nil {
		if err := c.cfg.Profile.Save(ud); err != nil {
			saveErr = fmt.Errorf("saving profile: %w", err)
		}
	}
	if connected && conn != nil {
		if err := conn.Send(protocol.PlayerUpdate{Player: updated}); err != nil {
			return err
		}
	}
	return saveErr
}

func (c *Client) handleMessage(conn *network.Connection, msg protocol.Message) {
	if !c.isCurrent(conn) {
		return
	}

	switch m := msg.(type) {
	case protocol.RuleUpdate:
		c.state.SetRules(m.Rules)
		c.notify.stateUpdated(c.state.Snapshot())

	case protocol.PlayerListUpdate:
		c.state.ReplacePlayers(m.Players)
		c.mu.Lock()
		for _, p := range m.Players {
			if p.Name == c.userData.Player.Name {
				c.userData.Player.DrinkCount = p.DrinkCount
				break
			}
		}
		c.mu.Unlock()
		c.notify.stateUpdated(c.state.Snapshot())

	case protocol.ElapsedMinutesUpdate:
		c.state.SetElapsedMinutes(m.ElapsedMinutes)
		c.notify.stateUpdated(c.state.Snapshot())

	case protocol.TriggerIndividualRule:
		c.notify.punishment(newPunishmentEvent(m.Rule, &m.Player))
	case protocol.TriggerAllButOneRule:
		c.notify.punishment(newPunishmentEvent(m.Rule, &m.Player))
	case protocol.TriggerGroupRule:
		c.notify.punishment(newPunishmentEvent(m.Rule, nil))
	case protocol.TriggerEventPaceRule:
		c.notify.punishment(newPunishmentEvent(m.Rule, nil))

	default:
		c.logger.WithField("type", msg.Type()).Warn("ignoring unexpected message")
	}
}

func (c *Client) isCurrent(conn *network.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn
}

func (c *Client) handleDisconnect(conn *network.Connection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = ClientDisconnected
	ud := c.userData
	c.mu.Unlock()

	network.LogDisconnect(c.logger, conn.ID, conn.RemoteAddr(), err)
	c.saveProfile(ud)
	c.notify.disconnected(err)
}

func (c *Client) saveProfile(ud models.UserData) {
	if c.cfg.Profile == nil {
		return
	}
	if err := c.cfg.Profile.Save(ud); err != nil {
		c.logger.Warnf("saving profile: %v", err)
	}
}

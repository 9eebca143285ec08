package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/network"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/sirupsen/logrus"
)

// RuleLoader reads a rule set from an external file.
type RuleLoader interface {
	Load(path string) (models.GameRules, error)
}

// ProfileStore keeps the local user's data between runs.
type ProfileStore interface {
	Load() (models.UserData, error)
	Save(models.UserData) error
}

// ActionFeed receives every message the host broadcasts, in broadcast order.
type ActionFeed interface {
	Publish(ctx context.Context, msg protocol.Message, origin string) error
}

// HostStatus is the host's lifecycle state.
type HostStatus int

const (
	HostStopped HostStatus = iota
	HostListening
)

func (s HostStatus) String() string {
	if s == HostListening {
		return "listening"
	}
	return "stopped"
}

// HostConfig wires a Host to its collaborators. Logger is required; the
// rest are optional.
type HostConfig struct {
	Logger     logrus.FieldLogger
	Rules      RuleLoader
	Profile    ProfileStore
	Feed       ActionFeed
	Dispatcher Dispatcher

	// PaceTick is how much wall time counts as one elapsed minute. Zero means time.Minute.
	PaceTick time.Duration

	// LocalPlayer is the host's own player when no Profile is given.
	LocalPlayer models.PlayerInfo
}

// origin label for updates the host makes itself
const hostOrigin = "host"

const feedQueueSize = 256

type feedItem struct {
	msg    protocol.Message
	origin string
}

// Host owns the authoritative game state, accepts clients and relays every
// accepted update to all connections except the one it came from.
type Host struct {
	cfg    HostConfig
	logger logrus.FieldLogger
	state  game.State
	conns  *network.Registry
	notify *notifier

	// mu orders every state change together with its broadcast, so all
	// clients observe updates in the same sequence.
	mu       sync.Mutex
	local    models.PlayerInfo
	userData models.UserData
	names    map[uuid.UUID]string

	lifeMu    sync.Mutex
	status    HostStatus
	listener  net.Listener
	paceStop  chan struct{}
	loopsDone sync.WaitGroup
	drops     sync.WaitGroup

	feed     chan feedItem
	feedQuit chan struct{}
	feedDone chan struct{}
	feedOnce sync.Once
}

// NewHost builds a stopped host whose roster holds only the local player.
func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.Logger == nil {
		return nil, errors.New("session: host needs a logger")
	}
	if cfg.PaceTick <= 0 {
		cfg.PaceTick = time.Minute
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

	h := &Host{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("role", "host"),
		conns:    network.NewRegistry(),
		notify:   newNotifier(cfg.Dispatcher),
		local:    ud.Player,
		userData: ud,
		names:    make(map[uuid.UUID]string),
	}
	h.state.UpsertPlayer(ud.Player, false)

	if cfg.Feed != nil {
		h.feed = make(chan feedItem, feedQueueSize)
		h.feedQuit = make(chan struct{})
		h.feedDone = make(chan struct{})
		go h.feedLoop()
	}
	return h, nil
}

// Subscribe registers l and returns a function that removes it.
func (h *Host) Subscribe(l Listener) (unsubscribe func()) { return h.notify.subscribe(l) }

func (h *Host) Snapshot() game.Snapshot { return h.state.Snapshot() }

func (h *Host) Players() []models.PlayerInfo { return h.state.Players() }

func (h *Host) Rules() models.GameRules { return h.state.Rules() }

// LocalPlayer returns the host's own player as the roster currently has it.
func (h *Host) LocalPlayer() models.PlayerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.state.FindPlayer(h.local.Name); ok {
		return p
	}
	return h.local
}

func (h *Host) Status() HostStatus {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	return h.status
}

// Addr is the listening address, or nil when stopped.
func (h *Host) Addr() net.Addr {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// ConnectionCount is the number of live client connections.
func (h *Host) ConnectionCount() int { return h.conns.Len() }

// HostGame binds 0.0.0.0:port and starts accepting clients.
func (h *Host) HostGame(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", port, err)
	}
	if err := h.Listen(l); err != nil {
		_ = l.Close()
		return err
	}
	return nil
}

// Listen starts accepting clients from l and starts the pace clock. It
// returns immediately.
func (h *Host) Listen(l net.Listener) error {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()
	if h.status == HostListening {
		return ErrAlreadyRunning
	}

	h.listener = l
	h.status = HostListening
	h.paceStop = make(chan struct{})

	h.loopsDone.Add(2)
	go h.acceptLoop(l)
	go h.paceLoop(h.paceStop)

	h.logger.WithField("addr", l.Addr().String()).Info("hosting game")
	return nil
}

func (h *Host) acceptLoop(l net.Listener) {
	defer h.loopsDone.Done()
	for {
		nc, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				h.logger.Warnf("accept: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			h.logger.Errorf("accept loop stopped: %v", err)
			return
		}
		h.Adopt(nc)
	}
}

// StopServer closes the listener and every connection. Remote players
// leave the roster; the local player stays.
func (h *Host) StopServer() {
	h.lifeMu.Lock()
	if h.status == HostStopped {
		h.lifeMu.Unlock()
		return
	}
	h.status = HostStopped
	l := h.listener
	h.listener = nil
	close(h.paceStop)
	h.lifeMu.Unlock()

	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		h.logger.Warnf("closing listener: %v", err)
	}
	for _, c := range h.conns.Drain() {
		c.Close()
	}
	h.loopsDone.Wait()
	h.drops.Wait()

	h.mu.Lock()
	changed := false
	for id, name := range h.names {
		delete(h.names, id)
		if name != h.local.Name && h.state.RemovePlayer(name) {
			changed = true
		}
	}
	snap := h.state.Snapshot()
	h.mu.Unlock()

	h.logger.Info("stopped hosting")
	if changed {
		h.notify.stateUpdated(snap)
	}
}

// Close stops the server and flushes the action feed.
func (h *Host) Close() {
	h.StopServer()
	if h.feed != nil {
		h.feedOnce.Do(func() { close(h.feedQuit) })
		<-h.feedDone
	}
}

// Adopt takes over an accepted connection: it pushes the current rules,
// roster and clock to it alone, then adds it to the broadcast set. The
// returned connection is already receiving.
func (h *Host) Adopt(nc net.Conn) *network.Connection {
	conn := network.NewConnection(nc, h.logger, network.Handlers{
		OnMessage:    h.handleMessage,
		OnDisconnect: h.handleDisconnect,
	})
	network.LogConnect(h.logger, conn.ID, conn.RemoteAddr())

	h.mu.Lock()
	snap := h.state.Snapshot()
	initial := []protocol.Message{
		protocol.RuleUpdate{Rules: snap.Rules},
		protocol.PlayerListUpdate{Players: snap.Players},
		protocol.ElapsedMinutesUpdate{ElapsedMinutes: snap.ElapsedMinutes},
	}
	for _, msg := range initial {
		if err := conn.Send(msg); err != nil {
			h.mu.Unlock()
			h.logger.WithField("conn", conn.ID).Warnf("initial sync failed: %v", err)
			return conn
		}
	}
	h.conns.Add(conn)
	h.mu.Unlock()

	if h.Status() == HostStopped {
		conn.Close()
		return conn
	}
	conn.Start()
	return conn
}

func (h *Host) handleDisconnect(conn *network.Connection, err error) {
	network.LogDisconnect(h.logger, conn.ID, conn.RemoteAddr(), err)
	h.conns.Remove(conn.ID)

	h.lifeMu.Lock()
	if h.status == HostStopped {
		// StopServer clears the roster once every connection is gone.
		h.lifeMu.Unlock()
		return
	}
	h.drops.Add(1)
	h.lifeMu.Unlock()

	// May run inside a Send made under h.mu; take the lock elsewhere.
	go func() {
		defer h.drops.Done()
		h.dropPlayerOf(conn.ID)
	}()
}

func (h *Host) dropPlayerOf(id uuid.UUID) {
	h.mu.Lock()
	name, ok := h.names[id]
	delete(h.names, id)
	if !ok || !h.nameUnclaimedLocked(name) || !h.state.RemovePlayer(name) {
		h.mu.Unlock()
		return
	}
	h.logger.WithField("player", name).Info("player left")
	h.broadcastRosterLocked()
	snap := h.state.Snapshot()
	h.mu.Unlock()

	h.notify.stateUpdated(snap)
}

// nameUnclaimedLocked reports whether no live connection and not the host
// itself still uses name.
func (h *Host) nameUnclaimedLocked(name string) bool {
	if name == h.local.Name {
		return false
	}
	for _, n := range h.names {
		if n == name {
			return false
		}
	}
	return true
}

func (h *Host) handleMessage(conn *network.Connection, msg protocol.Message) {
	logger := h.logger.WithFields(logrus.Fields{"conn": conn.ID, "type": msg.Type()})

	switch m := msg.(type) {
	case protocol.PlayerUpdate:
		h.mu.Lock()
		h.applyPlayerUpdateLocked(conn.ID, m.Player)
		h.broadcastExceptLocked(m, conn.ID)
		h.broadcastRosterLocked()
		snap := h.state.Snapshot()
		h.mu.Unlock()

		h.notify.stateUpdated(snap)

	case protocol.TriggerIndividualRule:
		h.applyRemoteTrigger(conn, m, m.Rule, &m.Player)
	case protocol.TriggerAllButOneRule:
		h.applyRemoteTrigger(conn, m, m.Rule, &m.Player)
	case protocol.TriggerGroupRule:
		h.applyRemoteTrigger(conn, m, m.Rule, nil)
	case protocol.TriggerEventPaceRule:
		h.applyRemoteTrigger(conn, m, m.Rule, nil)

	case protocol.RuleUpdate, protocol.PlayerListUpdate, protocol.ElapsedMinutesUpdate:
		// Rules, roster and clock flow from the host only.
		logger.Warn("dropping host-only update sent by a client")

	default:
		logger.Warn("ignoring unexpected message")
	}
}

func (h *Host) applyPlayerUpdateLocked(id uuid.UUID, p models.PlayerInfo) {
	prev, known := h.names[id]
	if known && prev != p.Name {
		delete(h.names, id)
		if h.nameUnclaimedLocked(prev) {
			h.state.RemovePlayer(prev)
		}
	}
	h.names[id] = p.Name
	if h.state.UpsertPlayer(p, true) {
		h.logger.WithField("player", p.Name).Info("player joined")
	}
}

func (h *Host) applyRemoteTrigger(conn *network.Connection, msg protocol.Message, rule models.Rule, target *models.PlayerInfo) {
	if err := rule.Validate(); err != nil {
		h.logger.WithField("conn", conn.ID).Warnf("dropping trigger: %v", err)
		return
	}

	h.mu.Lock()
	ev, snap, changed := h.applyTriggerLocked(msg, rule, target, conn.ID)
	h.mu.Unlock()

	h.notify.punishment(ev)
	if changed {
		h.notify.stateUpdated(snap)
	}
}

// applyTriggerLocked counts the drinks, relays msg to everyone but exclude
// and sends the new roster to all.
func (h *Host) applyTriggerLocked(msg protocol.Message, rule models.Rule, target *models.PlayerInfo, exclude uuid.UUID) (PunishmentEvent, game.Snapshot, bool) {
	targetName := ""
	if target != nil {
		targetName = target.Name
		if p, ok := h.state.FindPlayer(target.Name); ok {
			target = &p
		}
	}
	ev := newPunishmentEvent(rule, target)

	changed := h.state.ApplyPunishment(rule, targetName)
	h.broadcastExceptLocked(msg, exclude)
	if changed {
		h.broadcastRosterLocked()
	}
	return ev, h.state.Snapshot(), changed
}

// TriggerRule fires rule from the host. Individual and AllButOne rules
// need a player.
func (h *Host) TriggerRule(rule models.Rule, player *models.PlayerInfo) error {
	if err := checkTrigger(rule, player); err != nil {
		return err
	}
	msg := protocol.TriggerFor(rule, player)

	h.mu.Lock()
	ev, snap, changed := h.applyTriggerLocked(msg, rule, player, uuid.Nil)
	h.mu.Unlock()

	h.notify.punishment(ev)
	if changed {
		h.notify.stateUpdated(snap)
	}
	return nil
}

// FinishDrink makes the host's own player finish their current drink.
func (h *Host) FinishDrink() error {
	p := h.LocalPlayer()
	return h.TriggerRule(game.FinishDrinkRule(p), &p)
}

// SetGameRules loads a rule file and sends it to every connection.
func (h *Host) SetGameRules(path string) error {
	if h.cfg.Rules == nil {
		return errors.New("session: no rule loader configured")
	}
	rules, err := h.cfg.Rules.Load(path)
	if err != nil {
		return err
	}
	if err := h.SetRules(rules); err != nil {
		return err
	}

	if h.cfg.Profile != nil {
		h.mu.Lock()
		h.userData.RulesPath = path
		ud := h.userData
		h.mu.Unlock()
		if err := h.cfg.Profile.Save(ud); err != nil {
			h.logger.Warnf("saving profile: %v", err)
		}
	}
	return nil
}

// SetRules replaces the rule set and broadcasts RULEUPDATE to all connections.
func (h *Host) SetRules(rules models.GameRules) error {
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	msg := protocol.RuleUpdate{Rules: rules.Clone()}

	h.mu.Lock()
	h.state.SetRules(rules)
	h.broadcastExceptLocked(msg, uuid.Nil)
	snap := h.state.Snapshot()
	h.mu.Unlock()

	h.logger.WithField("rules", len(rules.Rules)).Info("rules updated")
	h.notify.stateUpdated(snap)
	return nil
}

// EditPlayer changes the host's own name or modifier, saves the profile and
// sends the new roster. A profile save failure is returned after the change
// has been applied.
func (h *Host) EditPlayer(name string, modifier float64) error {
	h.mu.Lock()
	updated := h.local
	if current, ok := h.state.FindPlayer(h.local.Name); ok {
		updated = current
	}
	updated.Name, updated.DrinkModifier = name, modifier
	if err := updated.Validate(); err != nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}

	old := h.local.Name
	h.local = updated
	if old != name && h.nameUnclaimedLocked(old) {
		h.state.RemovePlayer(old)
	}
	h.state.UpsertPlayer(updated, true)
	h.broadcastRosterLocked()
	snap := h.state.Snapshot()
	h.userData.Player = updated
	ud := h.userData
	h.mu.Unlock()

	h.notify.stateUpdated(snap)

	if h.cfg.Profile != nil {
		if err := h.cfg.Profile.Save(ud); err != nil {
			return fmt.Errorf("saving profile: %w", err)
		}
	}
	return nil
}

func (h *Host) broadcastRosterLocked() {
	h.broadcastExceptLocked(protocol.PlayerListUpdate{Players: h.state.Players()}, uuid.Nil)
}

// broadcastExceptLocked sends msg to every live connection but exclude,
// which is also recorded as the origin on the action feed. A failed write
// only drops that connection.
func (h *Host) broadcastExceptLocked(msg protocol.Message, exclude uuid.UUID) {
	origin := hostOrigin
	if exclude != uuid.Nil {
		origin = exclude.String()
	}
	h.publish(msg, origin)

	targets := h.conns.Except(exclude)
	delivered := 0
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			h.logger.WithFields(logrus.Fields{"conn": c.ID, "type": msg.Type()}).Warnf("broadcast: %v", err)
			continue
		}
		delivered++
	}
	h.logger.WithFields(logrus.Fields{
		"type":      msg.Type(),
		"delivered": delivered,
		"targets":   len(targets),
	}).Debug("broadcast")
}

func (h *Host) publish(msg protocol.Message, origin string) {
	if h.feed == nil {
		return
	}
	select {
	case h.feed <- feedItem{msg: msg, origin: origin}:
	default:
		h.logger.WithField("type", msg.Type()).Warn("action feed full, dropping update")
	}
}

func (h *Host) feedLoop() {
	defer close(h.feedDone)
	for {
		select {
		case item := <-h.feed:
			h.sendToFeed(item)
		case <-h.feedQuit:
			for {
				select {
				case item := <-h.feed:
					h.sendToFeed(item)
				default:
					return
				}
			}
		}
	}
}

func (h *Host) sendToFeed(item feedItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.cfg.Feed.Publish(ctx, item.msg, item.origin); err != nil {
		h.logger.Warnf("action feed: %v", err)
	}
}

func checkTrigger(rule models.Rule, player *models.PlayerInfo) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrPrecondition, err)
	}
	if rule.PunishmentType.RequiresTarget() && player == nil {
		return fmt.Errorf("%w: %s rule needs a target player", ErrPrecondition, rule.PunishmentType)
	}
	return nil
}

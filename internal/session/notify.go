package session

import (
	"sync"

	"github.com/jason-s-yu/sipsync/internal/game"
	"github.com/jason-s-yu/sipsync/internal/models"
)

// PunishmentEvent is a fired punishment. Player is nil when the rule hits
// the whole group.
type PunishmentEvent struct {
	Rule        models.Rule
	Player      *models.PlayerInfo
	Description string
}

// Listener receives a session's notifications. Any field may be nil.
type Listener struct {
	// StateUpdated fires after the roster, rules or pace clock changed.
	StateUpdated func(game.Snapshot)

	// PunishmentTriggered fires for every punishment, local or remote.
	PunishmentTriggered func(PunishmentEvent)

	// Disconnected fires once when a client loses its host. err is nil
	// after a local Disconnect or a clean remote close.
	Disconnected func(err error)
}

type notifier struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	dispatch  Dispatcher
}

func newNotifier(d Dispatcher) *notifier {
	if d == nil {
		d = Inline
	}
	return &notifier{
		listeners: make(map[int]Listener),
		dispatch:  d,
	}
}

func (n *notifier) subscribe(l Listener) (unsubscribe func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) snapshot() []Listener {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		out = append(out, l)
	}
	return out
}

func (n *notifier) stateUpdated(s game.Snapshot) {
	for _, l := range n.snapshot() {
		if fn := l.StateUpdated; fn != nil {
			n.dispatch.Dispatch(func() { fn(s) })
		}
	}
}

func (n *notifier) punishment(ev PunishmentEvent) {
	for _, l := range n.snapshot() {
		if fn := l.PunishmentTriggered; fn != nil {
			n.dispatch.Dispatch(func() { fn(ev) })
		}
	}
}

func (n *notifier) disconnected(err error) {
	for _, l := range n.snapshot() {
		if fn := l.Disconnected; fn != nil {
			n.dispatch.Dispatch(func() { fn(err) })
		}
	}
}

func newPunishmentEvent(rule models.Rule, player *models.PlayerInfo) PunishmentEvent {
	if !rule.PunishmentType.RequiresTarget() {
		player = nil
	}
	if player != nil {
		p := *player
		player = &p
	}
	return PunishmentEvent{
		Rule:        rule,
		Player:      player,
		Description: game.Describe(rule, player),
	}
}

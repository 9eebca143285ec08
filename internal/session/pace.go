package session

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/protocol"
)

// PaceRule is the group punishment fired each time the pace interval elapses.
func PaceRule(rules models.GameRules) models.Rule {
	return models.Rule{
		PunishmentType:        models.EventPace,
		RuleDescription:       "Pace",
		PunishmentDescription: "{0} drink {1} to keep the pace",
		PunishmentQuantity:    rules.PaceQuantity,
	}
}

// paceDue reports whether the clock sits on a whole multiple of pace.
func paceDue(elapsed float64, pace int) bool {
	if pace <= 0 {
		return false
	}
	whole := int(math.Floor(elapsed))
	return whole > 0 && whole%pace == 0
}

func (h *Host) paceLoop(stop <-chan struct{}) {
	defer h.loopsDone.Done()
	ticker := time.NewTicker(h.cfg.PaceTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.AdvanceClock(1)
		}
	}
}

// AdvanceClock moves the pace clock forward by minutes, broadcasts the new
// value and fires the pace punishment when the interval is reached.
func (h *Host) AdvanceClock(minutes float64) {
	h.mu.Lock()
	before := h.state.ElapsedMinutes()
	elapsed := h.state.AdvanceMinutes(minutes)
	tick := protocol.ElapsedMinutesUpdate{ElapsedMinutes: elapsed}
	h.broadcastExceptLocked(tick, uuid.Nil)

	rules := h.state.Rules()
	due := paceDue(elapsed, rules.Pace) &&
		int(math.Floor(before)) != int(math.Floor(elapsed)) &&
		rules.PaceQuantity > 0

	var ev PunishmentEvent
	if due {
		rule := PaceRule(rules)
		ev, _, _ = h.applyTriggerLocked(protocol.TriggerEventPaceRule{Rule: rule}, rule, nil, uuid.Nil)
	}
	snap := h.state.Snapshot()
	h.mu.Unlock()

	if due {
		h.logger.WithField("elapsedMinutes", elapsed).Info("pace reached")
		h.notify.punishment(ev)
	}
	h.notify.stateUpdated(snap)
}

// Package game holds the replicated session state and the drink arithmetic
// both hosts and clients use.
package game

import (
	"sync"

	"github.com/jason-s-yu/sipsync/internal/models"
)

// Snapshot is a copy of State safe to hand to observers.
type Snapshot struct {
	Players        []models.PlayerInfo
	Rules          models.GameRules
	ElapsedMinutes float64
}

// State is the roster, rule set and pace clock of one session. The zero
// value is ready to use.
type State struct {
	mu      sync.RWMutex
	players []models.PlayerInfo
	rules   models.GameRules
	elapsed float64
}

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Players:        s.playersUnsafe(),
		Rules:          s.rules.Clone(),
		ElapsedMinutes: s.elapsed,
	}
}

func (s *State) Players() []models.PlayerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playersUnsafe()
}

func (s *State) playersUnsafe() []models.PlayerInfo {
	return append([]models.PlayerInfo{}, s.players...)
}

// FindPlayer looks a player up by exact name.
func (s *State) FindPlayer(name string) (models.PlayerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexUnsafe(name); i >= 0 {
		return s.players[i], true
	}
	return models.PlayerInfo{}, false
}

func (s *State) indexUnsafe(name string) int {
	for i, p := range s.players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// UpsertPlayer adds p, or updates the entry with the same name. An existing
// entry keeps its drink count unless keepCount is false. Reports whether a
// new entry was added.
func (s *State) UpsertPlayer(p models.PlayerInfo, keepCount bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexUnsafe(p.Name); i >= 0 {
		if keepCount {
			p.DrinkCount = s.players[i].DrinkCount
		}
		s.players[i] = p
		return false
	}
	s.players = append(s.players, p)
	return true
}

// RemovePlayer drops the named player and reports whether it was present.
func (s *State) RemovePlayer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexUnsafe(name)
	if i < 0 {
		return false
	}
	s.players = append(s.players[:i], s.players[i+1:]...)
	return true
}

// ReplacePlayers swaps in a whole roster, as received from the host.
func (s *State) ReplacePlayers(players []models.PlayerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = append([]models.PlayerInfo{}, players...)
}

func (s *State) Rules() models.GameRules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules.Clone()
}

func (s *State) SetRules(r models.GameRules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = r.Clone()
}

func (s *State) ElapsedMinutes() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsed
}

func (s *State) SetElapsedMinutes(m float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed = m
}

// AdvanceMinutes moves the pace clock forward and returns the new value.
func (s *State) AdvanceMinutes(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed += delta
	return s.elapsed
}

// ApplyPunishment adds the scaled quantity of rule to every affected
// player's drink count. target names the player for Individual and
// AllButOne rules and is ignored otherwise. Reports whether anything changed.
func (s *State) ApplyPunishment(rule models.Rule, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.players {
		p := &s.players[i]
		switch rule.PunishmentType {
		case models.Individual:
			if p.Name != target {
				continue
			}
		case models.AllButOne:
			if p.Name == target {
				continue
			}
		}
		if add := ScaledQuantity(rule.PunishmentQuantity, p.DrinkModifier); add > 0 {
			p.DrinkCount += add
			changed = true
		}
	}
	return changed
}

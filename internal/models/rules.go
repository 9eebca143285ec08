package models

import (
	"fmt"
	"strings"
)

// PunishmentType selects who a rule applies to.
type PunishmentType string

const (
	Individual PunishmentType = "Individual" // one named player
	Group      PunishmentType = "Group"      // everyone
	AllButOne  PunishmentType = "AllButOne"  // everyone except a named player
	EventPace  PunishmentType = "EventPace"  // fired by the pace clock
)

// Valid reports whether t is one of the known punishment types.
func (t PunishmentType) Valid() bool {
	switch t {
	case Individual, Group, AllButOne, EventPace:
		return true
	}
	return false
}

// RequiresTarget reports whether triggering a rule of this type needs a player.
func (t PunishmentType) RequiresTarget() bool {
	return t == Individual || t == AllButOne
}

// UnmarshalText accepts the type names case-insensitively.
func (t *PunishmentType) UnmarshalText(text []byte) error {
	s := string(text)
	for _, known := range []PunishmentType{Individual, Group, AllButOne, EventPace} {
		if strings.EqualFold(s, string(known)) {
			*t = known
			return nil
		}
	}
	return fmt.Errorf("unknown punishment type %q", s)
}

// Rule is one entry of the host's rule set. PunishmentDescription is a
// template where {0} is the player name and {1} the quantity.
type Rule struct {
	PunishmentType        PunishmentType `json:"punishmentType" mapstructure:"punishmentType" yaml:"punishmentType"`
	RuleDescription       string         `json:"ruleDescription" mapstructure:"ruleDescription" yaml:"ruleDescription"`
	PunishmentDescription string         `json:"punishmentDescription" mapstructure:"punishmentDescription" yaml:"punishmentDescription"`
	PunishmentQuantity    int            `json:"punishmentQuantity" mapstructure:"punishmentQuantity" yaml:"punishmentQuantity"`
}

// Validate checks that the rule can be replicated.
func (r Rule) Validate() error {
	if !r.PunishmentType.Valid() {
		return fmt.Errorf("rule %q: unknown punishment type %q", r.RuleDescription, r.PunishmentType)
	}
	return nil
}

// GameRules is the host-owned rule set plus the pace configuration.
type GameRules struct {
	Rules []Rule `json:"rules" mapstructure:"rules" yaml:"rules"`

	// Pace is the interval in minutes between automatic group punishments (0 => disabled).
	Pace int `json:"pace" mapstructure:"pace" yaml:"pace"`

	// PaceQuantity is how many sips each pace punishment costs.
	PaceQuantity int `json:"paceQuantity" mapstructure:"paceQuantity" yaml:"paceQuantity"`
}

// Validate checks every rule and the pace settings.
func (g GameRules) Validate() error {
	for i, r := range g.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if g.Pace < 0 {
		return fmt.Errorf("pace must be non-negative, got %d", g.Pace)
	}
	if g.PaceQuantity < 0 {
		return fmt.Errorf("paceQuantity must be non-negative, got %d", g.PaceQuantity)
	}
	return nil
}

// Clone returns a copy that shares no backing array with g.
func (g GameRules) Clone() GameRules {
	out := g
	if g.Rules != nil {
		out.Rules = append([]Rule(nil), g.Rules...)
	}
	return out
}

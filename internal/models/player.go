package models

import "fmt"

// PlayerInfo is one participant in the drinking session. Players are
// identified by Name, which is case-sensitive.
type PlayerInfo struct {
	Name          string  `json:"name" mapstructure:"name" yaml:"name"`
	DrinkModifier float64 `json:"drinkModifier" mapstructure:"drinkModifier" yaml:"drinkModifier"`
	DrinkCount    int     `json:"drinkCount" mapstructure:"drinkCount" yaml:"drinkCount"`
}

// NewPlayer returns a player with the default modifier of 1.
func NewPlayer(name string) PlayerInfo {
	return PlayerInfo{Name: name, DrinkModifier: 1}
}

// Validate checks the invariants a replicated player must hold.
func (p PlayerInfo) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("player name must not be empty")
	}
	if p.DrinkModifier <= 0 {
		return fmt.Errorf("player %q: drinkModifier must be positive, got %v", p.Name, p.DrinkModifier)
	}
	if p.DrinkCount < 0 {
		return fmt.Errorf("player %q: drinkCount must be non-negative, got %d", p.Name, p.DrinkCount)
	}
	return nil
}

package models

// UserData is what the local profile store keeps between runs: the local
// player plus a few presentation settings the overlay cares about.
type UserData struct {
	Player PlayerInfo `json:"player"`

	// LastHost is the address the user last joined, offered as the default next time.
	LastHost string `json:"lastHost,omitempty"`
	LastPort int    `json:"lastPort,omitempty"`

	// RulesPath is the rule file the user last loaded as host.
	RulesPath string `json:"rulesPath,omitempty"`
}

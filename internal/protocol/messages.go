// Package protocol defines the messages replicated between a host and its
// clients and their newline-delimited wire encoding.
package protocol

import "github.com/jason-s-yu/sipsync/internal/models"

// MessageType is the discriminator written in front of every frame.
type MessageType string

const (
	TypePlayerUpdate          MessageType = "PLAYERUPDATE"
	TypeRuleUpdate            MessageType = "RULEUPDATE"
	TypePlayerListUpdate      MessageType = "PLAYERLISTUPDATE"
	TypeTriggerIndividualRule MessageType = "TRIGGERINDIVIDUALRULE"
	TypeTriggerGroupRule      MessageType = "TRIGGERGROUPRULE"
	TypeTriggerAllButOneRule  MessageType = "TRIGGERALLBUTONERULE"
	TypeTriggerEventPaceRule  MessageType = "TRIGGEREVENTPACERULE"
	TypeElapsedMinutesUpdate  MessageType = "ELAPSEDMINUTESUPDATE"
)

// Message is implemented only by the message structs in this package.
type Message interface {
	Type() MessageType
	isMessage()
}

// PlayerUpdate carries one player's self-reported info to the host.
type PlayerUpdate struct {
	Player models.PlayerInfo
}

// RuleUpdate replaces the receiver's rule set wholesale.
type RuleUpdate struct {
	Rules models.GameRules
}

// PlayerListUpdate replaces the receiver's roster wholesale.
type PlayerListUpdate struct {
	Players []models.PlayerInfo
}

// TriggerIndividualRule punishes Player.
type TriggerIndividualRule struct {
	Rule   models.Rule
	Player models.PlayerInfo
}

// TriggerGroupRule punishes everyone.
type TriggerGroupRule struct {
	Rule models.Rule
}

// TriggerAllButOneRule punishes everyone except Player.
type TriggerAllButOneRule struct {
	Rule   models.Rule
	Player models.PlayerInfo
}

// TriggerEventPaceRule is the pace clock's recurring group punishment.
type TriggerEventPaceRule struct {
	Rule models.Rule
}

// ElapsedMinutesUpdate moves the receiver's pace clock.
type ElapsedMinutesUpdate struct {
	ElapsedMinutes float64
}

func (PlayerUpdate) Type() MessageType          { return TypePlayerUpdate }
func (RuleUpdate) Type() MessageType            { return TypeRuleUpdate }
func (PlayerListUpdate) Type() MessageType      { return TypePlayerListUpdate }
func (TriggerIndividualRule) Type() MessageType { return TypeTriggerIndividualRule }
func (TriggerGroupRule) Type() MessageType      { return TypeTriggerGroupRule }
func (TriggerAllButOneRule) Type() MessageType  { return TypeTriggerAllButOneRule }
func (TriggerEventPaceRule) Type() MessageType  { return TypeTriggerEventPaceRule }
func (ElapsedMinutesUpdate) Type() MessageType  { return TypeElapsedMinutesUpdate }

func (PlayerUpdate) isMessage()          {}
func (RuleUpdate) isMessage()            {}
func (PlayerListUpdate) isMessage()      {}
func (TriggerIndividualRule) isMessage() {}
func (TriggerGroupRule) isMessage()      {}
func (TriggerAllButOneRule) isMessage()  {}
func (TriggerEventPaceRule) isMessage()  {}
func (ElapsedMinutesUpdate) isMessage()  {}

// TriggerFor builds the trigger message matching rule's punishment type.
// player is ignored for Group and EventPace rules.
func TriggerFor(rule models.Rule, player *models.PlayerInfo) Message {
	var target models.PlayerInfo
	if player != nil {
		target = *player
	}
	switch rule.PunishmentType {
	case models.Individual:
		return TriggerIndividualRule{Rule: rule, Player: target}
	case models.AllButOne:
		return TriggerAllButOneRule{Rule: rule, Player: target}
	case models.EventPace:
		return TriggerEventPaceRule{Rule: rule}
	default:
		return TriggerGroupRule{Rule: rule}
	}
}

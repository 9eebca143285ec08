package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jason-s-yu/sipsync/internal/models"
)

var (
	// ErrDecode marks a frame whose payload could not be parsed. The frame is
	// dropped; the connection stays up.
	ErrDecode = errors.New("protocol: malformed frame")

	// ErrUnknownMessageType marks a well-formed frame with a tag this build
	// does not know. Receivers log and ignore it.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

const separator = ':'

type triggerPayload struct {
	Rule   models.Rule        `json:"rule"`
	Player *models.PlayerInfo `json:"player,omitempty"`
}

type elapsedPayload struct {
	ElapsedMinutes float64 `json:"elapsedMinutes"`
}

// Encode renders msg as "<TAG>:<json>\n".
func Encode(msg Message) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case PlayerUpdate:
		payload = m.Player
	case RuleUpdate:
		payload = m.Rules
	case PlayerListUpdate:
		payload = m.Players
	case TriggerIndividualRule:
		payload = triggerPayload{Rule: m.Rule, Player: &m.Player}
	case TriggerAllButOneRule:
		payload = triggerPayload{Rule: m.Rule, Player: &m.Player}
	case TriggerGroupRule:
		payload = triggerPayload{Rule: m.Rule}
	case TriggerEventPaceRule:
		payload = triggerPayload{Rule: m.Rule}
	case ElapsedMinutesUpdate:
		payload = elapsedPayload{ElapsedMinutes: m.ElapsedMinutes}
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", msg)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msg.Type(), err)
	}

	frame := make([]byte, 0, len(msg.Type())+len(data)+2)
	frame = append(frame, msg.Type()...)
	frame = append(frame, separator)
	frame = append(frame, data...)
	frame = append(frame, '\n')
	return frame, nil
}

// Decode parses one frame, with or without its trailing newline.
func Decode(frame []byte) (Message, error) {
	frame = bytes.TrimRight(frame, "\r\n")
	idx := bytes.IndexByte(frame, separator)
	if idx <= 0 {
		return nil, fmt.Errorf("%w: missing tag", ErrDecode)
	}
	tag := MessageType(frame[:idx])
	body := frame[idx+1:]

	switch tag {
	case TypePlayerUpdate:
		var p models.PlayerInfo
		if err := unmarshal(tag, body, &p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		return PlayerUpdate{Player: p}, nil

	case TypeRuleUpdate:
		var r models.GameRules
		if err := unmarshal(tag, body, &r); err != nil {
			return nil, err
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
		}
		return RuleUpdate{Rules: r}, nil

	case TypePlayerListUpdate:
		var players []models.PlayerInfo
		if err := unmarshal(tag, body, &players); err != nil {
			return nil, err
		}
		for _, p := range players {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
			}
		}
		return PlayerListUpdate{Players: players}, nil

	case TypeTriggerIndividualRule, TypeTriggerAllButOneRule:
		var t triggerPayload
		if err := unmarshal(tag, body, &t); err != nil {
			return nil, err
		}
		if t.Player == nil {
			return nil, fmt.Errorf("%w: %s without player", ErrDecode, tag)
		}
		if tag == TypeTriggerIndividualRule {
			return TriggerIndividualRule{Rule: t.Rule, Player: *t.Player}, nil
		}
		return TriggerAllButOneRule{Rule: t.Rule, Player: *t.Player}, nil

	case TypeTriggerGroupRule, TypeTriggerEventPaceRule:
		var t triggerPayload
		if err := unmarshal(tag, body, &t); err != nil {
			return nil, err
		}
		if tag == TypeTriggerGroupRule {
			return TriggerGroupRule{Rule: t.Rule}, nil
		}
		return TriggerEventPaceRule{Rule: t.Rule}, nil

	case TypeElapsedMinutesUpdate:
		var e elapsedPayload
		if err := unmarshal(tag, body, &e); err != nil {
			return nil, err
		}
		return ElapsedMinutesUpdate{ElapsedMinutes: e.ElapsedMinutes}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, string(tag))
}

func unmarshal(tag MessageType, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, tag, err)
	}
	return nil
}

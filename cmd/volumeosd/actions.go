package main

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Action Types
// ============================================================================
// Actions are the only semantic output of the input subsystem. Readers and the
// IPC server emit them; the consumer goroutine applies them.
// ============================================================================

// Action is one of the closed set {Increase, Decrease, ToggleMute}.
type Action int

const (
	ActionIncrease Action = iota
	ActionDecrease
	ActionToggleMute
)

// allActions lists every Action, in rate-limiter kind order.
var allActions = []Action{ActionIncrease, ActionDecrease, ActionToggleMute}

func (a Action) String() string {
	switch a {
	case ActionIncrease:
		return "increase"
	case ActionDecrease:
		return "decrease"
	case ActionToggleMute:
		return "toggle_mute"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// parseAction converts a wire/config name into an Action.
// A few aliases are accepted so CLI and config stay forgiving.
func parseAction(s string) (Action, error) {
	switch s {
	case "increase", "volume_up", "up":
		return ActionIncrease, nil
	case "decrease", "volume_down", "down":
		return ActionDecrease, nil
	case "toggle_mute", "mute":
		return ActionToggleMute, nil
	default:
		return 0, fmt.Errorf("unknown action: %q", s)
	}
}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// ActionEnvelope is the line-delimited IPC wire format: {"type": "increase"}
type ActionEnvelope struct {
	Type string `json:"type"`
}

// UnmarshalAction deserializes a JSON action envelope into an Action
func UnmarshalAction(data []byte) (Action, error) {
	var env ActionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return 0, fmt.Errorf("unmarshal envelope: missing type")
	}
	return parseAction(env.Type)
}

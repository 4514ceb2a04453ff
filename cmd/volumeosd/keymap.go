package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// keyNames maps the evdev names accepted in the config file to key codes.
// Numeric codes ("115") are accepted too, so this table only needs the keys
// people actually bind.
var keyNames = map[string]uint16{
	"KEY_ESC": 1, "KEY_1": 2, "KEY_2": 3, "KEY_3": 4, "KEY_4": 5, "KEY_5": 6,
	"KEY_6": 7, "KEY_7": 8, "KEY_8": 9, "KEY_9": 10, "KEY_0": 11,
	"KEY_MINUS": 12, "KEY_EQUAL": 13,

	"KEY_Q": 16, "KEY_W": 17, "KEY_E": 18, "KEY_R": 19, "KEY_T": 20,
	"KEY_Y": 21, "KEY_U": 22, "KEY_I": 23, "KEY_O": 24, "KEY_P": 25,
	"KEY_A": KEY_A, "KEY_S": 31, "KEY_D": 32, "KEY_F": 33, "KEY_G": 34,
	"KEY_H": 35, "KEY_J": 36, "KEY_K": 37, "KEY_L": 38,
	"KEY_Z": KEY_Z, "KEY_X": 45, "KEY_C": 46, "KEY_V": 47, "KEY_B": 48,
	"KEY_N": 49, "KEY_M": KEY_M,

	"KEY_LEFTCTRL": KEY_LEFTCTRL, "KEY_RIGHTCTRL": KEY_RIGHTCTRL,
	"KEY_LEFTSHIFT": KEY_LEFTSHIFT, "KEY_RIGHTSHIFT": KEY_RIGHTSHIFT,
	"KEY_LEFTALT": KEY_LEFTALT, "KEY_RIGHTALT": KEY_RIGHTALT,
	"KEY_LEFTMETA": KEY_LEFTMETA, "KEY_RIGHTMETA": KEY_RIGHTMETA,

	"KEY_F1": 59, "KEY_F2": 60, "KEY_F3": 61, "KEY_F4": 62, "KEY_F5": 63,
	"KEY_F6": 64, "KEY_F7": 65, "KEY_F8": 66, "KEY_F9": 67, "KEY_F10": 68,
	"KEY_F11": 87, "KEY_F12": 88,

	"KEY_UP": KEY_UP, "KEY_DOWN": KEY_DOWN, "KEY_LEFT": KEY_LEFT, "KEY_RIGHT": KEY_RIGHT,
	"KEY_PAGEUP": 104, "KEY_PAGEDOWN": 109,

	"KEY_MUTE": KEY_MUTE, "KEY_VOLUMEDOWN": KEY_VOLUMEDOWN, "KEY_VOLUMEUP": KEY_VOLUMEUP,
	"KEY_NEXTSONG": 163, "KEY_PLAYPAUSE": 164, "KEY_PREVIOUSSONG": 165, "KEY_STOPCD": 166,
}

// parseKeyCode accepts "KEY_VOLUMEUP", "volumeup" or a decimal code.
func parseKeyCode(s string) (uint16, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "" {
		return 0, fmt.Errorf("empty key name")
	}
	if n, err := strconv.ParseUint(name, 10, 16); err == nil {
		return uint16(n), nil
	}
	if !strings.HasPrefix(name, "KEY_") {
		name = "KEY_" + name
	}
	code, ok := keyNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown key name: %q", s)
	}
	return code, nil
}

// keyName returns the config name for a code, or its decimal form.
func keyName(code uint16) string {
	for name, c := range keyNames {
		if c == code {
			return name
		}
	}
	return strconv.Itoa(int(code))
}

// keymap is the compiled binding table an EventReader consults for every key
// event. It is immutable after construction and shared by all readers.
type keymap struct {
	modifiers     map[uint16]ModifierClass
	hardware      map[uint16]Action
	combo         map[uint16]Action
	comboModifier ModifierClass
}

// modifierFor returns the modifier class bound to code, if any.
func (k *keymap) modifierFor(code uint16) (ModifierClass, bool) {
	class, ok := k.modifiers[code]
	return class, ok
}

// hardwareAction returns the Action for a dedicated hardware key.
func (k *keymap) hardwareAction(code uint16) (Action, bool) {
	a, ok := k.hardware[code]
	return a, ok
}

// comboAction returns the Action a key produces while the combo modifier is held.
func (k *keymap) comboAction(code uint16) (Action, bool) {
	a, ok := k.combo[code]
	return a, ok
}

// newKeymap compiles the YAML-facing key configuration.
func newKeymap(cfg KeysConfig) (*keymap, error) {
	km := &keymap{
		modifiers:     make(map[uint16]ModifierClass),
		hardware:      make(map[uint16]Action),
		combo:         make(map[uint16]Action),
		comboModifier: ModifierClass(strings.ToLower(cfg.ComboModifier)),
	}

	// Iterate in sorted order so duplicate-binding errors are deterministic.
	classes := make([]string, 0, len(cfg.Modifiers))
	for class := range cfg.Modifiers {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		for _, name := range cfg.Modifiers[class] {
			code, err := parseKeyCode(name)
			if err != nil {
				return nil, fmt.Errorf("keys.modifiers.%s: %w", class, err)
			}
			if prev, dup := km.modifiers[code]; dup {
				return nil, fmt.Errorf("keys.modifiers.%s: %s already bound to modifier %q", class, name, prev)
			}
			km.modifiers[code] = ModifierClass(strings.ToLower(class))
		}
	}

	if err := bindActions(km.hardware, cfg.Hardware, "keys.hardware"); err != nil {
		return nil, err
	}
	if err := bindActions(km.combo, cfg.Combo, "keys.combo"); err != nil {
		return nil, err
	}

	for code := range km.hardware {
		if _, ok := km.modifiers[code]; ok {
			return nil, fmt.Errorf("keys.hardware: %s is also a modifier key", keyName(code))
		}
	}
	for code := range km.combo {
		if _, ok := km.modifiers[code]; ok {
			return nil, fmt.Errorf("keys.combo: %s is also a modifier key", keyName(code))
		}
	}

	if len(km.combo) > 0 {
		if km.comboModifier == "" {
			return nil, fmt.Errorf("keys.combo_modifier must be set when combo keys are bound")
		}
		found := false
		for _, class := range km.modifiers {
			if class == km.comboModifier {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("keys.combo_modifier %q has no keys in keys.modifiers", km.comboModifier)
		}
	}

	return km, nil
}

func bindActions(dst map[uint16]Action, src ActionKeysConfig, section string) error {
	groups := []struct {
		action Action
		names  []string
	}{
		{ActionIncrease, src.Increase},
		{ActionDecrease, src.Decrease},
		{ActionToggleMute, src.ToggleMute},
	}
	for _, g := range groups {
		for _, name := range g.names {
			code, err := parseKeyCode(name)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, g.action, err)
			}
			if prev, dup := dst[code]; dup && prev != g.action {
				return fmt.Errorf("%s.%s: %s already bound to %s", section, g.action, name, prev)
			}
			dst[code] = g.action
		}
	}
	return nil
}

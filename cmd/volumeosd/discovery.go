package main

import (
	"errors"
	"strings"
)

// deviceInfo is what discovery knows about one input node.
type deviceInfo struct {
	Path string
	Name string
	Keys []uint16 // EV_KEY capabilities
}

// deviceClass is the classification tag produced by classifyDevice.
type deviceClass int

const (
	deviceOther        deviceClass = iota
	deviceKeyboard                 // name says keyboard
	deviceKeyboardLike             // no keyboard name, but has letter keys
)

func (c deviceClass) String() string {
	switch c {
	case deviceKeyboard:
		return "keyboard"
	case deviceKeyboardLike:
		return "keyboard-like"
	default:
		return "other"
	}
}

// classifyDevice is a pure function over a device's declared name and key
// capabilities.
func classifyDevice(name string, keys []uint16) deviceClass {
	if strings.Contains(strings.ToLower(name), "keyboard") {
		return deviceKeyboard
	}

	hasA, hasZ := false, false
	for _, k := range keys {
		switch k {
		case KEY_A:
			hasA = true
		case KEY_Z:
			hasZ = true
		}
	}
	if hasA && hasZ {
		return deviceKeyboardLike
	}
	return deviceOther
}

var errNoKeyboards = errors.New("no suitable keyboard devices found")

// selectKeyboards prefers devices named as keyboards and falls back to
// anything exposing KEY_A..KEY_Z.
func selectKeyboards(devices []deviceInfo) ([]deviceInfo, error) {
	var named, fallback []deviceInfo
	for _, d := range devices {
		switch classifyDevice(d.Name, d.Keys) {
		case deviceKeyboard:
			named = append(named, d)
		case deviceKeyboardLike:
			fallback = append(fallback, d)
		}
	}

	if len(named) > 0 {
		return named, nil
	}
	if len(fallback) > 0 {
		return fallback, nil
	}
	return nil, errNoKeyboards
}

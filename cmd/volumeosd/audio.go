package main

import (
	"fmt"
	"log/slog"
)

// AudioState is the aggregate output state shown on the OSD.
type AudioState struct {
	Volume int  `json:"volume"` // 0..100
	Muted  bool `json:"muted"`
}

// AudioBackend adjusts and queries the system output volume.
// Implementations are only called from the consumer goroutine.
type AudioBackend interface {
	// State returns the current volume and mute state.
	State() (AudioState, error)

	// ChangeVolume moves the volume by delta percent (clamped to 0..100)
	// and returns the new volume.
	ChangeVolume(delta int) (int, error)

	// ToggleMute flips the mute state.
	ToggleMute() error

	Close() error
}

// newAudioBackend builds the backend selected in cfg.
func newAudioBackend(cfg AudioConfig, logger *slog.Logger) (AudioBackend, error) {
	switch cfg.Backend {
	case "pactl":
		return newPactlBackend(cfg.Pactl.Binary, logger), nil
	case "camilladsp":
		return NewCamillaDSPBackend(cfg.CamillaDSP, logger)
	default:
		return nil, fmt.Errorf("unknown audio backend: %q", cfg.Backend)
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package main

import (
	"fmt"
	"time"
)

// DisplayState is what the OSD panel shows. It is published to websocket
// clients and MQTT on every change.
type DisplayState struct {
	Volume    int       `json:"volume"`
	Muted     bool      `json:"muted"`
	Label     string    `json:"label"`
	Bar       int       `json:"bar"`
	Theme     Theme     `json:"theme"`
	Visible   bool      `json:"visible"`
	UpdatedAt time.Time `json:"updated_at"`
}

// withAudio returns s updated for a new audio state. Muted shows "Muted"
// with an empty bar.
func (s DisplayState) withAudio(a AudioState) DisplayState {
	s.Volume = a.Volume
	s.Muted = a.Muted
	if a.Muted {
		s.Label = "Muted"
		s.Bar = 0
	} else {
		s.Label = fmt.Sprintf("Volume: %d%%", a.Volume)
		s.Bar = a.Volume
	}
	return s
}

// displayPublisher receives display snapshots. Implementations must not
// block; they are called from the consumer goroutine and the hide timer.
type displayPublisher interface {
	PublishDisplay(DisplayState)
}

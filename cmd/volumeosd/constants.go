package main

import "time"

// Linux input event types (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_MSC = 0x04
)

// Key codes used by the default bindings and device discovery (from <linux/input-event-codes.h>)
const (
	KEY_A          = 30
	KEY_M          = 50
	KEY_Z          = 44
	KEY_LEFTCTRL   = 29
	KEY_LEFTSHIFT  = 42
	KEY_RIGHTSHIFT = 54
	KEY_LEFTALT    = 56
	KEY_RIGHTCTRL  = 97
	KEY_RIGHTALT   = 100
	KEY_UP         = 103
	KEY_LEFT       = 105
	KEY_RIGHT      = 106
	KEY_DOWN       = 108
	KEY_MUTE       = 113
	KEY_VOLUMEDOWN = 114
	KEY_VOLUMEUP   = 115
	KEY_LEFTMETA   = 125
	KEY_RIGHTMETA  = 126
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Rate limiter defaults. Volume steps repeat quickly while a key is held;
// mute needs a longer gap so a single tap never toggles twice.
const (
	defaultStepInterval = 80 * time.Millisecond
	defaultMuteInterval = 200 * time.Millisecond
)

// Dispatch and display defaults
const (
	defaultQueueSize     = 64
	defaultStepPercent   = 5
	defaultHideAfter     = 1600 * time.Millisecond
	defaultReadTimeoutMS = 500 // CamillaDSP websocket response timeout (ms)
	defaultTheme         = "dark"
)

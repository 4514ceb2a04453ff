//go:build !linux

package main

import "errors"

var errNoEvdev = errors.New("evdev: not supported on this platform (requires Linux)")

// openEvdevSource is not available on non-Linux platforms.
func openEvdevSource(device string) (eventSource, error) {
	return nil, errNoEvdev
}

// listInputDevices is not available on non-Linux platforms.
func listInputDevices() ([]deviceInfo, error) {
	return nil, errNoEvdev
}

// openGPIOSource is not available on non-Linux platforms.
func openGPIOSource(cfg GPIOConfig) (eventSource, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

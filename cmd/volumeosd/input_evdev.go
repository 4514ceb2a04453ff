//go:build linux

package main

import (
	"fmt"
	"os"

	evdev "github.com/holoplot/go-evdev"
)

// evdevSource reads events through the evdev library, which also gives us
// the device name for logs and discovery.
type evdevSource struct {
	dev  *evdev.InputDevice
	name string
}

// evdevOpenFlags opens nodes read-only; readers never write to a device.
const evdevOpenFlags = os.O_RDONLY

// openEvdevSource opens an input device node via evdev.
func openEvdevSource(device string) (eventSource, error) {
	dev, err := evdev.OpenWithFlags(device, evdevOpenFlags)
	if err != nil {
		return nil, openError(device, err)
	}

	name, err := dev.Name()
	if err != nil || name == "" {
		name = device
	}

	return &evdevSource{dev: dev, name: name}, nil
}

func (s *evdevSource) ReadEvent() (inputEvent, error) {
	ev, err := s.dev.ReadOne()
	if err != nil {
		return inputEvent{}, fmt.Errorf("read %s: %w", s.name, err)
	}
	return inputEvent{
		Sec:   int64(ev.Time.Sec),
		Usec:  int64(ev.Time.Usec),
		Type:  uint16(ev.Type),
		Code:  uint16(ev.Code),
		Value: ev.Value,
	}, nil
}

func (s *evdevSource) Name() string { return s.name }

func (s *evdevSource) Close() error { return s.dev.Close() }

// listInputDevices enumerates /dev/input event nodes with their key
// capabilities, for classifyDevice.
func listInputDevices() ([]deviceInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("list input devices: %w", err)
	}

	var infos []deviceInfo
	for _, p := range paths {
		dev, err := evdev.OpenWithFlags(p.Path, evdevOpenFlags)
		if err != nil {
			// Unreadable nodes (permissions, races with hot-unplug) are skipped.
			continue
		}

		codes := dev.CapableEvents(evdev.EV_KEY)
		keys := make([]uint16, 0, len(codes))
		for _, c := range codes {
			keys = append(keys, uint16(c))
		}
		dev.Close()

		infos = append(infos, deviceInfo{
			Path: p.Path,
			Name: p.Name,
			Keys: keys,
		})
	}

	return infos, nil
}
